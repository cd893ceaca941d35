// Package device defines the device and group model shared across the
// controller: family tags, validation, and per-family defaults.
package device

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Family selects the protocol adapter for a device. Closed set.
type Family string

const (
	// FamilyASCIILine covers Optoma-style projectors speaking RS232-over-TCP
	// line commands (telnet port).
	FamilyASCIILine Family = "ascii-line"
	// FamilyJSONRPC covers Barco-style projectors speaking JSON-RPC 2.0
	// over a raw TCP socket, one object per line.
	FamilyJSONRPC Family = "json-rpc"
	// FamilySemicolonTCP covers Medialon/cubes video-wall processors with
	// SET(ch;prop;val) text commands.
	FamilySemicolonTCP Family = "semicolon-tcp"
	// FamilyPassivePC covers exhibit PCs with no direct power control;
	// only reachability is observed.
	FamilyPassivePC Family = "passive-pc"
)

// Default service ports per family. Passive PCs have none.
const (
	DefaultPortASCIILine    = 23
	DefaultPortJSONRPC      = 9090
	DefaultPortSemicolonTCP = 7992
)

// DefaultTimeout is the per-device operation timeout when the config
// does not override it.
const DefaultTimeout = 10 * time.Second

// ParseFamily maps a config "type" tag to a Family.
// cubes_custom and generic_tcp both use the semicolon-TCP grammar.
func ParseFamily(tag string) (Family, error) {
	switch tag {
	case "optoma_telnet":
		return FamilyASCIILine, nil
	case "barco_jsonrpc":
		return FamilyJSONRPC, nil
	case "cubes_custom", "generic_tcp":
		return FamilySemicolonTCP, nil
	case "exposition_pc":
		return FamilyPassivePC, nil
	default:
		return "", fmt.Errorf("unknown device type %q", tag)
	}
}

// DefaultPort returns the family's default service port, or 0 if the
// family has no service port.
func (f Family) DefaultPort() int {
	switch f {
	case FamilyASCIILine:
		return DefaultPortASCIILine
	case FamilyJSONRPC:
		return DefaultPortJSONRPC
	case FamilySemicolonTCP:
		return DefaultPortSemicolonTCP
	default:
		return 0
	}
}

// Controllable reports whether the family has power operations.
func (f Family) Controllable() bool {
	return f != FamilyPassivePC
}

// Device is an immutable snapshot of one controllable (or observed) unit.
// Instances are never mutated after registry load; reload swaps whole
// snapshots.
type Device struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Group          string        `json:"group"`
	Family         Family        `json:"family"`
	IP             string        `json:"ip"`
	Port           int           `json:"port,omitempty"` // 0 = family default
	MAC            string        `json:"mac,omitempty"`  // normalised upper-hex, colon-separated
	Enabled        bool          `json:"enabled"`
	Timeout        time.Duration `json:"-"`
	ReasonDisabled string        `json:"reason_disabled,omitempty"`
}

// EffectivePort returns the configured port, or the family default when
// unset. 0 means the device has no service port.
func (d *Device) EffectivePort() int {
	if d.Port != 0 {
		return d.Port
	}
	return d.Family.DefaultPort()
}

// Addr returns the host:port dial address for the device's service port.
func (d *Device) Addr() string {
	return fmt.Sprintf("%s:%d", d.IP, d.EffectivePort())
}

// Group is a named set of devices with an execution priority.
// Lower priority value executes earlier.
type Group struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Parallel bool   `json:"parallel"`
}

// ValidIPv4 reports whether s is a dotted-quad IPv4 address with all
// four octets in 0..255.
func ValidIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

// ValidPort reports whether p is a usable TCP port.
func ValidPort(p int) bool {
	return p >= 1 && p <= 65535
}

// NormalizeMAC canonicalises a MAC address to colon-separated upper hex
// (AA:BB:CC:DD:EE:FF). Dash and dot separators are accepted. Normalising
// an already-normalised address is a no-op.
func NormalizeMAC(mac string) (string, error) {
	cleaned := strings.ToUpper(strings.NewReplacer("-", ":", ".", ":").Replace(mac))
	parts := strings.Split(cleaned, ":")
	if len(parts) != 6 {
		return "", fmt.Errorf("invalid MAC address %q", mac)
	}
	for _, p := range parts {
		if len(p) != 2 {
			return "", fmt.Errorf("invalid MAC address %q", mac)
		}
		for _, c := range p {
			if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
				return "", fmt.Errorf("invalid MAC address %q", mac)
			}
		}
	}
	return strings.Join(parts, ":"), nil
}

// Validate checks the invariants a device must satisfy to enter the
// registry and normalises the MAC in place.
func (d *Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device id is required")
	}
	switch d.Family {
	case FamilyASCIILine, FamilyJSONRPC, FamilySemicolonTCP, FamilyPassivePC:
	default:
		return fmt.Errorf("device %s: unknown family %q", d.ID, d.Family)
	}
	if !ValidIPv4(d.IP) {
		return fmt.Errorf("device %s: invalid IPv4 address %q", d.ID, d.IP)
	}
	if d.Port != 0 && !ValidPort(d.Port) {
		return fmt.Errorf("device %s: port %d out of range 1..65535", d.ID, d.Port)
	}
	if d.MAC != "" {
		norm, err := NormalizeMAC(d.MAC)
		if err != nil {
			return fmt.Errorf("device %s: %w", d.ID, err)
		}
		d.MAC = norm
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	return nil
}
