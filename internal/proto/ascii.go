package proto

import (
	"context"
	"strings"
	"time"

	"github.com/venuelab/avcontrold/internal/device"
)

// ASCII-line commands. Format: ~AAAA N\r where AAAA is the 4-digit
// projector address (0000 = broadcast) and N is the opcode.
const (
	asciiPowerOn     = "~0000 1\r"
	asciiPowerOff    = "~0000 0\r"
	asciiStatusQuery = "~00124 1\r"
	asciiMuteOn      = "~0000 2\r"
	asciiMuteOff     = "~0000 3\r"
	asciiBlankOn     = "~00200 1\r"
	asciiBlankOff    = "~00200 0\r"
)

const (
	asciiSettleDelay = 300 * time.Millisecond
	asciiReadWindow  = 2 * time.Second
	asciiReadLimit   = 1024
)

// ASCIIAdapter drives ascii-line (Optoma-style) projectors. Many units
// do not reply to power commands, so an empty read is success for on/off.
type ASCIIAdapter struct {
	// Timeout bounds connect and write when the device carries none.
	Timeout time.Duration
}

// NewASCIIAdapter returns an adapter with the default operation timeout.
func NewASCIIAdapter() *ASCIIAdapter {
	return &ASCIIAdapter{Timeout: device.DefaultTimeout}
}

func (a *ASCIIAdapter) timeout(dev *device.Device) time.Duration {
	if dev.Timeout > 0 {
		return dev.Timeout
	}
	return a.Timeout
}

// send performs one ascii-line transaction: connect, write the command,
// wait for the unit to process it, then read whatever reply arrives
// within the read window. Read deadline expiry yields an empty reply,
// not an error.
func (a *ASCIIAdapter) send(ctx context.Context, dev *device.Device, cmd string) Result {
	start := time.Now()

	conn, cleanup, err := dial(ctx, dev, a.timeout(dev))
	if err != nil {
		return failure(err, start)
	}
	defer cleanup()

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return failure(err, start)
	}

	if err := settle(ctx, asciiSettleDelay); err != nil {
		return failure(err, start)
	}

	conn.SetReadDeadline(time.Now().Add(asciiReadWindow))
	buf := make([]byte, asciiReadLimit)
	n, err := conn.Read(buf)
	if err != nil && !isTimeout(err) {
		// A reply is optional; only non-timeout read errors after a
		// successful send count against the transaction when the
		// context itself was cancelled.
		if ctx.Err() != nil {
			return failure(ctx.Err(), start)
		}
	}
	response := strings.TrimSpace(string(buf[:n]))

	return success(response, "command sent", start)
}

// PowerOn turns the projector on.
func (a *ASCIIAdapter) PowerOn(ctx context.Context, dev *device.Device) Result {
	r := a.send(ctx, dev, asciiPowerOn)
	if r.Success {
		r.PowerState = PowerOn
	}
	return r
}

// PowerOff turns the projector off.
func (a *ASCIIAdapter) PowerOff(ctx context.Context, dev *device.Device) Result {
	r := a.send(ctx, dev, asciiPowerOff)
	if r.Success {
		r.PowerState = PowerOff
	}
	return r
}

// Status queries power state. Units that do not answer the query report
// an unknown power state with a successful transport.
func (a *ASCIIAdapter) Status(ctx context.Context, dev *device.Device) Result {
	r := a.send(ctx, dev, asciiStatusQuery)
	if !r.Success {
		return r
	}
	r.PowerState = parseASCIIStatus(r.Response)
	return r
}

// MuteOn engages AV mute.
func (a *ASCIIAdapter) MuteOn(ctx context.Context, dev *device.Device) Result {
	return a.send(ctx, dev, asciiMuteOn)
}

// MuteOff releases AV mute.
func (a *ASCIIAdapter) MuteOff(ctx context.Context, dev *device.Device) Result {
	return a.send(ctx, dev, asciiMuteOff)
}

// BlankOn blanks the image.
func (a *ASCIIAdapter) BlankOn(ctx context.Context, dev *device.Device) Result {
	return a.send(ctx, dev, asciiBlankOn)
}

// BlankOff restores the image.
func (a *ASCIIAdapter) BlankOff(ctx context.Context, dev *device.Device) Result {
	return a.send(ctx, dev, asciiBlankOff)
}

// IsReachable probes the service port with a short connect.
func (a *ASCIIAdapter) IsReachable(ctx context.Context, dev *device.Device) bool {
	conn, cleanup, err := dial(ctx, dev, 2*time.Second)
	if err != nil {
		return false
	}
	cleanup()
	_ = conn
	return true
}

// parseASCIIStatus interprets a status reply. Replies look like "OK1"
// (on) or "OK0" (standby); anything else, including silence, is unknown.
func parseASCIIStatus(resp string) PowerState {
	switch {
	case resp == "":
		return PowerUnknown
	case strings.Contains(resp, "1"):
		return PowerOn
	case strings.Contains(resp, "0"):
		return PowerOff
	default:
		return PowerUnknown
	}
}
