package proto

import (
	"context"
	"strings"
	"time"

	"github.com/venuelab/avcontrold/internal/device"
)

// Semicolon-TCP commands: SET(channel;property;value) to write,
// get(channel;property) to read. Channel 0 addresses the whole wall.
const (
	cubesPowerOn  = "SET(0;Power;1)\r\n"
	cubesPowerOff = "SET(0;Power;0)\r\n"
	cubesGetPower = "get(0;Power)\r\n"
)

const (
	cubesSettleDelay = 300 * time.Millisecond
	cubesReadWindow  = 3 * time.Second
	cubesReadLimit   = 512
)

// SemicolonAdapter drives video-wall processors speaking the
// semicolon-delimited text protocol. SET commands are frequently
// unacknowledged; an absent reply is not a failure.
type SemicolonAdapter struct {
	Timeout time.Duration
}

// NewSemicolonAdapter returns an adapter with the default operation timeout.
func NewSemicolonAdapter() *SemicolonAdapter {
	return &SemicolonAdapter{Timeout: device.DefaultTimeout}
}

func (a *SemicolonAdapter) timeout(dev *device.Device) time.Duration {
	if dev.Timeout > 0 {
		return dev.Timeout
	}
	return a.Timeout
}

func (a *SemicolonAdapter) send(ctx context.Context, dev *device.Device, cmd string) Result {
	start := time.Now()

	conn, cleanup, err := dial(ctx, dev, a.timeout(dev))
	if err != nil {
		return failure(err, start)
	}
	defer cleanup()

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return failure(err, start)
	}

	if err := settle(ctx, cubesSettleDelay); err != nil {
		return failure(err, start)
	}

	conn.SetReadDeadline(time.Now().Add(cubesReadWindow))
	buf := make([]byte, cubesReadLimit)
	n, err := conn.Read(buf)
	if err != nil && !isTimeout(err) && ctx.Err() != nil {
		return failure(ctx.Err(), start)
	}
	response := strings.TrimSpace(string(buf[:n]))

	return success(response, "command sent", start)
}

// PowerOn turns the wall on.
func (a *SemicolonAdapter) PowerOn(ctx context.Context, dev *device.Device) Result {
	r := a.send(ctx, dev, cubesPowerOn)
	if r.Success {
		r.PowerState = PowerOn
		r.Message = "video wall powering on"
	}
	return r
}

// PowerOff turns the wall off.
func (a *SemicolonAdapter) PowerOff(ctx context.Context, dev *device.Device) Result {
	r := a.send(ctx, dev, cubesPowerOff)
	if r.Success {
		r.PowerState = PowerOff
		r.Message = "video wall powering off"
	}
	return r
}

// Status queries the Power property and interprets the reply tokens.
func (a *SemicolonAdapter) Status(ctx context.Context, dev *device.Device) Result {
	r := a.send(ctx, dev, cubesGetPower)
	if !r.Success {
		return r
	}
	r.PowerState = parseCubesPower(r.Response)
	return r
}

// IsReachable probes the service port with a short connect.
func (a *SemicolonAdapter) IsReachable(ctx context.Context, dev *device.Device) bool {
	conn, cleanup, err := dial(ctx, dev, 2*time.Second)
	if err != nil {
		return false
	}
	cleanup()
	_ = conn
	return true
}

func parseCubesPower(resp string) PowerState {
	lower := strings.ToLower(resp)
	switch {
	case strings.Contains(lower, "1") || strings.Contains(lower, "on"):
		return PowerOn
	case strings.Contains(lower, "0") || strings.Contains(lower, "off"):
		return PowerOff
	default:
		return PowerUnknown
	}
}
