package proto

import (
	"context"
	"fmt"
	"time"

	"github.com/venuelab/avcontrold/internal/device"
)

// Pinger is the reachability dependency of the passive adapter,
// satisfied by probe.Prober.
type Pinger interface {
	Ping(ctx context.Context, ip string) (ok bool, elapsed time.Duration, message string)
}

// PassiveAdapter covers exhibit PCs with no direct power control.
// Power operations are acknowledged no-ops; status degrades to a ping.
type PassiveAdapter struct {
	pinger Pinger
}

// NewPassiveAdapter returns an adapter backed by the given pinger.
func NewPassiveAdapter(p Pinger) *PassiveAdapter {
	return &PassiveAdapter{pinger: p}
}

func skipped() Result {
	return Result{
		Success:  true,
		Message:  "skipped (no direct control)",
		Response: "skipped (no direct control)",
	}
}

// PowerOn is a no-op: passive PCs are not power-controlled.
func (a *PassiveAdapter) PowerOn(ctx context.Context, dev *device.Device) Result {
	return skipped()
}

// PowerOff is a no-op: passive PCs are not power-controlled.
func (a *PassiveAdapter) PowerOff(ctx context.Context, dev *device.Device) Result {
	return skipped()
}

// Status reports reachability via ping; power state stays unknown.
func (a *PassiveAdapter) Status(ctx context.Context, dev *device.Device) Result {
	start := time.Now()
	ok, _, message := a.pinger.Ping(ctx, dev.IP)
	elapsed := time.Since(start)
	r := Result{
		Success:    ok,
		Message:    message,
		PowerState: PowerUnknown,
		Elapsed:    elapsed,
		ElapsedMS:  elapsed.Milliseconds(),
	}
	if !ok {
		r.Kind = KindTimeout
		r.Err = fmt.Sprintf("no ping response from %s", dev.IP)
	}
	return r
}

// IsReachable reports ping reachability.
func (a *PassiveAdapter) IsReachable(ctx context.Context, dev *device.Device) bool {
	ok, _, _ := a.pinger.Ping(ctx, dev.IP)
	return ok
}
