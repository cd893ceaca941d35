// Package retry runs device operations under a bounded exponential
// backoff policy.
package retry

import (
	"context"
	"time"

	"github.com/venuelab/avcontrold/internal/proto"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"-"`
	Multiplier  float64       `json:"multiplier"`
	MaxDelay    time.Duration `json:"-"`
}

// DefaultPolicy matches the venue's operational defaults: three
// attempts, 30s base delay doubling up to 120s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   30 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    120 * time.Second,
	}
}

// Normalize fills zero fields from the default policy.
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// Delay returns the backoff before attempt i+1, for zero-based i.
// Grows geometrically from BaseDelay, capped at MaxDelay.
func (p Policy) Delay(i int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * pow(p.Multiplier, i))
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// Attempt records one try of the operation.
type Attempt struct {
	Index     int             `json:"attempt"`
	Start     time.Time       `json:"start"`
	Elapsed   time.Duration   `json:"-"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Success   bool            `json:"success"`
	Kind      proto.ErrorKind `json:"error_kind,omitempty"`
	Response  string          `json:"response,omitempty"`
	Err       string          `json:"error,omitempty"`
}

// Final is the aggregate outcome of a retried operation. On failure the
// Kind and Err come from the last attempt.
type Final struct {
	Success   bool            `json:"success"`
	Result    proto.Result    `json:"result"`
	Attempts  []Attempt       `json:"attempts"`
	Elapsed   time.Duration   `json:"-"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Kind      proto.ErrorKind `json:"error_kind,omitempty"`
	Err       string          `json:"error,omitempty"`
}

// Op is a single-attempt device operation.
type Op func(ctx context.Context) proto.Result

// Run executes op until it succeeds or the policy is exhausted, sleeping
// the policy delay between attempts. Cancellation during an attempt or a
// backoff sleep stops the loop and yields a CANCELLED outcome.
func Run(ctx context.Context, p Policy, op Op) Final {
	p = p.Normalize()
	start := time.Now()
	f := Final{Attempts: make([]Attempt, 0, p.MaxAttempts)}

	for i := 0; i < p.MaxAttempts; i++ {
		attemptStart := time.Now()
		r := op(ctx)
		elapsed := time.Since(attemptStart)
		f.Attempts = append(f.Attempts, Attempt{
			Index:     i + 1,
			Start:     attemptStart,
			Elapsed:   elapsed,
			ElapsedMS: elapsed.Milliseconds(),
			Success:   r.Success,
			Kind:      r.Kind,
			Response:  r.Response,
			Err:       r.Err,
		})
		f.Result = r

		if r.Success {
			f.Success = true
			break
		}
		f.Kind = r.Kind
		f.Err = r.Err
		if r.Kind == proto.KindCancelled || ctx.Err() != nil {
			f.Kind = proto.KindCancelled
			break
		}
		if i == p.MaxAttempts-1 {
			break
		}

		if err := sleep(ctx, p.Delay(i)); err != nil {
			f.Kind = proto.KindCancelled
			f.Err = err.Error()
			break
		}
	}

	total := time.Since(start)
	f.Elapsed = total
	f.ElapsedMS = total.Milliseconds()
	return f
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
