// Package proto implements the wire-protocol adapters for the supported
// device families: ascii-line (Optoma RS232-over-TCP), JSON-RPC 2.0 over
// TCP (Barco), semicolon-TCP (Medialon cubes), and the passive-PC
// pseudo-adapter.
//
// Every adapter call performs exactly one attempt; retry lives outside.
package proto

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/venuelab/avcontrold/internal/device"
)

// ErrorKind classifies an attempt failure. Closed set.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindTimeout            ErrorKind = "TIMEOUT"
	KindConnectionRefused  ErrorKind = "CONNECTION_REFUSED"
	KindNetworkUnreachable ErrorKind = "NETWORK_UNREACHABLE"
	KindEmptyResponse      ErrorKind = "EMPTY_RESPONSE"
	KindProtocolError      ErrorKind = "PROTOCOL_ERROR"
	KindRemoteError        ErrorKind = "REMOTE_ERROR"
	KindCancelled          ErrorKind = "CANCELLED"
	KindInternal           ErrorKind = "INTERNAL"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindUnknown            ErrorKind = "UNKNOWN"
)

// PowerState is the device power state as reported by a status query.
type PowerState string

const (
	PowerOn      PowerState = "on"
	PowerOff     PowerState = "off"
	PowerUnknown PowerState = "unknown"
)

// Result is the outcome of a single adapter attempt.
type Result struct {
	Success    bool          `json:"success"`
	Message    string        `json:"message,omitempty"`
	Response   string        `json:"response,omitempty"`
	PowerState PowerState    `json:"power_state,omitempty"`
	Elapsed    time.Duration `json:"-"`
	ElapsedMS  int64         `json:"elapsed_ms"`
	Kind       ErrorKind     `json:"error_kind,omitempty"`
	Err        string        `json:"error,omitempty"`
	RemoteCode int           `json:"remote_code,omitempty"`
}

// Adapter is the capability set every device family exposes.
type Adapter interface {
	PowerOn(ctx context.Context, dev *device.Device) Result
	PowerOff(ctx context.Context, dev *device.Device) Result
	Status(ctx context.Context, dev *device.Device) Result
	IsReachable(ctx context.Context, dev *device.Device) bool
}

// Classify maps an I/O error to its ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return KindTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return KindNetworkUnreachable
	}
	return KindUnknown
}

func failure(err error, start time.Time) Result {
	elapsed := time.Since(start)
	return Result{
		Success:   false,
		Elapsed:   elapsed,
		ElapsedMS: elapsed.Milliseconds(),
		Kind:      Classify(err),
		Err:       err.Error(),
	}
}

func success(response, message string, start time.Time) Result {
	elapsed := time.Since(start)
	return Result{
		Success:   true,
		Message:   message,
		Response:  response,
		Elapsed:   elapsed,
		ElapsedMS: elapsed.Milliseconds(),
	}
}

// dial opens a TCP connection to the device's service port, honouring
// both the per-device timeout and the caller's context. The returned
// connection is closed early if ctx is cancelled, aborting in-flight I/O.
func dial(ctx context.Context, dev *device.Device, timeout time.Duration) (net.Conn, func(), error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", dev.Addr())
	if err != nil {
		return nil, nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	cleanup := func() {
		stop()
		conn.Close()
	}
	return conn, cleanup, nil
}

// settle pauses to give the device time to process a command, returning
// early if ctx is cancelled.
func settle(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isTimeout reports whether err is a read deadline expiry, which several
// of the protocols treat as "no reply" rather than failure.
func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout() || os.IsTimeout(err)
}
