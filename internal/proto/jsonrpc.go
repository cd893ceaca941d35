package proto

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/venuelab/avcontrold/internal/device"
)

// JSON-RPC methods understood by the projector firmware.
const (
	rpcPowerOn       = "system.poweron"
	rpcPowerOff      = "system.poweroff"
	rpcPowerStateGet = "system.powerstate.get"
	rpcLampTime      = "system.lamptime"
)

const rpcReadWindow = 5 * time.Second

// JSONRPCAdapter drives projectors speaking JSON-RPC 2.0 over a raw TCP
// socket, one object per line, newline-terminated both ways.
type JSONRPCAdapter struct {
	Timeout time.Duration

	// requestID is a monotonic per-adapter counter carried as the
	// JSON-RPC id.
	requestID atomic.Int64
}

// NewJSONRPCAdapter returns an adapter with the default operation timeout.
func NewJSONRPCAdapter() *JSONRPCAdapter {
	return &JSONRPCAdapter{Timeout: device.DefaultTimeout}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int64  `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func (a *JSONRPCAdapter) timeout(dev *device.Device) time.Duration {
	if dev.Timeout > 0 {
		return dev.Timeout
	}
	return a.Timeout
}

// Call performs one JSON-RPC transaction. Transport success with an
// "error" member in the reply is a REMOTE_ERROR carrying the peer's
// code and message. An absent reply is tolerated: some firmware
// revisions acknowledge power commands by silence.
func (a *JSONRPCAdapter) Call(ctx context.Context, dev *device.Device, method string, params any) Result {
	start := time.Now()

	req := rpcRequest{JSONRPC: "2.0", Method: method, ID: a.requestID.Add(1), Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return failure(err, start)
	}
	payload = append(payload, '\n')

	conn, cleanup, err := dial(ctx, dev, a.timeout(dev))
	if err != nil {
		return failure(err, start)
	}
	defer cleanup()

	if _, err := conn.Write(payload); err != nil {
		return failure(err, start)
	}

	conn.SetReadDeadline(time.Now().Add(rpcReadWindow))
	line, err := bufio.NewReader(conn).ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && line == "" {
		if isTimeout(err) {
			// No reply within the window; command was delivered.
			return success("", "command sent, no reply", start)
		}
		if ctx.Err() != nil {
			return failure(ctx.Err(), start)
		}
		return failure(err, start)
	}
	if line == "" {
		// A bare newline carries no payload; same as silence.
		return success("", "command sent, no reply", start)
	}

	var resp rpcResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		r := failure(fmt.Errorf("parse reply: %w", err), start)
		r.Kind = KindProtocolError
		r.Response = line
		return r
	}
	if resp.Error != nil {
		elapsed := time.Since(start)
		return Result{
			Success:    false,
			Response:   line,
			Elapsed:    elapsed,
			ElapsedMS:  elapsed.Milliseconds(),
			Kind:       KindRemoteError,
			RemoteCode: resp.Error.Code,
			Err:        fmt.Sprintf("remote error %d: %s", resp.Error.Code, resp.Error.Message),
		}
	}

	return success(line, "command executed", start)
}

// PowerOn turns the projector on.
func (a *JSONRPCAdapter) PowerOn(ctx context.Context, dev *device.Device) Result {
	r := a.Call(ctx, dev, rpcPowerOn, nil)
	if r.Success {
		r.PowerState = PowerOn
		r.Message = "projector powering on"
	}
	return r
}

// PowerOff turns the projector off.
func (a *JSONRPCAdapter) PowerOff(ctx context.Context, dev *device.Device) Result {
	r := a.Call(ctx, dev, rpcPowerOff, nil)
	if r.Success {
		r.PowerState = PowerOff
		r.Message = "projector powering off"
	}
	return r
}

// requireReply downgrades a silent success to an EMPTY_RESPONSE
// failure. Silence acknowledges power commands, but a query needs a
// payload.
func requireReply(r Result) Result {
	if r.Success && r.Response == "" {
		r.Success = false
		r.Kind = KindEmptyResponse
		r.Err = "empty reply to query"
		r.Message = ""
	}
	return r
}

// Status queries the power state and forwards the parsed result.
func (a *JSONRPCAdapter) Status(ctx context.Context, dev *device.Device) Result {
	r := requireReply(a.Call(ctx, dev, rpcPowerStateGet, nil))
	if !r.Success {
		return r
	}
	r.PowerState = parseRPCPowerState(r.Response)
	return r
}

// LampTime queries accumulated lamp hours.
func (a *JSONRPCAdapter) LampTime(ctx context.Context, dev *device.Device) Result {
	return requireReply(a.Call(ctx, dev, rpcLampTime, nil))
}

// IsReachable probes the service port with a short connect.
func (a *JSONRPCAdapter) IsReachable(ctx context.Context, dev *device.Device) bool {
	conn, cleanup, err := dial(ctx, dev, 2*time.Second)
	if err != nil {
		return false
	}
	cleanup()
	_ = conn
	return true
}

// parseRPCPowerState extracts result.state from a powerstate reply.
func parseRPCPowerState(raw string) PowerState {
	var resp struct {
		Result struct {
			State string `json:"state"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return PowerUnknown
	}
	switch strings.ToLower(resp.Result.State) {
	case "on", "1":
		return PowerOn
	case "off", "0", "standby":
		return PowerOff
	default:
		return PowerUnknown
	}
}
