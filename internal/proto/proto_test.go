package proto

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/venuelab/avcontrold/internal/device"
)

// startServer runs handler for every accepted connection and returns a
// device pointed at the listener.
func startServer(t *testing.T, family device.Family, handler func(net.Conn)) *device.Device {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				handler(c)
			}(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return &device.Device{
		ID:      "test-device",
		Name:    "Test Device",
		Family:  family,
		IP:      host,
		Port:    port,
		Enabled: true,
		Timeout: 3 * time.Second,
	}
}

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	unreach := &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"cancelled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"refused", refused, KindConnectionRefused},
		{"unreachable", unreach, KindNetworkUnreachable},
		{"unknown", syscall.EPIPE, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestASCIIPowerOnSilentDevice(t *testing.T) {
	var received string
	done := make(chan struct{})
	dev := startServer(t, device.FamilyASCIILine, func(c net.Conn) {
		buf := make([]byte, 64)
		n, _ := c.Read(buf)
		received = string(buf[:n])
		close(done)
		// Hold the connection open without answering.
		time.Sleep(3 * time.Second)
	})

	a := NewASCIIAdapter()
	r := a.PowerOn(context.Background(), dev)
	if !r.Success {
		t.Fatalf("PowerOn failed: kind=%s err=%s", r.Kind, r.Err)
	}
	if r.PowerState != PowerOn {
		t.Errorf("power state = %q, want %q", r.PowerState, PowerOn)
	}
	if r.Response != "" {
		t.Errorf("response = %q, want empty", r.Response)
	}
	<-done
	if received != "~0000 1\r" {
		t.Errorf("device received %q, want %q", received, "~0000 1\r")
	}
}

func TestASCIIStatusReply(t *testing.T) {
	dev := startServer(t, device.FamilyASCIILine, func(c net.Conn) {
		buf := make([]byte, 64)
		c.Read(buf)
		c.Write([]byte("OK1\r"))
	})

	a := NewASCIIAdapter()
	r := a.Status(context.Background(), dev)
	if !r.Success {
		t.Fatalf("Status failed: %s", r.Err)
	}
	if r.PowerState != PowerOn {
		t.Errorf("power state = %q, want %q", r.PowerState, PowerOn)
	}
}

func TestASCIIConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	dev := &device.Device{
		ID: "dead", Family: device.FamilyASCIILine,
		IP: host, Port: port, Timeout: time.Second,
	}
	a := NewASCIIAdapter()
	r := a.PowerOn(context.Background(), dev)
	if r.Success {
		t.Fatal("expected failure against closed port")
	}
	if r.Kind != KindConnectionRefused {
		t.Errorf("kind = %q, want %q", r.Kind, KindConnectionRefused)
	}
}

func TestJSONRPCPowerOn(t *testing.T) {
	dev := startServer(t, device.FamilyJSONRPC, func(c net.Conn) {
		line, err := bufio.NewReader(c).ReadString('\n')
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return
		}
		if req.JSONRPC != "2.0" || req.Method != "system.poweron" {
			c.Write([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"invalid request"}}` + "\n"))
			return
		}
		resp, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0", "id": req.ID, "result": map[string]string{"status": "ok"},
		})
		c.Write(append(resp, '\n'))
	})

	a := NewJSONRPCAdapter()
	r := a.PowerOn(context.Background(), dev)
	if !r.Success {
		t.Fatalf("PowerOn failed: kind=%s err=%s", r.Kind, r.Err)
	}
	if r.PowerState != PowerOn {
		t.Errorf("power state = %q, want %q", r.PowerState, PowerOn)
	}
}

func TestJSONRPCRemoteError(t *testing.T) {
	dev := startServer(t, device.FamilyJSONRPC, func(c net.Conn) {
		bufio.NewReader(c).ReadString('\n')
		c.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}` + "\n"))
	})

	a := NewJSONRPCAdapter()
	r := a.Call(context.Background(), dev, "system.selftest", nil)
	if r.Success {
		t.Fatal("expected failure on error reply")
	}
	if r.Kind != KindRemoteError {
		t.Errorf("kind = %q, want %q", r.Kind, KindRemoteError)
	}
	if r.RemoteCode != -32601 {
		t.Errorf("remote code = %d, want -32601", r.RemoteCode)
	}
}

func TestJSONRPCStatusParsesState(t *testing.T) {
	dev := startServer(t, device.FamilyJSONRPC, func(c net.Conn) {
		bufio.NewReader(c).ReadString('\n')
		c.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"state":"standby"}}` + "\n"))
	})

	a := NewJSONRPCAdapter()
	r := a.Status(context.Background(), dev)
	if !r.Success {
		t.Fatalf("Status failed: %s", r.Err)
	}
	if r.PowerState != PowerOff {
		t.Errorf("power state = %q, want %q", r.PowerState, PowerOff)
	}
}

func TestJSONRPCEmptyStatusReply(t *testing.T) {
	dev := startServer(t, device.FamilyJSONRPC, func(c net.Conn) {
		bufio.NewReader(c).ReadString('\n')
		c.Write([]byte("\n"))
	})

	a := NewJSONRPCAdapter()
	r := a.Status(context.Background(), dev)
	if r.Success {
		t.Fatal("status query answered by silence should fail")
	}
	if r.Kind != KindEmptyResponse {
		t.Errorf("kind = %q, want %q", r.Kind, KindEmptyResponse)
	}

	// Power commands keep tolerating a payload-free ack.
	r = a.PowerOn(context.Background(), dev)
	if !r.Success {
		t.Errorf("PowerOn with empty ack failed: kind=%s err=%s", r.Kind, r.Err)
	}
}

func TestJSONRPCMalformedReply(t *testing.T) {
	dev := startServer(t, device.FamilyJSONRPC, func(c net.Conn) {
		bufio.NewReader(c).ReadString('\n')
		c.Write([]byte("garbage not json\n"))
	})

	a := NewJSONRPCAdapter()
	r := a.Call(context.Background(), dev, "system.poweron", nil)
	if r.Success {
		t.Fatal("expected failure on malformed reply")
	}
	if r.Kind != KindProtocolError {
		t.Errorf("kind = %q, want %q", r.Kind, KindProtocolError)
	}
}

func TestSemicolonPowerCommands(t *testing.T) {
	var received string
	done := make(chan struct{})
	dev := startServer(t, device.FamilySemicolonTCP, func(c net.Conn) {
		buf := make([]byte, 64)
		n, _ := c.Read(buf)
		received = string(buf[:n])
		close(done)
	})

	a := NewSemicolonAdapter()
	r := a.PowerOff(context.Background(), dev)
	if !r.Success {
		t.Fatalf("PowerOff failed: %s", r.Err)
	}
	if r.PowerState != PowerOff {
		t.Errorf("power state = %q, want %q", r.PowerState, PowerOff)
	}
	<-done
	if received != "SET(0;Power;0)\r\n" {
		t.Errorf("device received %q, want %q", received, "SET(0;Power;0)\r\n")
	}
}

func TestSemicolonStatus(t *testing.T) {
	dev := startServer(t, device.FamilySemicolonTCP, func(c net.Conn) {
		buf := make([]byte, 64)
		c.Read(buf)
		c.Write([]byte("Power=1\r\n"))
	})

	a := NewSemicolonAdapter()
	r := a.Status(context.Background(), dev)
	if !r.Success {
		t.Fatalf("Status failed: %s", r.Err)
	}
	if r.PowerState != PowerOn {
		t.Errorf("power state = %q, want %q", r.PowerState, PowerOn)
	}
}

type fakePinger struct {
	ok bool
}

func (f fakePinger) Ping(ctx context.Context, ip string) (bool, time.Duration, string) {
	if f.ok {
		return true, 2 * time.Millisecond, "ping ok"
	}
	return false, 0, "no ping response from " + ip
}

func TestPassiveAdapter(t *testing.T) {
	dev := &device.Device{ID: "pc-1", Family: device.FamilyPassivePC, IP: "192.0.2.10"}

	a := NewPassiveAdapter(fakePinger{ok: true})
	r := a.PowerOn(context.Background(), dev)
	if !r.Success || r.Message != "skipped (no direct control)" {
		t.Errorf("PowerOn = %+v, want skipped success", r)
	}

	r = a.Status(context.Background(), dev)
	if !r.Success {
		t.Errorf("Status with live pinger failed: %s", r.Err)
	}
	if r.PowerState != PowerUnknown {
		t.Errorf("power state = %q, want %q", r.PowerState, PowerUnknown)
	}

	a = NewPassiveAdapter(fakePinger{ok: false})
	r = a.Status(context.Background(), dev)
	if r.Success {
		t.Error("Status with dead pinger should fail")
	}
	if a.IsReachable(context.Background(), dev) {
		t.Error("IsReachable should be false with dead pinger")
	}
}

func TestParseASCIIStatus(t *testing.T) {
	tests := []struct {
		resp string
		want PowerState
	}{
		{"", PowerUnknown},
		{"OK1", PowerOn},
		{"OK0", PowerOff},
		{"INFO2", PowerUnknown},
	}
	for _, tt := range tests {
		if got := parseASCIIStatus(tt.resp); got != tt.want {
			t.Errorf("parseASCIIStatus(%q) = %q, want %q", tt.resp, got, tt.want)
		}
	}
}
