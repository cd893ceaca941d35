// Package probe implements the reachability probes: one-shot ICMP ping,
// TCP connect, and HTTP GET. Probes never retry internally.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Default probe deadlines.
const (
	DefaultPingTimeout = 2 * time.Second
	DefaultTCPTimeout  = 1 * time.Second
	DefaultHTTPTimeout = 1 * time.Second
)

// fallbackPort is probed with a TCP SYN when ICMP is unavailable
// (echo, port 7).
const fallbackPort = 7

// Result is the outcome of a single probe.
type Result struct {
	Success   bool          `json:"success"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMS int64         `json:"elapsed_ms"`
	Message   string        `json:"message"`
}

// Prober bundles the three probe types with their deadlines.
type Prober struct {
	PingTimeout time.Duration
	TCPTimeout  time.Duration
	HTTPTimeout time.Duration

	httpClient *http.Client
}

// New returns a Prober with default deadlines.
func New() *Prober {
	p := &Prober{
		PingTimeout: DefaultPingTimeout,
		TCPTimeout:  DefaultTCPTimeout,
		HTTPTimeout: DefaultHTTPTimeout,
	}
	p.httpClient = &http.Client{Timeout: p.HTTPTimeout}
	return p
}

// PingProbe fires one ICMP echo at ip. Runs unprivileged (UDP datagram
// socket); when the platform refuses ICMP entirely, falls back to a
// single TCP connect on the echo port so reachability still degrades
// gracefully rather than failing closed.
func (p *Prober) PingProbe(ctx context.Context, ip string) Result {
	start := time.Now()

	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return p.tcpFallback(ctx, ip, start)
	}
	pinger.Count = 1
	pinger.Timeout = p.PingTimeout
	pinger.SetPrivileged(false)

	ctx, cancel := context.WithTimeout(ctx, p.PingTimeout)
	defer cancel()

	if err := pinger.RunWithContext(ctx); err != nil {
		return p.tcpFallback(ctx, ip, start)
	}

	stats := pinger.Statistics()
	elapsed := time.Since(start)
	if stats.PacketsRecv > 0 {
		return Result{
			Success:   true,
			Elapsed:   elapsed,
			ElapsedMS: elapsed.Milliseconds(),
			Message:   fmt.Sprintf("ping ok, rtt %dms", stats.AvgRtt.Milliseconds()),
		}
	}
	return Result{
		Elapsed:   elapsed,
		ElapsedMS: elapsed.Milliseconds(),
		Message:   fmt.Sprintf("no ping response from %s", ip),
	}
}

// tcpFallback substitutes a TCP connect on the echo port for ICMP.
func (p *Prober) tcpFallback(ctx context.Context, ip string, start time.Time) Result {
	r := p.TCPProbe(ctx, ip, fallbackPort)
	elapsed := time.Since(start)
	r.Elapsed = elapsed
	r.ElapsedMS = elapsed.Milliseconds()
	if r.Success {
		r.Message = "icmp unavailable, tcp echo probe ok"
	} else {
		r.Message = fmt.Sprintf("no ping response from %s", ip)
	}
	return r
}

// Ping adapts PingProbe to the proto.Pinger interface.
func (p *Prober) Ping(ctx context.Context, ip string) (bool, time.Duration, string) {
	r := p.PingProbe(ctx, ip)
	return r.Success, r.Elapsed, r.Message
}

// TCPProbe opens and immediately closes a TCP connection to ip:port.
func (p *Prober) TCPProbe(ctx context.Context, ip string, port int) Result {
	start := time.Now()

	d := net.Dialer{Timeout: p.TCPTimeout}
	ctx, cancel := context.WithTimeout(ctx, p.TCPTimeout)
	defer cancel()

	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ip, port))
	elapsed := time.Since(start)
	if err != nil {
		return Result{
			Elapsed:   elapsed,
			ElapsedMS: elapsed.Milliseconds(),
			Message:   fmt.Sprintf("tcp port %d closed: %v", port, err),
		}
	}
	conn.Close()
	return Result{
		Success:   true,
		Elapsed:   elapsed,
		ElapsedMS: elapsed.Milliseconds(),
		Message:   fmt.Sprintf("tcp port %d open", port),
	}
}

// HTTPProbe issues one GET http://ip:port/ and succeeds on any status
// below 500.
func (p *Prober) HTTPProbe(ctx context.Context, ip string, port int) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s:%d/", ip, port), nil)
	if err != nil {
		elapsed := time.Since(start)
		return Result{Elapsed: elapsed, ElapsedMS: elapsed.Milliseconds(), Message: err.Error()}
	}

	resp, err := p.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{
			Elapsed:   elapsed,
			ElapsedMS: elapsed.Milliseconds(),
			Message:   fmt.Sprintf("http probe failed: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{
			Elapsed:   elapsed,
			ElapsedMS: elapsed.Milliseconds(),
			Message:   fmt.Sprintf("http status %d", resp.StatusCode),
		}
	}
	return Result{
		Success:   true,
		Elapsed:   elapsed,
		ElapsedMS: elapsed.Milliseconds(),
		Message:   fmt.Sprintf("http status %d", resp.StatusCode),
	}
}
