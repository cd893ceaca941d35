// Package client provides a shared Go client for the avcontrold HTTP API.
// Used by the avctl CLI and operator tooling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/venuelab/avcontrold/internal/actionlog"
	"github.com/venuelab/avcontrold/internal/config"
	"github.com/venuelab/avcontrold/internal/device"
	"github.com/venuelab/avcontrold/internal/monitor"
	"github.com/venuelab/avcontrold/internal/orchestrator"
	"github.com/venuelab/avcontrold/internal/proto"
	"github.com/venuelab/avcontrold/internal/sched"
)

// Client talks to avcontrold over a unix socket.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client connected to the avcontrold unix socket at socketPath.
func New(socketPath string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					d.Timeout = 5 * time.Second
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		baseURL: "http://avcontrold",
	}
}

// NewTCP creates a client that talks to a daemon listening on TCP,
// for operator workstations elsewhere on the venue LAN.
func NewTCP(addr string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "http://" + addr,
	}
}

// DefaultSocketPath returns the default avcontrold socket path
// (~/.avcontrold/avcontrold.sock).
func DefaultSocketPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".avcontrold", "avcontrold.sock")
}

// NewDefault creates a client using the default socket path.
func NewDefault() *Client {
	return New(DefaultSocketPath())
}

// --- Daemon ---

// Health returns the daemon health summary.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.doJSON(ctx, "GET", "/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Config returns the daemon's active configuration.
func (c *Client) Config(ctx context.Context) (*config.Config, error) {
	var out config.Config
	if err := c.doJSON(ctx, "GET", "/v1/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reload asks the daemon to reload its configuration from disk.
func (c *Client) Reload(ctx context.Context) (*ReloadResult, error) {
	var out ReloadResult
	if err := c.doJSON(ctx, "POST", "/v1/config/reload", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Devices ---

// ListDevices returns all devices. With enabledOnly, disabled devices
// are filtered out.
func (c *Client) ListDevices(ctx context.Context, enabledOnly bool) ([]device.Device, error) {
	path := "/v1/devices"
	if enabledOnly {
		path += "?enabled=1"
	}
	var out []device.Device
	if err := c.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDevice returns a single device by ID.
func (c *Client) GetDevice(ctx context.Context, id string) (*device.Device, error) {
	var out device.Device
	if err := c.doJSON(ctx, "GET", "/v1/devices/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeviceOn turns one device on.
func (c *Client) DeviceOn(ctx context.Context, id string) (*orchestrator.DeviceResult, error) {
	return c.deviceAction(ctx, "POST", "/v1/devices/"+url.PathEscape(id)+"/on")
}

// DeviceOff turns one device off.
func (c *Client) DeviceOff(ctx context.Context, id string) (*orchestrator.DeviceResult, error) {
	return c.deviceAction(ctx, "POST", "/v1/devices/"+url.PathEscape(id)+"/off")
}

// DeviceStatus queries one device's power state.
func (c *Client) DeviceStatus(ctx context.Context, id string) (*orchestrator.DeviceResult, error) {
	return c.deviceAction(ctx, "GET", "/v1/devices/"+url.PathEscape(id)+"/status")
}

func (c *Client) deviceAction(ctx context.Context, method, path string) (*orchestrator.DeviceResult, error) {
	var out orchestrator.DeviceResult
	if err := c.doJSON(ctx, method, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LampTime queries a projector's lamp hour counter.
func (c *Client) LampTime(ctx context.Context, id string) (*proto.Result, error) {
	var out proto.Result
	if err := c.doJSON(ctx, "GET", "/v1/devices/"+url.PathEscape(id)+"/lamptime", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mute engages (on) or releases AV mute on a projector.
func (c *Client) Mute(ctx context.Context, id string, on bool) (*proto.Result, error) {
	verb := "unmute"
	if on {
		verb = "mute"
	}
	return c.shutter(ctx, id, verb)
}

// Blank blanks (on) or restores a projector's picture.
func (c *Client) Blank(ctx context.Context, id string, on bool) (*proto.Result, error) {
	verb := "unblank"
	if on {
		verb = "blank"
	}
	return c.shutter(ctx, id, verb)
}

func (c *Client) shutter(ctx context.Context, id, verb string) (*proto.Result, error) {
	var out proto.Result
	if err := c.doJSON(ctx, "POST", "/v1/devices/"+url.PathEscape(id)+"/"+verb, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeviceLogs returns recent action log entries for one device,
// newest first. limit 0 uses the server default.
func (c *Client) DeviceLogs(ctx context.Context, id string, limit int) ([]actionlog.Entry, error) {
	path := "/v1/devices/" + url.PathEscape(id) + "/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []actionlog.Entry
	if err := c.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AllOn turns on every controllable device, group by group.
func (c *Client) AllOn(ctx context.Context) (*orchestrator.ExecutionReport, error) {
	return c.batch(ctx, "/v1/devices/all/on")
}

// AllOff turns off every controllable device, group by group.
func (c *Client) AllOff(ctx context.Context) (*orchestrator.ExecutionReport, error) {
	return c.batch(ctx, "/v1/devices/all/off")
}

// GroupOn turns on every controllable device in one group.
func (c *Client) GroupOn(ctx context.Context, group string) (*orchestrator.ExecutionReport, error) {
	return c.batch(ctx, "/v1/groups/"+url.PathEscape(group)+"/on")
}

// GroupOff turns off every controllable device in one group.
func (c *Client) GroupOff(ctx context.Context, group string) (*orchestrator.ExecutionReport, error) {
	return c.batch(ctx, "/v1/groups/"+url.PathEscape(group)+"/off")
}

func (c *Client) batch(ctx context.Context, path string) (*orchestrator.ExecutionReport, error) {
	var out orchestrator.ExecutionReport
	if err := c.doJSON(ctx, "POST", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Schedule ---

// GetSchedule returns the schedule settings and per-job state.
func (c *Client) GetSchedule(ctx context.Context) (*Schedule, error) {
	var out Schedule
	if err := c.doJSON(ctx, "GET", "/v1/schedule", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSchedule replaces the schedule settings.
func (c *Client) UpdateSchedule(ctx context.Context, settings sched.Settings) (*Schedule, error) {
	var out Schedule
	if err := c.doJSON(ctx, "PUT", "/v1/schedule", settings, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableSchedule turns automated scheduling on.
func (c *Client) EnableSchedule(ctx context.Context) error {
	return c.doJSON(ctx, "POST", "/v1/schedule/enable", nil, nil)
}

// DisableSchedule turns automated scheduling off.
func (c *Client) DisableSchedule(ctx context.Context) error {
	return c.doJSON(ctx, "POST", "/v1/schedule/disable", nil, nil)
}

// AddExcludedDate marks a date (YYYY-MM-DD) as skipped by scheduled jobs.
func (c *Client) AddExcludedDate(ctx context.Context, date string) error {
	return c.doJSON(ctx, "POST", "/v1/schedule/exclude", map[string]string{"date": date}, nil)
}

// RemoveExcludedDate removes a previously excluded date.
func (c *Client) RemoveExcludedDate(ctx context.Context, date string) error {
	return c.doJSON(ctx, "DELETE", "/v1/schedule/exclude/"+url.PathEscape(date), nil, nil)
}

// TriggerJob runs a scheduled job immediately, bypassing excluded dates.
func (c *Client) TriggerJob(ctx context.Context, job string) error {
	return c.doJSON(ctx, "POST", "/v1/schedule/trigger/"+url.PathEscape(job), nil, nil)
}

// --- Monitoring ---

// MonitorSummary returns the last completed sweep.
func (c *Client) MonitorSummary(ctx context.Context) (*monitor.SweepSummary, error) {
	var out monitor.SweepSummary
	if err := c.doJSON(ctx, "GET", "/v1/monitor/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sweep runs a health sweep now and returns its summary.
func (c *Client) Sweep(ctx context.Context) (*monitor.SweepSummary, error) {
	var out monitor.SweepSummary
	if err := c.doJSON(ctx, "POST", "/v1/monitor/sweep", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Alerts returns the n most recent alerts, newest first. n 0 returns
// all retained alerts.
func (c *Client) Alerts(ctx context.Context, n int) ([]monitor.Alert, error) {
	path := "/v1/alerts"
	if n > 0 {
		path += "?n=" + strconv.Itoa(n)
	}
	var out []monitor.Alert
	if err := c.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Logs and reports ---

// Logs returns action log entries for one date (YYYY-MM-DD). Empty date
// means today.
func (c *Client) Logs(ctx context.Context, date string) ([]actionlog.Entry, error) {
	path := "/v1/logs"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var out []actionlog.Entry
	if err := c.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DailyReport returns the stored daily report for a date.
func (c *Client) DailyReport(ctx context.Context, date string) (*DailyReport, error) {
	var out DailyReport
	if err := c.doJSON(ctx, "GET", "/v1/reports/daily/"+url.PathEscape(date), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateDailyReport builds, stores, and returns the daily report for
// a date.
func (c *Client) GenerateDailyReport(ctx context.Context, date string) (*DailyReport, error) {
	var out DailyReport
	if err := c.doJSON(ctx, "POST", "/v1/reports/daily/"+url.PathEscape(date), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Plumbing ---

// doJSON makes an HTTP request with optional JSON body and decodes the
// JSON response into result (nil discards the body).
func (c *Client) doJSON(ctx context.Context, method, path string, body, result interface{}) error {
	resp, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// doRaw makes an HTTP request and returns the raw response.
// Caller is responsible for closing resp.Body.
func (c *Client) doRaw(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp, nil
}

// parseError reads an error response body and returns an APIError.
func parseError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
