package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/venuelab/avcontrold/internal/actionlog"
	"github.com/venuelab/avcontrold/internal/config"
	"github.com/venuelab/avcontrold/internal/device"
	"github.com/venuelab/avcontrold/internal/monitor"
	"github.com/venuelab/avcontrold/internal/orchestrator"
	"github.com/venuelab/avcontrold/internal/probe"
	"github.com/venuelab/avcontrold/internal/proto"
	"github.com/venuelab/avcontrold/internal/registry"
	"github.com/venuelab/avcontrold/internal/reports"
	"github.com/venuelab/avcontrold/internal/retry"
	"github.com/venuelab/avcontrold/internal/sched"
)

// okAdapter succeeds on every operation.
type okAdapter struct{}

func (okAdapter) PowerOn(ctx context.Context, dev *device.Device) proto.Result {
	return proto.Result{Success: true, Message: "ok", PowerState: proto.PowerOn}
}
func (okAdapter) PowerOff(ctx context.Context, dev *device.Device) proto.Result {
	return proto.Result{Success: true, Message: "ok", PowerState: proto.PowerOff}
}
func (okAdapter) Status(ctx context.Context, dev *device.Device) proto.Result {
	return proto.Result{Success: true, PowerState: proto.PowerOn}
}
func (okAdapter) IsReachable(ctx context.Context, dev *device.Device) bool { return true }

// upProber reports every host reachable.
type upProber struct{}

func (upProber) Ping(ctx context.Context, ip string) (bool, time.Duration, string) {
	return true, time.Millisecond, "ping ok"
}
func (upProber) TCPProbe(ctx context.Context, ip string, port int) probe.Result {
	return probe.Result{Success: true}
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Server.SocketPath = filepath.Join(dir, "test.sock")
	cfg.Storage.DBPath = filepath.Join(dir, "test.db")
	cfg.Storage.ReportsDir = filepath.Join(dir, "reports")

	reg := registry.New(
		[]device.Group{{ID: "projectors", Name: "Projectors", Priority: 1, Parallel: true}},
		[]device.Device{
			{ID: "proj-1", Name: "Hall A", Group: "projectors", Family: device.FamilyASCIILine, IP: "10.0.1.11", Enabled: true},
			{ID: "wall-1", Name: "Wall", Group: "projectors", Family: device.FamilySemicolonTCP, IP: "10.0.2.10", Enabled: true},
		},
	)

	store, err := actionlog.Open(cfg.Storage.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	adapters := map[device.Family]proto.Adapter{
		device.FamilyASCIILine:    okAdapter{},
		device.FamilySemicolonTCP: okAdapter{},
	}
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond}
	orch := orchestrator.New(reg, adapters, policy, orchestrator.WithRecorder(store))

	mon := monitor.New(reg, upProber{}, monitor.DefaultSettings(), orch.Semaphore())

	gen, err := reports.New(cfg.Storage.ReportsDir, store)
	if err != nil {
		t.Fatal(err)
	}
	mon.OnSweep(gen.RecordSweep)

	sc, err := sched.New(orch, mon, store, sched.DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}

	return NewServer(cfg, reg, orch, mon, sc, store, gen, nil)
}

func do(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t)
	rec := do(t, s, "GET", "/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	h := decode[healthResponse](t, rec)
	if h.Status != "running" || h.Devices != 2 {
		t.Errorf("health = %+v", h)
	}
}

func TestListAndGetDevice(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, "GET", "/v1/devices", "")
	devs := decode[[]device.Device](t, rec)
	if len(devs) != 2 {
		t.Fatalf("devices = %d, want 2", len(devs))
	}

	rec = do(t, s, "GET", "/v1/devices/proj-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	d := decode[device.Device](t, rec)
	if d.ID != "proj-1" {
		t.Errorf("device = %+v", d)
	}

	rec = do(t, s, "GET", "/v1/devices/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}
}

func TestDevicePowerEndpoints(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, "POST", "/v1/devices/proj-1/on", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	res := decode[orchestrator.DeviceResult](t, rec)
	if !res.Success || res.Action != orchestrator.ActionTurnOn {
		t.Errorf("result = %+v", res)
	}

	rec = do(t, s, "POST", "/v1/devices/all/off", "")
	rep := decode[orchestrator.ExecutionReport](t, rec)
	if rep.Total != 2 || rep.Status != "success" {
		t.Errorf("report = %+v", rep)
	}

	rec = do(t, s, "POST", "/v1/groups/projectors/on", "")
	rep = decode[orchestrator.ExecutionReport](t, rec)
	if rep.Total != 2 {
		t.Errorf("group report = %+v", rep)
	}

	rec = do(t, s, "POST", "/v1/groups/ghost/on", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown group status = %d", rec.Code)
	}
}

func TestLampTimeUnsupportedFamily(t *testing.T) {
	s := setupTestServer(t)
	rec := do(t, s, "GET", "/v1/devices/proj-1/lamptime", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("lamptime on ascii device = %d, want 400", rec.Code)
	}
}

func TestMuteUnsupportedAdapter(t *testing.T) {
	s := setupTestServer(t)
	rec := do(t, s, "POST", "/v1/devices/wall-1/mute", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("mute on video wall = %d, want 400", rec.Code)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, "GET", "/v1/schedule", "")
	sr := decode[scheduleResponse](t, rec)
	if sr.Settings.TurnOnTime != "09:00" || len(sr.Jobs) != 3 {
		t.Errorf("schedule = %+v", sr)
	}

	rec = do(t, s, "PUT", "/v1/schedule", `{"enabled":true,"turn_on_time":"07:45","turn_off_time":"22:00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body=%s", rec.Code, rec.Body)
	}
	sr = decode[scheduleResponse](t, rec)
	if sr.Settings.TurnOnTime != "07:45" {
		t.Errorf("turn_on_time = %q", sr.Settings.TurnOnTime)
	}

	// Partial body: untouched fields keep their current values.
	rec = do(t, s, "PUT", "/v1/schedule", `{"turn_on_time":"08:15"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("partial update status = %d body=%s", rec.Code, rec.Body)
	}
	sr = decode[scheduleResponse](t, rec)
	if sr.Settings.TurnOnTime != "08:15" || sr.Settings.TurnOffTime != "22:00" || !sr.Settings.Enabled {
		t.Errorf("partial update clobbered settings: %+v", sr.Settings)
	}

	rec = do(t, s, "PUT", "/v1/schedule", `{"turn_on_time":"26:00"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid schedule accepted: %d", rec.Code)
	}

	rec = do(t, s, "POST", "/v1/schedule/exclude", `{"date":"2026-12-25"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("exclude status = %d", rec.Code)
	}
	rec = do(t, s, "DELETE", "/v1/schedule/exclude/2026-12-25", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexclude status = %d", rec.Code)
	}

	rec = do(t, s, "POST", "/v1/schedule/disable", "")
	if rec.Code != http.StatusOK {
		t.Fatal("disable failed")
	}
	rec = do(t, s, "POST", "/v1/schedule/trigger/daily_turn_on", "")
	if rec.Code != http.StatusOK {
		t.Errorf("manual trigger while disabled = %d, want 200", rec.Code)
	}
	rec = do(t, s, "POST", "/v1/schedule/trigger/defrost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job = %d, want 404", rec.Code)
	}
}

func TestMonitorEndpoints(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, "GET", "/v1/monitor/summary", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("summary before first sweep = %d, want 404", rec.Code)
	}

	rec = do(t, s, "POST", "/v1/monitor/sweep", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep status = %d", rec.Code)
	}
	sum := decode[monitor.SweepSummary](t, rec)
	if sum.Total != 2 || sum.Online != 2 {
		t.Errorf("sweep = %+v", sum)
	}

	rec = do(t, s, "GET", "/v1/monitor/summary", "")
	if rec.Code != http.StatusOK {
		t.Errorf("summary after sweep = %d", rec.Code)
	}

	rec = do(t, s, "GET", "/v1/alerts", "")
	if rec.Code != http.StatusOK {
		t.Errorf("alerts status = %d", rec.Code)
	}
}

func TestLogsEndpoints(t *testing.T) {
	s := setupTestServer(t)

	// Produce some history.
	do(t, s, "POST", "/v1/devices/proj-1/on", "")

	rec := do(t, s, "GET", "/v1/logs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("logs status = %d", rec.Code)
	}
	entries := decode[[]actionlog.Entry](t, rec)
	if len(entries) == 0 {
		t.Error("no log entries for today's action")
	}

	rec = do(t, s, "GET", "/v1/logs?date=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date = %d, want 400", rec.Code)
	}

	rec = do(t, s, "GET", "/v1/devices/proj-1/logs?limit=5", "")
	entries = decode[[]actionlog.Entry](t, rec)
	if len(entries) == 0 {
		t.Error("no device log entries")
	}
}

func TestDailyReportEndpoints(t *testing.T) {
	s := setupTestServer(t)
	do(t, s, "POST", "/v1/monitor/sweep", "")
	do(t, s, "POST", "/v1/monitor/sweep", "")

	today := time.Now().Format("2006-01-02")
	rec := do(t, s, "POST", "/v1/reports/daily/"+today, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d body=%s", rec.Code, rec.Body)
	}
	dr := decode[dailyReportResponse](t, rec)
	if dr.Status != reports.DayNormal {
		t.Errorf("day status = %q, want NORMAL", dr.Status)
	}

	rec = do(t, s, "GET", "/v1/reports/daily/"+today, "")
	if rec.Code != http.StatusOK {
		t.Errorf("stored report status = %d", rec.Code)
	}

	rec = do(t, s, "GET", "/v1/reports/daily/2020-01-01", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing report = %d, want 404", rec.Code)
	}
}

func TestConfigEndpoints(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, "GET", "/v1/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("config status = %d", rec.Code)
	}

	rec = do(t, s, "POST", "/v1/config/reload", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("reload without hook = %d, want 503", rec.Code)
	}
}
