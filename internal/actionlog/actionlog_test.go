package actionlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/venuelab/avcontrold/internal/device"
	"github.com/venuelab/avcontrold/internal/orchestrator"
	"github.com/venuelab/avcontrold/internal/proto"
	"github.com/venuelab/avcontrold/internal/retry"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult(id string, ok bool) orchestrator.DeviceResult {
	return orchestrator.DeviceResult{
		DeviceID:  id,
		Name:      "Device " + id,
		Group:     "projectors",
		Family:    device.FamilyASCIILine,
		Action:    orchestrator.ActionTurnOn,
		Success:   ok,
		Attempts:  1,
		Timestamp: time.Now(),
	}
}

func TestRecordOneRowPerAttempt(t *testing.T) {
	s := testStore(t)

	now := time.Now()
	res := sampleResult("proj-1", true)
	attempts := []retry.Attempt{
		{Index: 1, Start: now, Kind: proto.KindTimeout, Err: "timed out"},
		{Index: 2, Start: now.Add(time.Second), Success: true, Response: "OK"},
	}
	s.Record(res, attempts)

	entries, err := s.DeviceLogs("proj-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d rows, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Attempt != 2 || !entries[0].Success {
		t.Errorf("newest row = %+v, want successful attempt 2", entries[0])
	}
	if entries[1].Attempt != 1 || entries[1].Kind != string(proto.KindTimeout) {
		t.Errorf("oldest row = %+v, want failed attempt 1", entries[1])
	}
}

func TestRecordWithoutAttempts(t *testing.T) {
	s := testStore(t)
	res := sampleResult("pc-1", true)
	res.Attempts = 0
	res.Message = "skipped (no direct control)"
	s.Record(res, nil)

	entries, err := s.DeviceLogs("pc-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d rows, want 1", len(entries))
	}
	if entries[0].Attempt != 0 || !entries[0].Success {
		t.Errorf("row = %+v, want terminal attempt 0", entries[0])
	}
}

func TestLogsByDate(t *testing.T) {
	s := testStore(t)

	res := sampleResult("proj-1", true)
	s.Record(res, []retry.Attempt{{Index: 1, Start: time.Now(), Success: true}})

	today := time.Now().UTC().Format("2006-01-02")
	entries, err := s.LogsByDate(today)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("today's rows = %d, want 1", len(entries))
	}

	entries, err = s.LogsByDate("1999-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("ancient date rows = %d, want 0", len(entries))
	}
}

func TestPruneOlderThan(t *testing.T) {
	s := testStore(t)

	old := sampleResult("proj-1", true)
	s.Record(old, []retry.Attempt{{Index: 1, Start: time.Now().AddDate(0, 0, -40), Success: true}})
	fresh := sampleResult("proj-2", true)
	s.Record(fresh, []retry.Attempt{{Index: 1, Start: time.Now(), Success: true}})

	n, err := s.PruneOlderThan(30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	if left, _ := s.DeviceLogs("proj-2", 10); len(left) != 1 {
		t.Error("fresh row pruned")
	}
}

func TestLastRunRoundTrip(t *testing.T) {
	s := testStore(t)

	if _, ok, err := s.LastRun("daily_turn_on"); err != nil || ok {
		t.Fatalf("unset job: ok=%v err=%v, want absent", ok, err)
	}

	want := time.Date(2026, 8, 24, 8, 30, 0, 0, time.UTC)
	if err := s.SetLastRun("daily_turn_on", want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.LastRun("daily_turn_on")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !got.Equal(want) {
		t.Errorf("last run = %s, want %s", got, want)
	}

	// Upsert overwrites.
	later := want.Add(24 * time.Hour)
	if err := s.SetLastRun("daily_turn_on", later); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.LastRun("daily_turn_on")
	if !got.Equal(later) {
		t.Errorf("after upsert = %s, want %s", got, later)
	}
}

func TestDailyReportRoundTrip(t *testing.T) {
	s := testStore(t)

	if err := s.SaveDailyReport("2026-08-24", "NORMAL", "all quiet"); err != nil {
		t.Fatal(err)
	}
	status, body, err := s.DailyReport("2026-08-24")
	if err != nil {
		t.Fatal(err)
	}
	if status != "NORMAL" || body != "all quiet" {
		t.Errorf("got %q/%q", status, body)
	}
	if _, _, err := s.DailyReport("2026-01-01"); err == nil {
		t.Error("missing report should error")
	}
}
