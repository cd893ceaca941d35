// Package reports renders execution and daily reports to disk, persists
// the daily summary, and archives old report files.
package reports

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/venuelab/avcontrold/internal/monitor"
	"github.com/venuelab/avcontrold/internal/orchestrator"
)

// Day statuses.
const (
	DayNormal   = "NORMAL"
	DayIssues   = "ISSUES"
	DayCritical = "CRITICAL"
)

// criticalRate is the online rate below which a day is CRITICAL.
const criticalRate = 0.5

// Store persists rendered daily reports. Implemented by the action log;
// nil keeps reports file-only.
type Store interface {
	SaveDailyReport(date, status, body string) error
}

// execOutcome captures one batch execution for the daily roll-up.
type execOutcome struct {
	start     time.Time
	status    string
	succeeded int
	total     int
}

// dayStats accumulates sweep and execution outcomes for one calendar day.
type dayStats struct {
	sweeps      int
	minRate     float64
	rateSum     float64
	rateCount   int
	everOffline map[string]bool
	onExec      *execOutcome
	offExec     *execOutcome
	execFailed  map[string]bool // union of device ids failed in either execution
}

// Generator writes report files under one directory.
type Generator struct {
	dir   string
	store Store

	mu   sync.Mutex
	days map[string]*dayStats
}

// New returns a generator rooted at dir, creating it if needed.
func New(dir string, store Store) (*Generator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create reports directory: %w", err)
	}
	return &Generator{dir: dir, store: store, days: make(map[string]*dayStats)}, nil
}

// Dir returns the report directory.
func (g *Generator) Dir() string {
	return g.dir
}

func marker(ok bool) string {
	if ok {
		return "[OK]"
	}
	return "[X]"
}

// day returns the stats bucket for a date, creating it if needed.
// Caller holds g.mu.
func (g *Generator) day(date string) *dayStats {
	d, ok := g.days[date]
	if !ok {
		d = &dayStats{
			minRate:     1,
			everOffline: make(map[string]bool),
			execFailed:  make(map[string]bool),
		}
		g.days[date] = d
	}
	return d
}

// RecordExecution writes one execution report as a .txt/.json pair and
// folds the outcome into the day's statistics. Implements the
// orchestrator sink; write errors are logged, never propagated into the
// execution path.
func (g *Generator) RecordExecution(rep *orchestrator.ExecutionReport) {
	base := fmt.Sprintf("execution_%s_%s", rep.Start.Format("2006-01-02_150405"), rep.Action)
	txt := filepath.Join(g.dir, base+".txt")
	jsn := filepath.Join(g.dir, base+".json")

	if err := os.WriteFile(txt, []byte(renderExecution(rep)), 0644); err != nil {
		log.Printf("reports: write %s: %v", txt, err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err == nil {
		err = os.WriteFile(jsn, data, 0644)
	}
	if err != nil {
		log.Printf("reports: write %s: %v", jsn, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.day(rep.Start.Format("2006-01-02"))
	out := &execOutcome{
		start:     rep.Start,
		status:    rep.Status,
		succeeded: rep.Succeeded,
		total:     rep.Total,
	}
	switch rep.Action {
	case orchestrator.ActionTurnOn:
		d.onExec = out
	case orchestrator.ActionTurnOff:
		d.offExec = out
	}
	for _, r := range rep.Results {
		if !r.Success {
			d.execFailed[r.DeviceID] = true
		}
	}
}

func renderExecution(rep *orchestrator.ExecutionReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EXECUTION REPORT: %s\n", strings.ToUpper(string(rep.Action)))
	fmt.Fprintf(&b, "=====================================\n")
	fmt.Fprintf(&b, "Trigger:   %s\n", rep.Trigger)
	fmt.Fprintf(&b, "Target:    %s\n", rep.Target)
	fmt.Fprintf(&b, "Started:   %s\n", rep.Start.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration:  %dms\n", rep.ElapsedMS)
	fmt.Fprintf(&b, "Outcome:   %s (%d/%d ok)\n\n", rep.Status, rep.Succeeded, rep.Total)

	for _, r := range rep.Results {
		fmt.Fprintf(&b, "%-5s %-20s %-16s attempts=%d", marker(r.Success), r.DeviceID, r.Group, r.Attempts)
		if r.Err != "" {
			fmt.Fprintf(&b, " %s: %s", r.Kind, r.Err)
		} else if r.Message != "" {
			fmt.Fprintf(&b, " %s", r.Message)
		}
		b.WriteByte('\n')
	}

	var failed []orchestrator.DeviceResult
	for _, r := range rep.Results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\nRECOVERY ACTIONS\n")
		for _, r := range failed {
			fmt.Fprintf(&b, "- check %s (%s): %s after %d attempts\n", r.DeviceID, r.Name, r.Kind, r.Attempts)
		}
	}
	return b.String()
}

// RecordSweep folds one monitoring sweep into the day's statistics.
// Baseline sweeps establish presence but do not count devices offline.
func (g *Generator) RecordSweep(sum *monitor.SweepSummary) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.day(sum.Time.Format("2006-01-02"))
	d.sweeps++
	if sum.Baseline {
		return
	}
	if sum.OnlineRate < d.minRate {
		d.minRate = sum.OnlineRate
	}
	d.rateSum += sum.OnlineRate
	d.rateCount++
	for _, r := range sum.Records {
		if r.State == monitor.StateOffline {
			d.everOffline[r.DeviceID] = true
		}
	}
}

// DayStatus derives the day classification: CRITICAL when the worst
// online rate dipped below half, ISSUES when any device failed an
// execution, NORMAL otherwise.
func (g *Generator) DayStatus(date string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.days[date]
	if !ok {
		return DayNormal
	}
	switch {
	case d.minRate < criticalRate:
		return DayCritical
	case len(d.execFailed) > 0:
		return DayIssues
	default:
		return DayNormal
	}
}

// DailyReport renders, writes, and persists the report for one date.
func (g *Generator) DailyReport(date string, alerts []monitor.Alert) (status, body string, err error) {
	status = g.DayStatus(date)

	g.mu.Lock()
	d := g.days[date]
	var offline, failed []string
	sweeps := 0
	minRate, meanRate := 1.0, 1.0
	var onExec, offExec *execOutcome
	if d != nil {
		sweeps = d.sweeps
		minRate = d.minRate
		if d.rateCount > 0 {
			meanRate = d.rateSum / float64(d.rateCount)
		}
		onExec, offExec = d.onExec, d.offExec
		for id := range d.everOffline {
			offline = append(offline, id)
		}
		for id := range d.execFailed {
			failed = append(failed, id)
		}
	}
	g.mu.Unlock()
	sort.Strings(offline)
	sort.Strings(failed)

	var b strings.Builder
	fmt.Fprintf(&b, "DAILY REPORT %s\n", date)
	fmt.Fprintf(&b, "=====================================\n")
	fmt.Fprintf(&b, "Day status:       %s\n", status)

	execLine := func(label string, e *execOutcome) {
		if e == nil {
			fmt.Fprintf(&b, "%-18s none\n", label)
			return
		}
		fmt.Fprintf(&b, "%-18s %s %s (%d/%d ok)\n", label, e.start.Format("15:04:05"), e.status, e.succeeded, e.total)
	}
	fmt.Fprintf(&b, "\nEXECUTIONS\n")
	execLine("morning turn_on:", onExec)
	execLine("evening turn_off:", offExec)
	if len(failed) == 0 {
		fmt.Fprintf(&b, "Failed devices:    none\n")
	} else {
		fmt.Fprintf(&b, "Failed devices:    %s\n", strings.Join(failed, ", "))
	}

	fmt.Fprintf(&b, "\nMONITORING\n")
	fmt.Fprintf(&b, "Sweeps:            %d\n", sweeps)
	fmt.Fprintf(&b, "Min online rate:   %.0f%%\n", minRate*100)
	fmt.Fprintf(&b, "Mean online rate:  %.0f%%\n", meanRate*100)
	if len(offline) == 0 {
		fmt.Fprintf(&b, "Devices offline:   none\n")
	} else {
		fmt.Fprintf(&b, "Devices offline:   %s\n", strings.Join(offline, ", "))
	}

	var dayAlerts []monitor.Alert
	levels := make(map[string]int)
	for _, a := range alerts {
		if a.Time.Format("2006-01-02") == date {
			dayAlerts = append(dayAlerts, a)
			levels[a.Severity]++
		}
	}
	fmt.Fprintf(&b, "\nALERTS (%d) info=%d warning=%d critical=%d red=%d\n",
		len(dayAlerts), levels[monitor.SeverityInfo], levels[monitor.SeverityWarning],
		levels[monitor.SeverityCritical], levels[monitor.SeverityRed])
	for _, a := range dayAlerts {
		fmt.Fprintf(&b, "[!] %s %-18s %-8s %s\n", a.Time.Format("15:04"), a.Type, a.Severity, a.Message)
	}
	body = b.String()

	path := filepath.Join(g.dir, "daily_"+date+".txt")
	if werr := os.WriteFile(path, []byte(body), 0644); werr != nil {
		log.Printf("reports: write %s: %v", path, werr)
	}
	if g.store != nil {
		if serr := g.store.SaveDailyReport(date, status, body); serr != nil {
			log.Printf("reports: persist daily report %s: %v", date, serr)
		}
	}
	return status, body, nil
}

// ArchiveOld gzips report files older than the given number of days and
// removes the originals. Returns the number archived.
func (g *Generator) ArchiveOld(days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".gz") {
			continue
		}
		if !strings.HasSuffix(name, ".txt") && !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(g.dir, name)
		if err := gzipFile(path); err != nil {
			log.Printf("reports: archive %s: %v", name, err)
			continue
		}
		os.Remove(path)
		archived++
	}
	return archived, nil
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
