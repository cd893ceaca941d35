// Package monitor runs periodic reachability sweeps over the inventory
// and raises edge-triggered alerts on state transitions.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/venuelab/avcontrold/internal/probe"
	"github.com/venuelab/avcontrold/internal/registry"
)

// Device health states.
type State string

const (
	StateOnline   State = "online"
	StateDegraded State = "degraded" // host answers ping, service port closed
	StateOffline  State = "offline"
)

// Alert types.
const (
	AlertDeviceDown      = "device_down"
	AlertDeviceRecovered = "device_recovered"
	AlertMassFailure     = "mass_failure"
	AlertNetworkIncident = "network_incident"
	AlertThresholdBreach = "threshold_breach"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
	SeverityRed      = "red"
)

// Settings tune the sweep loop and alert thresholds.
type Settings struct {
	Enabled                  bool          `json:"enabled"`
	Interval                 time.Duration `json:"-"`
	ConsecutiveFailuresAlert int           `json:"consecutive_failures_alert"`
	MultiDeviceAlertCount    int           `json:"multi_device_alert_count"`
	NetworkIssueThreshold    int           `json:"network_issue_threshold"`
	AlertThreshold           float64       `json:"alert_threshold"`
}

// DefaultSettings match the venue's operational defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled:                  true,
		Interval:                 5 * time.Minute,
		ConsecutiveFailuresAlert: 2,
		MultiDeviceAlertCount:    2,
		NetworkIssueThreshold:    5,
		AlertThreshold:           0.8,
	}
}

func (s Settings) normalize() Settings {
	def := DefaultSettings()
	if s.Interval < time.Second {
		s.Interval = def.Interval
	}
	if s.ConsecutiveFailuresAlert <= 0 {
		s.ConsecutiveFailuresAlert = def.ConsecutiveFailuresAlert
	}
	if s.MultiDeviceAlertCount <= 0 {
		s.MultiDeviceAlertCount = def.MultiDeviceAlertCount
	}
	if s.NetworkIssueThreshold <= 0 {
		s.NetworkIssueThreshold = def.NetworkIssueThreshold
	}
	if s.AlertThreshold <= 0 || s.AlertThreshold > 1 {
		s.AlertThreshold = def.AlertThreshold
	}
	return s
}

// Prober is the probe surface the monitor needs, satisfied by
// probe.Prober.
type Prober interface {
	Ping(ctx context.Context, ip string) (ok bool, elapsed time.Duration, message string)
	TCPProbe(ctx context.Context, ip string, port int) probe.Result
}

// HealthRecord is the observed state of one device. The sweep fills the
// probe fields; LastOnline, LastError and the failure counter persist
// across sweeps until a registry reload invalidates the record.
type HealthRecord struct {
	DeviceID            string    `json:"device_id"`
	Name                string    `json:"name"`
	Group               string    `json:"group"`
	State               State     `json:"state"`
	PingOK              bool      `json:"ping_ok"`
	PingMS              int64     `json:"ping_ms"`
	PortChecked         bool      `json:"port_checked"`
	PortOK              bool      `json:"port_ok"`
	Message             string    `json:"message,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CheckedAt           time.Time `json:"checked_at"`
	LastOnline          time.Time `json:"last_online,omitempty"`
	LastError           string    `json:"last_error_message,omitempty"`
}

// Alert is one raised condition.
type Alert struct {
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
	Severity string    `json:"severity"`
	DeviceID string    `json:"device_id,omitempty"`
	Message  string    `json:"message"`
}

// SweepSummary aggregates one sweep.
type SweepSummary struct {
	Time       time.Time      `json:"time"`
	Total      int            `json:"total"`
	Online     int            `json:"online"`
	Degraded   int            `json:"degraded"`
	Offline    int            `json:"offline"`
	OnlineRate float64        `json:"online_rate"`
	Baseline   bool           `json:"baseline"`
	Records    []HealthRecord `json:"records"`
	NewOffline []string       `json:"new_offline,omitempty"`
	Recovered  []string       `json:"recovered,omitempty"`
	Alerts     []Alert        `json:"alerts,omitempty"`
}

// maxAlerts bounds the in-memory alert history.
const maxAlerts = 500

// Monitor owns the sweep loop and alert state.
type Monitor struct {
	reg      *registry.Registry
	prober   Prober
	settings Settings
	sem      *semaphore.Weighted
	onSweep  func(*SweepSummary)

	mu        sync.Mutex
	baselined bool
	reachable map[string]bool          // device id -> was ping-reachable last sweep
	health    map[string]*HealthRecord // persistent per-device record
	alerted   map[string]bool          // down alert fired, recovery pending
	breached  bool                     // online rate currently below threshold
	alerts    []Alert
	last      *SweepSummary
}

// New builds a monitor sharing the orchestrator's concurrency bound.
func New(reg *registry.Registry, prober Prober, settings Settings, sem *semaphore.Weighted) *Monitor {
	if sem == nil {
		sem = semaphore.NewWeighted(10)
	}
	return &Monitor{
		reg:       reg,
		prober:    prober,
		settings:  settings.normalize(),
		sem:       sem,
		reachable: make(map[string]bool),
		health:    make(map[string]*HealthRecord),
		alerted:   make(map[string]bool),
	}
}

// OnSweep registers a hook invoked after every sweep, before Sweep
// returns. Used by the report generator.
func (m *Monitor) OnSweep(fn func(*SweepSummary)) {
	m.onSweep = fn
}

// Reset clears transition state after a registry reload. The next sweep
// becomes a fresh baseline.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselined = false
	m.reachable = make(map[string]bool)
	m.health = make(map[string]*HealthRecord)
	m.alerted = make(map[string]bool)
	m.breached = false
}

// checkDevice probes one device: ping first, then the service port only
// when the host answered and the family has one.
func (m *Monitor) checkDevice(ctx context.Context, rec *HealthRecord, ip string, port int) {
	ok, rtt, msg := m.prober.Ping(ctx, ip)
	rec.PingOK = ok
	rec.PingMS = rtt.Milliseconds()
	rec.Message = msg
	if !ok {
		rec.State = StateOffline
		return
	}
	if port == 0 {
		rec.State = StateOnline
		return
	}
	rec.PortChecked = true
	pr := m.prober.TCPProbe(ctx, ip, port)
	rec.PortOK = pr.Success
	if pr.Success {
		rec.State = StateOnline
	} else {
		rec.State = StateDegraded
		rec.Message = pr.Message
	}
}

// Sweep probes every enabled device once and folds the outcome into the
// alert state machine.
func (m *Monitor) Sweep(ctx context.Context) *SweepSummary {
	snap := m.reg.Snapshot()
	devices := snap.List(true)
	now := time.Now()

	records := make([]HealthRecord, len(devices))
	var wg sync.WaitGroup
	for i, dev := range devices {
		records[i] = HealthRecord{
			DeviceID:  dev.ID,
			Name:      dev.Name,
			Group:     dev.Group,
			CheckedAt: now,
		}
		if err := m.sem.Acquire(ctx, 1); err != nil {
			records[i].State = StateOffline
			records[i].Message = err.Error()
			continue
		}
		wg.Add(1)
		go func(i int, ip string, port int) {
			defer wg.Done()
			defer m.sem.Release(1)
			m.checkDevice(ctx, &records[i], ip, port)
		}(i, dev.IP, dev.EffectivePort())
	}
	wg.Wait()

	sum := m.fold(now, records)
	if m.onSweep != nil {
		m.onSweep(sum)
	}
	return sum
}

// fold applies one sweep's records to the transition state and derives
// alerts. The first sweep after start or reset is a baseline: state is
// recorded, no alerts fire.
func (m *Monitor) fold(now time.Time, records []HealthRecord) *SweepSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := &SweepSummary{Time: now, Total: len(records), Records: records}
	baseline := !m.baselined
	sum.Baseline = baseline

	for i := range records {
		rec := &records[i]
		up := rec.State != StateOffline
		wasUp, known := m.reachable[rec.DeviceID]

		switch rec.State {
		case StateOnline:
			sum.Online++
		case StateDegraded:
			sum.Degraded++
		default:
			sum.Offline++
		}

		h, have := m.health[rec.DeviceID]
		if !have {
			h = &HealthRecord{DeviceID: rec.DeviceID}
			m.health[rec.DeviceID] = h
		}
		h.Name, h.Group = rec.Name, rec.Group
		h.State = rec.State
		h.CheckedAt = rec.CheckedAt
		if up {
			h.ConsecutiveFailures = 0
			h.LastOnline = rec.CheckedAt
			if !baseline && known && !wasUp && m.alerted[rec.DeviceID] {
				sum.Recovered = append(sum.Recovered, rec.DeviceID)
				m.alerted[rec.DeviceID] = false
			}
		} else {
			h.ConsecutiveFailures++
			if rec.Message != "" {
				h.LastError = rec.Message
			}
			if !baseline && known && wasUp {
				sum.NewOffline = append(sum.NewOffline, rec.DeviceID)
			}
		}
		rec.ConsecutiveFailures = h.ConsecutiveFailures
		rec.LastOnline = h.LastOnline
		rec.LastError = h.LastError
		m.reachable[rec.DeviceID] = up
	}
	sort.Strings(sum.NewOffline)
	sort.Strings(sum.Recovered)

	if sum.Total > 0 {
		sum.OnlineRate = float64(sum.Online) / float64(sum.Total)
	} else {
		sum.OnlineRate = 1
	}

	if !baseline {
		m.deriveAlerts(sum, records)
	}
	m.baselined = true
	m.alerts = append(m.alerts, sum.Alerts...)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	m.last = sum
	return sum
}

func (m *Monitor) deriveAlerts(sum *SweepSummary, records []HealthRecord) {
	// A batch of simultaneous losses is a network problem; the incident
	// alert supersedes mass_failure but per-device alerts still fire.
	if len(sum.NewOffline) >= m.settings.NetworkIssueThreshold {
		sum.Alerts = append(sum.Alerts, Alert{
			Time:     sum.Time,
			Type:     AlertNetworkIncident,
			Severity: SeverityRed,
			Message:  fmt.Sprintf("%d devices lost in one sweep, suspected network incident", len(sum.NewOffline)),
		})
		for _, id := range sum.NewOffline {
			m.alerted[id] = true
		}
	} else if len(sum.NewOffline) >= m.settings.MultiDeviceAlertCount {
		sum.Alerts = append(sum.Alerts, Alert{
			Time:     sum.Time,
			Type:     AlertMassFailure,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("%d devices went offline in one sweep", len(sum.NewOffline)),
		})
	}

	for i := range records {
		rec := &records[i]
		if rec.State == StateOffline && rec.ConsecutiveFailures == m.settings.ConsecutiveFailuresAlert {
			sum.Alerts = append(sum.Alerts, Alert{
				Time:     sum.Time,
				Type:     AlertDeviceDown,
				Severity: SeverityWarning,
				DeviceID: rec.DeviceID,
				Message:  fmt.Sprintf("%s (%s) offline for %d consecutive sweeps", rec.Name, rec.DeviceID, rec.ConsecutiveFailures),
			})
			m.alerted[rec.DeviceID] = true
		}
	}

	for _, id := range sum.Recovered {
		sum.Alerts = append(sum.Alerts, Alert{
			Time:     sum.Time,
			Type:     AlertDeviceRecovered,
			Severity: SeverityInfo,
			DeviceID: id,
			Message:  fmt.Sprintf("%s back online", id),
		})
	}

	if sum.OnlineRate < m.settings.AlertThreshold {
		if !m.breached {
			m.breached = true
			sum.Alerts = append(sum.Alerts, Alert{
				Time:     sum.Time,
				Type:     AlertThresholdBreach,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("online rate %.0f%% below threshold %.0f%%", sum.OnlineRate*100, m.settings.AlertThreshold*100),
			})
		}
	} else {
		m.breached = false
	}

	for _, a := range sum.Alerts {
		log.Printf("monitor: alert %s severity=%s device=%s: %s", a.Type, a.Severity, a.DeviceID, a.Message)
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.settings.Interval)
	defer t.Stop()

	m.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep(ctx)
		}
	}
}

// RecentAlerts returns up to n alerts, newest last.
func (m *Monitor) RecentAlerts(n int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.alerts) {
		n = len(m.alerts)
	}
	out := make([]Alert, n)
	copy(out, m.alerts[len(m.alerts)-n:])
	return out
}

// ClearOldAlerts drops alerts older than the given number of days and
// returns the number removed.
func (m *Monitor) ClearOldAlerts(days int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -days)
	kept := m.alerts[:0]
	removed := 0
	for _, a := range m.alerts {
		if a.Time.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	return removed
}

// LastSweep returns the most recent sweep summary, or nil before the
// first sweep.
func (m *Monitor) LastSweep() *SweepSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Enabled reports whether the sweep loop should run at all.
func (m *Monitor) Enabled() bool {
	return m.settings.Enabled
}
