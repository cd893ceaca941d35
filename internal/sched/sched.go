// Package sched drives the daily power jobs and the periodic status
// check. Scheduled firings coalesce: a job still running when its next
// slot arrives records a missed event instead of stacking up.
package sched

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/venuelab/avcontrold/internal/cron"
	"github.com/venuelab/avcontrold/internal/monitor"
	"github.com/venuelab/avcontrold/internal/orchestrator"
)

// Job names.
const (
	JobDailyTurnOn  = "daily_turn_on"
	JobDailyTurnOff = "daily_turn_off"
	JobStatusCheck  = "status_check"
)

// Event kinds.
const (
	EventExecuted = "executed"
	EventError    = "error"
	EventMissed   = "missed"
)

// DefaultMisfireGrace bounds how stale a missed firing may be and still
// run as a catch-up after a daemon restart.
const DefaultMisfireGrace = time.Hour

// Settings is the schedule configuration.
type Settings struct {
	Enabled             bool           `json:"enabled"`
	TurnOnTime          string         `json:"turn_on_time"`  // HH:MM
	TurnOffTime         string         `json:"turn_off_time"` // HH:MM
	Timezone            string         `json:"timezone,omitempty"` // IANA name, empty = system local
	Days                []time.Weekday `json:"days,omitempty"` // empty = every day
	ExcludedDates       []string       `json:"excluded_dates,omitempty"` // YYYY-MM-DD
	StatusCheckInterval time.Duration  `json:"-"`
	MisfireGrace        time.Duration  `json:"-"`
}

// DefaultSettings match the venue's opening hours.
func DefaultSettings() Settings {
	return Settings{
		Enabled:             true,
		TurnOnTime:          "09:00",
		TurnOffTime:         "20:00",
		StatusCheckInterval: 5 * time.Minute,
		MisfireGrace:        DefaultMisfireGrace,
	}
}

func (s Settings) normalize() Settings {
	def := DefaultSettings()
	if s.TurnOnTime == "" {
		s.TurnOnTime = def.TurnOnTime
	}
	if s.TurnOffTime == "" {
		s.TurnOffTime = def.TurnOffTime
	}
	if s.StatusCheckInterval < time.Second {
		s.StatusCheckInterval = def.StatusCheckInterval
	}
	if s.MisfireGrace <= 0 {
		s.MisfireGrace = def.MisfireGrace
	}
	return s
}

// ParseHHMM splits a wall-clock "HH:MM" string.
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// Runner executes batch device actions. Implemented by the orchestrator.
type Runner interface {
	ActOnAll(ctx context.Context, action orchestrator.Action, trigger string) *orchestrator.ExecutionReport
}

// Sweeper runs one monitoring sweep. Implemented by the monitor; nil
// suppresses the status check job.
type Sweeper interface {
	Sweep(ctx context.Context) *monitor.SweepSummary
}

// LastRunStore persists job run times across restarts. Implemented by
// the action log.
type LastRunStore interface {
	LastRun(job string) (time.Time, bool, error)
	SetLastRun(job string, t time.Time) error
}

// Event reports one scheduler occurrence to the listener.
type Event struct {
	Time   time.Time `json:"time"`
	Job    string    `json:"job"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// JobInfo describes one job for the API surface.
type JobInfo struct {
	Name    string    `json:"name"`
	Next    time.Time `json:"next,omitempty"`
	Last    time.Time `json:"last,omitempty"`
	Running bool      `json:"running"`
}

// Scheduler owns the job timers.
type Scheduler struct {
	runner  Runner
	sweeper Sweeper
	store   LastRunStore
	now     func() time.Time

	mu         sync.Mutex
	settings   Settings
	loc        *time.Location
	onSched    *cron.Schedule
	offSched   *cron.Schedule
	excluded   map[string]bool
	onEvent    func(Event)
	running    map[string]bool
	runTrigger map[string]string // trigger of the execution in progress
	jobMu      map[string]*sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}
}

// New builds a scheduler. store may be nil (no misfire recovery),
// sweeper may be nil (no status check job).
func New(runner Runner, sweeper Sweeper, store LastRunStore, settings Settings) (*Scheduler, error) {
	s := &Scheduler{
		runner:     runner,
		sweeper:    sweeper,
		store:      store,
		now:        time.Now,
		running:    make(map[string]bool),
		runTrigger: make(map[string]string),
		jobMu: map[string]*sync.Mutex{
			JobDailyTurnOn:  {},
			JobDailyTurnOff: {},
			JobStatusCheck:  {},
		},
		wake: make(chan struct{}, 1),
	}
	if err := s.apply(settings); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) apply(settings Settings) error {
	settings = settings.normalize()
	onH, onM, err := ParseHHMM(settings.TurnOnTime)
	if err != nil {
		return fmt.Errorf("turn_on_time: %w", err)
	}
	offH, offM, err := ParseHHMM(settings.TurnOffTime)
	if err != nil {
		return fmt.Errorf("turn_off_time: %w", err)
	}
	loc := time.Local
	if settings.Timezone != "" {
		loc, err = time.LoadLocation(settings.Timezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	onSched, err := cron.Daily(onH, onM, settings.Days)
	if err != nil {
		return err
	}
	offSched, err := cron.Daily(offH, offM, settings.Days)
	if err != nil {
		return err
	}
	excluded := make(map[string]bool, len(settings.ExcludedDates))
	for _, d := range settings.ExcludedDates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("excluded date %q: %w", d, err)
		}
		excluded[d] = true
	}

	s.mu.Lock()
	s.settings = settings
	s.loc = loc
	s.onSched = onSched
	s.offSched = offSched
	s.excluded = excluded
	s.mu.Unlock()
	s.kick()
	return nil
}

// UpdateSchedule swaps the schedule configuration. Applying the same
// settings twice is a no-op.
func (s *Scheduler) UpdateSchedule(settings Settings) error {
	return s.apply(settings)
}

// SetEnabled flips the daily jobs without touching the times.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.settings.Enabled = enabled
	s.mu.Unlock()
	s.kick()
}

// AddExcludedDate suppresses the daily jobs on one calendar date.
func (s *Scheduler) AddExcludedDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("excluded date %q: %w", date, err)
	}
	s.mu.Lock()
	if !s.excluded[date] {
		s.excluded[date] = true
		s.settings.ExcludedDates = append(s.settings.ExcludedDates, date)
	}
	s.mu.Unlock()
	return nil
}

// RemoveExcludedDate re-enables the daily jobs on one calendar date.
func (s *Scheduler) RemoveExcludedDate(date string) {
	s.mu.Lock()
	delete(s.excluded, date)
	kept := s.settings.ExcludedDates[:0]
	for _, d := range s.settings.ExcludedDates {
		if d != date {
			kept = append(kept, d)
		}
	}
	s.settings.ExcludedDates = kept
	s.mu.Unlock()
}

// OnEvent registers the event listener.
func (s *Scheduler) OnEvent(fn func(Event)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

func (s *Scheduler) emit(job, kind, detail string) {
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	ev := Event{Time: s.now(), Job: job, Kind: kind, Detail: detail}
	log.Printf("sched: %s %s %s", ev.Job, ev.Kind, ev.Detail)
	if fn != nil {
		fn(ev)
	}
}

// kick wakes the timer loop after a settings change.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Settings returns a copy of the active schedule configuration.
func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.settings
	out.ExcludedDates = append([]string(nil), s.settings.ExcludedDates...)
	out.Days = append([]time.Weekday(nil), s.settings.Days...)
	return out
}

// IsRunning reports whether a job body is currently executing.
func (s *Scheduler) IsRunning(job string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[job]
}

func (s *Scheduler) setRunning(job string, v bool, trigger string) {
	s.mu.Lock()
	s.running[job] = v
	if v {
		s.runTrigger[job] = trigger
	} else {
		delete(s.runTrigger, job)
	}
	s.mu.Unlock()
}

func (s *Scheduler) currentTrigger(job string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runTrigger[job]
}

// NextRunTimes returns the next firing per daily job. Zero times mean
// the schedule is disabled.
func (s *Scheduler) NextRunTimes() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]time.Time{JobDailyTurnOn: {}, JobDailyTurnOff: {}}
	if !s.settings.Enabled {
		return out
	}
	now := s.now().In(s.loc)
	out[JobDailyTurnOn] = s.onSched.Next(now)
	out[JobDailyTurnOff] = s.offSched.Next(now)
	return out
}

// JobsInfo describes all jobs for the API surface.
func (s *Scheduler) JobsInfo() []JobInfo {
	next := s.NextRunTimes()
	jobs := []string{JobDailyTurnOn, JobDailyTurnOff, JobStatusCheck}
	out := make([]JobInfo, 0, len(jobs))
	for _, job := range jobs {
		info := JobInfo{Name: job, Next: next[job], Running: s.IsRunning(job)}
		if s.store != nil {
			if last, ok, err := s.store.LastRun(job); err == nil && ok {
				info.Last = last
			}
		}
		out = append(out, info)
	}
	return out
}

func (s *Scheduler) action(job string) (orchestrator.Action, bool) {
	switch job {
	case JobDailyTurnOn:
		return orchestrator.ActionTurnOn, true
	case JobDailyTurnOff:
		return orchestrator.ActionTurnOff, true
	default:
		return "", false
	}
}

// runJob executes one job body. A scheduled firing that overlaps a
// previous scheduled run coalesces into a missed event; one that
// overlaps a manual trigger queues behind it, so both are honoured.
// Manual triggers always block until the job is free.
func (s *Scheduler) runJob(ctx context.Context, job string, scheduled time.Time, trigger string, blocking bool) {
	mu := s.jobMu[job]
	if mu == nil {
		s.emit(job, EventError, "unknown job")
		return
	}
	if blocking {
		mu.Lock()
	} else if !mu.TryLock() {
		if s.currentTrigger(job) != orchestrator.TriggerManual {
			s.emit(job, EventMissed, "previous run still in progress")
			return
		}
		mu.Lock()
	}
	defer mu.Unlock()

	s.setRunning(job, true, trigger)
	defer s.setRunning(job, false, trigger)

	s.mu.Lock()
	date := scheduled.In(s.loc).Format("2006-01-02")
	skip := trigger != orchestrator.TriggerManual && s.excluded[date]
	s.mu.Unlock()
	if skip {
		s.recordRun(job, scheduled)
		s.emit(job, EventMissed, "excluded date "+date)
		return
	}

	switch job {
	case JobStatusCheck:
		if s.sweeper == nil {
			s.emit(job, EventMissed, "monitoring disabled")
			return
		}
		sum := s.sweeper.Sweep(ctx)
		s.recordRun(job, scheduled)
		s.emit(job, EventExecuted, fmt.Sprintf("%d/%d online", sum.Online, sum.Total))
	default:
		action, ok := s.action(job)
		if !ok {
			s.emit(job, EventError, "unknown job")
			return
		}
		rep := s.runner.ActOnAll(ctx, action, trigger)
		s.recordRun(job, scheduled)
		if rep.Status == "failed" {
			s.emit(job, EventError, fmt.Sprintf("%d/%d devices failed", rep.Failed, rep.Total))
			return
		}
		s.emit(job, EventExecuted, fmt.Sprintf("%d/%d ok (%s)", rep.Succeeded, rep.Total, rep.Status))
	}
}

func (s *Scheduler) recordRun(job string, t time.Time) {
	if s.store == nil {
		return
	}
	if err := s.store.SetLastRun(job, t); err != nil {
		log.Printf("sched: persist last run of %s: %v", job, err)
	}
}

// TriggerNow runs a job immediately, serialized behind any execution in
// progress. Works even when the schedule is disabled.
func (s *Scheduler) TriggerNow(ctx context.Context, job string) error {
	switch job {
	case JobDailyTurnOn, JobDailyTurnOff, JobStatusCheck:
	default:
		return fmt.Errorf("unknown job %q", job)
	}
	s.runJob(ctx, job, s.now(), orchestrator.TriggerManual, true)
	return nil
}

// prevFire returns the most recent scheduled firing at or before now,
// or false when the schedule never fired in the last week.
func prevFire(sched *cron.Schedule, now time.Time) (time.Time, bool) {
	for d := 0; d < 8; d++ {
		day := now.AddDate(0, 0, -d)
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		t := sched.Next(start.Add(-time.Minute))
		if !t.IsZero() && !t.After(now) {
			return t, true
		}
	}
	return time.Time{}, false
}

// recoverMisfires runs at startup: a daily job whose last scheduled
// firing was missed, and which is still inside the misfire grace
// window, runs once as a catch-up.
func (s *Scheduler) recoverMisfires(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	enabled := s.settings.Enabled
	grace := s.settings.MisfireGrace
	loc := s.loc
	scheds := map[string]*cron.Schedule{JobDailyTurnOn: s.onSched, JobDailyTurnOff: s.offSched}
	s.mu.Unlock()
	if !enabled {
		return
	}

	now := s.now().In(loc)
	for job, sched := range scheds {
		fire, ok := prevFire(sched, now)
		if !ok {
			continue
		}
		if now.Sub(fire) > grace {
			continue
		}
		last, have, err := s.store.LastRun(job)
		if err != nil {
			log.Printf("sched: read last run of %s: %v", job, err)
			continue
		}
		if have && !last.Before(fire) {
			continue
		}
		log.Printf("sched: catching up missed %s firing from %s", job, fire.Format(time.RFC3339))
		s.runJob(ctx, job, fire, orchestrator.TriggerStartup, true)
	}
}

// Start launches the timer loop and the status check ticker. Stop with
// Stop; Start again is not supported.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.recoverMisfires(ctx)
		s.loop(ctx)
	}()

	if s.sweeper != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statusLoop(ctx)
		}()
	}
}

// Stop cancels the loops and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		s.mu.Lock()
		enabled := s.settings.Enabled
		now := s.now().In(s.loc)
		nextOn := s.onSched.Next(now)
		nextOff := s.offSched.Next(now)
		s.mu.Unlock()

		var job string
		var at time.Time
		if enabled {
			job, at = JobDailyTurnOn, nextOn
			if nextOff.Before(nextOn) {
				job, at = JobDailyTurnOff, nextOff
			}
		}

		var timer <-chan time.Time
		var t *time.Timer
		if !at.IsZero() {
			t = time.NewTimer(time.Until(at))
			timer = t.C
		}

		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return
		case <-s.wake:
			if t != nil {
				t.Stop()
			}
			continue
		case <-timer:
			go s.runJob(ctx, job, at, orchestrator.TriggerSchedule, false)
			// Step past the fired minute before recomputing.
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func (s *Scheduler) statusLoop(ctx context.Context) {
	s.mu.Lock()
	interval := s.settings.StatusCheckInterval
	s.mu.Unlock()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runJob(ctx, JobStatusCheck, s.now(), orchestrator.TriggerSchedule, false)
		}
	}
}
