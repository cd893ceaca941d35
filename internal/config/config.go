// Package config loads avcontrold runtime configuration: daemon paths,
// schedule, retry and monitoring settings, and the device inventory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/venuelab/avcontrold/internal/device"
	"github.com/venuelab/avcontrold/internal/monitor"
	"github.com/venuelab/avcontrold/internal/orchestrator"
	"github.com/venuelab/avcontrold/internal/retry"
	"github.com/venuelab/avcontrold/internal/sched"
)

// Server holds the API listener settings.
type Server struct {
	// SocketPath is the unix socket path for the avcontrold API.
	SocketPath string `json:"socket_path"`

	// HTTPAddr optionally exposes the same API over TCP for the venue
	// LAN. Empty disables the TCP listener.
	HTTPAddr string `json:"http_addr,omitempty"`
}

// Storage holds the on-disk layout.
type Storage struct {
	// DataDir is the base directory for avcontrold runtime data.
	DataDir string `json:"data_dir"`

	// DBPath is the path to the SQLite action log database.
	DBPath string `json:"db_path"`

	// ReportsDir is the directory for execution and daily reports.
	ReportsDir string `json:"reports_dir"`

	// LogRetentionDays bounds action log and report retention.
	LogRetentionDays int `json:"log_retention_days"`
}

// Schedule mirrors sched.Settings with JSON-friendly field types.
type Schedule struct {
	Enabled         bool     `json:"enabled"`
	OnTime          string   `json:"on_time"`
	OffTime         string   `json:"off_time"`
	Timezone        string   `json:"timezone,omitempty"` // IANA name, empty = system local
	Days            []string `json:"days,omitempty"`     // full weekday names, empty = every day
	ExcludeDates    []string `json:"exclude_dates,omitempty"`
	MisfireGraceSec int      `json:"misfire_grace_sec,omitempty"`
}

// Retry mirrors retry.Policy with JSON-friendly field types.
type Retry struct {
	MaxAttempts     int     `json:"max_attempts"`
	BaseIntervalSec int     `json:"base_interval_sec"`
	Multiplier      float64 `json:"backoff_multiplier"`
	MaxDelaySec     int     `json:"max_delay_sec"`
}

// Monitoring mirrors monitor.Settings with JSON-friendly field types.
// The status check interval drives both the monitor loop and the
// scheduler's status_check job.
type Monitoring struct {
	Enabled                  bool    `json:"enabled"`
	StatusCheckIntervalSec   int     `json:"status_check_interval_sec"`
	ConsecutiveFailuresAlert int     `json:"consecutive_failures_alert"`
	MultiDeviceAlertCount    int     `json:"multi_device_alert_count"`
	NetworkIssueThreshold    int     `json:"network_issue_threshold"`
	AlertThreshold           float64 `json:"alert_threshold"`
}

// GroupEntry is one device group stanza.
type GroupEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Parallel bool   `json:"parallel"`
}

// DeviceEntry is one device stanza. Type selects the protocol family
// via device.ParseFamily.
type DeviceEntry struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Group          string `json:"group"`
	IP             string `json:"ip"`
	Port           int    `json:"port,omitempty"`
	MAC            string `json:"mac,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"` // default true
	TimeoutSec     int    `json:"timeout_s,omitempty"`
	ReasonDisabled string `json:"reason_disabled,omitempty"`
}

// Config holds avcontrold runtime configuration.
type Config struct {
	Server        Server        `json:"server"`
	Storage       Storage       `json:"storage"`
	Schedule      Schedule      `json:"schedule"`
	Retry         Retry         `json:"retry_policy"`
	Monitoring    Monitoring    `json:"monitoring"`
	ParallelLimit int           `json:"parallel_limit"`
	Groups        []GroupEntry  `json:"groups"`
	Devices       []DeviceEntry `json:"devices"`
}

// DefaultPath returns the default config file path
// (~/.avcontrold/config.json).
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".avcontrold", "config.json")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".avcontrold")

	return &Config{
		Server: Server{
			SocketPath: filepath.Join(baseDir, "avcontrold.sock"),
		},
		Storage: Storage{
			DataDir:          filepath.Join(baseDir, "data"),
			DBPath:           filepath.Join(baseDir, "data", "avcontrold.db"),
			ReportsDir:       filepath.Join(baseDir, "data", "reports"),
			LogRetentionDays: 30,
		},
		Schedule: Schedule{
			Enabled:         true,
			OnTime:          "09:00",
			OffTime:         "20:00",
			MisfireGraceSec: 3600,
		},
		Retry: Retry{
			MaxAttempts:     3,
			BaseIntervalSec: 30,
			Multiplier:      2.0,
			MaxDelaySec:     120,
		},
		Monitoring: Monitoring{
			Enabled:                  true,
			StatusCheckIntervalSec:   300,
			ConsecutiveFailuresAlert: 2,
			MultiDeviceAlertCount:    2,
			NetworkIssueThreshold:    5,
			AlertThreshold:           0.8,
		},
		ParallelLimit: orchestrator.DefaultParallelLimit,
	}
}

// Load reads a JSON config file over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// EnsureDirs creates all required directories.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.Storage.DBPath),
		c.Storage.ReportsDir,
		filepath.Dir(c.Server.SocketPath),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// Policy converts the retry_policy stanza.
func (c *Config) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseIntervalSec) * time.Second,
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    time.Duration(c.Retry.MaxDelaySec) * time.Second,
	}.Normalize()
}

// MonitorSettings converts the monitoring stanza.
func (c *Config) MonitorSettings() monitor.Settings {
	return monitor.Settings{
		Enabled:                  c.Monitoring.Enabled,
		Interval:                 time.Duration(c.Monitoring.StatusCheckIntervalSec) * time.Second,
		ConsecutiveFailuresAlert: c.Monitoring.ConsecutiveFailuresAlert,
		MultiDeviceAlertCount:    c.Monitoring.MultiDeviceAlertCount,
		NetworkIssueThreshold:    c.Monitoring.NetworkIssueThreshold,
		AlertThreshold:           c.Monitoring.AlertThreshold,
	}
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ScheduleSettings converts the schedule stanza. Unknown day names
// surface as errors; the schedule is otherwise usable.
func (c *Config) ScheduleSettings() (sched.Settings, []error) {
	var errs []error
	days := make([]time.Weekday, 0, len(c.Schedule.Days))
	for _, name := range c.Schedule.Days {
		d, ok := weekdays[strings.ToLower(name)]
		if !ok {
			errs = append(errs, fmt.Errorf("schedule: unknown day %q", name))
			continue
		}
		days = append(days, d)
	}
	return sched.Settings{
		Enabled:             c.Schedule.Enabled,
		TurnOnTime:          c.Schedule.OnTime,
		TurnOffTime:         c.Schedule.OffTime,
		Timezone:            c.Schedule.Timezone,
		Days:                days,
		ExcludedDates:       append([]string(nil), c.Schedule.ExcludeDates...),
		StatusCheckInterval: time.Duration(c.Monitoring.StatusCheckIntervalSec) * time.Second,
		MisfireGrace:        time.Duration(c.Schedule.MisfireGraceSec) * time.Second,
	}, errs
}

// Inventory converts the group and device stanzas into the registry
// model. Unknown device types surface as errors per entry; the caller
// decides whether to drop or abort.
func (c *Config) Inventory() ([]device.Group, []device.Device, []error) {
	groups := make([]device.Group, 0, len(c.Groups))
	for _, g := range c.Groups {
		groups = append(groups, device.Group{
			ID: g.ID, Name: g.Name, Priority: g.Priority, Parallel: g.Parallel,
		})
	}

	var errs []error
	devices := make([]device.Device, 0, len(c.Devices))
	for _, e := range c.Devices {
		fam, err := device.ParseFamily(e.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", e.ID, err))
			continue
		}
		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		devices = append(devices, device.Device{
			ID:             e.ID,
			Name:           e.Name,
			Group:          e.Group,
			Family:         fam,
			IP:             e.IP,
			Port:           e.Port,
			MAC:            e.MAC,
			Enabled:        enabled,
			Timeout:        time.Duration(e.TimeoutSec) * time.Second,
			ReasonDisabled: e.ReasonDisabled,
		})
	}
	return groups, devices, errs
}
