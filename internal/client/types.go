package client

import (
	"fmt"

	"github.com/venuelab/avcontrold/internal/sched"
)

// Health is the daemon health summary.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Devices int    `json:"devices"`
}

// ReloadResult reports the outcome of a config reload.
type ReloadResult struct {
	Reloaded bool `json:"reloaded"`
	Devices  int  `json:"devices"`
}

// Schedule carries schedule settings plus per-job run state.
type Schedule struct {
	Settings sched.Settings  `json:"settings"`
	Jobs     []sched.JobInfo `json:"jobs"`
}

// DailyReport is a rendered daily summary report.
type DailyReport struct {
	Date   string `json:"date"`
	Status string `json:"status"`
	Body   string `json:"body"`
}

// APIError is an error returned by the avcontrold API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API error (status %d)", e.StatusCode)
}
