// Package actionlog provides persistent storage for device action
// history, job run bookkeeping, and daily report archival.
// Uses pure-Go SQLite (modernc.org/sqlite), no cgo required.
package actionlog

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/venuelab/avcontrold/internal/orchestrator"
	"github.com/venuelab/avcontrold/internal/retry"
)

// Store wraps an SQLite database for controller history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS action_logs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT NOT NULL,
			device_id   TEXT NOT NULL,
			device_name TEXT NOT NULL DEFAULT '',
			grp         TEXT NOT NULL DEFAULT '',
			family      TEXT NOT NULL DEFAULT '',
			action      TEXT NOT NULL,
			attempt     INTEGER NOT NULL DEFAULT 0,
			success     INTEGER NOT NULL,
			kind        TEXT NOT NULL DEFAULT '',
			response    TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			elapsed_ms  INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_action_logs_ts ON action_logs(ts);
		CREATE INDEX IF NOT EXISTS idx_action_logs_device ON action_logs(device_id);
		CREATE TABLE IF NOT EXISTS job_runs (
			job      TEXT PRIMARY KEY,
			last_run TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS daily_reports (
			date       TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

// Entry is one persisted action log row.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name"`
	Group     string    `json:"group"`
	Family    string    `json:"family"`
	Action    string    `json:"action"`
	Attempt   int       `json:"attempt"`
	Success   bool      `json:"success"`
	Kind      string    `json:"error_kind,omitempty"`
	Response  string    `json:"response,omitempty"`
	Err       string    `json:"error,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms"`
}

// Record persists one finished device result, one row per attempt.
// A result without attempts (skipped or failed before the first try)
// still gets a single terminal row. Implements orchestrator.Recorder;
// storage errors are logged, not propagated into the execution path.
func (s *Store) Record(res orchestrator.DeviceResult, attempts []retry.Attempt) {
	if len(attempts) == 0 {
		err := s.insert(res.Timestamp, res, 0, res.Success, string(res.Kind), res.Response, res.Err, res.ElapsedMS)
		if err != nil {
			log.Printf("actionlog: record %s: %v", res.DeviceID, err)
		}
		return
	}
	for _, a := range attempts {
		err := s.insert(a.Start, res, a.Index, a.Success, string(a.Kind), a.Response, a.Err, a.ElapsedMS)
		if err != nil {
			log.Printf("actionlog: record %s attempt %d: %v", res.DeviceID, a.Index, err)
		}
	}
}

func (s *Store) insert(ts time.Time, res orchestrator.DeviceResult, attempt int, success bool, kind, response, errStr string, elapsedMS int64) error {
	_, err := s.db.Exec(`
		INSERT INTO action_logs (ts, device_id, device_name, grp, family, action, attempt, success, kind, response, error, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ts.UTC().Format(time.RFC3339), res.DeviceID, res.Name, res.Group, string(res.Family),
		string(res.Action), attempt, boolInt(success), kind, response, errStr, elapsedMS)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LogsByDate returns all rows whose timestamp falls on the given UTC
// calendar date (YYYY-MM-DD), oldest first.
func (s *Store) LogsByDate(date string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, ts, device_id, device_name, grp, family, action, attempt, success, kind, response, error, elapsed_ms
		FROM action_logs WHERE substr(ts, 1, 10) = ? ORDER BY id
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// DeviceLogs returns the most recent rows for one device, newest first.
func (s *Store) DeviceLogs(deviceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, ts, device_id, device_name, grp, family, action, attempt, success, kind, response, error, elapsed_ms
		FROM action_logs WHERE device_id = ? ORDER BY id DESC LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		var success int
		if err := rows.Scan(&e.ID, &ts, &e.DeviceID, &e.Name, &e.Group, &e.Family,
			&e.Action, &e.Attempt, &success, &e.Kind, &e.Response, &e.Err, &e.ElapsedMS); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		e.Success = success == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes action log rows older than the given number of
// days and returns the number removed.
func (s *Store) PruneOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	res, err := s.db.Exec(`DELETE FROM action_logs WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LastRun returns the recorded last run time of a scheduler job.
func (s *Store) LastRun(job string) (time.Time, bool, error) {
	var ts string
	err := s.db.QueryRow(`SELECT last_run FROM job_runs WHERE job = ?`, job).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetLastRun upserts the last run time of a scheduler job.
func (s *Store) SetLastRun(job string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO job_runs (job, last_run) VALUES (?, ?)
		ON CONFLICT(job) DO UPDATE SET last_run = excluded.last_run
	`, job, t.UTC().Format(time.RFC3339))
	return err
}

// SaveDailyReport upserts the rendered daily report for a date.
func (s *Store) SaveDailyReport(date, status, body string) error {
	_, err := s.db.Exec(`
		INSERT INTO daily_reports (date, status, body) VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET status = excluded.status, body = excluded.body
	`, date, status, body)
	return err
}

// DailyReport fetches the stored daily report for a date.
func (s *Store) DailyReport(date string) (status, body string, err error) {
	err = s.db.QueryRow(`SELECT status, body FROM daily_reports WHERE date = ?`, date).Scan(&status, &body)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("no daily report for %s", date)
	}
	return status, body, err
}
