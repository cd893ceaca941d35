package api

import (
	"net/http"
	"regexp"
	"strconv"
	"time"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func (s *Server) handleMonitorSummary(w http.ResponseWriter, r *http.Request) {
	if s.mon == nil {
		writeError(w, http.StatusServiceUnavailable, "monitoring disabled")
		return
	}
	sum := s.mon.LastSweep()
	if sum == nil {
		writeError(w, http.StatusNotFound, "no sweep completed yet")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleMonitorSweep(w http.ResponseWriter, r *http.Request) {
	if s.mon == nil {
		writeError(w, http.StatusServiceUnavailable, "monitoring disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.mon.Sweep(r.Context()))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.mon == nil {
		writeError(w, http.StatusServiceUnavailable, "monitoring disabled")
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	writeJSON(w, http.StatusOK, s.mon.RecentAlerts(n))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "action log not available")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if !datePattern.MatchString(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	entries, err := s.store.LogsByDate(date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type dailyReportResponse struct {
	Date   string `json:"date"`
	Status string `json:"status"`
	Body   string `json:"body"`
}

func (s *Server) handleGetDailyReport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "action log not available")
		return
	}
	date := r.PathValue("date")
	if !datePattern.MatchString(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	status, body, err := s.store.DailyReport(date)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dailyReportResponse{Date: date, Status: status, Body: body})
}

func (s *Server) handleGenerateDailyReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil || s.mon == nil {
		writeError(w, http.StatusServiceUnavailable, "reporting not available")
		return
	}
	date := r.PathValue("date")
	if !datePattern.MatchString(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	status, body, err := s.reports.DailyReport(date, s.mon.RecentAlerts(0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dailyReportResponse{Date: date, Status: status, Body: body})
}
