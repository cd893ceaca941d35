package api

import (
	"encoding/json"
	"net/http"

	"github.com/venuelab/avcontrold/internal/sched"
)

type scheduleResponse struct {
	Settings sched.Settings  `json:"settings"`
	Jobs     []sched.JobInfo `json:"jobs"`
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scheduleResponse{
		Settings: s.sch.Settings(),
		Jobs:     s.sch.JobsInfo(),
	})
}

// handleUpdateSchedule merges the request body over the active settings,
// so a partial body mutates only the fields it carries.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	settings := s.sch.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule body: "+err.Error())
		return
	}
	if err := s.sch.UpdateSchedule(settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		Settings: s.sch.Settings(),
		Jobs:     s.sch.JobsInfo(),
	})
}

func (s *Server) handleScheduleEnable(w http.ResponseWriter, r *http.Request) {
	s.sch.SetEnabled(true)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (s *Server) handleScheduleDisable(w http.ResponseWriter, r *http.Request) {
	s.sch.SetEnabled(false)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

type excludeRequest struct {
	Date string `json:"date"`
}

func (s *Server) handleAddExcludedDate(w http.ResponseWriter, r *http.Request) {
	var req excludeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Date == "" {
		writeError(w, http.StatusBadRequest, "body must carry a date (YYYY-MM-DD)")
		return
	}
	if err := s.sch.AddExcludedDate(req.Date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"excluded": s.sch.Settings().ExcludedDates})
}

func (s *Server) handleRemoveExcludedDate(w http.ResponseWriter, r *http.Request) {
	s.sch.RemoveExcludedDate(r.PathValue("date"))
	writeJSON(w, http.StatusOK, map[string]any{"excluded": s.sch.Settings().ExcludedDates})
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	job := r.PathValue("job")
	if err := s.sch.TriggerNow(r.Context(), job); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": job, "triggered": "ok"})
}
