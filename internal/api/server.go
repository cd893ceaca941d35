// Package api implements the avcontrold HTTP API, served over a unix
// socket and optionally over TCP for the venue LAN.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/venuelab/avcontrold/internal/actionlog"
	"github.com/venuelab/avcontrold/internal/config"
	"github.com/venuelab/avcontrold/internal/monitor"
	"github.com/venuelab/avcontrold/internal/orchestrator"
	"github.com/venuelab/avcontrold/internal/registry"
	"github.com/venuelab/avcontrold/internal/reports"
	"github.com/venuelab/avcontrold/internal/sched"
	"github.com/venuelab/avcontrold/internal/version"
)

// Server is the avcontrold HTTP API server.
type Server struct {
	cfg     *config.Config
	reg     *registry.Registry
	orch    *orchestrator.Orchestrator
	mon     *monitor.Monitor
	sch     *sched.Scheduler
	store   *actionlog.Store
	reports *reports.Generator
	reload  func() error

	mux    *http.ServeMux
	server *http.Server
	ln     net.Listener
	tcpLn  net.Listener
}

// NewServer creates a new API server. mon, store, reports, and reload
// may be nil; the corresponding endpoints then report unavailability.
func NewServer(cfg *config.Config, reg *registry.Registry, orch *orchestrator.Orchestrator,
	mon *monitor.Monitor, sch *sched.Scheduler, store *actionlog.Store,
	rep *reports.Generator, reload func() error) *Server {
	s := &Server{
		cfg:     cfg,
		reg:     reg,
		orch:    orch,
		mon:     mon,
		sch:     sch,
		store:   store,
		reports: rep,
		reload:  reload,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	s.server = &http.Server{Handler: s.mux}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	s.mux.HandleFunc("POST /v1/config/reload", s.handleReload)

	s.mux.HandleFunc("GET /v1/devices", s.handleListDevices)
	s.mux.HandleFunc("GET /v1/devices/{id}", s.handleGetDevice)
	s.mux.HandleFunc("GET /v1/devices/{id}/status", s.handleDeviceStatus)
	s.mux.HandleFunc("POST /v1/devices/{id}/on", s.handleDeviceOn)
	s.mux.HandleFunc("POST /v1/devices/{id}/off", s.handleDeviceOff)
	s.mux.HandleFunc("GET /v1/devices/{id}/lamptime", s.handleLampTime)
	s.mux.HandleFunc("POST /v1/devices/{id}/mute", s.handleMute)
	s.mux.HandleFunc("POST /v1/devices/{id}/unmute", s.handleUnmute)
	s.mux.HandleFunc("POST /v1/devices/{id}/blank", s.handleBlank)
	s.mux.HandleFunc("POST /v1/devices/{id}/unblank", s.handleUnblank)
	s.mux.HandleFunc("GET /v1/devices/{id}/logs", s.handleDeviceLogs)
	s.mux.HandleFunc("POST /v1/devices/all/on", s.handleAllOn)
	s.mux.HandleFunc("POST /v1/devices/all/off", s.handleAllOff)

	s.mux.HandleFunc("POST /v1/groups/{id}/on", s.handleGroupOn)
	s.mux.HandleFunc("POST /v1/groups/{id}/off", s.handleGroupOff)

	s.mux.HandleFunc("GET /v1/schedule", s.handleGetSchedule)
	s.mux.HandleFunc("PUT /v1/schedule", s.handleUpdateSchedule)
	s.mux.HandleFunc("POST /v1/schedule/enable", s.handleScheduleEnable)
	s.mux.HandleFunc("POST /v1/schedule/disable", s.handleScheduleDisable)
	s.mux.HandleFunc("POST /v1/schedule/exclude", s.handleAddExcludedDate)
	s.mux.HandleFunc("DELETE /v1/schedule/exclude/{date}", s.handleRemoveExcludedDate)
	s.mux.HandleFunc("POST /v1/schedule/trigger/{job}", s.handleTriggerJob)

	s.mux.HandleFunc("GET /v1/monitor/summary", s.handleMonitorSummary)
	s.mux.HandleFunc("POST /v1/monitor/sweep", s.handleMonitorSweep)
	s.mux.HandleFunc("GET /v1/alerts", s.handleAlerts)

	s.mux.HandleFunc("GET /v1/logs", s.handleLogs)
	s.mux.HandleFunc("GET /v1/reports/daily/{date}", s.handleGetDailyReport)
	s.mux.HandleFunc("POST /v1/reports/daily/{date}", s.handleGenerateDailyReport)
}

// Start begins listening on the unix socket, and on TCP when
// configured.
func (s *Server) Start() error {
	// Remove stale socket
	os.Remove(s.cfg.Server.SocketPath)

	ln, err := net.Listen("unix", s.cfg.Server.SocketPath)
	if err != nil {
		return err
	}
	s.ln = ln
	os.Chmod(s.cfg.Server.SocketPath, 0600)
	log.Printf("avcontrold API listening on %s", s.cfg.Server.SocketPath)

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}()

	if addr := s.cfg.Server.HTTPAddr; addr != "" {
		tcpLn, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		s.tcpLn = tcpLn
		log.Printf("avcontrold API listening on %s", addr)
		go func() {
			if err := s.server.Serve(tcpLn); err != nil && err != http.ErrServerClosed {
				log.Printf("server error: %v", err)
			}
		}()
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Devices int    `json:"devices"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "running",
		Version: version.Version(),
		Devices: s.reg.Snapshot().Len(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeError(w, http.StatusServiceUnavailable, "reload not available")
		return
	}
	if err := s.reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"devices":  s.reg.Snapshot().Len(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// isValidID checks if an ID string is safe.
func isValidID(id string) bool {
	if len(id) == 0 || len(id) > 128 {
		return false
	}
	for _, c := range id {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_') {
			return false
		}
	}
	return !strings.Contains(id, "..")
}
