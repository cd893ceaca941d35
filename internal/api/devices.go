package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/venuelab/avcontrold/internal/orchestrator"
	"github.com/venuelab/avcontrold/internal/proto"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "1"
	writeJSON(w, http.StatusOK, s.reg.Snapshot().List(enabledOnly))
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !isValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	dev, err := s.reg.Snapshot().Device(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// actOnDevice runs one action against one device. Command failure is
// still HTTP 200; the body carries success=false with the error kind.
func (s *Server) actOnDevice(w http.ResponseWriter, r *http.Request, action orchestrator.Action) {
	id := r.PathValue("id")
	if !isValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	res, err := s.orch.ActOnDevice(r.Context(), id, action, orchestrator.TriggerAPI)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeviceOn(w http.ResponseWriter, r *http.Request) {
	s.actOnDevice(w, r, orchestrator.ActionTurnOn)
}

func (s *Server) handleDeviceOff(w http.ResponseWriter, r *http.Request) {
	s.actOnDevice(w, r, orchestrator.ActionTurnOff)
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	s.actOnDevice(w, r, orchestrator.ActionStatus)
}

func (s *Server) handleLampTime(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !isValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	res, err := s.orch.LampTime(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// shutterOp serves the mute and blank commands, which bypass the retry
// machinery and run a single attempt.
func (s *Server) shutterOp(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string, on bool) (proto.Result, error), on bool) {
	id := r.PathValue("id")
	if !isValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	res, err := fn(r.Context(), id, on)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	s.shutterOp(w, r, s.orch.Mute, true)
}

func (s *Server) handleUnmute(w http.ResponseWriter, r *http.Request) {
	s.shutterOp(w, r, s.orch.Mute, false)
}

func (s *Server) handleBlank(w http.ResponseWriter, r *http.Request) {
	s.shutterOp(w, r, s.orch.Blank, true)
}

func (s *Server) handleUnblank(w http.ResponseWriter, r *http.Request) {
	s.shutterOp(w, r, s.orch.Blank, false)
}

func (s *Server) handleDeviceLogs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "action log not available")
		return
	}
	id := r.PathValue("id")
	if !isValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.store.DeviceLogs(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAllOn(w http.ResponseWriter, r *http.Request) {
	rep := s.orch.ActOnAll(r.Context(), orchestrator.ActionTurnOn, orchestrator.TriggerAPI)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleAllOff(w http.ResponseWriter, r *http.Request) {
	rep := s.orch.ActOnAll(r.Context(), orchestrator.ActionTurnOff, orchestrator.TriggerAPI)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) actOnGroup(w http.ResponseWriter, r *http.Request, action orchestrator.Action) {
	id := r.PathValue("id")
	if !isValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	rep, err := s.orch.ActOnGroup(r.Context(), id, action, orchestrator.TriggerAPI)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGroupOn(w http.ResponseWriter, r *http.Request) {
	s.actOnGroup(w, r, orchestrator.ActionTurnOn)
}

func (s *Server) handleGroupOff(w http.ResponseWriter, r *http.Request) {
	s.actOnGroup(w, r, orchestrator.ActionTurnOff)
}
