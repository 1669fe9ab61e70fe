package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
)

// scheduleRequest is the create/update payload.
type scheduleRequest struct {
	CronExpr string         `json:"cron_expr"`
	Timezone string         `json:"timezone,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondDomainError(w, core.ErrValidation(core.CodeProtocolError, "invalid request body: "+err.Error()))
		return
	}

	sched, err := s.schedules.CreateSchedule(r.Context(), UserID(r.Context()),
		chi.URLParam(r, "agentID"), req.CronExpr, req.Timezone, req.Input)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.schedules.GetScheduleByAgentID(r.Context(), UserID(r.Context()), chi.URLParam(r, "agentID"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sched)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondDomainError(w, core.ErrValidation(core.CodeProtocolError, "invalid request body: "+err.Error()))
		return
	}

	sched, err := s.schedules.UpdateSchedule(r.Context(), UserID(r.Context()),
		chi.URLParam(r, "agentID"), req.CronExpr, req.Timezone, req.Input)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sched)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.schedules.DeleteSchedule(r.Context(), UserID(r.Context()), chi.URLParam(r, "agentID")); err != nil {
		s.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	execID, err := s.schedules.TriggerNow(r.Context(), UserID(r.Context()), chi.URLParam(r, "agentID"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"execution_id": execID})
}

func (s *Server) handleScheduleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.schedules.GetScheduleUsage(r.Context(), UserID(r.Context()))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, usage)
}
