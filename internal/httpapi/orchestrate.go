package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/models"
	"github.com/maestrolab/maestro/internal/orchestrator"
	"github.com/maestrolab/maestro/internal/planner"
	"github.com/maestrolab/maestro/internal/tracer"
)

// orchestrateResponse is the success envelope for POST /orchestrate. The
// embedded result carries session_id, response, plan, and execution
// records; the full trace is attached for callers that want the event
// log without a second round trip.
type orchestrateResponse struct {
	Success bool `json:"success"`
	*orchestrator.Result
	Trace *tracer.ConversationTrace `json:"trace,omitempty"`
}

// handleOrchestrate runs the full pipeline for one query.
// POST /orchestrate {query, session_id?, preferred_agents?}
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}
	// Assign the session id here so failure envelopes can still name the
	// trace the caller should look at.
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	res, err := s.orch.Orchestrate(r.Context(), req)
	if err != nil {
		code, partial := orchestrationStatus(err)
		s.logger.Warn("Orchestration failed",
			zap.String("session_id", req.SessionID),
			zap.Int("status", code),
			zap.Error(err))
		s.writeJSON(w, code, apiError{
			Error:     err.Error(),
			SessionID: req.SessionID,
			Partial:   partial,
		})
		return
	}

	resp := orchestrateResponse{Success: true, Result: res}
	if trace, ok := s.tracer.GetTrace(res.SessionID); ok {
		resp.Trace = trace
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handlePlan runs the planner without executing the plan.
// POST /plan {query}
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, orchestrator.ErrEmptyQuery.Error(), "")
		return
	}

	cfg := s.runtime.Current()
	ctx, cancel := context.WithTimeout(r.Context(), cfg.PlanningTimeout)
	defer cancel()

	plan, err := s.planner.Plan(ctx, req.Query, planner.RulesFromConfig(cfg))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "plan query: "+err.Error(), "")
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Success bool         `json:"success"`
		Plan    *models.Plan `json:"plan"`
	}{true, plan})
}

// handleCancel aborts a running session.
// POST /sessions/{sessionID}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if !s.orch.Cancel(sessionID) {
		s.writeError(w, http.StatusNotFound, "no running session "+sessionID, sessionID)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}{true, sessionID, "cancelling"})
}
