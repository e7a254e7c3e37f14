package httpapi

import (
	"net/http"
	"strconv"

	"github.com/maestrolab/maestro/internal/tracer"
	"github.com/maestrolab/maestro/internal/util"
)

// defaultTraceLimit bounds GET /traces when the caller gives no limit.
const defaultTraceLimit = 20

var traceStatusFilters = []string{"", "all", tracer.TraceActive, tracer.TraceCompleted}

// handleListTraces returns recent trace summaries, newest first.
// GET /traces?limit=N&status=active|completed|all
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultTraceLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = n
	}

	status := q.Get("status")
	if !util.ContainsString(traceStatusFilters, status) {
		s.writeError(w, http.StatusBadRequest, "status must be active, completed, or all", "")
		return
	}
	if status == "all" {
		status = ""
	}

	summaries := s.tracer.ListRecent(limit, status)
	s.writeJSON(w, http.StatusOK, struct {
		Success bool                  `json:"success"`
		Traces  []tracer.TraceSummary `json:"traces"`
		Count   int                   `json:"count"`
	}{true, summaries, len(summaries)})
}

// handleGetTrace returns one full trace, events and handoffs included.
// GET /traces/{sessionID}
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	trace, ok := s.tracer.GetTrace(sessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no trace for session "+sessionID, sessionID)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Success bool                      `json:"success"`
		Trace   *tracer.ConversationTrace `json:"trace"`
	}{true, trace})
}

// handleContextEvolution returns the ordered context snapshots of one
// session: what moved between agents and how refinement changed it.
// GET /traces/{sessionID}/context-evolution
func (s *Server) handleContextEvolution(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	trace, ok := s.tracer.GetTrace(sessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no trace for session "+sessionID, sessionID)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Success   bool                     `json:"success"`
		SessionID string                   `json:"session_id"`
		Evolution []tracer.ContextSnapshot `json:"context_evolution"`
		Count     int                      `json:"count"`
	}{true, sessionID, trace.ContextEvolution, len(trace.ContextEvolution)})
}

// handleMetrics returns the tracer's aggregate statistics. Prometheus
// collectors are scraped from the admin port, not here.
// GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Success bool                   `json:"success"`
		Metrics tracer.MetricsSnapshot `json:"metrics"`
	}{true, s.tracer.Metrics()})
}

// handleHealth reports liveness counters. Always 200 while the process
// serves; readiness lives on its own endpoint.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active, completed, events, handoffs := s.tracer.Counts()
	s.writeJSON(w, http.StatusOK, struct {
		Status            string `json:"status"`
		ActiveSessions    int    `json:"active_sessions"`
		CompletedSessions int    `json:"completed_sessions"`
		TotalEvents       int64  `json:"total_events"`
		TotalHandoffs     int64  `json:"total_handoffs"`
	}{"healthy", active, completed, events, handoffs})
}

// handleReadiness runs the registered dependency checks and reports 503
// until the service can take traffic.
// GET /readiness
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeJSON(w, http.StatusOK, struct {
			Ready bool `json:"ready"`
		}{true})
		return
	}
	report := s.health.Check(r.Context())
	code := http.StatusOK
	if !report.Ready {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, report)
}
