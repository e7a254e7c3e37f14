// Package httpapi exposes the orchestration runtime over HTTP: the
// orchestrate/plan endpoints, the agent registry, trace inspection, and
// the live event streams (SSE and WebSocket).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/agents"
	"github.com/maestrolab/maestro/internal/config"
	"github.com/maestrolab/maestro/internal/health"
	"github.com/maestrolab/maestro/internal/models"
	"github.com/maestrolab/maestro/internal/orchestrator"
	"github.com/maestrolab/maestro/internal/planner"
	"github.com/maestrolab/maestro/internal/streaming"
	"github.com/maestrolab/maestro/internal/tracer"
)

// Orchestrator is the runtime surface the API dispatches sessions to.
type Orchestrator interface {
	Orchestrate(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Cancel(sessionID string) bool
}

// Planner produces plans without executing them, for the dry-run
// endpoint.
type Planner interface {
	Plan(ctx context.Context, query string, rules planner.Rules) (*models.Plan, error)
}

// Deps wires the server's collaborators. Health and Limiter are
// optional; everything else is required.
type Deps struct {
	Orchestrator Orchestrator
	Planner      Planner
	Store        *agents.Store
	Tracer       *tracer.Tracer
	Stream       *streaming.Manager
	Health       *health.Manager
	Runtime      *config.Runtime
	Logger       *zap.Logger
}

// Server serves the orchestration API. Construct with NewServer and
// mount Handler on an http.Server.
type Server struct {
	orch    Orchestrator
	planner Planner
	store   *agents.Store
	tracer  *tracer.Tracer
	stream  *streaming.Manager
	health  *health.Manager
	runtime *config.Runtime
	logger  *zap.Logger
	limiter *rateLimiter
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:    d.Orchestrator,
		planner: d.Planner,
		store:   d.Store,
		tracer:  d.Tracer,
		stream:  d.Stream,
		health:  d.Health,
		runtime: d.Runtime,
		logger:  logger,
	}
	if cfg := d.Runtime.Current(); cfg.RateLimitRPS > 0 {
		s.limiter = newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return s
}

// Handler builds the routed handler with the middleware chain applied:
// access logging outermost, then panic recovery, then rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /orchestrate", s.handleOrchestrate)
	mux.HandleFunc("POST /plan", s.handlePlan)
	mux.HandleFunc("POST /sessions/{sessionID}/cancel", s.handleCancel)

	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("POST /agents/register", s.handleRegisterAgent)
	mux.HandleFunc("DELETE /agents/{id}", s.handleUnregisterAgent)

	mux.HandleFunc("GET /traces", s.handleListTraces)
	mux.HandleFunc("GET /traces/{sessionID}", s.handleGetTrace)
	mux.HandleFunc("GET /traces/{sessionID}/context-evolution", s.handleContextEvolution)

	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)

	mux.HandleFunc("GET /stream/sse", s.handleSSE)
	mux.HandleFunc("GET /stream/ws", s.handleWS)

	var h http.Handler = mux
	h = s.limitRequests(h)
	h = s.recoverPanics(h)
	h = s.logRequests(h)
	return h
}

// apiError is the failure envelope every endpoint shares.
type apiError struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	SessionID string `json:"session_id,omitempty"`
	Partial   bool   `json:"partial,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Write response body", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg, sessionID string) {
	s.writeJSON(w, code, apiError{Error: msg, SessionID: sessionID})
}

// orchestrationStatus maps pipeline errors onto HTTP codes: bad input is
// the caller's fault, an empty registry is unprocessable, a duplicate
// session id is a conflict, upstream agent failure is a bad gateway, and
// everything else is internal.
func orchestrationStatus(err error) (code int, partial bool) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		return http.StatusBadRequest, false
	case errors.Is(err, agents.ErrNoAgentsRegistered):
		return http.StatusUnprocessableEntity, false
	case errors.Is(err, tracer.ErrSessionExists):
		return http.StatusConflict, false
	case errors.Is(err, orchestrator.ErrAllAgentsFailed):
		return http.StatusBadGateway, false
	case errors.Is(err, orchestrator.ErrPartialDisallowed):
		return http.StatusInternalServerError, true
	default:
		return http.StatusInternalServerError, false
	}
}
