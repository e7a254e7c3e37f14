// Package orchestrator runs one user query end to end: plan the work,
// match agents to steps, build the dependency graph, execute, reflect,
// and synthesize a final answer. Every stage reports into the tracer so
// a session is fully reconstructible afterwards.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/agents"
	"github.com/maestrolab/maestro/internal/config"
	"github.com/maestrolab/maestro/internal/depgraph"
	"github.com/maestrolab/maestro/internal/matcher"
	"github.com/maestrolab/maestro/internal/memory"
	"github.com/maestrolab/maestro/internal/metrics"
	"github.com/maestrolab/maestro/internal/models"
	"github.com/maestrolab/maestro/internal/planner"
	"github.com/maestrolab/maestro/internal/scheduler"
	"github.com/maestrolab/maestro/internal/synthesis"
	"github.com/maestrolab/maestro/internal/tracer"
	"github.com/maestrolab/maestro/internal/tracing"
)

var (
	// ErrEmptyQuery rejects blank requests before a session is created.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrAllAgentsFailed means execution finished with zero usable outputs.
	ErrAllAgentsFailed = errors.New("no agent completed successfully")
	// ErrPartialDisallowed is returned when a partial run cannot be
	// synthesized because the policy flag forbids it.
	ErrPartialDisallowed = errors.New("partial result and synthesize_on_partial is disabled")
)

// Request is one orchestration ask. SessionID is optional; Preferred
// narrows the agent pool by id or name and falls back to the full pool
// when nothing matches.
type Request struct {
	Query     string   `json:"query"`
	SessionID string   `json:"session_id,omitempty"`
	Preferred []string `json:"preferred_agents,omitempty"`
}

// Result is the terminal outcome of one session.
type Result struct {
	SessionID     string                                  `json:"session_id"`
	Response      string                                  `json:"response"`
	Strategy      string                                  `json:"orchestration_strategy"`
	Plan          *models.Plan                            `json:"plan,omitempty"`
	Partial       bool                                    `json:"partial,omitempty"`
	UsedFallback  bool                                    `json:"used_fallback,omitempty"`
	AgentsUsed    []string                                `json:"agents_used"`
	FailedAgents  []string                                `json:"failed_agents,omitempty"`
	Records       map[string]*models.AgentExecutionRecord `json:"records,omitempty"`
	Reflection    *memory.Reflection                      `json:"reflection,omitempty"`
	Duration      time.Duration                           `json:"-"`
	DurationMS    int64                                   `json:"duration_ms"`
	Downgraded    bool                                    `json:"downgraded,omitempty"`
	CycleRepaired bool                                    `json:"cycle_repaired,omitempty"`
}

// Deps wires the orchestrator's collaborators. All fields are required
// except Logger.
type Deps struct {
	Planner     *planner.Planner
	Scheduler   *scheduler.Scheduler
	Synthesizer *synthesis.Synthesizer
	Store       *agents.Store
	Tracer      *tracer.Tracer
	Runtime     *config.Runtime
	Logger      *zap.Logger
}

// Orchestrator is safe for concurrent sessions. The matcher is rebuilt
// per session from the current config so rule-table reloads apply
// without a restart.
type Orchestrator struct {
	planner   *planner.Planner
	scheduler *scheduler.Scheduler
	synth     *synthesis.Synthesizer
	store     *agents.Store
	tracer    *tracer.Tracer
	runtime   *config.Runtime
	logger    *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		planner:   d.Planner,
		scheduler: d.Scheduler,
		synth:     d.Synthesizer,
		store:     d.Store,
		tracer:    d.Tracer,
		runtime:   d.Runtime,
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Orchestrate runs the full pipeline for one query.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	pool := o.store.Snapshot()
	if len(pool) == 0 {
		return nil, agents.ErrNoAgentsRegistered
	}
	pool, narrowed := narrowPool(pool, req.Preferred)
	if len(req.Preferred) > 0 && !narrowed {
		o.logger.Warn("Preferred agents matched nothing, using full pool",
			zap.Strings("preferred", req.Preferred))
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := o.tracer.StartTrace(sessionID, query); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSessionSpan(ctx, "orchestrate", sessionID)
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	o.registerCancel(sessionID, cancel)
	defer o.releaseCancel(sessionID)

	start := time.Now()
	cfg := o.runtime.Current()
	o.tracer.LogEvent(tracer.Event{
		SessionID: sessionID,
		EventType: tracer.EventOrchestrationStart,
		Content:   query,
		Metadata: map[string]interface{}{
			"pool_size":      len(pool),
			"pool_narrowed":  narrowed,
			"session_source": sourceOf(req.SessionID),
		},
	})

	// Plan.
	plan, err := o.planner.Plan(ctx, query, planner.RulesFromConfig(cfg))
	if err != nil {
		o.failSession(sessionID, "", start, err, "planning")
		return nil, fmt.Errorf("plan query: %w", err)
	}
	metrics.OrchestrationsStarted.WithLabelValues(plan.OrchestrationStrategy).Inc()
	o.tracer.SetStrategy(sessionID, plan.OrchestrationStrategy)
	o.tracer.LogEvent(tracer.Event{
		SessionID: sessionID,
		EventType: tracer.EventQueryAnalysis,
		Content:   plan.Reasoning,
		Metadata: map[string]interface{}{
			"intent":           plan.Intent,
			"domain":           plan.Domain,
			"complexity":       plan.Complexity,
			"workflow_pattern": plan.WorkflowPattern,
			"strategy":         plan.OrchestrationStrategy,
			"steps":            len(plan.Steps),
			"multi_domain":     plan.MultiDomain,
		},
	})

	// Select.
	m := matcher.New(matcher.Config{
		ScoreThreshold:    cfg.MinAgentScoreThreshold,
		TechnicalMarkers:  cfg.TechnicalMarkers,
		CreativeMarkers:   cfg.CreativeMarkers,
		AnalyticalMarkers: cfg.AnalyticalMarkers,
	}, o.logger)
	sel, err := m.Select(plan, pool)
	if err != nil {
		o.failSession(sessionID, plan.OrchestrationStrategy, start, err, "selection")
		return nil, fmt.Errorf("select agents: %w", err)
	}
	o.tracer.LogEvent(tracer.Event{
		SessionID: sessionID,
		EventType: tracer.EventAgentSelection,
		Metadata: map[string]interface{}{
			"agents": agentNames(sel.Agents),
			"scores": sel.Scores,
		},
	})

	// Graph.
	byID := make(map[string]*agents.Descriptor, len(sel.Agents))
	for _, a := range sel.Agents {
		byID[a.AgentID] = a
	}
	graph, breaks := depgraph.Build(plan.Steps, sel.Assignments, byID, cfg.CapabilityDependencies, o.logger)
	for _, br := range breaks {
		o.tracer.LogEvent(tracer.Event{
			SessionID: sessionID,
			EventType: tracer.EventErrorOccurred,
			Status:    "warning",
			Error:     fmt.Sprintf("dependency cycle broken at %s -> %s", br.From, br.To),
			Metadata: map[string]interface{}{
				"kind":   "dependency_cycle",
				"from":   br.From,
				"to":     br.To,
				"weight": br.Weight,
			},
		})
	}

	// Execute.
	mem := memory.NewSession(sessionID)
	execRes, err := o.scheduler.Run(ctx, scheduler.RunInput{
		SessionID:   sessionID,
		Query:       query,
		Plan:        plan,
		Agents:      sel.Agents,
		Assignments: sel.Assignments,
		Graph:       graph,
		Memory:      mem,
	})
	if err != nil {
		o.failSession(sessionID, plan.OrchestrationStrategy, start, err, "scheduling")
		return nil, fmt.Errorf("run plan: %w", err)
	}

	failed := execRes.FailedAgents()
	if !execRes.Succeeded() {
		err := fmt.Errorf("%w: %s", ErrAllAgentsFailed, strings.Join(failed, ", "))
		o.failSession(sessionID, execRes.FinalStrategy, start, err, "execution")
		return nil, err
	}
	if execRes.Partial && !cfg.SynthesizeOnPartial {
		err := fmt.Errorf("%w: failed agents: %s", ErrPartialDisallowed, strings.Join(failed, ", "))
		o.failSession(sessionID, execRes.FinalStrategy, start, err, "execution")
		return nil, err
	}

	// Reflect and synthesize.
	reflection := mem.Reflect()
	response, usedFallback := o.synth.Synthesize(ctx, synthesis.Input{
		Query:        query,
		Plan:         plan,
		Outputs:      outputsFromMemory(mem, sel.Assignments),
		Reflection:   &reflection,
		Partial:      execRes.Partial,
		FailedAgents: failed,
	})
	o.tracer.LogEvent(tracer.Event{
		SessionID: sessionID,
		EventType: tracer.EventResponseSynthesis,
		Metadata: map[string]interface{}{
			"fallback":       usedFallback,
			"response_chars": len(response),
			"completeness":   reflection.Completeness,
		},
	})

	elapsed := time.Since(start)
	o.tracer.LogEvent(tracer.Event{
		SessionID:       sessionID,
		EventType:       tracer.EventOrchestrationComplete,
		Status:          statusOf(execRes.Partial),
		ExecutionTimeMS: elapsed.Milliseconds(),
	})
	// A partial run that produced an answer is still a successful
	// orchestration; partiality travels separately.
	trace := o.tracer.CompleteTrace(sessionID, response, execRes.Succeeded())
	metrics.RecordOrchestration(execRes.FinalStrategy, statusOf(execRes.Partial), elapsed.Seconds())

	o.logger.Info("Orchestration complete",
		zap.String("session_id", sessionID),
		zap.String("strategy", execRes.FinalStrategy),
		zap.Bool("partial", execRes.Partial),
		zap.Int("agents", len(sel.Agents)),
		zap.Duration("elapsed", elapsed))

	res := &Result{
		SessionID:     sessionID,
		Response:      response,
		Strategy:      execRes.FinalStrategy,
		Plan:          plan,
		Partial:       execRes.Partial,
		UsedFallback:  usedFallback,
		FailedAgents:  failed,
		Records:       execRes.Records,
		Reflection:    &reflection,
		Duration:      elapsed,
		DurationMS:    elapsed.Milliseconds(),
		Downgraded:    execRes.Downgraded,
		CycleRepaired: len(breaks) > 0,
	}
	if trace != nil {
		res.AgentsUsed = trace.AgentsInvolved
	}
	return res, nil
}

// Cancel aborts a running session. It reports whether the session was
// known; cancelling twice is harmless.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[sessionID]
	o.mu.Unlock()
	if ok {
		cancel()
		o.logger.Info("Session cancelled", zap.String("session_id", sessionID))
	}
	return ok
}

// ActiveSessions reports how many sessions hold a cancel handle.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.cancels)
}

func (o *Orchestrator) registerCancel(sessionID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[sessionID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) releaseCancel(sessionID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[sessionID]
	delete(o.cancels, sessionID)
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// failSession closes the trace on an aborted session. The error event is
// always written before the session surfaces a failure.
func (o *Orchestrator) failSession(sessionID, strategy string, start time.Time, err error, stage string) {
	o.tracer.LogEvent(tracer.Event{
		SessionID: sessionID,
		EventType: tracer.EventErrorOccurred,
		Status:    models.StatusFailed,
		Error:     err.Error(),
		Metadata:  map[string]interface{}{"kind": "orchestration", "stage": stage},
	})
	o.tracer.CompleteTrace(sessionID, "", false)
	if strategy == "" {
		strategy = "unknown"
	}
	metrics.RecordOrchestration(strategy, models.StatusFailed, time.Since(start).Seconds())
	o.logger.Error("Orchestration failed",
		zap.String("session_id", sessionID),
		zap.String("stage", stage),
		zap.Error(err))
}

// narrowPool filters by agent id or name, case-insensitive. An empty
// match keeps the full pool so a typo cannot strand a request.
func narrowPool(pool []*agents.Descriptor, preferred []string) ([]*agents.Descriptor, bool) {
	if len(preferred) == 0 {
		return pool, false
	}
	want := make(map[string]bool, len(preferred))
	for _, p := range preferred {
		want[strings.ToLower(strings.TrimSpace(p))] = true
	}
	var filtered []*agents.Descriptor
	for _, a := range pool {
		if want[strings.ToLower(a.AgentID)] || want[strings.ToLower(a.Name)] {
			filtered = append(filtered, a)
		}
	}
	if len(filtered) == 0 {
		return pool, false
	}
	return filtered, true
}

// outputsFromMemory assembles synthesis inputs in the order agents
// completed, with each agent's task looked up from its first assignment.
func outputsFromMemory(mem *memory.Session, assignments []models.TaskAssignment) []synthesis.AgentOutput {
	taskOf := make(map[string]string, len(assignments))
	for _, asg := range assignments {
		if _, seen := taskOf[asg.AgentName]; !seen {
			taskOf[asg.AgentName] = asg.Task
		}
	}
	var outputs []synthesis.AgentOutput
	for _, name := range mem.AgentNames() {
		content, _ := mem.Cleaned(name)
		outputs = append(outputs, synthesis.AgentOutput{
			AgentName: name,
			Task:      taskOf[name],
			Content:   content,
		})
	}
	return outputs
}

func agentNames(list []*agents.Descriptor) []string {
	names := make([]string, 0, len(list))
	for _, a := range list {
		names = append(names, a.Name)
	}
	return names
}

func statusOf(partial bool) string {
	if partial {
		return "partial"
	}
	return models.StatusCompleted
}

func sourceOf(sessionID string) string {
	if sessionID == "" {
		return "generated"
	}
	return "client"
}
