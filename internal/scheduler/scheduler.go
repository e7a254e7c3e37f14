// Package scheduler executes a matched plan: it resolves the final
// orchestration strategy, dispatches agents in dependency order, and
// records one execution record per agent. Failures never stall the
// session; downstream agents run with a note about the missing upstream
// output.
package scheduler

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maestrolab/maestro/internal/agents"
	"github.com/maestrolab/maestro/internal/depgraph"
	"github.com/maestrolab/maestro/internal/memory"
	"github.com/maestrolab/maestro/internal/models"
	"github.com/maestrolab/maestro/internal/refine"
	"github.com/maestrolab/maestro/internal/tracer"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultMaxConcurrency = 5
	DefaultMaxInFlight    = 64
	DefaultAgentTimeout   = 120 * time.Second
	DefaultRetryBackoff   = time.Second
	DefaultMaxAttempts    = 3
)

// ErrNothingToRun is returned when the input carries no agents or no plan.
var ErrNothingToRun = errors.New("scheduler: no plan or no agents to run")

// Refiner rewrites upstream output for the receiving agent. Satisfied by
// refine.Engine.
type Refiner interface {
	Refine(ctx context.Context, req refine.Request) refine.Result
}

// Options tune concurrency and the retry policy.
type Options struct {
	// MaxConcurrency bounds one session's wave width.
	MaxConcurrency int
	// MaxInFlight bounds worker invocations across all sessions.
	MaxInFlight int
	// AgentTimeout is the per-agent hard deadline, covering all attempts.
	AgentTimeout time.Duration
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
	// MaxAttempts caps invocation attempts for retryable failures.
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = DefaultMaxInFlight
	}
	if o.AgentTimeout <= 0 {
		o.AgentTimeout = DefaultAgentTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// RunInput is one session's execution request. Agents holds the unique
// descriptors in first-binding order; Assignments may bind one agent to
// several steps, in which case the agent runs once for its earliest step.
type RunInput struct {
	SessionID   string
	Query       string
	Plan        *models.Plan
	Agents      []*agents.Descriptor
	Assignments []models.TaskAssignment
	Graph       *depgraph.Graph
	Memory      *memory.Session
}

// Scheduler is safe for concurrent Run calls; the in-flight semaphore is
// shared across sessions.
type Scheduler struct {
	invoker agents.Invoker
	refiner Refiner
	tracer  *tracer.Tracer
	sem     *semaphore.Weighted
	opts    Options
	logger  *zap.Logger
}

func New(invoker agents.Invoker, refiner Refiner, tr *tracer.Tracer, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Scheduler{
		invoker: invoker,
		refiner: refiner,
		tracer:  tr,
		sem:     semaphore.NewWeighted(int64(opts.MaxInFlight)),
		opts:    opts,
		logger:  logger,
	}
}

// Run executes the plan and returns per-agent records. Execution failures
// land in the records, not in the error return.
func (s *Scheduler) Run(ctx context.Context, in RunInput) (*models.ExecutionResult, error) {
	if in.Plan == nil || len(in.Agents) == 0 {
		return nil, ErrNothingToRun
	}
	if in.Graph == nil {
		in.Graph = depgraph.NewGraph()
	}
	if in.Memory == nil {
		in.Memory = memory.NewSession(in.SessionID)
	}

	strategy, downgraded := s.resolveStrategy(in.Plan, len(in.Agents), in.Graph.EdgeCount())
	s.tracer.SetStrategy(in.SessionID, strategy)
	if downgraded {
		s.logger.Warn("Parallel strategy requested with dependency edges, running hybrid",
			zap.String("session_id", in.SessionID),
			zap.Int("edges", in.Graph.EdgeCount()))
		s.tracer.LogEvent(tracer.Event{
			SessionID: in.SessionID,
			EventType: tracer.EventErrorOccurred,
			Status:    "warning",
			Content:   "parallel strategy requested but the dependency graph has edges; downgraded to hybrid",
			Metadata:  map[string]interface{}{"kind": "strategy_downgrade"},
		})
	}

	r := s.newRun(in)
	switch strategy {
	case models.StrategySingle:
		r.invokeAgent(ctx, in.Agents[0], true)
	case models.StrategyParallel:
		r.runParallel(ctx)
	case models.StrategyHybrid:
		r.runHybrid(ctx)
	default:
		r.runSequential(ctx)
	}

	return r.result(strategy, downgraded), nil
}

// resolveStrategy applies, in order: an explicit plan strategy (parallel
// downgrades to hybrid when the graph has edges), the single_agent
// pattern, then graph-shape defaults.
func (s *Scheduler) resolveStrategy(plan *models.Plan, agentCount, edgeCount int) (string, bool) {
	switch plan.OrchestrationStrategy {
	case models.StrategySequential, models.StrategyHybrid:
		return plan.OrchestrationStrategy, false
	case models.StrategyParallel:
		if edgeCount > 0 {
			return models.StrategyHybrid, true
		}
		return models.StrategyParallel, false
	}
	if plan.WorkflowPattern == models.PatternSingleAgent {
		return models.StrategySingle, false
	}
	if agentCount > 1 && edgeCount == 0 {
		return models.StrategyParallel, false
	}
	return models.StrategySequential, false
}

// run carries one session's mutable execution state.
type run struct {
	sched *Scheduler
	in    RunInput

	mu      sync.Mutex
	records map[string]*models.AgentExecutionRecord
	done    map[string]bool
	failed  map[string]bool

	byID     map[string]*agents.Descriptor
	orderOf  map[string]int
	assignOf map[string]models.TaskAssignment
}

func (s *Scheduler) newRun(in RunInput) *run {
	r := &run{
		sched:    s,
		in:       in,
		records:  make(map[string]*models.AgentExecutionRecord, len(in.Agents)),
		done:     make(map[string]bool, len(in.Agents)),
		failed:   make(map[string]bool),
		byID:     make(map[string]*agents.Descriptor, len(in.Agents)),
		orderOf:  make(map[string]int, len(in.Agents)),
		assignOf: make(map[string]models.TaskAssignment, len(in.Agents)),
	}
	for _, a := range in.Agents {
		r.byID[a.AgentID] = a
	}

	stepOrder := make(map[string]int, len(in.Plan.Steps))
	for _, step := range in.Plan.Steps {
		stepOrder[step.StepID] = step.ExecutionOrder
	}
	// Assignments arrive in step execution order; the first one binding
	// an agent defines that agent's task and position.
	for _, asg := range in.Assignments {
		if _, seen := r.assignOf[asg.AgentID]; seen {
			continue
		}
		r.assignOf[asg.AgentID] = asg
		if order, ok := stepOrder[asg.StepID]; ok {
			r.orderOf[asg.AgentID] = order
		} else {
			r.orderOf[asg.AgentID] = math.MaxInt
		}
	}
	return r
}

func (r *run) runSequential(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		next := r.nextReady()
		if next == nil {
			if !r.allDone() {
				r.abortRemaining("dependency cycle left agents unschedulable")
			}
			return
		}
		r.invokeAgent(ctx, next, false)
	}
}

func (r *run) runParallel(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.sched.opts.MaxConcurrency)
	for _, agent := range r.in.Agents {
		agent := agent
		g.Go(func() error {
			r.invokeAgent(gctx, agent, true)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) runHybrid(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		wave := r.readyWave()
		if len(wave) == 0 {
			if !r.allDone() {
				r.abortRemaining("dependency cycle left agents unschedulable")
			}
			return
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.sched.opts.MaxConcurrency)
		for _, agent := range wave {
			agent := agent
			g.Go(func() error {
				r.invokeAgent(gctx, agent, false)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// nextReady returns the unfinished agent with all dependencies done,
// lowest execution order first, names breaking ties.
func (r *run) nextReady() *agents.Descriptor {
	wave := r.readyWave()
	if len(wave) == 0 {
		return nil
	}
	return wave[0]
}

func (r *run) readyWave() []*agents.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var wave []*agents.Descriptor
	for _, agent := range r.in.Agents {
		if r.done[agent.AgentID] {
			continue
		}
		ready := true
		for _, dep := range r.in.Graph.Dependencies(agent.AgentID) {
			if _, selected := r.byID[dep]; !selected {
				continue
			}
			if !r.done[dep] {
				ready = false
				break
			}
		}
		if ready {
			wave = append(wave, agent)
		}
	}
	sort.Slice(wave, func(i, j int) bool {
		oi, oj := r.orderOf[wave[i].AgentID], r.orderOf[wave[j].AgentID]
		if oi != oj {
			return oi < oj
		}
		return wave[i].Name < wave[j].Name
	})
	return wave
}

func (r *run) allDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, agent := range r.in.Agents {
		if !r.done[agent.AgentID] {
			return false
		}
	}
	return true
}

// abortRemaining records a failure for every agent that can never become
// ready and emits one dependency_cycle event.
func (r *run) abortRemaining(reason string) {
	r.sched.tracer.LogEvent(tracer.Event{
		SessionID: r.in.SessionID,
		EventType: tracer.EventErrorOccurred,
		Status:    models.StatusFailed,
		Error:     reason,
		Metadata:  map[string]interface{}{"kind": "dependency_cycle"},
	})
	r.sched.logger.Error("Aborting unschedulable agents",
		zap.String("session_id", r.in.SessionID),
		zap.String("reason", reason))

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, agent := range r.in.Agents {
		if r.done[agent.AgentID] {
			continue
		}
		r.done[agent.AgentID] = true
		r.failed[agent.AgentID] = true
		r.records[agent.Name] = &models.AgentExecutionRecord{
			AgentID:   agent.AgentID,
			AgentName: agent.Name,
			StepID:    r.assignOf[agent.AgentID].StepID,
			StartTime: now,
			EndTime:   now,
			Status:    models.StatusFailed,
			Error:     reason,
		}
	}
}

func (r *run) result(strategy string, downgraded bool) *models.ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	partial := false
	completed := 0
	for _, rec := range r.records {
		if rec.Status == models.StatusCompleted {
			completed++
		}
	}
	if completed < len(r.in.Agents) {
		partial = true
	}

	out := &models.ExecutionResult{
		Records:       make(map[string]*models.AgentExecutionRecord, len(r.records)),
		FinalStrategy: strategy,
		Downgraded:    downgraded,
		Partial:       partial,
	}
	for name, rec := range r.records {
		out.Records[name] = rec
	}
	return out
}

func (r *run) setRecord(rec *models.AgentExecutionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.AgentName] = rec
}

func (r *run) markDone(agentID string, terminalFailure bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done[agentID] = true
	if terminalFailure {
		r.failed[agentID] = true
	}
}

func (r *run) isFailed(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed[agentID]
}
