package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Orchestration metrics
	OrchestrationsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_orchestrations_started_total",
			Help: "Total number of orchestration sessions started",
		},
		[]string{"strategy"},
	)

	OrchestrationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_orchestrations_completed_total",
			Help: "Total number of orchestration sessions completed",
		},
		[]string{"strategy", "status"},
	)

	OrchestrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_orchestration_duration_seconds",
			Help:    "End-to-end orchestration duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"strategy"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_sessions_active",
			Help: "Number of orchestration sessions currently running",
		},
	)

	// Planner metrics
	PlanningLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maestro_planning_latency_seconds",
			Help:    "Query planning latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlannerFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_planner_fallbacks_total",
			Help: "Total number of plans produced by the heuristic fallback",
		},
	)

	PlanCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_plan_cache_hits_total",
			Help: "Total number of plan cache hits",
		},
	)

	PlanCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_plan_cache_misses_total",
			Help: "Total number of plan cache misses",
		},
	)

	// Agent execution metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_agent_executions_total",
			Help: "Total number of worker agent executions",
		},
		[]string{"agent_name", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_agent_execution_duration_ms",
			Help:    "Worker agent execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"agent_name"},
	)

	AgentRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_agent_retries_total",
			Help: "Total number of worker agent retry attempts",
		},
	)

	AgentTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_agent_timeouts_total",
			Help: "Total number of worker agent executions ended by timeout",
		},
	)

	AgentsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_agents_in_flight",
			Help: "Worker agent invocations currently in flight",
		},
	)

	ScheduleQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_schedule_queue_depth",
			Help: "Invocations waiting on the global concurrency semaphore",
		},
	)

	AgentsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_agents_registered",
			Help: "Number of agents currently registered",
		},
	)

	// Handoff metrics
	HandoffsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_handoffs_started_total",
			Help: "Total number of agent handoffs started",
		},
	)

	HandoffsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_handoffs_completed_total",
			Help: "Total number of agent handoffs finished",
		},
		[]string{"status"},
	)

	ContextTransfers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_context_transfers_total",
			Help: "Total number of context transfers between agents",
		},
	)

	// Refinement metrics
	RefinementLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_refinement_latency_seconds",
			Help:    "Context refinement latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	RefinementFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_refinement_fallbacks_total",
			Help: "Total number of refinements that fell back to the cleaned original",
		},
	)

	// Synthesis metrics
	SynthesisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maestro_synthesis_latency_seconds",
			Help:    "Final synthesis latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SynthesisFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_synthesis_fallbacks_total",
			Help: "Total number of deterministic synthesis fallbacks",
		},
	)

	// Reasoning LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_llm_requests_total",
			Help: "Total number of reasoning LLM requests",
		},
		[]string{"model", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_llm_latency_seconds",
			Help:    "Reasoning LLM request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Tracer and sink metrics
	EventsLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_trace_events_total",
			Help: "Total number of trace events logged",
		},
		[]string{"event_type"},
	)

	TraceExports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_trace_exports_total",
			Help: "Total number of completed traces exported to a sink",
		},
		[]string{"sink", "status"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_stream_subscribers",
			Help: "Number of live event stream subscribers",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "maestro_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker open transitions",
		},
		[]string{"name"},
	)

	// Dependency graph metrics
	CycleBreaks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_dependency_cycle_breaks_total",
			Help: "Total number of dependency cycles broken during graph build",
		},
	)

	// HTTP metrics. Route is the matched mux pattern, never the raw
	// path, to keep label cardinality bounded.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordOrchestration records metrics for a finished orchestration session.
func RecordOrchestration(strategy, status string, durationSeconds float64) {
	OrchestrationsCompleted.WithLabelValues(strategy, status).Inc()
	OrchestrationDuration.WithLabelValues(strategy).Observe(durationSeconds)
}

// RecordAgentExecution records metrics for one worker agent invocation.
func RecordAgentExecution(agentName, status string, durationMs float64) {
	AgentExecutions.WithLabelValues(agentName, status).Inc()
	AgentExecutionDuration.WithLabelValues(agentName).Observe(durationMs)
}

// RecordRefinement records metrics for one context refinement.
func RecordRefinement(strategy string, durationSeconds float64) {
	RefinementLatency.WithLabelValues(strategy).Observe(durationSeconds)
}
