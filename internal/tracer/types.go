package tracer

import "time"

// EventType labels a point in the orchestration lifecycle.
type EventType string

const (
	EventOrchestrationStart    EventType = "orchestration_start"
	EventQueryAnalysis         EventType = "query_analysis"
	EventAgentSelection        EventType = "agent_selection"
	EventHandoffStart          EventType = "agent_handoff_start"
	EventHandoffComplete       EventType = "agent_handoff_complete"
	EventContextTransfer       EventType = "context_transfer"
	EventExecutionStart        EventType = "agent_execution_start"
	EventExecutionComplete     EventType = "agent_execution_complete"
	EventToolUsage             EventType = "tool_usage"
	EventErrorOccurred         EventType = "error_occurred"
	EventResponseSynthesis     EventType = "response_synthesis"
	EventOrchestrationComplete EventType = "orchestration_complete"
)

// Handoff statuses.
const (
	HandoffInProgress = "in_progress"
	HandoffCompleted  = "completed"
	HandoffFailed     = "failed"
	HandoffTimeout    = "timeout"
)

// Trace statuses.
const (
	TraceActive    = "active"
	TraceCompleted = "completed"
)

// Event is one timestamped occurrence inside a session. EventID and
// Timestamp are assigned by the tracer at log time.
type Event struct {
	EventID         string                 `json:"event_id"`
	SessionID       string                 `json:"session_id"`
	EventType       EventType              `json:"event_type"`
	Timestamp       time.Time              `json:"timestamp"`
	AgentID         string                 `json:"agent_id,omitempty"`
	Content         string                 `json:"content,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ExecutionTimeMS int64                  `json:"execution_time_ms,omitempty"`
	Status          string                 `json:"status,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// HandoffRecord tracks one agent invocation from dispatch to terminal
// status. HandoffNumber is 1-based within the session.
type HandoffRecord struct {
	HandoffID          string     `json:"handoff_id"`
	SessionID          string     `json:"session_id"`
	FromAgent          string     `json:"from_agent"`
	ToAgent            string     `json:"to_agent"`
	HandoffNumber      int        `json:"handoff_number"`
	Status             string     `json:"status"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	ContextTransferred string     `json:"context_transferred,omitempty"`
	InputPrepared      string     `json:"input_prepared,omitempty"`
	OutputReceived     string     `json:"output_received,omitempty"`
	ToolsUsed          []string   `json:"tools_used,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// ContextSnapshot is one entry in a trace's context evolution: what moved
// between two agents and how refinement changed it.
type ContextSnapshot struct {
	FromAgent      string    `json:"from_agent"`
	ToAgent        string    `json:"to_agent"`
	Context        string    `json:"context"`
	Strategy       string    `json:"strategy,omitempty"`
	OriginalLength int       `json:"original_length"`
	RefinedLength  int       `json:"refined_length"`
	Quality        float64   `json:"quality"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConversationTrace is the full record of one session.
type ConversationTrace struct {
	SessionID        string            `json:"session_id"`
	Query            string            `json:"query"`
	Strategy         string            `json:"orchestration_strategy,omitempty"`
	Status           string            `json:"status"`
	Success          bool              `json:"success"`
	Events           []Event           `json:"events"`
	Handoffs         []HandoffRecord   `json:"handoffs"`
	AgentsInvolved   []string          `json:"agents_involved"`
	ContextEvolution []ContextSnapshot `json:"context_evolution"`
	FinalResponse    string            `json:"final_response,omitempty"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          *time.Time        `json:"end_time,omitempty"`
	TotalExecutionMS int64             `json:"total_execution_ms"`
}

// TraceSummary is the list-view projection of a trace.
type TraceSummary struct {
	SessionID        string     `json:"session_id"`
	Query            string     `json:"query"`
	Strategy         string     `json:"orchestration_strategy,omitempty"`
	Status           string     `json:"status"`
	Success          bool       `json:"success"`
	Agents           []string   `json:"agents_involved"`
	EventCount       int        `json:"event_count"`
	HandoffCount     int        `json:"handoff_count"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	TotalExecutionMS int64      `json:"total_execution_ms"`
}

// MetricsSnapshot aggregates orchestration statistics since process start.
type MetricsSnapshot struct {
	TotalOrchestrations      int            `json:"total_orchestrations"`
	SuccessfulOrchestrations int            `json:"successful_orchestrations"`
	FailedOrchestrations     int            `json:"failed_orchestrations"`
	ActiveSessions           int            `json:"active_sessions"`
	CompletedSessions        int            `json:"completed_sessions"`
	TotalEvents              int64          `json:"total_events"`
	TotalHandoffs            int64          `json:"total_handoffs"`
	TotalContextTransfers    int64          `json:"total_context_transfers"`
	AvgExecutionSeconds      float64        `json:"avg_execution_seconds"`
	AvgHandoffsPerSession    float64        `json:"avg_handoffs_per_session"`
	AgentUsage               map[string]int `json:"agent_usage"`
	StrategyUsage            map[string]int `json:"strategy_usage"`
}
