package models

import (
	"sort"
	"time"
)

// Complexity levels produced by the planner.
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
)

// Workflow patterns.
const (
	PatternSingleAgent   = "single_agent"
	PatternMultiAgent    = "multi_agent"
	PatternVaryingDomain = "varying_domain"
)

// Orchestration strategies.
const (
	StrategySingle     = "single"
	StrategySequential = "sequential"
	StrategyParallel   = "parallel"
	StrategyHybrid     = "hybrid"
)

// Execution statuses for per-agent records.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
)

// WorkflowStep is one unit of work in a plan. Dependencies reference
// step IDs within the same plan.
type WorkflowStep struct {
	StepID             string   `json:"step_id"`
	Description        string   `json:"description"`
	RequiredCapability string   `json:"required_capability"`
	ExecutionOrder     int      `json:"execution_order"`
	Dependencies       []string `json:"dependencies,omitempty"`
}

// Plan is the structured decomposition of a user query. Immutable after
// planner validation.
type Plan struct {
	Query                 string         `json:"query"`
	Intent                string         `json:"intent"`
	Domain                string         `json:"domain"`
	Complexity            string         `json:"complexity"`
	WorkflowPattern       string         `json:"workflow_pattern"`
	OrchestrationStrategy string         `json:"orchestration_strategy"`
	Steps                 []WorkflowStep `json:"steps"`
	SuccessCriteria       string         `json:"success_criteria,omitempty"`
	Reasoning             string         `json:"reasoning,omitempty"`
	MultiDomain           bool           `json:"multi_domain,omitempty"`
}

// TaskAssignment binds one workflow step to the agent selected for it.
type TaskAssignment struct {
	StepID            string   `json:"step_id"`
	AgentID           string   `json:"agent_id"`
	AgentName         string   `json:"agent_name"`
	Task              string   `json:"task"`
	Dependencies      []string `json:"dependencies,omitempty"`
	RelevanceScore    float64  `json:"relevance_score"`
	InputContextHint  string   `json:"input_context_hint,omitempty"`
	OutputContextHint string   `json:"output_context_hint,omitempty"`
	Priority          int      `json:"priority,omitempty"`
}

// AgentExecutionRecord captures one agent invocation within a session.
// Terminal once Status is completed, failed, cancelled or timeout.
type AgentExecutionRecord struct {
	AgentID       string        `json:"agent_id"`
	AgentName     string        `json:"agent_name"`
	StepID        string        `json:"step_id,omitempty"`
	RawOutput     string        `json:"raw_output,omitempty"`
	CleanedOutput string        `json:"cleaned_output,omitempty"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time,omitempty"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
	Status        string        `json:"status"`
	Error         string        `json:"error,omitempty"`
	QualityScore  float64       `json:"quality_score,omitempty"`
	ToolsUsed     []string      `json:"tools_used,omitempty"`
	Attempts      int           `json:"attempts,omitempty"`
}

// ExecutionResult is what the scheduler hands back to the session runner.
type ExecutionResult struct {
	Records       map[string]*AgentExecutionRecord `json:"records"`
	FinalStrategy string                           `json:"final_strategy"`
	Downgraded    bool                             `json:"downgraded,omitempty"`
	Partial       bool                             `json:"partial,omitempty"`
}

// Succeeded reports whether at least one agent reached completed status.
func (r *ExecutionResult) Succeeded() bool {
	for _, rec := range r.Records {
		if rec.Status == StatusCompleted {
			return true
		}
	}
	return false
}

// FailedAgents lists agents whose records terminated without output,
// sorted by name.
func (r *ExecutionResult) FailedAgents() []string {
	var out []string
	for name, rec := range r.Records {
		switch rec.Status {
		case StatusFailed, StatusTimeout, StatusCancelled:
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
