package planner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/maestrolab/maestro/internal/llm"
	"github.com/maestrolab/maestro/internal/models"
)

type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Complete(_ context.Context, _ string, _ llm.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testRules() Rules {
	return Rules{
		MultiAgentKeywords: []string{"and then", "then use that to", "then create", "then write", "and create", "and write", "and generate"},
		TechnicalMarkers:   []string{"explain", "technical", "architecture", "network", "utilization", "system", "debug", "code", "configure", "deploy"},
		CreativeMarkers:    []string{"poem", "story", "write", "creative", "humorous", "song", "joke", "haiku", "imagine"},
		AnalyticalMarkers:  []string{"analyze", "analysis", "compare", "evaluate", "assess", "data", "metrics", "report", "statistics"},
	}
}

func TestPlanSingleAgentQuery(t *testing.T) {
	p := New(&fakeLLM{err: errors.New("llm down")}, "test-model", 0, zaptest.NewLogger(t))

	plan, err := p.Plan(context.Background(), "What's the weather in Berlin?", testRules())
	require.NoError(t, err)

	assert.Equal(t, models.PatternSingleAgent, plan.WorkflowPattern)
	assert.Equal(t, models.StrategySingle, plan.OrchestrationStrategy)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "What's the weather in Berlin?", plan.Steps[0].Description)
	assert.Equal(t, GeneralCapability, plan.Steps[0].RequiredCapability)
}

func TestPlanHeuristicConnectiveSplit(t *testing.T) {
	p := New(&fakeLLM{err: errors.New("llm down")}, "test-model", 0, zaptest.NewLogger(t))

	query := "Explain 4G PRB utilization in our network and then write a short humorous poem about it."
	plan, err := p.Plan(context.Background(), query, testRules())
	require.NoError(t, err)

	assert.Equal(t, models.PatternMultiAgent, plan.WorkflowPattern)
	assert.Equal(t, models.StrategySequential, plan.OrchestrationStrategy)
	assert.True(t, plan.MultiDomain)
	require.Len(t, plan.Steps, 2)

	assert.Equal(t, "Explain 4G PRB utilization in our network", plan.Steps[0].Description)
	assert.Equal(t, CapabilityTechnical, plan.Steps[0].RequiredCapability)
	assert.Empty(t, plan.Steps[0].Dependencies)

	assert.Equal(t, "write a short humorous poem about it.", plan.Steps[1].Description)
	assert.Equal(t, CapabilityCreative, plan.Steps[1].RequiredCapability)
	assert.Equal(t, []string{"step_1"}, plan.Steps[1].Dependencies)
}

func TestPlanParsesLLMReply(t *testing.T) {
	reply := `Here is the plan you asked for:
{
  "intent": "churn_analysis",
  "domain": "analytics",
  "complexity": "moderate",
  "workflow_pattern": "multi_agent",
  "orchestration_strategy": "parallel",
  "workflow_steps": [
    {"step_id": "step_1", "description": "Analyze churn drivers", "required_capability": "churn_analysis", "execution_order": 1, "dependencies": []},
    {"step_id": "step_2", "description": "Analyze usage trends", "required_capability": "usage_analysis", "execution_order": 2, "dependencies": []}
  ],
  "success_criteria": "both analyses present",
  "reasoning": "independent analyses can run concurrently"
}
Let me know if you need anything else.`
	p := New(&fakeLLM{reply: reply}, "test-model", 0, zaptest.NewLogger(t))

	plan, err := p.Plan(context.Background(), "Analyze churn and usage trends", testRules())
	require.NoError(t, err)

	assert.Equal(t, "churn_analysis", plan.Intent)
	assert.Equal(t, models.StrategyParallel, plan.OrchestrationStrategy)
	require.Len(t, plan.Steps, 2)
	assert.Empty(t, plan.Steps[0].Dependencies)
	assert.Empty(t, plan.Steps[1].Dependencies)
}

func TestPlanCoercesObjectDependencies(t *testing.T) {
	reply := `{
  "workflow_pattern": "multi_agent",
  "orchestration_strategy": "sequential",
  "workflow_steps": [
    {"step_id": "a", "description": "first", "required_capability": "technical_analysis", "execution_order": 1},
    {"step_id": "b", "description": "second", "required_capability": "creative_writing", "execution_order": 2,
     "dependencies": [{"step_id": "a"}, {"id": "ghost"}, 42]}
  ]
}`
	p := New(&fakeLLM{reply: reply}, "test-model", 0, zaptest.NewLogger(t))

	plan, err := p.Plan(context.Background(), "first then second", testRules())
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	// "a" resolves, "ghost" is unknown, 42 is not a reference at all.
	assert.Equal(t, []string{"a"}, plan.Steps[1].Dependencies)
}

func TestPlanDropsForwardDependencies(t *testing.T) {
	reply := `{
  "workflow_pattern": "multi_agent",
  "orchestration_strategy": "sequential",
  "workflow_steps": [
    {"step_id": "s1", "description": "first", "execution_order": 1, "dependencies": ["s2"]},
    {"step_id": "s2", "description": "second", "execution_order": 2, "dependencies": ["s1"]}
  ]
}`
	p := New(&fakeLLM{reply: reply}, "test-model", 0, zaptest.NewLogger(t))

	plan, err := p.Plan(context.Background(), "first and then second", testRules())
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	assert.Empty(t, plan.Steps[0].Dependencies, "back edge must be dropped")
	assert.Equal(t, []string{"s1"}, plan.Steps[1].Dependencies)
}

func TestPlanPromotesConnectiveQueries(t *testing.T) {
	// The LLM underestimates the query; post-processing must promote and split.
	reply := `{
  "workflow_pattern": "single_agent",
  "orchestration_strategy": "single",
  "workflow_steps": [
    {"step_id": "step_1", "description": "do everything", "required_capability": "general_assistance", "execution_order": 1}
  ]
}`
	p := New(&fakeLLM{reply: reply}, "test-model", 0, zaptest.NewLogger(t))

	query := "Summarize the quarterly report and then write a haiku about it"
	plan, err := p.Plan(context.Background(), query, testRules())
	require.NoError(t, err)

	assert.Equal(t, models.PatternMultiAgent, plan.WorkflowPattern)
	assert.Equal(t, models.StrategySequential, plan.OrchestrationStrategy)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "Summarize the quarterly report", plan.Steps[0].Description)
	assert.Equal(t, "write a haiku about it", plan.Steps[1].Description)
}

func TestPlanNormalizesStrategyAlias(t *testing.T) {
	reply := `{
  "workflow_pattern": "single_agent",
  "orchestration_strategy": "single_agent",
  "workflow_steps": [
    {"step_id": "step_1", "description": "answer", "required_capability": "general_assistance", "execution_order": 1}
  ]
}`
	p := New(&fakeLLM{reply: reply}, "test-model", 0, zaptest.NewLogger(t))

	plan, err := p.Plan(context.Background(), "hello there", testRules())
	require.NoError(t, err)
	assert.Equal(t, models.StrategySingle, plan.OrchestrationStrategy)
}

func TestPlanSynthesizesStepWhenLLMReturnsNone(t *testing.T) {
	reply := `{"workflow_pattern": "single_agent", "orchestration_strategy": "single", "workflow_steps": []}`
	p := New(&fakeLLM{reply: reply}, "test-model", 0, zaptest.NewLogger(t))

	plan, err := p.Plan(context.Background(), "just answer this", testRules())
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "just answer this", plan.Steps[0].Description)
	assert.Equal(t, GeneralCapability, plan.Steps[0].RequiredCapability)
	assert.Equal(t, 1, plan.Steps[0].ExecutionOrder)
}

func TestPlanCacheHit(t *testing.T) {
	client := &fakeLLM{err: errors.New("llm down")}
	p := New(client, "test-model", 8, zaptest.NewLogger(t))

	_, err := p.Plan(context.Background(), "cache me", testRules())
	require.NoError(t, err)
	_, err = p.Plan(context.Background(), "cache me", testRules())
	require.NoError(t, err)

	assert.Equal(t, 1, client.callCount())
}

func TestPlanEmptyQuery(t *testing.T) {
	p := New(&fakeLLM{}, "test-model", 0, zaptest.NewLogger(t))

	_, err := p.Plan(context.Background(), "   ", testRules())
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestFirstConnectivePrefersEarliestThenLongest(t *testing.T) {
	idx, conn, ok := firstConnective("alpha and then beta and write gamma", []string{"and write", "and then"})
	require.True(t, ok)
	assert.Equal(t, "and then", conn)
	assert.Equal(t, 6, idx)
}
