package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/maestrolab/maestro/internal/agents"
	"github.com/maestrolab/maestro/internal/models"
)

func descriptors(list ...*agents.Descriptor) map[string]*agents.Descriptor {
	m := make(map[string]*agents.Descriptor, len(list))
	for _, d := range list {
		m[d.AgentID] = d
	}
	return m
}

func TestBuildEdgesFromStepDependencies(t *testing.T) {
	steps := []models.WorkflowStep{
		{StepID: "step_1", ExecutionOrder: 1},
		{StepID: "step_2", ExecutionOrder: 2, Dependencies: []string{"step_1"}},
	}
	assignments := []models.TaskAssignment{
		{StepID: "step_1", AgentID: "telco", RelevanceScore: 0.9},
		{StepID: "step_2", AgentID: "creative", RelevanceScore: 1.0},
	}

	g, breaks := Build(steps, assignments, descriptors(
		&agents.Descriptor{AgentID: "telco"},
		&agents.Descriptor{AgentID: "creative"},
	), nil, zaptest.NewLogger(t))

	assert.Empty(t, breaks)
	assert.True(t, g.HasEdge("telco", "creative"))
	assert.Equal(t, []string{"telco"}, g.Dependencies("creative"))
	assert.Empty(t, g.Dependencies("telco"))
	assert.Equal(t, 1, g.EdgeCount())
}

func TestBuildEdgesFromCapabilityTable(t *testing.T) {
	steps := []models.WorkflowStep{
		{StepID: "s1", ExecutionOrder: 1},
		{StepID: "s2", ExecutionOrder: 2},
	}
	assignments := []models.TaskAssignment{
		{StepID: "s1", AgentID: "collector", RelevanceScore: 0.8},
		{StepID: "s2", AgentID: "reporter", RelevanceScore: 0.7},
	}
	capDeps := map[string][]string{
		"report_generation": {"data_collection"},
	}

	g, breaks := Build(steps, assignments, descriptors(
		&agents.Descriptor{AgentID: "collector", Capabilities: []string{"data_collection"}},
		&agents.Descriptor{AgentID: "reporter", Capabilities: []string{"report_generation"}},
	), capDeps, zaptest.NewLogger(t))

	assert.Empty(t, breaks)
	assert.True(t, g.HasEdge("collector", "reporter"))
	assert.False(t, g.HasEdge("reporter", "collector"))
}

func TestBuildIgnoresSelfProvidedCapability(t *testing.T) {
	// One agent both needs and provides the capability: no self loop.
	assignments := []models.TaskAssignment{
		{StepID: "s1", AgentID: "solo", RelevanceScore: 0.9},
	}
	capDeps := map[string][]string{"analysis": {"collection"}}

	g, breaks := Build(
		[]models.WorkflowStep{{StepID: "s1", ExecutionOrder: 1}},
		assignments,
		descriptors(&agents.Descriptor{AgentID: "solo", Capabilities: []string{"analysis", "collection"}}),
		capDeps, zaptest.NewLogger(t))

	assert.Empty(t, breaks)
	assert.Equal(t, 0, g.EdgeCount())
	assert.True(t, g.HasNode("solo"))
}

func TestBuildNoEdgesForIndependentSteps(t *testing.T) {
	steps := []models.WorkflowStep{
		{StepID: "s1", ExecutionOrder: 1},
		{StepID: "s2", ExecutionOrder: 2},
	}
	assignments := []models.TaskAssignment{
		{StepID: "s1", AgentID: "churn", RelevanceScore: 0.8},
		{StepID: "s2", AgentID: "usage", RelevanceScore: 0.8},
	}

	g, breaks := Build(steps, assignments, descriptors(
		&agents.Descriptor{AgentID: "churn", Capabilities: []string{"churn_analysis"}},
		&agents.Descriptor{AgentID: "usage", Capabilities: []string{"usage_analysis"}},
	), nil, zaptest.NewLogger(t))

	assert.Empty(t, breaks)
	assert.Equal(t, 0, g.EdgeCount())
	assert.Equal(t, 2, g.NodeCount())
}

func TestBuildBreaksCycleAtLowestWeight(t *testing.T) {
	// Conflicting capability declarations produce a -> b -> a. The edge
	// touching the weaker binding must go.
	assignments := []models.TaskAssignment{
		{StepID: "s1", AgentID: "a", RelevanceScore: 0.9},
		{StepID: "s2", AgentID: "b", RelevanceScore: 0.4},
	}
	steps := []models.WorkflowStep{
		{StepID: "s1", ExecutionOrder: 1, Dependencies: []string{"s2"}},
		{StepID: "s2", ExecutionOrder: 2, Dependencies: []string{"s1"}},
	}

	g, breaks := Build(steps, assignments, descriptors(
		&agents.Descriptor{AgentID: "a"},
		&agents.Descriptor{AgentID: "b"},
	), nil, zaptest.NewLogger(t))

	require.Len(t, breaks, 1)
	// Both edges weigh the same (0.9 + 0.4); the tie resolves to the
	// lexicographically first edge a -> b.
	assert.Equal(t, "a", breaks[0].From)
	assert.Equal(t, "b", breaks[0].To)
	assert.InDelta(t, 1.3, breaks[0].Weight, 0.001)

	assert.False(t, g.Validate().HasCycle)
	assert.True(t, g.HasEdge("b", "a"))
	assert.False(t, g.HasEdge("a", "b"))
}

func TestBuildRepairIsDeterministic(t *testing.T) {
	build := func() []EdgeBreak {
		steps := []models.WorkflowStep{
			{StepID: "s1", ExecutionOrder: 1, Dependencies: []string{"s3"}},
			{StepID: "s2", ExecutionOrder: 2, Dependencies: []string{"s1"}},
			{StepID: "s3", ExecutionOrder: 3, Dependencies: []string{"s2"}},
		}
		assignments := []models.TaskAssignment{
			{StepID: "s1", AgentID: "x", RelevanceScore: 0.5},
			{StepID: "s2", AgentID: "y", RelevanceScore: 0.5},
			{StepID: "s3", AgentID: "z", RelevanceScore: 0.5},
		}
		_, breaks := Build(steps, assignments, descriptors(
			&agents.Descriptor{AgentID: "x"},
			&agents.Descriptor{AgentID: "y"},
			&agents.Descriptor{AgentID: "z"},
		), nil, zaptest.NewLogger(t))
		return breaks
	}

	first := build()
	require.Len(t, first, 1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, build())
	}
}

func TestGraphEdgeHelpers(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "b")
	g.AddEdge("a", "b") // duplicate collapses
	g.AddEdge("c", "c") // self loop dropped
	g.AddEdge("b", "c")

	assert.Equal(t, 2, g.EdgeCount())
	assert.Equal(t, []Edge{{From: "a", To: "b"}, {From: "b", To: "c"}}, g.Edges())
	assert.Equal(t, []string{"b"}, g.Dependents("a"))
	assert.Equal(t, []string{"a", "b", "c"}, g.Nodes())
}
