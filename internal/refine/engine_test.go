package refine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/maestrolab/maestro/internal/llm"
)

// scriptedLLM returns replies in sequence: first call gets replies[0], etc.
// Extra calls reuse the last entry.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string, _ llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	idx := s.calls - 1
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	return s.replies[idx], nil
}

func TestRefineUsesLLMAnalysisAndRewrite(t *testing.T) {
	client := &scriptedLLM{replies: []string{
		`{"complexity": 0.2, "information_density": 0.9, "quality": 0.9}`,
		"PRB utilization peaked at 92% in the busy hour.",
	}}
	e := NewEngine(client, "test-model", 0, zaptest.NewLogger(t))

	res := e.Refine(context.Background(), Request{
		FromAgent: "TelcoRANAgent",
		ToAgent:   "CreativeAssistant",
		Context:   "The measured physical resource block utilization reached its maximum of 92 percent during the busiest hour of the day across the monitored sector.",
	})

	assert.Equal(t, StrategyAdaptive, res.Strategy)
	assert.Equal(t, "PRB utilization peaked at 92% in the busy hour.", res.Context)
	assert.False(t, res.FellBack)
	assert.Greater(t, res.Quality, 0.0)
	assert.Equal(t, 2, client.calls, "one analysis call, one rewrite call")
}

func TestRefineFallsBackToCleanedOriginal(t *testing.T) {
	client := &scriptedLLM{err: errors.New("llm unreachable")}
	e := NewEngine(client, "test-model", 0, zaptest.NewLogger(t))

	raw := "<think>hmm</think>The answer is 42."
	res := e.Refine(context.Background(), Request{FromAgent: "a", ToAgent: "b", Context: raw})

	assert.True(t, res.FellBack)
	assert.Equal(t, StrategyAdaptive, res.Strategy)
	assert.Equal(t, "The answer is 42.", res.Context, "fallback passes the cleaned original")
	assert.InDelta(t, 0.5, res.Quality, 0.001)
}

func TestRefineEmptyContext(t *testing.T) {
	client := &scriptedLLM{}
	e := NewEngine(client, "test-model", 0, zaptest.NewLogger(t))

	res := e.Refine(context.Background(), Request{Context: "   "})
	assert.Empty(t, res.Context)
	assert.Equal(t, 0, client.calls, "empty context never reaches the LLM")
}

func TestPickStrategyLadder(t *testing.T) {
	cases := []struct {
		name     string
		analysis Analysis
		length   int
		maxLen   int
		want     string
	}{
		{"complex first", Analysis{Complexity: 0.9, InformationDensity: 0.1, Quality: 0.1}, 100, 50, StrategySimplifyComplex},
		{"sparse next", Analysis{Complexity: 0.5, InformationDensity: 0.2, Quality: 0.2}, 100, 50, StrategyEnrichMinimal},
		{"low quality", Analysis{Complexity: 0.5, InformationDensity: 0.5, Quality: 0.3}, 100, 50, StrategyExtractKeyInfo},
		{"too long", Analysis{Complexity: 0.5, InformationDensity: 0.5, Quality: 0.8}, 100, 50, StrategyFocusOnTask},
		{"default", Analysis{Complexity: 0.5, InformationDensity: 0.5, Quality: 0.8}, 100, 0, StrategyAdaptive},
		{"fits limit", Analysis{Complexity: 0.5, InformationDensity: 0.5, Quality: 0.8}, 40, 50, StrategyAdaptive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pickStrategy(tc.analysis, tc.length, tc.maxLen))
		})
	}
}

func TestRefinePromptMatchesStrategy(t *testing.T) {
	client := &scriptedLLM{replies: []string{
		`{"complexity": 0.95, "information_density": 0.9, "quality": 0.9}`,
		"simplified text.",
	}}
	e := NewEngine(client, "test-model", 0, zaptest.NewLogger(t))

	res := e.Refine(context.Background(), Request{
		FromAgent: "a", ToAgent: "b",
		Context: "Extremely convoluted multi-clause statement with subordinate qualifications notwithstanding the aforementioned caveats.",
	})

	require.Equal(t, StrategySimplifyComplex, res.Strategy)
	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[1], "overly complex")
}

func TestHeuristicAnalysisDeterministic(t *testing.T) {
	text := "Short note. It has facts. Numbers like 42 appear."
	first := heuristicAnalysis(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, heuristicAnalysis(text))
	}
	assert.GreaterOrEqual(t, first.Complexity, 0.0)
	assert.LessOrEqual(t, first.Complexity, 1.0)
	assert.Greater(t, first.InformationDensity, 0.0)
}

func TestHeuristicAnalysisEmpty(t *testing.T) {
	assert.Equal(t, Analysis{}, heuristicAnalysis("  "))
}

func TestQualityScorePeaksAtHalfLength(t *testing.T) {
	half := qualityScore(100, 50)
	same := qualityScore(100, 100)
	tiny := qualityScore(100, 1)
	assert.InDelta(t, 0.8, half, 0.001)
	assert.Less(t, same, half)
	assert.Less(t, tiny, half)
}

func TestPairStatsAccumulate(t *testing.T) {
	client := &scriptedLLM{err: errors.New("down")}
	e := NewEngine(client, "test-model", 0, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		e.Refine(context.Background(), Request{FromAgent: "a", ToAgent: "b", Context: "some context to pass"})
	}

	stats, ok := e.Stats("a", "b")
	require.True(t, ok)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 0.5, stats.AvgQuality, 0.001)
	assert.Equal(t, StrategyAdaptive, stats.LastStrategy)

	_, ok = e.Stats("b", "a")
	assert.False(t, ok, "pair stats are directional")
}

func TestRefineLongContextFocusesOnTask(t *testing.T) {
	longText := strings.Repeat("Useful detail sentence with telemetry. ", 40)
	client := &scriptedLLM{replies: []string{
		`{"complexity": 0.4, "information_density": 0.6, "quality": 0.9}`,
		"Only the relevant part.",
	}}
	e := NewEngine(client, "test-model", 0, zaptest.NewLogger(t))

	res := e.Refine(context.Background(), Request{
		FromAgent: "a", ToAgent: "b",
		Context:          longText,
		Task:             "write a poem",
		MaxContextLength: 200,
	})

	assert.Equal(t, StrategyFocusOnTask, res.Strategy)
	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[1], "write a poem")
	assert.Contains(t, client.prompts[1], "200 characters")
}

func TestRefineFallbackWhenRewriteComesBackEmpty(t *testing.T) {
	client := &scriptedLLM{replies: []string{
		`{"complexity": 0.2, "information_density": 0.9, "quality": 0.9}`,
		"<think>only reasoning, no content</think>",
	}}
	e := NewEngine(client, "test-model", 0, zaptest.NewLogger(t))

	res := e.Refine(context.Background(), Request{FromAgent: "a", ToAgent: "b", Context: "The answer is 42."})
	assert.True(t, res.FellBack)
	assert.Equal(t, "The answer is 42.", res.Context)
}
