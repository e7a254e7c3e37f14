package synthesis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/maestrolab/maestro/internal/llm"
	"github.com/maestrolab/maestro/internal/memory"
)

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string, _ llm.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func TestSynthesizeUsesLLM(t *testing.T) {
	client := &fakeLLM{reply: "The network is congested; here is a poem about it."}
	s := New(client, "test-model", 0, zaptest.NewLogger(t))

	final, fellBack := s.Synthesize(context.Background(), Input{
		Query: "Explain PRB utilization and then write a poem about it",
		Outputs: []AgentOutput{
			{AgentName: "TelcoRANAgent", Task: "explain", Content: "PRB utilization is 92%."},
			{AgentName: "CreativeAssistant", Task: "poem", Content: "Roses are red, the cell is on fire."},
		},
	})

	assert.False(t, fellBack)
	assert.Equal(t, "The network is congested; here is a poem about it.", final)
	prompt := client.lastPrompt()
	assert.Contains(t, prompt, "TelcoRANAgent")
	assert.Contains(t, prompt, "PRB utilization is 92%")
	assert.Contains(t, prompt, "Roses are red")
}

func TestSynthesizeFallbackConcatenation(t *testing.T) {
	client := &fakeLLM{err: errors.New("llm down")}
	s := New(client, "test-model", 0, zaptest.NewLogger(t))

	final, fellBack := s.Synthesize(context.Background(), Input{
		Query: "q",
		Outputs: []AgentOutput{
			{AgentName: "A", Content: "first result"},
			{AgentName: "B", Content: "second result"},
		},
	})

	assert.True(t, fellBack)
	assert.Equal(t, "A: first result\n\nB: second result", final)
}

func TestSynthesizeFallbackSkipsEmptyOutputs(t *testing.T) {
	client := &fakeLLM{err: errors.New("llm down")}
	s := New(client, "test-model", 0, zaptest.NewLogger(t))

	final, fellBack := s.Synthesize(context.Background(), Input{
		Outputs: []AgentOutput{
			{AgentName: "A", Content: "   "},
			{AgentName: "B", Content: "only real output"},
		},
	})

	assert.True(t, fellBack)
	assert.Equal(t, "B: only real output", final)
}

func TestSynthesizeFallbackWhenNothingUsable(t *testing.T) {
	client := &fakeLLM{err: errors.New("llm down")}
	s := New(client, "test-model", 0, zaptest.NewLogger(t))

	final, fellBack := s.Synthesize(context.Background(), Input{})
	assert.True(t, fellBack)
	assert.Equal(t, "No agent produced usable output for this request.", final)
}

func TestSynthesizeTreatsEmptyLLMReplyAsFallback(t *testing.T) {
	client := &fakeLLM{reply: "<think>nothing to say</think>"}
	s := New(client, "test-model", 0, zaptest.NewLogger(t))

	final, fellBack := s.Synthesize(context.Background(), Input{
		Outputs: []AgentOutput{{AgentName: "A", Content: "result"}},
	})

	assert.True(t, fellBack)
	assert.Equal(t, "A: result", final)
}

func TestSynthesizePartialNote(t *testing.T) {
	client := &fakeLLM{reply: "partial answer"}
	s := New(client, "test-model", 0, zaptest.NewLogger(t))

	s.Synthesize(context.Background(), Input{
		Query:        "q",
		Outputs:      []AgentOutput{{AgentName: "A", Content: "ok"}},
		Partial:      true,
		FailedAgents: []string{"B", "C"},
	})

	prompt := client.lastPrompt()
	assert.Contains(t, prompt, "B, C did not complete")
}

func TestSynthesizeIncludesReflectionNotes(t *testing.T) {
	client := &fakeLLM{reply: "answer"}
	s := New(client, "test-model", 0, zaptest.NewLogger(t))

	s.Synthesize(context.Background(), Input{
		Query:   "q",
		Outputs: []AgentOutput{{AgentName: "A", Content: "ok"}},
		Reflection: &memory.Reflection{
			Recommendations: []string{"B produced no usable output"},
		},
	})

	assert.Contains(t, client.lastPrompt(), "B produced no usable output")
}

func TestDedupeDropsNearDuplicates(t *testing.T) {
	outputs := []AgentOutput{
		{AgentName: "A", Content: "The quarterly churn rate rose to 4.2 percent in the north region"},
		{AgentName: "B", Content: "The quarterly churn rate rose to 4.2 percent in the north region"},
		{AgentName: "C", Content: "Completely different finding about usage trends"},
	}

	kept := dedupe(outputs)
	require.Len(t, kept, 2)
	assert.Equal(t, "A", kept[0].AgentName)
	assert.Equal(t, "C", kept[1].AgentName)
}

func TestJaccardBounds(t *testing.T) {
	a := tokenSet("alpha beta gamma")
	assert.Equal(t, 1.0, jaccard(a, a))
	assert.Equal(t, 0.0, jaccard(a, tokenSet("delta epsilon")))
	assert.Equal(t, 0.0, jaccard(tokenSet(""), tokenSet("")))
}
