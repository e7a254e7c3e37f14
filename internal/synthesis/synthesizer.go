// Package synthesis folds all agent outputs into the final user-facing
// answer. The LLM writes it when it can; otherwise the outputs are joined
// mechanically so the caller always gets a response.
package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/cleaner"
	"github.com/maestrolab/maestro/internal/llm"
	"github.com/maestrolab/maestro/internal/memory"
	"github.com/maestrolab/maestro/internal/metrics"
	"github.com/maestrolab/maestro/internal/models"
)

// duplicateThreshold is the Jaccard similarity above which a later agent
// output is dropped as a near duplicate of an earlier one.
const duplicateThreshold = 0.9

// AgentOutput is one agent's cleaned contribution, in step order.
type AgentOutput struct {
	AgentName string
	Task      string
	Content   string
}

// Input gathers everything synthesis may draw from.
type Input struct {
	Query        string
	Plan         *models.Plan
	Outputs      []AgentOutput
	Reflection   *memory.Reflection
	Partial      bool
	FailedAgents []string
}

type Synthesizer struct {
	llm     llm.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func New(client llm.Client, model string, timeout time.Duration, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Synthesizer{llm: client, model: model, timeout: timeout, logger: logger}
}

// Synthesize produces the final response. The boolean reports whether the
// mechanical fallback was used instead of the LLM.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (string, bool) {
	start := time.Now()
	defer func() {
		metrics.SynthesisLatency.Observe(time.Since(start).Seconds())
	}()

	outputs := dedupe(in.Outputs)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reply, err := s.llm.Complete(callCtx, buildSynthesisPrompt(in, outputs), llm.Options{
		Model:       s.model,
		MaxTokens:   2000,
		Temperature: 0.4,
	})
	if err == nil {
		if final := cleaner.Clean(reply); final != "" {
			return final, false
		}
	} else {
		s.logger.Warn("LLM synthesis failed, concatenating agent outputs", zap.Error(err))
	}

	metrics.SynthesisFallbacks.Inc()
	return fallbackResponse(outputs), true
}

func buildSynthesisPrompt(in Input, outputs []AgentOutput) string {
	var b strings.Builder
	b.WriteString("You are the synthesis stage of a multi-agent orchestration run.\n")
	b.WriteString("Combine the agent results below into one coherent answer to the user's query.\n\n")
	fmt.Fprintf(&b, "User query: %s\n", in.Query)
	if in.Plan != nil && in.Plan.SuccessCriteria != "" {
		fmt.Fprintf(&b, "Success criteria: %s\n", in.Plan.SuccessCriteria)
	}
	b.WriteString("\nAgent results:\n")
	for _, out := range outputs {
		if strings.TrimSpace(out.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n### %s", out.AgentName)
		if out.Task != "" {
			fmt.Fprintf(&b, " (task: %s)", out.Task)
		}
		fmt.Fprintf(&b, "\n%s\n", out.Content)
	}

	if in.Reflection != nil && len(in.Reflection.Recommendations) > 0 {
		b.WriteString("\nQuality notes:\n")
		for _, rec := range in.Reflection.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}
	if in.Partial && len(in.FailedAgents) > 0 {
		fmt.Fprintf(&b, "\nNote: %s did not complete. Synthesize from the available results and state plainly what is missing.\n",
			strings.Join(in.FailedAgents, ", "))
	}

	b.WriteString(`
Instructions:
- Answer the query directly; do not describe the orchestration process.
- Keep every concrete fact and number from the agent results.
- If results conflict, say so instead of averaging them away.
- Return only the final answer.`)
	return b.String()
}

// fallbackResponse joins outputs as "name: content" blocks. It is the
// guaranteed floor under any LLM failure.
func fallbackResponse(outputs []AgentOutput) string {
	var parts []string
	for _, out := range outputs {
		content := strings.TrimSpace(out.Content)
		if content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", out.AgentName, content))
	}
	if len(parts) == 0 {
		return "No agent produced usable output for this request."
	}
	return strings.Join(parts, "\n\n")
}

// dedupe drops later outputs that are near duplicates of earlier ones.
// Agents occasionally echo each other when they share a backend.
func dedupe(outputs []AgentOutput) []AgentOutput {
	kept := make([]AgentOutput, 0, len(outputs))
	sets := make([]map[string]bool, 0, len(outputs))
	for _, out := range outputs {
		set := tokenSet(out.Content)
		duplicate := false
		for _, prev := range sets {
			if jaccard(set, prev) >= duplicateThreshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, out)
		sets = append(sets, set)
	}
	return kept
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?()[]\"'")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
