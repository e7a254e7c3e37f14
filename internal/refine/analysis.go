package refine

import (
	"context"
	"fmt"
	"strings"

	"github.com/maestrolab/maestro/internal/llm"
)

// Analysis rates a context on three 0..1 axes. It decides which
// refinement strategy applies.
type Analysis struct {
	Complexity         float64 `json:"complexity"`
	InformationDensity float64 `json:"information_density"`
	Quality            float64 `json:"quality"`
}

func (a Analysis) clamped() Analysis {
	return Analysis{
		Complexity:         clamp01(a.Complexity),
		InformationDensity: clamp01(a.InformationDensity),
		Quality:            clamp01(a.Quality),
	}
}

// analyze asks the LLM to rate the context and falls back to lexical
// heuristics when the call or the JSON fails.
func (e *Engine) analyze(ctx context.Context, text string) Analysis {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.llm.Complete(callCtx, buildAnalysisPrompt(text), llm.Options{
		Model:       e.model,
		MaxTokens:   200,
		Temperature: 0,
	})
	if err == nil {
		var a Analysis
		if err := llm.ExtractJSON(reply, &a); err == nil {
			return a.clamped()
		}
	}
	return heuristicAnalysis(text)
}

func buildAnalysisPrompt(text string) string {
	return fmt.Sprintf(`Rate the following context on three axes, each 0.0 to 1.0:
- complexity: sentence length, jargon, nesting
- information_density: unique information per word
- quality: coherence and completeness

Context:
%s

Respond with ONE JSON object only:
{"complexity": 0.0, "information_density": 0.0, "quality": 0.0}`, text)
}

// heuristicAnalysis is the deterministic stand-in for the LLM rating.
// Complexity grows with sentence length and long words, density with
// vocabulary variety, quality with length and a clean ending.
func heuristicAnalysis(text string) Analysis {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Analysis{}
	}

	words := strings.Fields(trimmed)
	sentences := countSentences(trimmed)

	longWords := 0
	unique := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) >= 8 {
			longWords++
		}
		unique[strings.ToLower(strings.Trim(w, ".,;:!?()\"'"))] = true
	}

	avgSentenceLen := float64(len(words)) / float64(sentences)
	complexity := clamp01(avgSentenceLen/25 + 0.5*float64(longWords)/float64(len(words)))
	density := clamp01(float64(len(unique)) / float64(len(words)))

	quality := 0.4
	if len(trimmed) >= 200 {
		quality += 0.2
	}
	if strings.Contains(trimmed, "\n") {
		quality += 0.2
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		quality += 0.2
	}

	return Analysis{
		Complexity:         complexity,
		InformationDensity: density,
		Quality:            clamp01(quality),
	}
}

func countSentences(s string) int {
	n := strings.Count(s, ".") + strings.Count(s, "!") + strings.Count(s, "?")
	if n == 0 {
		return 1
	}
	return n
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
