// Package refine rewrites context between agents so each handoff carries
// what the next agent needs and nothing else. Every refinement is scored
// and remembered per agent pair; any LLM failure degrades to passing the
// cleaned original through.
package refine

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/cleaner"
	"github.com/maestrolab/maestro/internal/llm"
	"github.com/maestrolab/maestro/internal/metrics"
)

// Refinement strategies, checked in this order.
const (
	StrategySimplifyComplex = "simplify_complex"
	StrategyEnrichMinimal   = "enrich_minimal"
	StrategyExtractKeyInfo  = "extract_key_info"
	StrategyFocusOnTask     = "focus_on_task"
	StrategyAdaptive        = "adaptive"
)

const pairHistorySize = 1024

// Request asks for one context refinement ahead of a handoff.
type Request struct {
	SessionID        string
	FromAgent        string
	ToAgent          string
	Context          string
	Task             string
	MaxContextLength int
}

// Result carries the refined context plus everything observability wants.
type Result struct {
	Context        string
	Strategy       string
	Analysis       Analysis
	OriginalLength int
	RefinedLength  int
	Quality        float64
	FellBack       bool
}

// PairStats accumulates refinement quality per (from, to) agent pair.
type PairStats struct {
	Count        int
	AvgQuality   float64
	LastStrategy string
}

type Engine struct {
	llm     llm.Client
	model   string
	timeout time.Duration
	history *lru.Cache[string, PairStats]
	logger  *zap.Logger
}

func NewEngine(client llm.Client, model string, timeout time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	history, _ := lru.New[string, PairStats](pairHistorySize)
	return &Engine{llm: client, model: model, timeout: timeout, history: history, logger: logger}
}

// Refine analyzes the context, picks a strategy, and rewrites the text for
// the receiving agent. It never fails: when the LLM path breaks, the
// cleaned original comes back under the adaptive strategy with a neutral
// 0.5 quality.
func (e *Engine) Refine(ctx context.Context, req Request) Result {
	start := time.Now()
	original := cleaner.Clean(req.Context)
	if original == "" {
		return Result{Strategy: StrategyAdaptive}
	}

	analysis := e.analyze(ctx, original)
	strategy := pickStrategy(analysis, len(original), req.MaxContextLength)

	res := Result{
		Strategy:       strategy,
		Analysis:       analysis,
		OriginalLength: len(original),
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	reply, err := e.llm.Complete(callCtx, buildRefinementPrompt(strategy, original, req), llm.Options{
		Model:       e.model,
		MaxTokens:   800,
		Temperature: 0.3,
	})
	refined := ""
	if err == nil {
		refined = cleaner.Clean(reply)
	}

	if err != nil || refined == "" {
		if err != nil {
			e.logger.Warn("Refinement failed, passing cleaned context through",
				zap.String("from", req.FromAgent), zap.String("to", req.ToAgent), zap.Error(err))
		}
		metrics.RefinementFallbacks.Inc()
		res.Strategy = StrategyAdaptive
		res.Context = original
		res.RefinedLength = len(original)
		res.Quality = 0.5
		res.FellBack = true
	} else {
		res.Context = refined
		res.RefinedLength = len(refined)
		res.Quality = qualityScore(len(original), len(refined))
	}

	e.recordPair(req.FromAgent, req.ToAgent, res)
	metrics.RecordRefinement(res.Strategy, time.Since(start).Seconds())
	return res
}

// Stats returns the accumulated refinement history for an agent pair.
func (e *Engine) Stats(fromAgent, toAgent string) (PairStats, bool) {
	return e.history.Get(pairKey(fromAgent, toAgent))
}

func (e *Engine) recordPair(fromAgent, toAgent string, res Result) {
	key := pairKey(fromAgent, toAgent)
	stats, _ := e.history.Get(key)
	stats.Count++
	stats.AvgQuality += (res.Quality - stats.AvgQuality) / float64(stats.Count)
	stats.LastStrategy = res.Strategy
	e.history.Add(key, stats)
}

func pairKey(fromAgent, toAgent string) string {
	return fmt.Sprintf("%s->%s", fromAgent, toAgent)
}

// pickStrategy applies the threshold ladder in its fixed order; the first
// matching condition wins.
func pickStrategy(a Analysis, contextLen, maxContextLength int) string {
	switch {
	case a.Complexity > 0.8:
		return StrategySimplifyComplex
	case a.InformationDensity < 0.3:
		return StrategyEnrichMinimal
	case a.Quality < 0.4:
		return StrategyExtractKeyInfo
	case maxContextLength > 0 && contextLen > maxContextLength:
		return StrategyFocusOnTask
	default:
		return StrategyAdaptive
	}
}

// qualityScore rewards refinements that keep roughly half the original
// length. The ceiling of 0.8 leaves headroom over the fallback's 0.5
// without ever claiming perfection.
func qualityScore(originalLen, refinedLen int) float64 {
	if originalLen == 0 {
		return 0
	}
	ratio := float64(refinedLen) / float64(originalLen)
	q := 0.8 * (1 - abs(ratio-0.5))
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
