// Package planner turns a natural-language query into a validated
// execution plan. The reasoning LLM proposes the plan; deterministic
// post-processing repairs it, and a heuristic planner stands in whenever
// the LLM is unreachable or unparseable.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/config"
	"github.com/maestrolab/maestro/internal/llm"
	"github.com/maestrolab/maestro/internal/metrics"
	"github.com/maestrolab/maestro/internal/models"
)

// ErrEmptyPlan is the planner's only hard failure: no plan with at least
// one step could be produced. The heuristic path makes this unreachable
// for non-degenerate queries.
var ErrEmptyPlan = errors.New("planner produced no steps")

// GeneralCapability is assigned when no better classification exists.
const GeneralCapability = "general_assistance"

// Rules is the hot-reloadable subset of configuration the planner reads.
// The session runner snapshots it once per session.
type Rules struct {
	MultiAgentKeywords []string
	TechnicalMarkers   []string
	CreativeMarkers    []string
	AnalyticalMarkers  []string
}

// RulesFromConfig extracts planner rules from a config snapshot.
func RulesFromConfig(cfg *config.Config) Rules {
	return Rules{
		MultiAgentKeywords: cfg.MultiAgentKeywords,
		TechnicalMarkers:   cfg.TechnicalMarkers,
		CreativeMarkers:    cfg.CreativeMarkers,
		AnalyticalMarkers:  cfg.AnalyticalMarkers,
	}
}

// Planner produces plans. Safe for concurrent use.
type Planner struct {
	llm    llm.Client
	model  string
	cache  *lru.Cache[string, *models.Plan]
	logger *zap.Logger
}

// New creates a planner. cacheSize <= 0 disables the plan cache.
func New(client llm.Client, model string, cacheSize int, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Planner{llm: client, model: model, logger: logger}
	if cacheSize > 0 {
		// lru.New only errors on a non-positive size.
		p.cache, _ = lru.New[string, *models.Plan](cacheSize)
	}
	return p
}

// Plan builds a plan for the query. The returned plan is always valid:
// at least one step, normalized strategy, resolved dependencies.
func (p *Planner) Plan(ctx context.Context, query string, rules Rules) (*models.Plan, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrEmptyPlan)
	}

	if p.cache != nil {
		if cached, ok := p.cache.Get(query); ok {
			metrics.PlanCacheHits.Inc()
			return cached, nil
		}
		metrics.PlanCacheMisses.Inc()
	}

	start := time.Now()
	plan := p.planWithLLM(ctx, query, rules)
	if plan == nil {
		metrics.PlannerFallbacks.Inc()
		plan = p.heuristicPlan(query, rules)
	}
	p.normalize(plan, query, rules)
	metrics.PlanningLatency.Observe(time.Since(start).Seconds())

	if len(plan.Steps) == 0 {
		return nil, ErrEmptyPlan
	}
	if p.cache != nil {
		p.cache.Add(query, plan)
	}

	p.logger.Info("Plan ready",
		zap.String("intent", plan.Intent),
		zap.String("workflow_pattern", plan.WorkflowPattern),
		zap.String("strategy", plan.OrchestrationStrategy),
		zap.Int("steps", len(plan.Steps)),
	)
	return plan, nil
}

// planWithLLM returns nil when the LLM path fails in any way; the caller
// falls back to heuristics. LLM malformation never crosses the package
// boundary as an error.
func (p *Planner) planWithLLM(ctx context.Context, query string, rules Rules) *models.Plan {
	reply, err := p.llm.Complete(ctx, buildPlanPrompt(query), llm.Options{
		Model:       p.model,
		MaxTokens:   1500,
		Temperature: 0.2,
	})
	if err != nil {
		p.logger.Warn("LLM planning failed, using heuristic planner", zap.Error(err))
		return nil
	}

	var raw rawPlan
	if err := llm.ExtractJSON(reply, &raw); err != nil {
		p.logger.Warn("LLM plan unparseable, using heuristic planner", zap.Error(err))
		return nil
	}
	return raw.toPlan(query)
}
