package planner

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/models"
)

// normalize repairs a plan in place so downstream modules never see a
// malformed one. It fills missing fields, resolves step dependencies,
// promotes single-agent plans that clearly span domains, and maps the
// strategy onto the scheduler's vocabulary.
func (p *Planner) normalize(plan *models.Plan, query string, rules Rules) {
	plan.Query = query
	lower := strings.ToLower(query)

	if len(plan.Steps) == 0 {
		plan.Steps = []models.WorkflowStep{{
			Description:        query,
			RequiredCapability: GeneralCapability,
			ExecutionOrder:     1,
		}}
	}

	p.repairSteps(plan)
	p.resolveDependencies(plan)

	if !validPattern(plan.WorkflowPattern) {
		if len(plan.Steps) > 1 {
			plan.WorkflowPattern = models.PatternMultiAgent
		} else {
			plan.WorkflowPattern = models.PatternSingleAgent
		}
	}

	p.promoteMultiAgent(plan, query, lower, rules)

	if !validComplexity(plan.Complexity) {
		switch {
		case len(plan.Steps) <= 1:
			plan.Complexity = models.ComplexitySimple
		case len(plan.Steps) <= 3:
			plan.Complexity = models.ComplexityModerate
		default:
			plan.Complexity = models.ComplexityComplex
		}
	}

	plan.OrchestrationStrategy = normalizeStrategy(plan.OrchestrationStrategy, plan.WorkflowPattern)

	if plan.Intent == "" {
		plan.Intent = classifyIntent(lower, rules)
	}
	if plan.Domain == "" {
		plan.Domain = classifyDomain(lower, rules)
	}
}

// repairSteps guarantees unique step ids, non-empty descriptions, a
// capability token per step, and a strict 1..n execution order.
func (p *Planner) repairSteps(plan *models.Plan) {
	sort.SliceStable(plan.Steps, func(i, j int) bool {
		return plan.Steps[i].ExecutionOrder < plan.Steps[j].ExecutionOrder
	})

	seen := make(map[string]bool, len(plan.Steps))
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Description == "" {
			step.Description = plan.Query
		}
		if step.RequiredCapability == "" {
			step.RequiredCapability = GeneralCapability
		}
		if step.StepID == "" || seen[step.StepID] {
			step.StepID = fmt.Sprintf("step_%d", i+1)
			for seen[step.StepID] {
				step.StepID += "x"
			}
		}
		seen[step.StepID] = true
		step.ExecutionOrder = i + 1
	}
}

// resolveDependencies drops references that cannot hold: unknown step ids,
// self references, and references to steps at the same or a later order.
// The last rule keeps the step graph acyclic by construction.
func (p *Planner) resolveDependencies(plan *models.Plan) {
	order := make(map[string]int, len(plan.Steps))
	for _, s := range plan.Steps {
		order[s.StepID] = s.ExecutionOrder
	}
	for i := range plan.Steps {
		step := &plan.Steps[i]
		kept := step.Dependencies[:0]
		for _, dep := range step.Dependencies {
			depOrder, known := order[dep]
			switch {
			case !known:
				p.logger.Warn("Dropping unknown step dependency",
					zap.String("step", step.StepID), zap.String("dependency", dep))
			case depOrder >= step.ExecutionOrder:
				p.logger.Warn("Dropping forward step dependency",
					zap.String("step", step.StepID), zap.String("dependency", dep))
			default:
				kept = append(kept, dep)
			}
		}
		step.Dependencies = kept
	}
}

// promoteMultiAgent upgrades a single_agent plan when the query carries a
// multi-agent connective or mixes technical and creative markers. When the
// LLM produced fewer than two steps and a connective exists, the query is
// split verbatim around it.
func (p *Planner) promoteMultiAgent(plan *models.Plan, query, lower string, rules Rules) {
	if plan.WorkflowPattern != models.PatternSingleAgent {
		return
	}
	idx, conn, found := firstConnective(lower, rules.MultiAgentKeywords)
	technical := containsAny(lower, rules.TechnicalMarkers)
	creative := containsAny(lower, rules.CreativeMarkers)
	if !found && !(technical && creative) {
		return
	}

	plan.WorkflowPattern = models.PatternMultiAgent
	plan.MultiDomain = technical && creative
	if plan.OrchestrationStrategy == "" || plan.OrchestrationStrategy == "single" ||
		plan.OrchestrationStrategy == models.PatternSingleAgent {
		plan.OrchestrationStrategy = models.StrategySequential
	}
	p.logger.Info("Promoted plan to multi_agent",
		zap.Bool("connective", found), zap.Bool("multi_domain", plan.MultiDomain))

	if len(plan.Steps) < 2 && found && idx+len(conn) <= len(query) {
		left := strings.TrimSpace(query[:idx])
		right := strings.TrimSpace(query[idx+len(conn):])
		if left != "" && right != "" {
			plan.Steps = splitSteps(left, right, rules)
		}
	}
}

// normalizeStrategy maps the LLM's strategy label onto the scheduler's
// vocabulary. "single_agent" is a frequent confusion with the workflow
// pattern and collapses to "single".
func normalizeStrategy(strategy, pattern string) string {
	switch strategy {
	case models.PatternSingleAgent:
		return models.StrategySingle
	case models.StrategySingle, models.StrategySequential, models.StrategyParallel, models.StrategyHybrid:
		return strategy
	}
	if pattern == models.PatternSingleAgent {
		return models.StrategySingle
	}
	return models.StrategySequential
}

func validPattern(p string) bool {
	switch p {
	case models.PatternSingleAgent, models.PatternMultiAgent, models.PatternVaryingDomain:
		return true
	}
	return false
}

func validComplexity(c string) bool {
	switch c {
	case models.ComplexitySimple, models.ComplexityModerate, models.ComplexityComplex:
		return true
	}
	return false
}
