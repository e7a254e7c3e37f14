package planner

import (
	"strings"

	"github.com/maestrolab/maestro/internal/models"
)

// Capability tokens assigned by the rule-based planner and by step repair.
const (
	CapabilityTechnical  = "technical_analysis"
	CapabilityCreative   = "creative_writing"
	CapabilityAnalytical = "data_analysis"
)

// heuristicPlan is the deterministic fallback used whenever the LLM path
// fails or returns garbage. It classifies the query against the marker
// tables and splits on the first multi-agent connective.
func (p *Planner) heuristicPlan(query string, rules Rules) *models.Plan {
	lower := strings.ToLower(query)
	idx, conn, found := firstConnective(lower, rules.MultiAgentKeywords)
	technical := containsAny(lower, rules.TechnicalMarkers)
	creative := containsAny(lower, rules.CreativeMarkers)

	plan := &models.Plan{
		Query:           query,
		Intent:          classifyIntent(lower, rules),
		Domain:          classifyDomain(lower, rules),
		SuccessCriteria: "response addresses every part of the query",
		Reasoning:       "rule-based decomposition",
	}

	multi := found || (technical && creative)
	if !multi {
		plan.Complexity = models.ComplexitySimple
		plan.WorkflowPattern = models.PatternSingleAgent
		plan.OrchestrationStrategy = models.StrategySingle
		plan.Steps = []models.WorkflowStep{{
			StepID:             "step_1",
			Description:        query,
			RequiredCapability: classifyCapability(lower, rules),
			ExecutionOrder:     1,
		}}
		return plan
	}

	plan.Complexity = models.ComplexityModerate
	plan.WorkflowPattern = models.PatternMultiAgent
	plan.OrchestrationStrategy = models.StrategySequential
	plan.MultiDomain = technical && creative

	// Offsets come from the lowered string; ToLower can shift byte offsets
	// for a few exotic runes, so bounds are rechecked before slicing.
	if found && idx+len(conn) <= len(query) {
		left := strings.TrimSpace(query[:idx])
		right := strings.TrimSpace(query[idx+len(conn):])
		if left != "" && right != "" {
			plan.Steps = splitSteps(left, right, rules)
			return plan
		}
	}

	// Mixed markers with no connective: single step, the matcher still sees
	// a multi_agent pattern and picks the strongest specialist.
	plan.Steps = []models.WorkflowStep{{
		StepID:             "step_1",
		Description:        query,
		RequiredCapability: classifyCapability(lower, rules),
		ExecutionOrder:     1,
	}}
	return plan
}

// splitSteps builds the two-step chain produced by a connective split. The
// right half depends on the left so sequential dispatch carries context
// across the boundary.
func splitSteps(left, right string, rules Rules) []models.WorkflowStep {
	return []models.WorkflowStep{
		{
			StepID:             "step_1",
			Description:        left,
			RequiredCapability: classifyCapability(strings.ToLower(left), rules),
			ExecutionOrder:     1,
		},
		{
			StepID:             "step_2",
			Description:        right,
			RequiredCapability: classifyCapability(strings.ToLower(right), rules),
			ExecutionOrder:     2,
			Dependencies:       []string{"step_1"},
		},
	}
}

// firstConnective returns the byte offset and text of the earliest connective
// in the lowered query. On equal offsets the longer connective wins so that
// "and then" beats "and".
func firstConnective(lower string, connectives []string) (int, string, bool) {
	best := -1
	var match string
	for _, c := range connectives {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		i := strings.Index(lower, c)
		if i < 0 {
			continue
		}
		if best < 0 || i < best || (i == best && len(c) > len(match)) {
			best = i
			match = c
		}
	}
	return best, match, best >= 0
}

func containsAny(lower string, markers []string) bool {
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" && strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func countHits(lower string, markers []string) int {
	n := 0
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" && strings.Contains(lower, m) {
			n++
		}
	}
	return n
}

// classifyCapability maps a text fragment to the capability token of its
// dominant marker family. Ties resolve technical, then creative, then
// analytical, so mixed fragments stay stable across runs.
func classifyCapability(lower string, rules Rules) string {
	tech := countHits(lower, rules.TechnicalMarkers)
	creat := countHits(lower, rules.CreativeMarkers)
	anal := countHits(lower, rules.AnalyticalMarkers)
	switch {
	case tech == 0 && creat == 0 && anal == 0:
		return GeneralCapability
	case tech >= creat && tech >= anal:
		return CapabilityTechnical
	case creat >= anal:
		return CapabilityCreative
	default:
		return CapabilityAnalytical
	}
}

func classifyIntent(lower string, rules Rules) string {
	switch classifyCapability(lower, rules) {
	case CapabilityTechnical:
		return "technical_request"
	case CapabilityCreative:
		return "creative_request"
	case CapabilityAnalytical:
		return "analytical_request"
	default:
		return "general_request"
	}
}

func classifyDomain(lower string, rules Rules) string {
	switch classifyCapability(lower, rules) {
	case CapabilityTechnical:
		return "technology"
	case CapabilityCreative:
		return "creative"
	case CapabilityAnalytical:
		return "analytics"
	default:
		return "general"
	}
}
