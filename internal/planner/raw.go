package planner

import (
	"encoding/json"
	"strings"

	"github.com/maestrolab/maestro/internal/models"
)

// rawPlan is the forgiving decode target for LLM plan output. Models drift
// between field spellings, so both "workflow_steps" and "steps" are accepted,
// and dependencies may arrive as strings or as objects carrying a step id.
type rawPlan struct {
	Intent                string    `json:"intent"`
	Domain                string    `json:"domain"`
	Complexity            string    `json:"complexity"`
	WorkflowPattern       string    `json:"workflow_pattern"`
	OrchestrationStrategy string    `json:"orchestration_strategy"`
	WorkflowSteps         []rawStep `json:"workflow_steps"`
	Steps                 []rawStep `json:"steps"`
	SuccessCriteria       string    `json:"success_criteria"`
	Reasoning             string    `json:"reasoning"`
}

type rawStep struct {
	StepID             string   `json:"step_id"`
	Description        string   `json:"description"`
	RequiredCapability string   `json:"required_capability"`
	RequiredExpertise  string   `json:"required_expertise"`
	ExecutionOrder     int      `json:"execution_order"`
	Dependencies       []rawDep `json:"dependencies"`
}

// rawDep accepts "step_1", {"step_id": "step_1"}, {"id": ...}, {"step": ...}
// or {"depends_on": ...}. Anything else decodes to an empty id and is dropped
// during normalization.
type rawDep struct {
	ID string
}

func (d *rawDep) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d.ID = strings.TrimSpace(s)
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		d.ID = ""
		return nil
	}
	for _, key := range []string{"step_id", "id", "step", "depends_on"} {
		if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
			d.ID = strings.TrimSpace(v)
			return nil
		}
	}
	d.ID = ""
	return nil
}

func (r *rawPlan) toPlan(query string) *models.Plan {
	steps := r.WorkflowSteps
	if len(steps) == 0 {
		steps = r.Steps
	}
	plan := &models.Plan{
		Query:                 query,
		Intent:                strings.TrimSpace(r.Intent),
		Domain:                strings.TrimSpace(r.Domain),
		Complexity:            strings.ToLower(strings.TrimSpace(r.Complexity)),
		WorkflowPattern:       strings.ToLower(strings.TrimSpace(r.WorkflowPattern)),
		OrchestrationStrategy: strings.ToLower(strings.TrimSpace(r.OrchestrationStrategy)),
		SuccessCriteria:       strings.TrimSpace(r.SuccessCriteria),
		Reasoning:             strings.TrimSpace(r.Reasoning),
	}
	for _, rs := range steps {
		cap := strings.TrimSpace(rs.RequiredCapability)
		if cap == "" {
			cap = strings.TrimSpace(rs.RequiredExpertise)
		}
		step := models.WorkflowStep{
			StepID:             strings.TrimSpace(rs.StepID),
			Description:        strings.TrimSpace(rs.Description),
			RequiredCapability: strings.ToLower(cap),
			ExecutionOrder:     rs.ExecutionOrder,
		}
		for _, dep := range rs.Dependencies {
			if dep.ID != "" {
				step.Dependencies = append(step.Dependencies, dep.ID)
			}
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}
