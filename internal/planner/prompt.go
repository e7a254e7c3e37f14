package planner

import (
	"fmt"
	"strings"
)

// buildPlanPrompt asks the reasoning LLM for exactly one JSON object. The
// shape mirrors rawPlan; everything the model gets wrong is repaired by
// normalize or replaced by the heuristic planner.
func buildPlanPrompt(query string) string {
	var b strings.Builder
	b.WriteString("You are the planning module of a multi-agent orchestration runtime.\n")
	b.WriteString("Decompose the user query into an executable plan.\n\n")
	fmt.Fprintf(&b, "User query: %s\n\n", query)
	b.WriteString(`Respond with ONE JSON object and nothing else:
{
  "intent": "<short intent label>",
  "domain": "<primary domain>",
  "complexity": "simple|moderate|complex",
  "workflow_pattern": "single_agent|multi_agent|varying_domain",
  "orchestration_strategy": "single|sequential|parallel|hybrid",
  "workflow_steps": [
    {
      "step_id": "step_1",
      "description": "<what this step must accomplish>",
      "required_capability": "<capability token, e.g. creative_writing>",
      "execution_order": 1,
      "dependencies": []
    }
  ],
  "success_criteria": "<how to judge the final answer>",
  "reasoning": "<one or two sentences>"
}

Rules:
- Steps must be ordered; dependencies reference step_id values of earlier steps only.
- Use multi_agent only when the query genuinely needs more than one specialist.
- Independent steps must not declare dependencies so they can run in parallel.`)
	return b.String()
}
