package refine

import (
	"fmt"
	"strings"
)

// buildRefinementPrompt renders the strategy-specific rewrite instruction.
// Every variant forbids inventing facts and demands bare output so the
// cleaner has little to do on the way back.
func buildRefinementPrompt(strategy, contextText string, req Request) string {
	var b strings.Builder
	b.WriteString("You prepare context for a handoff between agents in an orchestration pipeline.\n")
	if req.ToAgent != "" {
		fmt.Fprintf(&b, "Receiving agent: %s\n", req.ToAgent)
	}
	if req.Task != "" {
		fmt.Fprintf(&b, "The receiving agent's task: %s\n", req.Task)
	}
	b.WriteString("\n")

	switch strategy {
	case StrategySimplifyComplex:
		b.WriteString("The context below is overly complex. Rewrite it in plain language. Keep every fact, number, and identifier. Remove jargon and nested qualifications.\n")
	case StrategyEnrichMinimal:
		b.WriteString("The context below is sparse. Restate it so implicit information becomes explicit. Do not invent facts; only unfold what is already there.\n")
	case StrategyExtractKeyInfo:
		b.WriteString("The context below is noisy. Extract only the key facts as short bullet points. Drop filler, hedging, and repetition.\n")
	case StrategyFocusOnTask:
		fmt.Fprintf(&b, "The context below is too long for the receiving agent. Keep only what is relevant to its task, within %d characters.\n", req.MaxContextLength)
	default:
		b.WriteString("Tighten the context below for the receiving agent. Preserve facts and conclusions, strip redundancy.\n")
	}

	fmt.Fprintf(&b, "\nContext:\n%s\n\nReturn only the refined context, no preamble.", contextText)
	return b.String()
}
