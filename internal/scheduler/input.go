package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/maestrolab/maestro/internal/agents"
	"github.com/maestrolab/maestro/internal/refine"
	"github.com/maestrolab/maestro/internal/util"
)

// contextCharLimit caps each upstream excerpt inside a prompt.
const contextCharLimit = 800

const contextHeader = "CONTEXT FROM PREVIOUS AGENTS:"

const contextInstructions = `INSTRUCTIONS:
- Build upon the previous output; do not repeat it.
- Your task is distinct; focus on your assignment.
- Do not duplicate information already present upstream.`

// depContext is one upstream agent's contribution to a prompt.
type depContext struct {
	name    string
	output  string
	failed  bool
	refined refine.Result
}

// gatherDependencies reads each upstream agent's cleaned output from
// memory and refines it for the receiving agent. Failed upstreams yield
// an entry with no output so the prompt can note the gap.
func (r *run) gatherDependencies(ctx context.Context, agent *agents.Descriptor) []depContext {
	depIDs := r.in.Graph.Dependencies(agent.AgentID)
	if len(depIDs) == 0 {
		return nil
	}
	sort.Slice(depIDs, func(i, j int) bool {
		oi, oj := r.orderOf[depIDs[i]], r.orderOf[depIDs[j]]
		if oi != oj {
			return oi < oj
		}
		return depIDs[i] < depIDs[j]
	})

	asg := r.assignOf[agent.AgentID]
	var deps []depContext
	for _, depID := range depIDs {
		upstream, selected := r.byID[depID]
		if !selected {
			continue
		}
		cleaned, ok := r.in.Memory.Cleaned(upstream.Name)
		if !ok || strings.TrimSpace(cleaned) == "" {
			deps = append(deps, depContext{name: upstream.Name, failed: r.isFailed(depID)})
			continue
		}
		refined := r.sched.refiner.Refine(ctx, refine.Request{
			SessionID:        r.in.SessionID,
			FromAgent:        upstream.Name,
			ToAgent:          agent.Name,
			Context:          cleaned,
			Task:             asg.Task,
			MaxContextLength: agent.MaxContextLength,
		})
		deps = append(deps, depContext{name: upstream.Name, output: refined.Context, refined: refined})
	}
	return deps
}

// assembleInput builds the worker prompt. Agents without dependency
// context receive the original query verbatim; dependent agents get their
// task, the upstream excerpts, and the handoff instructions.
func (r *run) assembleInput(agent *agents.Descriptor, deps []depContext, verbatim bool) string {
	if verbatim || len(deps) == 0 {
		return r.in.Query
	}

	base := r.assignOf[agent.AgentID].Task
	if strings.TrimSpace(base) == "" {
		base = r.in.Query
	}

	block := contextBlock(deps)
	if block == "" {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")
	b.WriteString(block)
	if hasOutput(deps) {
		b.WriteString("\n")
		b.WriteString(contextInstructions)
	}
	return b.String()
}

// contextBlock renders the upstream section: one excerpt per producing
// dependency, one gap note per failed one. Empty when there is nothing
// to say.
func contextBlock(deps []depContext) string {
	if !hasOutput(deps) && !hasFailure(deps) {
		return ""
	}
	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString("\n")
	for _, d := range deps {
		if d.output != "" {
			b.WriteString(fmt.Sprintf("Previous Agent (%s) Output:\n%s\n\n",
				d.name, util.TruncateString(d.output, contextCharLimit, true)))
			continue
		}
		if d.failed {
			b.WriteString(fmt.Sprintf("Note: upstream agent %s failed; no output is available from it.\n\n", d.name))
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// handoffSource names the handoff's origin: the latest upstream agent,
// or the orchestrator when the agent starts from the raw query.
func handoffSource(deps []depContext) string {
	if len(deps) == 0 {
		return "orchestrator"
	}
	return deps[len(deps)-1].name
}

func hasOutput(deps []depContext) bool {
	for _, d := range deps {
		if d.output != "" {
			return true
		}
	}
	return false
}

func hasFailure(deps []depContext) bool {
	for _, d := range deps {
		if d.failed {
			return true
		}
	}
	return false
}
