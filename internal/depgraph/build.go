package depgraph

import (
	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/agents"
	"github.com/maestrolab/maestro/internal/metrics"
	"github.com/maestrolab/maestro/internal/models"
)

// EdgeBreak records one edge removed to restore acyclicity. Weight is the
// sum of both endpoints' best relevance scores; the cheapest edge goes
// first so the strongest bindings keep their ordering guarantees.
type EdgeBreak struct {
	From   string
	To     string
	Weight float64
}

// Build assembles the agent DAG for one session. Edges come from two
// sources: explicit step dependencies in the plan, routed through the
// step-to-agent assignments, and the configured capability dependency
// table. The returned graph is always acyclic; any cycles introduced by
// conflicting declarations are repaired and reported as EdgeBreaks.
func Build(
	steps []models.WorkflowStep,
	assignments []models.TaskAssignment,
	agentsByID map[string]*agents.Descriptor,
	capabilityDeps map[string][]string,
	logger *zap.Logger,
) (*Graph, []EdgeBreak) {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := NewGraph()
	agentByStep := make(map[string]string, len(assignments))
	weights := make(map[string]float64, len(assignments))
	for _, asg := range assignments {
		agentByStep[asg.StepID] = asg.AgentID
		g.AddNode(asg.AgentID)
		if asg.RelevanceScore > weights[asg.AgentID] {
			weights[asg.AgentID] = asg.RelevanceScore
		}
	}

	// Explicit step dependencies: step S after step T means
	// agent(T) -> agent(S).
	for _, step := range steps {
		consumer, ok := agentByStep[step.StepID]
		if !ok {
			continue
		}
		for _, depStep := range step.Dependencies {
			producer, ok := agentByStep[depStep]
			if !ok {
				logger.Warn("Step dependency has no assignment, skipping",
					zap.String("step", step.StepID), zap.String("dependency", depStep))
				continue
			}
			g.AddEdge(producer, consumer)
		}
	}

	// Capability table: an agent holding capability C with declared
	// dependencies waits on every other selected agent providing one.
	for consumerID := range g.nodes {
		consumer := agentsByID[consumerID]
		if consumer == nil {
			continue
		}
		for _, capability := range consumer.Capabilities {
			for _, needed := range capabilityDeps[capability] {
				for producerID := range g.nodes {
					if producerID == consumerID {
						continue
					}
					producer := agentsByID[producerID]
					if producer != nil && producer.HasCapability(needed) {
						g.AddEdge(producerID, consumerID)
					}
				}
			}
		}
	}

	breaks := repair(g, weights, logger)
	return g, breaks
}

// repair removes the lowest-weight edge inside the detected cycle until the
// graph sorts. Edges() is sorted, so equal weights break ties on (from, to)
// and the result is deterministic.
func repair(g *Graph, weights map[string]float64, logger *zap.Logger) []EdgeBreak {
	var breaks []EdgeBreak
	for guard := g.EdgeCount(); guard >= 0; guard-- {
		report := g.Validate()
		if !report.HasCycle {
			return breaks
		}
		members := make(map[string]bool, len(report.Members))
		for _, id := range report.Members {
			members[id] = true
		}

		var (
			victim Edge
			best   float64
			found  bool
		)
		for _, e := range g.Edges() {
			if !members[e.From] || !members[e.To] {
				continue
			}
			w := weights[e.From] + weights[e.To]
			if !found || w < best {
				victim, best, found = e, w, true
			}
		}
		if !found {
			return breaks
		}

		g.RemoveEdge(victim.From, victim.To)
		breaks = append(breaks, EdgeBreak{From: victim.From, To: victim.To, Weight: best})
		metrics.CycleBreaks.Inc()
		logger.Warn("Broke dependency cycle",
			zap.String("from", victim.From),
			zap.String("to", victim.To),
			zap.Float64("weight", best),
		)
	}
	return breaks
}
