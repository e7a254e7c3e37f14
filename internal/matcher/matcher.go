// Package matcher scores registered agents against workflow steps and
// greedily binds one agent per step.
package matcher

import (
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/agents"
	"github.com/maestrolab/maestro/internal/models"
)

// ErrNoCandidates means the selection pool was empty.
var ErrNoCandidates = errors.New("no candidate agents")

// DefaultScoreThreshold is the relevance floor below which a binding is
// considered a fallback.
const DefaultScoreThreshold = 0.3

// Config carries the hot-reloadable knobs the matcher reads. Marker tables
// feed the alignment factor between step text and agent identity.
type Config struct {
	ScoreThreshold    float64
	TechnicalMarkers  []string
	CreativeMarkers   []string
	AnalyticalMarkers []string
}

type Matcher struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = DefaultScoreThreshold
	}
	return &Matcher{cfg: cfg, logger: logger}
}

// Selection is the result of binding agents to a plan.
type Selection struct {
	// Agents holds each selected agent once, in first-binding order.
	Agents []*agents.Descriptor
	// Assignments holds one entry per workflow step, in execution order.
	Assignments []models.TaskAssignment
	// Scores holds every candidate's score per step, for selection events.
	Scores map[string]map[string]float64
}

// Select binds one agent to every step of the plan. Within a session each
// agent takes at most one step; the pool is reused only when there are more
// steps than agents. A step whose best unused candidate scores below the
// threshold still gets that candidate, so selection never fails once at
// least one agent exists.
func (m *Matcher) Select(plan *models.Plan, pool []*agents.Descriptor) (*Selection, error) {
	if len(pool) == 0 {
		return nil, ErrNoCandidates
	}

	steps := make([]models.WorkflowStep, len(plan.Steps))
	copy(steps, plan.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].ExecutionOrder < steps[j].ExecutionOrder
	})

	sel := &Selection{Scores: make(map[string]map[string]float64, len(steps))}
	used := make(map[string]bool, len(pool))
	bound := make(map[string]bool, len(pool))

	for _, step := range steps {
		scores := make(map[string]float64, len(pool))
		for _, a := range pool {
			scores[a.AgentID] = m.Score(a, step)
		}
		sel.Scores[step.StepID] = scores

		best := m.pickForStep(step, pool, scores, used)
		used[best.AgentID] = true

		sel.Assignments = append(sel.Assignments, models.TaskAssignment{
			StepID:            step.StepID,
			AgentID:           best.AgentID,
			AgentName:         best.Name,
			Task:              step.Description,
			Dependencies:      append([]string(nil), step.Dependencies...),
			RelevanceScore:    scores[best.AgentID],
			InputContextHint:  inputHint(step),
			OutputContextHint: best.PreferredContextFormat,
			Priority:          best.Priority,
		})
		if !bound[best.AgentID] {
			bound[best.AgentID] = true
			sel.Agents = append(sel.Agents, best)
		}

		m.logger.Debug("Agent bound to step",
			zap.String("step_id", step.StepID),
			zap.String("agent", best.Name),
			zap.Float64("score", scores[best.AgentID]),
		)
	}
	return sel, nil
}

// pickForStep prefers unused agents at or above the threshold, then unused
// agents below it, and reuses the pool only when every agent already holds
// a step. Ties resolve by score, then descriptor priority, then name.
func (m *Matcher) pickForStep(step models.WorkflowStep, pool []*agents.Descriptor, scores map[string]float64, used map[string]bool) *agents.Descriptor {
	candidates := make([]*agents.Descriptor, 0, len(pool))
	for _, a := range pool {
		if !used[a.AgentID] {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		m.logger.Warn("More steps than agents, reusing pool", zap.String("step_id", step.StepID))
		candidates = pool
	}

	eligible := make([]*agents.Descriptor, 0, len(candidates))
	for _, a := range candidates {
		if scores[a.AgentID] >= m.cfg.ScoreThreshold {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		best := topCandidate(candidates, scores)
		m.logger.Warn("No agent met the score threshold, using best available",
			zap.String("step_id", step.StepID),
			zap.String("agent", best.Name),
			zap.Float64("score", scores[best.AgentID]),
			zap.Float64("threshold", m.cfg.ScoreThreshold),
		)
		return best
	}
	return topCandidate(eligible, scores)
}

func topCandidate(candidates []*agents.Descriptor, scores map[string]float64) *agents.Descriptor {
	best := candidates[0]
	for _, a := range candidates[1:] {
		if betterCandidate(a, best, scores) {
			best = a
		}
	}
	return best
}

func betterCandidate(a, b *agents.Descriptor, scores map[string]float64) bool {
	sa, sb := scores[a.AgentID], scores[b.AgentID]
	if sa != sb {
		return sa > sb
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Name < b.Name
}

func inputHint(step models.WorkflowStep) string {
	if step.ExecutionOrder <= 1 || len(step.Dependencies) == 0 {
		return "verbatim_query"
	}
	return "dependency_context"
}

// Score rates how well the agent fits the step on a 0..1 scale. The base is
// 0.5 and every identity facet that shows up in the step earns a bonus; a
// family mismatch between step and agent applies a penalty factor at the
// end.
func (m *Matcher) Score(agent *agents.Descriptor, step models.WorkflowStep) float64 {
	text := strings.ToLower(step.Description)
	score := 0.5

	if m.strongSpecialization(agent, step.RequiredCapability) {
		score += 0.95
	}
	for _, capability := range agent.Capabilities {
		if capabilityInText(capability, text) {
			score += 0.4
		}
	}
	for _, kw := range agent.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			score += 0.2
		}
	}
	if d := strings.ToLower(strings.TrimSpace(agent.Domain)); d != "" && strings.Contains(text, d) {
		score += 0.3
	}
	if sp := strings.ToLower(strings.TrimSpace(agent.Specialization)); sp != "" && strings.Contains(text, sp) {
		score += 0.4
	}

	score *= m.alignmentFactor(step, agent)

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// strongSpecialization reports whether the agent's name or domain carries a
// canonical token of the step's required capability. "creative_writing"
// yields the tokens "creative_writing" and "creative", so an agent named
// CreativeAssistant matches.
func (m *Matcher) strongSpecialization(agent *agents.Descriptor, capability string) bool {
	name := strings.ToLower(agent.Name)
	domain := strings.ToLower(agent.Domain)
	for _, tok := range canonicalTokens(capability) {
		if strings.Contains(name, tok) || (domain != "" && strings.Contains(domain, tok)) {
			return true
		}
	}
	return false
}

func canonicalTokens(capability string) []string {
	token := strings.ToLower(strings.TrimSpace(capability))
	if token == "" {
		return nil
	}
	tokens := []string{token}
	if head, _, ok := strings.Cut(token, "_"); ok && len(head) >= 3 && head != token {
		tokens = append(tokens, head)
	}
	return tokens
}

// capabilityInText matches a capability token against the step text in its
// raw form, with underscores spaced out, and by its leading token.
func capabilityInText(capability, text string) bool {
	token := strings.ToLower(strings.TrimSpace(capability))
	if token == "" {
		return false
	}
	if strings.Contains(text, token) {
		return true
	}
	if spaced := strings.ReplaceAll(token, "_", " "); spaced != token && strings.Contains(text, spaced) {
		return true
	}
	if head, _, ok := strings.Cut(token, "_"); ok && len(head) >= 3 && strings.Contains(text, head) {
		return true
	}
	return false
}

const (
	familyAnalytical = "analytical"
	familyCreative   = "creative"
	familyGeneral    = "general"
)

// alignmentFactor compares the step's marker family with the agent's.
// Technical markers count toward the analytical family on both sides.
// An analytical step handed to a creative agent is penalized harder than
// the reverse, and aligned specialist pairs get a boost.
func (m *Matcher) alignmentFactor(step models.WorkflowStep, agent *agents.Descriptor) float64 {
	stepFam := m.family(strings.ToLower(step.Description + " " + step.RequiredCapability))
	agentFam := m.family(agentIdentity(agent))

	switch {
	case stepFam == familyGeneral || agentFam == familyGeneral:
		return 1.0
	case stepFam == agentFam:
		return 1.2
	case stepFam == familyAnalytical && agentFam == familyCreative:
		return 0.7
	case stepFam == familyCreative && agentFam == familyAnalytical:
		return 0.8
	}
	return 1.0
}

func (m *Matcher) family(lower string) string {
	analytical := countHits(lower, m.cfg.TechnicalMarkers) + countHits(lower, m.cfg.AnalyticalMarkers)
	creative := countHits(lower, m.cfg.CreativeMarkers)
	switch {
	case analytical == 0 && creative == 0:
		return familyGeneral
	case creative > analytical:
		return familyCreative
	default:
		return familyAnalytical
	}
}

func agentIdentity(agent *agents.Descriptor) string {
	parts := []string{agent.Name, agent.Domain, agent.Specialization}
	parts = append(parts, agent.Capabilities...)
	return strings.ToLower(strings.Join(parts, " "))
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
