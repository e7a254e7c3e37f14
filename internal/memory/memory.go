// Package memory keeps per-session agent outputs. Every write passes
// through the output cleaner exactly once; readers only ever see cleaned
// text. Raw output stays inside the session for loss accounting.
package memory

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/maestrolab/maestro/internal/cleaner"
)

// EntryMeta carries bookkeeping attached to one agent's recorded output.
type EntryMeta struct {
	AgentID    string
	StepID     string
	ToolsUsed  []string
	RecordedAt time.Time
}

// QualityAnalysis is a deterministic rating of one cleaned output.
type QualityAnalysis struct {
	AgentName    string  `json:"agent_name"`
	WordCount    int     `json:"word_count"`
	CharCount    int     `json:"char_count"`
	HasStructure bool    `json:"has_structure"`
	EndsClean    bool    `json:"ends_clean"`
	Score        float64 `json:"score"`
}

// Reflection summarizes a whole session's output quality for synthesis.
type Reflection struct {
	SessionID       string            `json:"session_id"`
	Agents          []QualityAnalysis `json:"agents"`
	Completeness    float64           `json:"completeness"`
	Recommendations []string          `json:"recommendations,omitempty"`
}

// Session is the memory of one orchestration run. Safe for concurrent use;
// parallel waves record from multiple goroutines.
type Session struct {
	mu        sync.RWMutex
	sessionID string
	createdAt time.Time
	raw       map[string]string
	cleaned   map[string]string
	meta      map[string]EntryMeta
	analyses  map[string]QualityAnalysis
	order     []string
}

func NewSession(sessionID string) *Session {
	return &Session{
		sessionID: sessionID,
		createdAt: time.Now(),
		raw:       make(map[string]string),
		cleaned:   make(map[string]string),
		meta:      make(map[string]EntryMeta),
		analyses:  make(map[string]QualityAnalysis),
	}
}

func (s *Session) ID() string { return s.sessionID }

// Record cleans and stores one agent's output, returning the cleaned text.
// Re-recording the same agent overwrites its entry but keeps its position.
func (s *Session) Record(agentName, rawOutput string, meta EntryMeta) string {
	cleanedText := cleaner.Clean(rawOutput)
	if meta.RecordedAt.IsZero() {
		meta.RecordedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.cleaned[agentName]; !seen {
		s.order = append(s.order, agentName)
	}
	s.raw[agentName] = rawOutput
	s.cleaned[agentName] = cleanedText
	s.meta[agentName] = meta
	s.analyses[agentName] = analyzeOutput(agentName, cleanedText)
	return cleanedText
}

// Cleaned returns the cleaned output of one agent.
func (s *Session) Cleaned(agentName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.cleaned[agentName]
	return text, ok
}

// Meta returns the bookkeeping recorded with an agent's output.
func (s *Session) Meta(agentName string) (EntryMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meta[agentName]
	return m, ok
}

// Analysis returns the quality rating of one agent's cleaned output.
func (s *Session) Analysis(agentName string) (QualityAnalysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[agentName]
	return a, ok
}

// AgentNames returns recorded agents in insertion order.
func (s *Session) AgentNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Snapshot copies all cleaned outputs keyed by agent name.
func (s *Session) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.cleaned))
	for name, text := range s.cleaned {
		out[name] = text
	}
	return out
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cleaned)
}

// Reflect rates the whole session: per-agent quality, the share of agents
// that produced usable output, and concrete follow-up recommendations.
func (s *Session) Reflect() Reflection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref := Reflection{SessionID: s.sessionID}
	if len(s.order) == 0 {
		return ref
	}

	usable := 0
	for _, name := range s.order {
		analysis := s.analyses[name]
		ref.Agents = append(ref.Agents, analysis)
		if strings.TrimSpace(s.cleaned[name]) != "" {
			usable++
		} else {
			ref.Recommendations = append(ref.Recommendations,
				fmt.Sprintf("%s produced no usable output", name))
		}
		if analysis.Score > 0 && analysis.Score < 0.5 {
			ref.Recommendations = append(ref.Recommendations,
				fmt.Sprintf("%s output is thin (score %.2f)", name, analysis.Score))
		}
	}
	ref.Completeness = float64(usable) / float64(len(s.order))
	return ref
}

var structureRe = regexp.MustCompile(`(?m)^(\s*([-*+]|\d+[.)])\s+|#{1,6}\s+)`)

// analyzeOutput rates a cleaned output on a 0..1 scale. Empty output rates
// zero; otherwise length, structure, and a clean ending each earn a share.
func analyzeOutput(agentName, cleanedText string) QualityAnalysis {
	analysis := QualityAnalysis{
		AgentName: agentName,
		CharCount: len(cleanedText),
	}
	trimmed := strings.TrimSpace(cleanedText)
	if trimmed == "" {
		return analysis
	}

	analysis.WordCount = len(strings.Fields(trimmed))
	analysis.HasStructure = structureRe.MatchString(cleanedText)
	analysis.EndsClean = strings.HasSuffix(trimmed, ".") ||
		strings.HasSuffix(trimmed, "!") ||
		strings.HasSuffix(trimmed, "?") ||
		strings.HasSuffix(trimmed, "```")

	score := 0.3
	if analysis.WordCount >= 20 {
		score += 0.3
	} else {
		score += 0.1
	}
	if analysis.WordCount >= 100 {
		score += 0.1
	}
	if analysis.HasStructure {
		score += 0.2
	}
	if analysis.EndsClean {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	analysis.Score = score
	return analysis
}
