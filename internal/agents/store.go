package agents

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/metrics"
)

// Store is the in-memory set of registered agents. Read-mostly: sessions
// take a snapshot at start and never observe later changes.
type Store struct {
	mu     sync.RWMutex
	agents map[string]*Descriptor
	logger *zap.Logger
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		agents: make(map[string]*Descriptor),
		logger: logger,
	}
}

// Register validates and stores a descriptor. Re-registering an existing
// agent_id replaces the previous descriptor.
func (s *Store) Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	cp := d.Clone()
	if cp.RegisteredAt.IsZero() {
		cp.RegisteredAt = time.Now()
	}

	s.mu.Lock()
	_, replaced := s.agents[cp.AgentID]
	s.agents[cp.AgentID] = cp
	total := len(s.agents)
	s.mu.Unlock()

	metrics.AgentsRegistered.Set(float64(total))
	s.logger.Info("Agent registered",
		zap.String("agent_id", cp.AgentID),
		zap.String("name", cp.Name),
		zap.Strings("capabilities", cp.Capabilities),
		zap.Bool("replaced", replaced),
	)
	return nil
}

// Unregister removes an agent by id.
func (s *Store) Unregister(agentID string) error {
	s.mu.Lock()
	_, ok := s.agents[agentID]
	if ok {
		delete(s.agents, agentID)
	}
	total := len(s.agents)
	s.mu.Unlock()

	if !ok {
		return ErrAgentNotFound
	}
	metrics.AgentsRegistered.Set(float64(total))
	s.logger.Info("Agent unregistered", zap.String("agent_id", agentID))
	return nil
}

// Get returns a copy of the descriptor for agentID.
func (s *Store) Get(agentID string) (*Descriptor, bool) {
	s.mu.RLock()
	d, ok := s.agents[agentID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// List returns copies of all descriptors, ordered by name for stable
// output.
func (s *Store) List() []*Descriptor {
	s.mu.RLock()
	out := make([]*Descriptor, 0, len(s.agents))
	for _, d := range s.agents {
		out = append(out, d.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns copies of the active agents only. Sessions schedule
// against a snapshot so mid-session registry changes cannot skew a run.
func (s *Store) Snapshot() []*Descriptor {
	s.mu.RLock()
	out := make([]*Descriptor, 0, len(s.agents))
	for _, d := range s.agents {
		if d.Status == StatusActive {
			out = append(out, d.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of registered agents regardless of status.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}
