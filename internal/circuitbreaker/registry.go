package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry hands out one breaker per worker backend endpoint so a broken
// backend only trips calls routed to it.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   Config
	logger   *zap.Logger
}

// NewRegistry creates a registry applying config to every breaker it mints.
func NewRegistry(config Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := New(name, r.config, r.logger)
	r.breakers[name] = cb
	return cb
}

// States snapshots the current state of every known breaker.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}
