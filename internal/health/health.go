// Package health runs dependency checks behind the readiness endpoint.
// Checks with IsCritical()==true gate readiness; the rest only degrade
// the reported status.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status values a check or the overall report can carry.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Component string                 `json:"component"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
	Critical  bool                   `json:"critical"`
}

// Checker is one registered dependency check.
type Checker interface {
	// Name returns the unique name of this check.
	Name() string

	// Check performs the check and returns the result.
	Check(ctx context.Context) CheckResult

	// IsCritical reports whether failure should mark the service not ready.
	IsCritical() bool

	// Timeout returns the maximum duration this check should take.
	Timeout() time.Duration
}

// Report aggregates all check results into one readiness verdict.
type Report struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Components map[string]CheckResult `json:"components"`
	CheckedAt  time.Time              `json:"checked_at"`
}

// Manager holds the registered checkers and runs them on demand.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers: make(map[string]Checker),
		logger:   logger,
	}
}

// Register adds a checker. Names must be unique.
func (m *Manager) Register(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[c.Name()]; exists {
		return fmt.Errorf("health checker %q already registered", c.Name())
	}
	m.checkers[c.Name()] = c
	m.logger.Debug("Health checker registered",
		zap.String("name", c.Name()),
		zap.Bool("critical", c.IsCritical()))
	return nil
}

// Unregister removes a checker by name.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkers, name)
}

// Check runs every registered checker concurrently, each under its own
// timeout, and aggregates the results.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results = make(map[string]CheckResult, len(checkers))
	)
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, c.Timeout())
			defer cancel()
			res := c.Check(cctx)
			resMu.Lock()
			results[c.Name()] = res
			resMu.Unlock()
		}(c)
	}
	wg.Wait()

	report := buildReport(results)
	if report.Status != StatusHealthy {
		m.logger.Warn("Health check not clean",
			zap.String("status", string(report.Status)),
			zap.Bool("ready", report.Ready))
	}
	return report
}

// Ready reports whether the service can take traffic.
func (m *Manager) Ready(ctx context.Context) bool {
	return m.Check(ctx).Ready
}

func buildReport(components map[string]CheckResult) Report {
	status := StatusHealthy
	ready := true
	for _, res := range components {
		switch res.Status {
		case StatusUnhealthy:
			if res.Critical {
				status = StatusUnhealthy
				ready = false
			} else if status != StatusUnhealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return Report{
		Status:     status,
		Ready:      ready,
		Components: components,
		CheckedAt:  time.Now(),
	}
}
