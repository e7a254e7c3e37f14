package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maestrolab/maestro/internal/agents"
	"github.com/maestrolab/maestro/internal/config"
	"github.com/maestrolab/maestro/internal/tracer"
)

const defaultCheckTimeout = 5 * time.Second

// LLMChecker probes the reasoning LLM service. Critical: planning,
// refinement, and synthesis all run on fallbacks without it, so a node
// that cannot reach it should not take traffic.
type LLMChecker struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewLLMChecker(baseURL string) *LLMChecker {
	return &LLMChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultCheckTimeout},
		timeout: defaultCheckTimeout,
	}
}

func (l *LLMChecker) Name() string           { return "llm_service" }
func (l *LLMChecker) IsCritical() bool       { return true }
func (l *LLMChecker) Timeout() time.Duration { return l.timeout }

func (l *LLMChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: l.Name(),
		Critical:  true,
		Timestamp: start,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	resp, err := l.client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "LLM service unreachable"
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("LLM service returned %d", resp.StatusCode)
		return result
	}
	if result.Duration > time.Second {
		result.Status = StatusDegraded
		result.Message = "LLM service responding with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "LLM service healthy"
	}
	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}
	return result
}

// PoolChecker reports on the agent registry. An empty pool degrades the
// service: orchestrate requests fail until an agent registers.
type PoolChecker struct {
	store *agents.Store
}

func NewPoolChecker(store *agents.Store) *PoolChecker {
	return &PoolChecker{store: store}
}

func (p *PoolChecker) Name() string           { return "agent_pool" }
func (p *PoolChecker) IsCritical() bool       { return false }
func (p *PoolChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (p *PoolChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: p.Name(),
		Timestamp: start,
	}
	n := p.store.Len()
	result.Duration = time.Since(start)
	result.Details = map[string]interface{}{"registered": n}
	if n == 0 {
		result.Status = StatusDegraded
		result.Message = "no agents registered"
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("%d agents registered", n)
	return result
}

// pinger is the optional probe surface a trace sink may expose.
type pinger interface {
	Ping(ctx context.Context) error
}

// SinkChecker probes the trace sink's backing store when the sink
// exposes a ping. Traces are best-effort, so a dead sink only degrades.
type SinkChecker struct {
	sink tracer.Sink
}

func NewSinkChecker(sink tracer.Sink) *SinkChecker {
	return &SinkChecker{sink: sink}
}

func (s *SinkChecker) Name() string           { return "trace_sink" }
func (s *SinkChecker) IsCritical() bool       { return false }
func (s *SinkChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (s *SinkChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: s.Name(),
		Timestamp: start,
	}
	if s.sink == nil {
		result.Status = StatusHealthy
		result.Message = "trace sink disabled"
		result.Duration = time.Since(start)
		return result
	}
	result.Details = map[string]interface{}{"sink": s.sink.Name()}

	p, ok := s.sink.(pinger)
	if !ok {
		result.Status = StatusHealthy
		result.Message = "trace sink configured"
		result.Duration = time.Since(start)
		return result
	}
	err := p.Ping(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "trace sink ping failed"
		return result
	}
	result.Status = StatusHealthy
	result.Message = "trace sink healthy"
	return result
}

// ConfigChecker reports on the hot-reload manager. A failed reload means
// the runtime is serving rule tables from the previously loaded file, so
// the node degrades until a good version lands.
type ConfigChecker struct {
	manager *config.Manager
}

func NewConfigChecker(manager *config.Manager) *ConfigChecker {
	return &ConfigChecker{manager: manager}
}

func (c *ConfigChecker) Name() string           { return "config_reload" }
func (c *ConfigChecker) IsCritical() bool       { return false }
func (c *ConfigChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (c *ConfigChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: c.Name(),
		Timestamp: start,
	}
	if c.manager == nil {
		result.Status = StatusHealthy
		result.Message = "hot reload disabled"
		result.Duration = time.Since(start)
		return result
	}

	at, loadErr := c.manager.LoadStatus()
	result.Duration = time.Since(start)
	if !at.IsZero() {
		result.Details = map[string]interface{}{"last_load": at.Format(time.RFC3339)}
	}
	if loadErr != "" {
		result.Status = StatusDegraded
		result.Error = loadErr
		result.Message = "last config reload failed; previous values remain active"
		return result
	}
	result.Status = StatusHealthy
	result.Message = "config reloads applying cleanly"
	return result
}

// SaturationChecker degrades the service when the number of running
// sessions reaches the in-flight agent budget, signalling the scheduler
// semaphore is queueing.
type SaturationChecker struct {
	current func() int
	limit   int
}

func NewSaturationChecker(current func() int, limit int) *SaturationChecker {
	return &SaturationChecker{current: current, limit: limit}
}

func (c *SaturationChecker) Name() string           { return "saturation" }
func (c *SaturationChecker) IsCritical() bool       { return false }
func (c *SaturationChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (c *SaturationChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: c.Name(),
		Timestamp: start,
	}
	active := c.current()
	result.Duration = time.Since(start)
	result.Details = map[string]interface{}{
		"active_sessions": active,
		"limit":           c.limit,
	}
	if c.limit > 0 && active >= c.limit {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d active sessions at the %d in-flight budget", active, c.limit)
		return result
	}
	result.Status = StatusHealthy
	result.Message = "capacity available"
	return result
}
