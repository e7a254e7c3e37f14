package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Runtime holds the live configuration. Current() snapshots are treated
// as immutable by all readers; reloads swap the pointer wholesale.
type Runtime struct {
	mu     sync.RWMutex
	cur    *Config
	logger *zap.Logger
}

// NewRuntime wraps the boot configuration.
func NewRuntime(initial *Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{cur: initial, logger: logger}
}

// Current returns the live configuration snapshot. Callers must not
// mutate it.
func (r *Runtime) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

// Bind subscribes the runtime to reloads of the given config file. Only
// the rule-table keys are applied; structural settings keep their boot
// values until restart.
func (r *Runtime) Bind(mgr *Manager, configPath string) {
	filename := filepath.Base(configPath)
	mgr.RegisterValidator(filename, validateRuleTables)
	mgr.RegisterHandler(filename, func(event ChangeEvent) error {
		if event.Action == "delete" {
			return nil // keep last known good rules
		}
		return r.applyRuleTables(event.Config)
	})
}

// applyRuleTables merges the hot keys from a raw config map into a fresh
// snapshot and swaps it in.
func (r *Runtime) applyRuleTables(raw map[string]interface{}) error {
	r.mu.RLock()
	next := r.cur.Clone()
	r.mu.RUnlock()

	if v, ok := raw["multi_agent_keywords"]; ok {
		next.MultiAgentKeywords = toStringSlice(v)
	}
	if v, ok := raw["technical_markers"]; ok {
		next.TechnicalMarkers = toStringSlice(v)
	}
	if v, ok := raw["creative_markers"]; ok {
		next.CreativeMarkers = toStringSlice(v)
	}
	if v, ok := raw["analytical_markers"]; ok {
		next.AnalyticalMarkers = toStringSlice(v)
	}
	if v, ok := raw["min_agent_score_threshold"]; ok {
		if f, ok := toFloat(v); ok {
			next.MinAgentScoreThreshold = f
		}
	}
	if v, ok := raw["capability_dependencies"]; ok {
		next.CapabilityDependencies = toStringSliceMap(v)
	}
	if v, ok := raw["synthesize_on_partial"]; ok {
		if b, ok := v.(bool); ok {
			next.SynthesizeOnPartial = b
		}
	}

	if err := next.Validate(); err != nil {
		return fmt.Errorf("rejected hot reload: %w", err)
	}

	r.mu.Lock()
	r.cur = next
	r.mu.Unlock()

	r.logger.Info("Rule tables reloaded",
		zap.Int("multi_agent_keywords", len(next.MultiAgentKeywords)),
		zap.Float64("min_agent_score_threshold", next.MinAgentScoreThreshold),
		zap.Int("capability_dependencies", len(next.CapabilityDependencies)),
	)
	return nil
}

// validateRuleTables rejects reloads whose hot keys are malformed before
// they reach the runtime.
func validateRuleTables(raw map[string]interface{}) error {
	if v, ok := raw["min_agent_score_threshold"]; ok {
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("min_agent_score_threshold is not numeric")
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("min_agent_score_threshold %v must be within [0,1]", f)
		}
	}
	if v, ok := raw["capability_dependencies"]; ok {
		if _, isMap := v.(map[string]interface{}); !isMap {
			return fmt.Errorf("capability_dependencies must be a map")
		}
	}
	return nil
}

func toStringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return append([]string(nil), vals...)
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toStringSliceMap(v interface{}) map[string][]string {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(raw))
	for k, item := range raw {
		out[k] = toStringSlice(item)
	}
	return out
}
