package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 2112, cfg.MetricsPort)
	assert.Equal(t, 0.3, cfg.MinAgentScoreThreshold)
	assert.Equal(t, 5, cfg.MaxConcurrency)
	assert.Equal(t, 64, cfg.MaxInFlightAgents)
	assert.Equal(t, 120*time.Second, cfg.AgentExecutionTimeout)
	assert.Equal(t, 60*time.Second, cfg.PlanningTimeout)
	assert.Equal(t, 30*time.Second, cfg.RefinementTimeout)
	assert.Equal(t, 60*time.Second, cfg.SynthesisTimeout)
	assert.True(t, cfg.SynthesizeOnPartial)
	assert.Equal(t, SinkNone, cfg.Sink.Kind)
	assert.Contains(t, cfg.MultiAgentKeywords, "and then")
	assert.Contains(t, cfg.CreativeMarkers, "poem")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "maestro.yaml")
	content := `
http_port: 9090
min_agent_score_threshold: 0.5
max_concurrency: 3
agent_execution_timeout: 45s
capability_dependencies:
  creative_writing:
    - churn_analysis
sink:
  kind: redis
  addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 0.5, cfg.MinAgentScoreThreshold)
	assert.Equal(t, 3, cfg.MaxConcurrency)
	assert.Equal(t, 45*time.Second, cfg.AgentExecutionTimeout)
	assert.Equal(t, []string{"churn_analysis"}, cfg.CapabilityDependencies["creative_writing"])
	assert.Equal(t, SinkRedis, cfg.Sink.Kind)
	// Defaults still apply for keys the file omits.
	assert.Equal(t, 2112, cfg.MetricsPort)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MAESTRO_HTTP_PORT", "7070")
	t.Setenv("MAESTRO_ORCHESTRATOR_MODEL", "big-reasoner")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTPPort)
	assert.Equal(t, "big-reasoner", cfg.OrchestratorModel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.HTTPPort = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.MinAgentScoreThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.MaxConcurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.MaxInFlightAgents = 2 // below max_concurrency
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Sink.Kind = "mongodb"
	assert.Error(t, cfg.Validate())
}

func TestRuntimeHotReload(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	rt := NewRuntime(cfg, logger)

	mgr, err := NewManager(t.TempDir(), logger)
	require.NoError(t, err)
	rt.Bind(mgr, "maestro.yaml")

	err = mgr.SetConfig("maestro.yaml", map[string]interface{}{
		"min_agent_score_threshold": 0.6,
		"multi_agent_keywords":      []interface{}{"and afterwards"},
		"capability_dependencies": map[string]interface{}{
			"poetry": []interface{}{"weather"},
		},
		"synthesize_on_partial": false,
	})
	require.NoError(t, err)

	// Handlers fire asynchronously.
	require.Eventually(t, func() bool {
		return rt.Current().MinAgentScoreThreshold == 0.6
	}, 2*time.Second, 10*time.Millisecond)

	cur := rt.Current()
	assert.Equal(t, []string{"and afterwards"}, cur.MultiAgentKeywords)
	assert.Equal(t, []string{"weather"}, cur.CapabilityDependencies["poetry"])
	assert.False(t, cur.SynthesizeOnPartial)
	// Cold keys keep boot values.
	assert.Equal(t, 8080, cur.HTTPPort)
}

func TestRuntimeRejectsInvalidReload(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	rt := NewRuntime(cfg, logger)

	mgr, err := NewManager(t.TempDir(), logger)
	require.NoError(t, err)
	rt.Bind(mgr, "maestro.yaml")

	err = mgr.SetConfig("maestro.yaml", map[string]interface{}{
		"min_agent_score_threshold": 7.0,
	})
	require.Error(t, err)
	assert.Equal(t, 0.3, rt.Current().MinAgentScoreThreshold)
}

func TestManagerWatchesFileChanges(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	mgr, err := NewManager(dir, logger)
	require.NoError(t, err)
	require.NoError(t, mgr.Start(t.Context()))
	defer mgr.Stop()

	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_agent_score_threshold: 0.4\n"), 0644))

	require.Eventually(t, func() bool {
		raw, ok := mgr.GetConfig("rules.yaml")
		if !ok {
			return false
		}
		f, ok := toFloat(raw["min_agent_score_threshold"])
		return ok && f == 0.4
	}, 3*time.Second, 20*time.Millisecond)
}

func TestManagerLoadStatus(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	at, loadErr := mgr.LoadStatus()
	assert.True(t, at.IsZero(), "no load attempted yet")
	assert.Empty(t, loadErr)

	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrency: 2\n"), 0644))
	require.NoError(t, mgr.ReloadConfig("rules.yaml"))

	at, loadErr = mgr.LoadStatus()
	assert.False(t, at.IsZero())
	assert.Empty(t, loadErr)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))
	require.Error(t, mgr.ReloadConfig("rules.yaml"))

	_, loadErr = mgr.LoadStatus()
	assert.NotEmpty(t, loadErr)

	// The stored config keeps the last good version.
	raw, ok := mgr.GetConfig("rules.yaml")
	require.True(t, ok)
	assert.Equal(t, 2, raw["max_concurrency"])
}
