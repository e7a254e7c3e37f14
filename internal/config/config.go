// Package config loads the runtime configuration and keeps the
// rule-table subset of it hot-reloadable.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "config/maestro.yaml"

// Sink kinds for completed-trace export.
const (
	SinkNone     = "none"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
)

// Config is the full runtime configuration. Everything has a default;
// a missing config file yields a usable runtime.
type Config struct {
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`

	LLMServiceURL     string `mapstructure:"llm_service_url"`
	OrchestratorModel string `mapstructure:"orchestrator_model"`

	// Rule tables. These reload at runtime; everything else needs a
	// restart.
	MultiAgentKeywords     []string            `mapstructure:"multi_agent_keywords"`
	TechnicalMarkers       []string            `mapstructure:"technical_markers"`
	CreativeMarkers        []string            `mapstructure:"creative_markers"`
	AnalyticalMarkers      []string            `mapstructure:"analytical_markers"`
	MinAgentScoreThreshold float64             `mapstructure:"min_agent_score_threshold"`
	CapabilityDependencies map[string][]string `mapstructure:"capability_dependencies"`
	SynthesizeOnPartial    bool                `mapstructure:"synthesize_on_partial"`

	MaxConcurrency    int `mapstructure:"max_concurrency"`
	MaxInFlightAgents int `mapstructure:"max_in_flight_agents"`

	AgentExecutionTimeout time.Duration `mapstructure:"agent_execution_timeout"`
	PlanningTimeout       time.Duration `mapstructure:"planning_timeout"`
	RefinementTimeout     time.Duration `mapstructure:"refinement_timeout"`
	SynthesisTimeout      time.Duration `mapstructure:"synthesis_timeout"`

	PlanCacheSize  int     `mapstructure:"plan_cache_size"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	Sink    SinkConfig    `mapstructure:"sink"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// SinkConfig selects the completed-trace export target.
type SinkConfig struct {
	Kind     string        `mapstructure:"kind"`
	DSN      string        `mapstructure:"dsn"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TracingConfig controls OTLP span export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// DefaultMultiAgentKeywords are the connective markers that promote a
// plan to multi_agent.
func DefaultMultiAgentKeywords() []string {
	return []string{
		"and then",
		"then use that to",
		"then create",
		"then write",
		"and create",
		"and write",
		"and generate",
	}
}

func defaultTechnicalMarkers() []string {
	return []string{"explain", "technical", "architecture", "network", "utilization", "system", "debug", "code", "configure", "deploy"}
}

func defaultCreativeMarkers() []string {
	return []string{"poem", "story", "write", "creative", "humorous", "song", "joke", "haiku", "imagine"}
}

func defaultAnalyticalMarkers() []string {
	return []string{"analyze", "analysis", "compare", "evaluate", "assess", "data", "metrics", "report", "statistics"}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("metrics_port", 2112)
	v.SetDefault("log_level", "info")
	v.SetDefault("llm_service_url", "http://localhost:8000")
	v.SetDefault("orchestrator_model", "reasoning-default")
	v.SetDefault("multi_agent_keywords", DefaultMultiAgentKeywords())
	v.SetDefault("technical_markers", defaultTechnicalMarkers())
	v.SetDefault("creative_markers", defaultCreativeMarkers())
	v.SetDefault("analytical_markers", defaultAnalyticalMarkers())
	v.SetDefault("min_agent_score_threshold", 0.3)
	v.SetDefault("capability_dependencies", map[string][]string{})
	v.SetDefault("synthesize_on_partial", true)
	v.SetDefault("max_concurrency", 5)
	v.SetDefault("max_in_flight_agents", 64)
	v.SetDefault("agent_execution_timeout", "120s")
	v.SetDefault("planning_timeout", "60s")
	v.SetDefault("refinement_timeout", "30s")
	v.SetDefault("synthesis_timeout", "60s")
	v.SetDefault("plan_cache_size", 512)
	v.SetDefault("rate_limit_rps", 50)
	v.SetDefault("rate_limit_burst", 100)
	v.SetDefault("sink.kind", SinkNone)
	v.SetDefault("sink.ttl", "24h")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "maestro")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// Load reads the config file named by CONFIG_PATH (default
// config/maestro.yaml) with MAESTRO_* environment overrides. A missing
// file is not an error.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile reads a specific config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MAESTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the runtime cannot start with.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d out of range", c.HTTPPort)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port %d out of range", c.MetricsPort)
	}
	if c.MinAgentScoreThreshold < 0 || c.MinAgentScoreThreshold > 1 {
		return fmt.Errorf("min_agent_score_threshold %v must be within [0,1]", c.MinAgentScoreThreshold)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1")
	}
	if c.MaxInFlightAgents < c.MaxConcurrency {
		return fmt.Errorf("max_in_flight_agents %d must not be below max_concurrency %d",
			c.MaxInFlightAgents, c.MaxConcurrency)
	}
	if c.AgentExecutionTimeout <= 0 {
		return fmt.Errorf("agent_execution_timeout must be positive")
	}
	switch c.Sink.Kind {
	case "", SinkNone, SinkPostgres, SinkRedis:
	default:
		return fmt.Errorf("unknown sink kind %q", c.Sink.Kind)
	}
	return nil
}

// Clone returns a deep copy for handing out immutable snapshots.
func (c *Config) Clone() *Config {
	cp := *c
	cp.MultiAgentKeywords = append([]string(nil), c.MultiAgentKeywords...)
	cp.TechnicalMarkers = append([]string(nil), c.TechnicalMarkers...)
	cp.CreativeMarkers = append([]string(nil), c.CreativeMarkers...)
	cp.AnalyticalMarkers = append([]string(nil), c.AnalyticalMarkers...)
	if c.CapabilityDependencies != nil {
		cp.CapabilityDependencies = make(map[string][]string, len(c.CapabilityDependencies))
		for k, v := range c.CapabilityDependencies {
			cp.CapabilityDependencies[k] = append([]string(nil), v...)
		}
	}
	return &cp
}
