// Command maestro runs the multi-agent orchestration service: an HTTP
// API that plans queries, matches registered worker agents, executes
// them under the configured strategy, and serves the resulting traces.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/maestrolab/maestro/internal/agents"
	"github.com/maestrolab/maestro/internal/circuitbreaker"
	"github.com/maestrolab/maestro/internal/config"
	"github.com/maestrolab/maestro/internal/health"
	"github.com/maestrolab/maestro/internal/httpapi"
	"github.com/maestrolab/maestro/internal/llm"
	"github.com/maestrolab/maestro/internal/orchestrator"
	"github.com/maestrolab/maestro/internal/planner"
	"github.com/maestrolab/maestro/internal/refine"
	"github.com/maestrolab/maestro/internal/scheduler"
	"github.com/maestrolab/maestro/internal/streaming"
	"github.com/maestrolab/maestro/internal/synthesis"
	"github.com/maestrolab/maestro/internal/tracer"
	"github.com/maestrolab/maestro/internal/tracer/sinks"
	"github.com/maestrolab/maestro/internal/tracing"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.DefaultPath
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// Trace sink. Kind "none" leaves traces in memory only.
	sink, err := sinks.FromConfig(cfg.Sink, logger)
	if err != nil {
		logger.Fatal("Failed to initialize trace sink", zap.Error(err))
	}

	stream := streaming.NewManager(0)
	traceOpts := []tracer.Option{
		tracer.WithStream(stream),
		tracer.WithEvictHook(stream.Forget),
	}
	if sink != nil {
		traceOpts = append(traceOpts, tracer.WithSink(sink))
	}
	tr := tracer.New(logger, traceOpts...)

	store := agents.NewStore(logger)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), logger)
	invoker := agents.NewHTTPInvoker(breakers, logger)

	llmClient := llm.NewHTTPClient(cfg.LLMServiceURL, cfg.OrchestratorModel, llmCeiling(cfg), logger)
	plannerSvc := planner.New(llmClient, cfg.OrchestratorModel, cfg.PlanCacheSize, logger)
	refiner := refine.NewEngine(llmClient, cfg.OrchestratorModel, cfg.RefinementTimeout, logger)
	synth := synthesis.New(llmClient, cfg.OrchestratorModel, cfg.SynthesisTimeout, logger)

	sched := scheduler.New(invoker, refiner, tr, scheduler.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		MaxInFlight:    cfg.MaxInFlightAgents,
		AgentTimeout:   cfg.AgentExecutionTimeout,
	}, logger)

	runtime := config.NewRuntime(cfg, logger)
	orch := orchestrator.New(orchestrator.Deps{
		Planner:     plannerSvc,
		Scheduler:   sched,
		Synthesizer: synth,
		Store:       store,
		Tracer:      tr,
		Runtime:     runtime,
		Logger:      logger,
	})

	// Hot reload of the rule tables. Losing the watcher degrades to
	// restart-only config, so failures only warn.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	var mgr *config.Manager
	if m, err := config.NewManager(filepath.Dir(configPath), logger); err != nil {
		logger.Warn("Config manager init failed", zap.Error(err))
	} else {
		runtime.Bind(m, configPath)
		if err := m.Start(rootCtx); err != nil {
			logger.Warn("Config manager start failed", zap.Error(err))
		} else {
			defer m.Stop()
			mgr = m
		}
	}

	hm := health.NewManager(logger)
	checkers := []health.Checker{
		health.NewLLMChecker(cfg.LLMServiceURL),
		health.NewPoolChecker(store),
		health.NewSinkChecker(sink),
		health.NewConfigChecker(mgr),
		health.NewSaturationChecker(orch.ActiveSessions, cfg.MaxInFlightAgents),
	}
	for _, c := range checkers {
		if err := hm.Register(c); err != nil {
			logger.Warn("Register health checker", zap.Error(err))
		}
	}

	// Prometheus scrape endpoint on the admin port.
	adminMux := http.NewServeMux()
	adminMux.Handle("GET /metrics", promhttp.Handler())
	adminServer := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.MetricsPort),
		Handler:     adminMux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Admin server listening", zap.Int("port", cfg.MetricsPort))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Admin server failed", zap.Error(err))
		}
	}()

	api := httpapi.NewServer(httpapi.Deps{
		Orchestrator: orch,
		Planner:      plannerSvc,
		Store:        store,
		Tracer:       tr,
		Stream:       stream,
		Health:       hm,
		Runtime:      runtime,
		Logger:       logger,
	})
	apiServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE/streaming support
		IdleTimeout:  300 * time.Second,
	}
	go func() {
		logger.Info("Maestro API listening",
			zap.Int("port", cfg.HTTPPort),
			zap.String("llm_service", cfg.LLMServiceURL),
			zap.String("sink", cfg.Sink.Kind))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server forced to shut down", zap.Error(err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server forced to shut down", zap.Error(err))
	}

	// Flush pending trace exports before the sink goes away.
	tr.Close()
	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Warn("Close trace sink", zap.Error(err))
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Flush spans", zap.Error(err))
	}
	logger.Info("Maestro stopped")
}

// llmCeiling is the reasoning-LLM transport timeout: the longest of the
// per-stage budgets, so no stage is clipped below its own deadline.
func llmCeiling(cfg *config.Config) time.Duration {
	ceiling := cfg.PlanningTimeout
	if cfg.RefinementTimeout > ceiling {
		ceiling = cfg.RefinementTimeout
	}
	if cfg.SynthesisTimeout > ceiling {
		ceiling = cfg.SynthesisTimeout
	}
	return ceiling
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
