// Package sinks provides completed-trace exporters: Postgres for durable
// history and Redis for TTL-bounded recent traces. The tracer owns the
// async queue; sinks only perform the write.
package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/tracer"
)

const traceSchema = `
CREATE TABLE IF NOT EXISTS orchestration_traces (
	session_id         TEXT PRIMARY KEY,
	query              TEXT NOT NULL,
	strategy           TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	success            BOOLEAN NOT NULL,
	final_response     TEXT NOT NULL DEFAULT '',
	events             JSONB NOT NULL DEFAULT '[]',
	handoffs           JSONB NOT NULL DEFAULT '[]',
	agents_involved    JSONB NOT NULL DEFAULT '[]',
	context_evolution  JSONB NOT NULL DEFAULT '[]',
	start_time         TIMESTAMPTZ NOT NULL,
	end_time           TIMESTAMPTZ,
	total_execution_ms BIGINT NOT NULL DEFAULT 0,
	exported_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_orchestration_traces_start_time
	ON orchestration_traces (start_time DESC);
`

const upsertTrace = `
INSERT INTO orchestration_traces (
	session_id, query, strategy, status, success, final_response,
	events, handoffs, agents_involved, context_evolution,
	start_time, end_time, total_execution_ms, exported_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
ON CONFLICT (session_id) DO UPDATE SET
	strategy = EXCLUDED.strategy,
	status = EXCLUDED.status,
	success = EXCLUDED.success,
	final_response = EXCLUDED.final_response,
	events = EXCLUDED.events,
	handoffs = EXCLUDED.handoffs,
	agents_involved = EXCLUDED.agents_involved,
	context_evolution = EXCLUDED.context_evolution,
	end_time = EXCLUDED.end_time,
	total_execution_ms = EXCLUDED.total_execution_ms,
	exported_at = now()`

// Postgres writes each completed trace as one upserted row. Re-exports
// of the same session overwrite the previous row.
type Postgres struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgres connects, verifies the connection, and ensures the trace
// table exists.
func NewPostgres(dsn string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres sink: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres sink: %w", err)
	}

	p := &Postgres{db: db, logger: logger}
	if err := p.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Postgres trace sink ready")
	return p, nil
}

// newPostgresWithDB wires an existing handle, for tests.
func newPostgresWithDB(db *sqlx.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, traceSchema); err != nil {
		return fmt.Errorf("ensure trace schema: %w", err)
	}
	return nil
}

// Export upserts the trace row, marshaling the nested structures to JSONB.
func (p *Postgres) Export(ctx context.Context, trace *tracer.ConversationTrace) error {
	events, err := json.Marshal(trace.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	handoffs, err := json.Marshal(trace.Handoffs)
	if err != nil {
		return fmt.Errorf("marshal handoffs: %w", err)
	}
	agents, err := json.Marshal(trace.AgentsInvolved)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	evolution, err := json.Marshal(trace.ContextEvolution)
	if err != nil {
		return fmt.Errorf("marshal context evolution: %w", err)
	}

	_, err = p.db.ExecContext(ctx, upsertTrace,
		trace.SessionID,
		trace.Query,
		trace.Strategy,
		trace.Status,
		trace.Success,
		trace.FinalResponse,
		events,
		handoffs,
		agents,
		evolution,
		trace.StartTime,
		trace.EndTime,
		trace.TotalExecutionMS,
	)
	if err != nil {
		return fmt.Errorf("upsert trace %s: %w", trace.SessionID, err)
	}
	return nil
}

func (p *Postgres) Name() string { return "postgres" }

// Ping reports database reachability for the readiness check.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }
