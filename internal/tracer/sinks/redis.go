package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/tracer"
)

const (
	redisKeyPrefix = "maestro:trace:"
	redisRecentKey = "maestro:traces:recent"
	redisRecentMax = 1000
)

// Redis keeps each trace under maestro:trace:<session_id> with a TTL and
// maintains a capped recency list of session ids.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects and verifies the connection. ttl <= 0 means the
// trace keys never expire.
func NewRedis(addr, password string, db int, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis sink: %w", err)
	}

	logger.Info("Redis trace sink ready", zap.String("addr", addr), zap.Duration("ttl", ttl))
	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

// Export stores the trace JSON and pushes its id onto the recency list.
func (r *Redis) Export(ctx context.Context, trace *tracer.ConversationTrace) error {
	payload, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	key := redisKeyPrefix + trace.SessionID
	if err := r.client.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("store trace %s: %w", trace.SessionID, err)
	}

	pipe := r.client.Pipeline()
	pipe.LPush(ctx, redisRecentKey, trace.SessionID)
	pipe.LTrim(ctx, redisRecentKey, 0, redisRecentMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index trace %s: %w", trace.SessionID, err)
	}
	return nil
}

func (r *Redis) Name() string { return "redis" }

// Ping reports connectivity for the readiness check.
func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }
