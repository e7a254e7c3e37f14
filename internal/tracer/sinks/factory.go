package sinks

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/config"
	"github.com/maestrolab/maestro/internal/tracer"
)

// FromConfig builds the configured sink. Kind "none" or empty returns
// nil without error, meaning traces stay in memory only.
func FromConfig(cfg config.SinkConfig, logger *zap.Logger) (tracer.Sink, error) {
	switch cfg.Kind {
	case "", config.SinkNone:
		return nil, nil
	case config.SinkPostgres:
		return NewPostgres(cfg.DSN, logger)
	case config.SinkRedis:
		return NewRedis(cfg.Addr, cfg.Password, cfg.DB, cfg.TTL, logger)
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
	}
}
