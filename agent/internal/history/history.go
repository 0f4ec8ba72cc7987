// Package history keeps a record of check results.
//
// The status page only shows the current state of a component. A Recorder
// keeps what the agent saw over time so outages can be reviewed after the
// fact. Recording is best effort: a failing backend is logged and never
// stops the probe loop.
//
// # Backends
//
//   - none: results are dropped
//   - bolt: a local bbolt file, bounded per component
//   - redis: a capped list per component plus a hash of latest results
//   - postgres: check_results and component_latest tables, migrated on start
package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pilot-net/cachet-agent/agent/internal/config"
	"github.com/pilot-net/cachet-agent/pkg/types"
)

// Recorder stores check results.
type Recorder interface {
	// Record stores one result.
	Record(ctx context.Context, r types.CheckResult) error

	// Recent returns up to limit results for a component, newest first.
	Recent(ctx context.Context, componentID int, limit int) ([]types.CheckResult, error)

	// Backend names the storage, for logs and the status server.
	Backend() string

	Close() error
}

// New creates the recorder selected by cfg.
func New(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "history")

	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "bolt":
		return NewBoltRecorder(cfg.BoltPath, cfg.MaxEntries, logger)
	case "redis":
		return NewRedisRecorder(ctx, cfg.RedisURL, cfg.KeyPrefix, cfg.MaxEntries, logger)
	case "postgres":
		return NewPostgresRecorder(ctx, cfg.PostgresURL, logger)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", cfg.Backend)
	}
}

// Nop drops every result.
type Nop struct{}

func (Nop) Record(context.Context, types.CheckResult) error { return nil }

func (Nop) Recent(context.Context, int, int) ([]types.CheckResult, error) { return nil, nil }

func (Nop) Backend() string { return "none" }

func (Nop) Close() error { return nil }
