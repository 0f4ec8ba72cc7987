package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pilot-net/cachet-agent/db/migrate"
	"github.com/pilot-net/cachet-agent/pkg/types"
)

// PostgresRecorder writes results to PostgreSQL.
type PostgresRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRecorder connects, applies the history schema and returns the
// recorder.
func NewPostgresRecorder(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if err := migrate.Run(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}

	logger.Info("history store connected", "backend", "postgres")
	return &PostgresRecorder{pool: pool, logger: logger}, nil
}

// Record inserts the result and updates the component's latest row.
func (p *PostgresRecorder) Record(ctx context.Context, r types.CheckResult) error {
	cycleID, err := uuid.Parse(r.CycleID)
	if err != nil {
		return fmt.Errorf("invalid cycle id %q: %w", r.CycleID, err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO check_results (
			cycle_id, component_id, group_name, component, kind, status,
			description, checked_at, duration_ms, probe_error, report_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, cycleID, r.ComponentID, r.Group, r.Component, r.Kind, r.Status.String(),
		r.Description, r.CheckedAt, durationMS(r.Duration), nullable(r.ProbeError), nullable(r.ReportError))
	if err != nil {
		return fmt.Errorf("inserting check result: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO component_latest (component_id, group_name, component, status, description, checked_at, reported)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (component_id) DO UPDATE SET
			group_name = EXCLUDED.group_name,
			component = EXCLUDED.component,
			status = EXCLUDED.status,
			description = EXCLUDED.description,
			checked_at = EXCLUDED.checked_at,
			reported = EXCLUDED.reported
	`, r.ComponentID, r.Group, r.Component, r.Status.String(), r.Description, r.CheckedAt, r.Reported())
	if err != nil {
		return fmt.Errorf("updating latest result: %w", err)
	}

	return tx.Commit(ctx)
}

// Recent returns up to limit results for the component, newest first.
func (p *PostgresRecorder) Recent(ctx context.Context, componentID int, limit int) ([]types.CheckResult, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.pool.Query(ctx, `
		SELECT cycle_id::text, component_id, group_name, component, kind, status,
		       description, checked_at, duration_ms,
		       COALESCE(probe_error, ''), COALESCE(report_error, '')
		FROM check_results
		WHERE component_id = $1
		ORDER BY checked_at DESC, id DESC
		LIMIT $2
	`, componentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying check results: %w", err)
	}
	defer rows.Close()

	var out []types.CheckResult
	for rows.Next() {
		var (
			r      types.CheckResult
			status string
			ms     float64
		)
		if err := rows.Scan(&r.CycleID, &r.ComponentID, &r.Group, &r.Component, &r.Kind, &status,
			&r.Description, &r.CheckedAt, &ms, &r.ProbeError, &r.ReportError); err != nil {
			return nil, fmt.Errorf("scanning check result: %w", err)
		}
		if err := r.Status.UnmarshalText([]byte(status)); err != nil {
			p.logger.Warn("unknown status in history", "status", status, "error", err)
		}
		r.Duration = time.Duration(ms * float64(time.Millisecond))
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresRecorder) Backend() string { return "postgres" }

func (p *PostgresRecorder) Close() error {
	p.pool.Close()
	return nil
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
