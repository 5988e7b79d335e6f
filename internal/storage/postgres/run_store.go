// Package postgres keeps the history of pipeline runs in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
	Timeout         time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RunStore writes one row per run summary.
type RunStore struct {
	pool    queryExecCloser
	table   string
	timeout time.Duration
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRunStoreWithPool(pool, cfg.Table, cfg.Timeout)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool queryExecCloser, table string, timeout time.Duration) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "gazette_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RunStore{pool: pool, table: table, timeout: timeout}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id text PRIMARY KEY,
	publication_date date NOT NULL,
	trigger text NOT NULL,
	status text NOT NULL,
	started_at timestamptz NOT NULL,
	finished_at timestamptz NOT NULL,
	summary jsonb NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// Record inserts a run summary. Recording the same run twice keeps the latest.
func (s *RunStore) Record(ctx context.Context, summary gazette.RunSummary) error {
	if summary.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, publication_date, trigger, status, started_at, finished_at, summary)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (run_id) DO UPDATE
SET status = EXCLUDED.status, finished_at = EXCLUDED.finished_at, summary = EXCLUDED.summary`, s.table)
	args := []any{
		summary.RunID,
		summary.Date.In(time.UTC),
		string(summary.Trigger),
		string(summary.Status),
		summary.StartedAt,
		summary.FinishedAt,
		payload,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *RunStore) Recent(ctx context.Context, limit int) ([]gazette.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	query := fmt.Sprintf(`SELECT summary FROM %s ORDER BY started_at DESC LIMIT $1`, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (gazette.RunSummary, error) {
		var (
			raw []byte
			out gazette.RunSummary
		)
		if err := row.Scan(&raw); err != nil {
			return out, err //nolint:wrapcheck // wrapped below
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("decode run summary: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return runs, nil
}
