// Package postgres reads watcher configurations from the search_configs and
// search_terms tables.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

const (
	selectConfigs = `
SELECT id, label, attach_csv, mail_to, mail_subject, active
FROM search_configs`
	selectTerms = `
SELECT search_config_id, term, exact
FROM search_terms
WHERE search_config_id = ANY($1)
ORDER BY search_config_id, id`
)

type queryCloser interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Registry is a read-only Postgres watcher registry.
type Registry struct {
	pool    queryCloser
	timeout time.Duration
}

// New connects to Postgres and returns a Registry.
func New(ctx context.Context, dsn string, timeout time.Duration) (*Registry, error) {
	if dsn == "" {
		return nil, fmt.Errorf("registry.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, timeout), nil
}

// NewWithPool constructs a Registry from an existing pool (primarily for testing).
func NewWithPool(pool queryCloser, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{pool: pool, timeout: timeout}
}

// Close releases the pool.
func (r *Registry) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// ListActive returns every active watcher with its terms, ordered by ID.
func (r *Registry) ListActive(ctx context.Context) ([]gazette.Watcher, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, selectConfigs+" WHERE active ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list watchers: %w", err)
	}
	watchers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (gazette.Watcher, error) {
		return scanWatcher(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan watchers: %w", err)
	}
	if err := r.attachTerms(ctx, watchers); err != nil {
		return nil, err
	}
	return watchers, nil
}

// Get returns one watcher regardless of its active flag.
func (r *Registry) Get(ctx context.Context, id int64) (gazette.Watcher, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	w, err := scanWatcher(r.pool.QueryRow(ctx, selectConfigs+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return gazette.Watcher{}, fmt.Errorf("watcher %d: %w", id, gazette.ErrWatcherNotFound)
		}
		return gazette.Watcher{}, fmt.Errorf("get watcher %d: %w", id, err)
	}
	watchers := []gazette.Watcher{w}
	if err := r.attachTerms(ctx, watchers); err != nil {
		return gazette.Watcher{}, err
	}
	return watchers[0], nil
}

func (r *Registry) attachTerms(ctx context.Context, watchers []gazette.Watcher) error {
	if len(watchers) == 0 {
		return nil
	}
	ids := make([]int64, len(watchers))
	byID := make(map[int64]int, len(watchers))
	for i, w := range watchers {
		ids[i] = w.ID
		byID[w.ID] = i
	}
	rows, err := r.pool.Query(ctx, selectTerms, ids)
	if err != nil {
		return fmt.Errorf("list terms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			configID int64
			term     gazette.Term
		)
		if err := rows.Scan(&configID, &term.Text, &term.Exact); err != nil {
			return fmt.Errorf("scan term: %w", err)
		}
		if i, ok := byID[configID]; ok {
			watchers[i].Terms = append(watchers[i].Terms, term)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list terms: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWatcher(row scanner) (gazette.Watcher, error) {
	var (
		w      gazette.Watcher
		mailTo string
	)
	if err := row.Scan(&w.ID, &w.Label, &w.AttachExport, &mailTo, &w.Subject, &w.Active); err != nil {
		return gazette.Watcher{}, err //nolint:wrapcheck // callers wrap with context
	}
	if mailTo != "" {
		if err := json.Unmarshal([]byte(mailTo), &w.Recipients); err != nil {
			return gazette.Watcher{}, fmt.Errorf("decode mail_to for watcher %d: %w", w.ID, err)
		}
	}
	return w, nil
}
