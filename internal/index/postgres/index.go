// Package postgres implements the document index on Postgres full-text search.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/retry"
	"github.com/JakeFAU/gazette-watch/internal/textsearch"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLSTATEs worth another attempt: serialization failure, deadlock, lock timeout.
var retryableCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

// Config controls the Postgres connection pool and query behavior.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Timeout bounds every index call.
	Timeout     time.Duration
	MaxAttempts int
	Window      int
	Links       gazette.LinkBuilder
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Index stores pages in a table with a generated tsvector column.
type Index struct {
	pool    pool
	table   string
	timeout time.Duration
	window  int
	links   gazette.LinkBuilder
	retry   *retry.Policy
}

// New connects to Postgres and returns an Index.
func New(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("index.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	idx, err := NewWithPool(p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	return idx, nil
}

// NewWithPool constructs an Index from an existing pool (primarily for testing).
func NewWithPool(p pool, cfg Config) (*Index, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table := cfg.Table
	if table == "" {
		table = "gazette_pages"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	window := cfg.Window
	if window <= 0 {
		window = textsearch.DefaultWindow
	}
	links := cfg.Links
	if links.ViewerURL == "" {
		links = gazette.NewLinkBuilder("", 0)
	}
	policy := retry.NewExponential(cfg.MaxAttempts)
	policy.Retryable = isRetryable
	return &Index{
		pool:    p,
		table:   table,
		timeout: timeout,
		window:  window,
		links:   links,
		retry:   policy,
	}, nil
}

// EnsureSchema creates the pages table and its GIN index when missing.
func (i *Index) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	publication_date date NOT NULL,
	page_number integer NOT NULL CHECK (page_number > 0),
	content text NOT NULL,
	search_text text NOT NULL,
	search_vector tsvector GENERATED ALWAYS AS (to_tsvector('simple', search_text)) STORED,
	indexed_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (publication_date, page_number)
)`, i.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_search_idx ON %[1]s USING GIN (search_vector)`, i.table),
	}
	for _, stmt := range statements {
		if _, err := i.pool.Exec(ctx, stmt); err != nil {
			return &gazette.IndexIOError{Op: "ensure_schema", Err: err}
		}
	}
	return nil
}

// Ping checks that the database answers.
func (i *Index) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	if err := i.pool.Ping(ctx); err != nil {
		return &gazette.IndexIOError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the pool.
func (i *Index) Close() error {
	if i == nil || i.pool == nil {
		return nil
	}
	i.pool.Close()
	return nil
}

// Upsert writes pages in one transaction. Each date present in pages ends up
// holding exactly the supplied pages.
func (i *Index) Upsert(ctx context.Context, pages []gazette.Page) error {
	if len(pages) == 0 {
		return nil
	}
	byDate := make(map[civil.Date][]int)
	var order []civil.Date
	for _, pg := range pages {
		if pg.PageNumber <= 0 {
			return &gazette.IndexIOError{Op: "upsert", Err: fmt.Errorf("page number must be > 0, got %d", pg.PageNumber)}
		}
		if _, seen := byDate[pg.PublicationDate]; !seen {
			order = append(order, pg.PublicationDate)
		}
		byDate[pg.PublicationDate] = append(byDate[pg.PublicationDate], pg.PageNumber)
	}

	err := retry.Do(ctx, i.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, i.timeout)
		defer cancel()
		return i.upsertTx(ctx, pages, order, byDate)
	})
	if err != nil {
		return &gazette.IndexIOError{Op: "upsert", Err: err}
	}
	return nil
}

func (i *Index) upsertTx(ctx context.Context, pages []gazette.Page, order []civil.Date, byDate map[civil.Date][]int) (err error) {
	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback upsert: %w", rbErr))
		}
	}()

	insert := fmt.Sprintf(`
INSERT INTO %s (publication_date, page_number, content, search_text)
VALUES ($1, $2, $3, $4)
ON CONFLICT (publication_date, page_number) DO UPDATE
SET content = EXCLUDED.content, search_text = EXCLUDED.search_text, indexed_at = now()`, i.table)
	for _, pg := range pages {
		args := []any{dateArg(pg.PublicationDate), pg.PageNumber, pg.Content, textsearch.SearchText(pg.Content)}
		if _, err := tx.Exec(ctx, insert, args...); err != nil {
			return fmt.Errorf("insert page %d: %w", pg.PageNumber, err)
		}
	}

	prune := fmt.Sprintf(`DELETE FROM %s WHERE publication_date = $1 AND page_number <> ALL($2)`, i.table)
	for _, date := range order {
		if _, err := tx.Exec(ctx, prune, dateArg(date), byDate[date]); err != nil {
			return fmt.Errorf("prune pages for %s: %w", date, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	committed = true
	return nil
}

// HasContent reports whether any page exists for date.
func (i *Index) HasContent(ctx context.Context, date civil.Date) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE publication_date = $1)`, i.table)
	var exists bool
	if err := i.pool.QueryRow(ctx, query, dateArg(date)).Scan(&exists); err != nil {
		return false, &gazette.IndexIOError{Op: "has_content", Err: err}
	}
	return exists, nil
}

// Search narrows candidates with the GIN index, then confirms each page and
// builds its excerpt with the shared tokenizer so every backend agrees.
func (i *Index) Search(ctx context.Context, date civil.Date, term gazette.Term) ([]gazette.Highlight, error) {
	q, err := textsearch.Compile(term)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	tsquery := "plainto_tsquery"
	if q.Exact {
		tsquery = "phraseto_tsquery"
	}
	query := fmt.Sprintf(`
SELECT page_number, content FROM %s
WHERE publication_date = $1 AND search_vector @@ %s('simple', $2)
ORDER BY page_number`, i.table, tsquery)

	rows, err := i.pool.Query(ctx, query, dateArg(date), strings.Join(q.Tokens, " "))
	if err != nil {
		return nil, &gazette.IndexIOError{Op: "search", Err: err}
	}
	defer rows.Close()

	var highlights []gazette.Highlight
	for rows.Next() {
		var (
			number  int
			content string
		)
		if err := rows.Scan(&number, &content); err != nil {
			return nil, &gazette.IndexIOError{Op: "search", Err: fmt.Errorf("scan page: %w", err)}
		}
		tokens := textsearch.Tokenize(content)
		if len(q.Find(tokens)) == 0 {
			continue
		}
		highlights = append(highlights, gazette.Highlight{
			Page:     number,
			Content:  textsearch.Excerpt(content, tokens, q, i.window),
			Term:     term.Text,
			PageLink: i.links.PageLink(date, number),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &gazette.IndexIOError{Op: "search", Err: err}
	}
	return highlights, nil
}

func dateArg(date civil.Date) time.Time {
	return date.In(time.UTC)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableCodes[pgErr.Code]
	}
	return false
}
