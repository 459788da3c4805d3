// Package pgstore is the Postgres record store.
//
// It mirrors the SQLite store: record tables grow a column per new field and
// writes are upserts on the key fields. Postgres columns need a type, so every
// record column is TEXT and values are stored in their text form. Run reports
// keep their native types.
package pgstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/botsync/internal/record"
	"github.com/roach88/botsync/internal/store"
)

const runReportsDDL = `
CREATE TABLE IF NOT EXISTS run_reports (
	run_id      TEXT PRIMARY KEY,
	bot         TEXT NOT NULL,
	status      TEXT NOT NULL,
	updated     INTEGER NOT NULL DEFAULT 0,
	output      TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_reports_bot ON run_reports (bot, started_at);
`

// Store is a Postgres-backed record store.
type Store struct {
	pool *pgxpool.Pool
}

type options struct {
	maxConns   int
	viaBouncer bool
}

// Option configures Open.
type Option func(*options)

// WithMaxConns caps the pool size. Non-positive values keep the default of 2.
func WithMaxConns(n int) Option {
	return func(o *options) { o.maxConns = n }
}

// WithBouncer switches to the simple protocol for transaction-pooling proxies.
func WithBouncer() Option {
	return func(o *options) { o.viaBouncer = true }
}

// Open connects to dsn and creates the run_reports table.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := options{maxConns: 2}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxConns <= 0 {
		o.maxConns = 2
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = int32(o.maxConns)
	if o.viaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, runReportsDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Select runs "SELECT " + query. Placeholders are written as ? and rebound.
func (s *Store) Select(ctx context.Context, query string, args ...any) ([]record.Record, error) {
	rows, err := s.pool.Query(ctx, Rebind("SELECT "+query), args...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []record.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("select: scan: %w", err)
		}
		rec := make(record.Record, len(fields))
		for i, f := range fields {
			rec[f.Name] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return out, nil
}

// TableExists reports whether table exists in the current schema.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", table, err)
	}
	return exists, nil
}

// Columns returns the column names of table sorted by name.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY column_name`, table)
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}
	return cols, nil
}

// AddColumn adds a TEXT column to table.
func (s *Store) AddColumn(ctx context.Context, table, column string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", store.QuoteIdent(table), store.QuoteIdent(column))
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// InsertOrUpdate upserts rec into table, creating the table and any missing
// columns first.
func (s *Store) InsertOrUpdate(ctx context.Context, table string, keys []string, rec record.Record) error {
	cols, err := store.UpsertColumns(keys, rec)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}

	args := make([]any, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		if args[i], err = TextValue(rec[c]); err != nil {
			return fmt.Errorf("insert into %s: column %s: %w", table, c, err)
		}
		marks[i] = "$" + strconv.Itoa(i+1)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert into %s: begin: %w", table, err)
	}
	defer tx.Rollback(ctx)

	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = store.QuoteIdent(c) + " TEXT"
	}
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", store.QuoteIdent(table), strings.Join(defs, ", ")),
		store.KeyIndexSQL(table, keys),
	}
	for _, c := range cols {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TEXT",
			store.QuoteIdent(table), store.QuoteIdent(c)))
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}

	if _, err := tx.Exec(ctx, store.UpsertSQL(table, keys, cols, marks), args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("insert into %s: commit: %w", table, err)
	}
	return nil
}

// SaveRunReport records a run, replacing any earlier report with the same id.
func (s *Store) SaveRunReport(ctx context.Context, r store.RunReport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_reports
		(run_id, bot, status, updated, output, started_at, finished_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			status = excluded.status,
			updated = excluded.updated,
			output = excluded.output,
			finished_at = excluded.finished_at`,
		r.RunID, r.Bot, r.Status, r.Updated, r.Output, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save run report: %w", err)
	}
	return nil
}

// RunReports returns the most recent reports for bot, newest first.
func (s *Store) RunReports(ctx context.Context, bot string, limit int) ([]store.RunReport, error) {
	query := `
		SELECT run_id, bot, status, updated, COALESCE(output, ''), started_at, finished_at
		FROM run_reports WHERE bot = $1
		ORDER BY started_at DESC, run_id DESC`
	args := []any{bot}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("run reports: %w", err)
	}
	reports, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.RunReport, error) {
		var r store.RunReport
		err := row.Scan(&r.RunID, &r.Bot, &r.Status, &r.Updated, &r.Output, &r.StartedAt, &r.FinishedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("run reports: %w", err)
	}
	return reports, nil
}

// TextValue converts a storage-encoded value to the text stored in a TEXT column.
func TextValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case time.Time:
		return record.FormatTime(x), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return nil, fmt.Errorf("value not storage-encoded: %T", v)
	}
}

// Rebind rewrites ? placeholders as $1, $2, ... leaving quoted text alone.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
