package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/botsync/internal/record"
)

// ErrMissingKey is returned when a record lacks one of the key fields.
var ErrMissingKey = errors.New("record missing key field")

// InsertOrUpdate writes rec into table, replacing any row with the same key
// values. The table is created on first use and gains a column for every
// field not seen before. Values must already be storage-encoded.
func (s *Store) InsertOrUpdate(ctx context.Context, table string, keys []string, rec record.Record) error {
	cols, err := UpsertColumns(keys, rec)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert into %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	if err := ensureTable(ctx, tx, table, keys, cols); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = rec[c]
	}
	if _, err := tx.ExecContext(ctx, UpsertSQL(table, keys, cols, placeholders(len(cols))), args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert into %s: commit: %w", table, err)
	}
	return nil
}

// AddColumn adds an untyped column to table.
func (s *Store) AddColumn(ctx context.Context, table, column string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QuoteIdent(table), QuoteIdent(column))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// ensureTable creates table with its key index, then adds missing columns.
func ensureTable(ctx context.Context, tx *sql.Tx, table string, keys, cols []string) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = QuoteIdent(c)
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", QuoteIdent(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, KeyIndexSQL(table, keys)); err != nil {
		return fmt.Errorf("create key index: %w", err)
	}

	existing, err := tableColumns(ctx, tx, table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if existing[c] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QuoteIdent(table), QuoteIdent(c))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", c, err)
		}
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func tableColumns(ctx context.Context, q queryer, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid      int
			name     string
			ctype    string
			notNull  int
			dflt     sql.NullString
			pkMember int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pkMember); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// UpsertColumns returns the column list for writing rec: key fields first in
// the given order, then the remaining fields sorted by name.
func UpsertColumns(keys []string, rec record.Record) ([]string, error) {
	if len(keys) == 0 {
		return nil, errors.New("no key fields")
	}
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := rec[k]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, k)
		}
		isKey[k] = true
	}

	rest := make([]string, 0, len(rec))
	for c := range rec {
		if !isKey[c] {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)
	return append(append([]string{}, keys...), rest...), nil
}

// UpsertSQL renders an INSERT ... ON CONFLICT statement. marks holds the
// placeholder for each column, which lets Postgres reuse it with $n.
func UpsertSQL(table string, keys, cols, marks []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
	}
	quotedKeys := make([]string, len(keys))
	for i, k := range keys {
		quotedKeys[i] = QuoteIdent(k)
	}

	var sets []string
	for _, c := range cols[len(keys):] {
		q := QuoteIdent(c)
		sets = append(sets, q+" = excluded."+q)
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		QuoteIdent(table),
		strings.Join(quoted, ", "),
		strings.Join(marks, ", "),
		strings.Join(quotedKeys, ", "),
		action,
	)
}

// KeyIndexSQL renders the UNIQUE index that backs upserts on table.
func KeyIndexSQL(table string, keys []string) string {
	quotedKeys := make([]string, len(keys))
	for i, k := range keys {
		quotedKeys[i] = QuoteIdent(k)
	}
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		QuoteIdent("idx_"+table+"_key"),
		QuoteIdent(table),
		strings.Join(quotedKeys, ", "),
	)
}

// QuoteIdent quotes a table or column name for SQL.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func placeholders(n int) []string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = "?"
	}
	return marks
}
