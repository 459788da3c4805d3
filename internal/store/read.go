package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/botsync/internal/record"
)

// Select runs "SELECT " + query and returns every row as a Record.
// TEXT and BLOB values come back as strings.
func (s *Store) Select(ctx context.Context, query string, args ...any) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+query, args...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("select: columns: %w", err)
	}

	var out []record.Record
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("select: scan: %w", err)
		}

		rec := make(record.Record, len(names))
		for i, name := range names {
			if b, ok := values[i].([]byte); ok {
				rec[name] = string(b)
				continue
			}
			rec[name] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return out, nil
}

// TableExists reports whether table has been created.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", table, err)
	}
	return n > 0, nil
}

// Columns returns the column names of table sorted by name.
// A missing table has no columns.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	set, err := tableColumns(ctx, s.db, table)
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}
	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols, nil
}
