// Package stale decides which stored records are due for a refresh.
//
// A record is stale when it has never been retrieved or was last retrieved
// more than Threshold ago. Stale yields never-retrieved identifiers first, in
// store order, then the rest oldest first.
package stale

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/botsync/internal/record"
	"github.com/roach88/botsync/internal/store"
)

// Threshold is the age after which a retrieved record is stale.
const Threshold = 30 * 24 * time.Hour

// Store is the part of the record store the tracker reads.
type Store interface {
	TableExists(ctx context.Context, table string) (bool, error)
	Columns(ctx context.Context, table string) ([]string, error)
	AddColumn(ctx context.Context, table, column string) error
	Select(ctx context.Context, query string, args ...any) ([]record.Record, error)
}

// Tracker lists stale identifiers of one record table.
type Tracker struct {
	store     Store
	table     string
	key       string
	threshold time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTable sets the record table. Default "ocdata".
func WithTable(table string) Option {
	return func(t *Tracker) { t.table = table }
}

// WithPrimaryKey sets the identifier column. Default "uid".
func WithPrimaryKey(key string) Option {
	return func(t *Tracker) { t.key = key }
}

// WithThreshold overrides Threshold.
func WithThreshold(d time.Duration) Option {
	return func(t *Tracker) { t.threshold = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a Tracker over s.
func New(s Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:     s,
		table:     "ocdata",
		key:       record.DefaultPrimaryKey,
		threshold: Threshold,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type candidate struct {
	id string
	at time.Time
}

// Stale returns the identifiers due for refresh. A limit of zero or less means
// no limit. The table gains a retrieved_at column if it lacks one; a missing
// table yields nothing.
//
// Identifiers are read up front so callers may write to the store while
// ranging over the sequence.
func (t *Tracker) Stale(ctx context.Context, limit int) (iter.Seq[string], error) {
	exists, err := t.store.TableExists(ctx, t.table)
	if err != nil {
		return nil, fmt.Errorf("stale: %w", err)
	}
	if !exists {
		return func(func(string) bool) {}, nil
	}
	if err := t.ensureColumn(ctx); err != nil {
		return nil, fmt.Errorf("stale: %w", err)
	}

	rows, err := t.store.Select(ctx, fmt.Sprintf("%s AS id, %s AS retrieved_at FROM %s",
		store.QuoteIdent(t.key), store.QuoteIdent(record.RetrievedAtField), store.QuoteIdent(t.table)))
	if err != nil {
		return nil, fmt.Errorf("stale: %w", err)
	}

	cutoff := t.now().Add(-t.threshold)
	var never []string
	var old []candidate
	for _, row := range rows {
		if row["id"] == nil {
			continue
		}
		id := fmt.Sprint(row["id"])
		at, ok := record.TimeValue(row["retrieved_at"])
		switch {
		case !ok:
			never = append(never, id)
		case at.Before(cutoff):
			old = append(old, candidate{id: id, at: at})
		}
	}
	sort.SliceStable(old, func(i, j int) bool { return old[i].at.Before(old[j].at) })

	ids := never
	for _, c := range old {
		ids = append(ids, c.id)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	t.logger.Debug("stale identifiers", "table", t.table, "never_retrieved", len(never), "expired", len(old), "yielding", len(ids))

	return func(yield func(string) bool) {
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}, nil
}

// IsStale reports whether the record with the given identifier needs a refresh.
// Missing tables and missing records are stale.
func (t *Tracker) IsStale(ctx context.Context, id string) (bool, error) {
	exists, err := t.store.TableExists(ctx, t.table)
	if err != nil {
		return false, fmt.Errorf("is stale %s: %w", id, err)
	}
	if !exists {
		return true, nil
	}
	if err := t.ensureColumn(ctx); err != nil {
		return false, fmt.Errorf("is stale %s: %w", id, err)
	}

	rows, err := t.store.Select(ctx, fmt.Sprintf("%s AS retrieved_at FROM %s WHERE %s = ?",
		store.QuoteIdent(record.RetrievedAtField), store.QuoteIdent(t.table), store.QuoteIdent(t.key)), id)
	if err != nil {
		return false, fmt.Errorf("is stale %s: %w", id, err)
	}
	if len(rows) == 0 {
		return true, nil
	}
	at, ok := record.TimeValue(rows[0]["retrieved_at"])
	if !ok {
		return true, nil
	}
	return at.Before(t.now().Add(-t.threshold)), nil
}

func (t *Tracker) ensureColumn(ctx context.Context) error {
	cols, err := t.store.Columns(ctx, t.table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if c == record.RetrievedAtField {
			return nil
		}
	}
	t.logger.Info("adding retrieved_at column", "table", t.table)
	return t.store.AddColumn(ctx, t.table, record.RetrievedAtField)
}
