package bot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/botsync/internal/store"
)

// AlphaTerms are the search terms used by alpha search, in order.
var AlphaTerms = alphaTerms()

func alphaTerms() []string {
	terms := make([]string, 0, 36)
	for c := 'a'; c <= 'z'; c++ {
		terms = append(terms, string(c))
	}
	for c := '0'; c <= '9'; c++ {
		terms = append(terms, string(c))
	}
	return terms
}

// AlphaSearch searches the source for every term in AlphaTerms and saves each
// valid result. Results are not stamped with retrieved_at, so the next
// UpdateStale fetches them in full. Returns the number of records saved.
func (o *Orchestrator) AlphaSearch(ctx context.Context) (int, error) {
	searcher, ok := o.source.(Searcher)
	if !ok {
		return 0, fmt.Errorf("bot %s: %w", o.cfg.Name, ErrAlphaSearchNotSupported)
	}

	saved := 0
	for _, term := range AlphaTerms {
		if err := o.checkWindow(); err != nil {
			return saved, err
		}
		results, err := searcher.Search(ctx, term)
		if err != nil {
			return saved, fmt.Errorf("alpha search %q: %w", term, err)
		}
		for _, r := range results {
			ok, err := o.Save(ctx, r)
			if err != nil {
				return saved, fmt.Errorf("alpha search %q: %w", term, err)
			}
			if ok {
				saved++
			}
		}
		o.logger.Debug("alpha search term done", "term", term, "results", len(results))
	}
	return saved, nil
}

// IncrementalSearch probes identifiers above the highest numeric one stored,
// stopping after MaxConsecutiveMisses identifiers in a row yield nothing.
// Disabled when MaxConsecutiveMisses is zero. Returns the number of records found.
func (o *Orchestrator) IncrementalSearch(ctx context.Context) (int, error) {
	if o.cfg.MaxConsecutiveMisses == 0 {
		return 0, nil
	}

	next, err := o.highestNumericID(ctx)
	if err != nil {
		return 0, err
	}

	found, misses := 0, 0
	for misses < o.cfg.MaxConsecutiveMisses {
		next++
		id := strconv.FormatInt(next, 10)
		rec, err := o.updateOne(ctx, id, UpdateOptions{})
		if IsAbort(err) {
			return found, err
		}
		if err != nil {
			return found, &UpdateError{ID: id, Err: err}
		}
		if rec == nil {
			misses++
			continue
		}
		misses = 0
		found++
	}
	o.logger.Info("incremental search done", "found", found, "last_probed", next)
	return found, nil
}

// highestNumericID returns the largest stored identifier that parses as an
// integer, or 0 when there is none.
func (o *Orchestrator) highestNumericID(ctx context.Context) (int64, error) {
	ok, err := o.store.TableExists(ctx, o.cfg.Table)
	if err != nil || !ok {
		return 0, err
	}
	key := store.QuoteIdent(o.cfg.PrimaryKey)
	rows, err := o.store.Select(ctx, fmt.Sprintf("%s AS id FROM %s", key, store.QuoteIdent(o.cfg.Table)))
	if err != nil {
		return 0, fmt.Errorf("highest identifier: %w", err)
	}

	var highest int64
	for _, row := range rows {
		n, err := strconv.ParseInt(fmt.Sprint(row["id"]), 10, 64)
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest, nil
}
