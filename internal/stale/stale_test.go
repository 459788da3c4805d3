package stale

import (
	"context"
	"path/filepath"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/botsync/internal/record"
	"github.com/roach88/botsync/internal/store"
	"github.com/roach88/botsync/internal/testutil"
)

var now = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

func collect(seq iter.Seq[string]) []string {
	var ids []string
	for id := range seq {
		ids = append(ids, id)
	}
	return ids
}

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTracker(s Store) *Tracker {
	return New(s, WithClock(testutil.NewFixedClock(now).Now))
}

func insert(t *testing.T, s *store.Store, rec record.Record) {
	t.Helper()
	row, err := record.EncodeForStorage(rec, record.EncodeOptions{})
	require.NoError(t, err)
	require.NoError(t, s.InsertOrUpdate(context.Background(), "ocdata", []string{"uid"}, row))
}

func TestStale_NeverRetrievedFirstThenOldest(t *testing.T) {
	s := createTestStore(t)
	insert(t, s, record.Record{"uid": "99999", "retrieved_at": nil})
	insert(t, s, record.Record{"uid": "A094567", "retrieved_at": nil})
	insert(t, s, record.Record{"uid": "5234888", "retrieved_at": now.AddDate(0, 0, -40)})
	insert(t, s, record.Record{"uid": "87654", "retrieved_at": record.DateOf(now.AddDate(0, 0, -50))})
	insert(t, s, record.Record{"uid": "fresh", "retrieved_at": now.AddDate(0, 0, -2)})

	seq, err := newTracker(s).Stale(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"99999", "A094567", "87654", "5234888"}, collect(seq))
}

func TestStale_Limit(t *testing.T) {
	s := createTestStore(t)
	insert(t, s, record.Record{"uid": "a", "retrieved_at": nil})
	insert(t, s, record.Record{"uid": "b", "retrieved_at": now.AddDate(0, 0, -31)})
	insert(t, s, record.Record{"uid": "c", "retrieved_at": now.AddDate(0, 0, -90)})

	seq, err := newTracker(s).Stale(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, collect(seq))
}

func TestStale_ThresholdBoundary(t *testing.T) {
	s := createTestStore(t)
	insert(t, s, record.Record{"uid": "just-fresh", "retrieved_at": now.Add(-Threshold + time.Minute)})
	insert(t, s, record.Record{"uid": "just-stale", "retrieved_at": now.Add(-Threshold - time.Minute)})

	seq, err := newTracker(s).Stale(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"just-stale"}, collect(seq))
}

func TestStale_MissingTable(t *testing.T) {
	s := createTestStore(t)

	seq, err := newTracker(s).Stale(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, collect(seq))

	exists, err := s.TableExists(context.Background(), "ocdata")
	require.NoError(t, err)
	assert.False(t, exists, "missing table must not be created")
}

func TestStale_AddsRetrievedAtColumn(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insert(t, s, record.Record{"uid": "1", "name": "Foo"})
	insert(t, s, record.Record{"uid": "2", "name": "Bar"})

	cols, err := s.Columns(ctx, "ocdata")
	require.NoError(t, err)
	require.NotContains(t, cols, "retrieved_at")

	seq, err := newTracker(s).Stale(ctx, 0)
	require.NoError(t, err)

	// Column exists before iteration starts
	cols, err = s.Columns(ctx, "ocdata")
	require.NoError(t, err)
	assert.Contains(t, cols, "retrieved_at")

	assert.Equal(t, []string{"1", "2"}, collect(seq))
}

func TestStale_WritesDuringIteration(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, uid := range []string{"1", "2", "3"} {
		insert(t, s, record.Record{"uid": uid, "retrieved_at": nil})
	}

	seq, err := newTracker(s).Stale(ctx, 0)
	require.NoError(t, err)

	var seen []string
	for id := range seq {
		seen = append(seen, id)
		insert(t, s, record.Record{"uid": id, "retrieved_at": now})
	}
	assert.Equal(t, []string{"1", "2", "3"}, seen)

	seq, err = newTracker(s).Stale(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, collect(seq))
}

func TestStale_EarlyBreak(t *testing.T) {
	s := createTestStore(t)
	for _, uid := range []string{"1", "2", "3"} {
		insert(t, s, record.Record{"uid": uid})
	}
	seq, err := newTracker(s).Stale(context.Background(), 0)
	require.NoError(t, err)

	var seen []string
	for id := range seq {
		seen = append(seen, id)
		break
	}
	assert.Equal(t, []string{"1"}, seen)
}

func TestStale_CustomTableAndKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	row := record.Record{"company_number": "42", "retrieved_at": nil}
	require.NoError(t, s.InsertOrUpdate(ctx, "companies", []string{"company_number"}, row))

	tr := New(s, WithTable("companies"), WithPrimaryKey("company_number"), WithClock(func() time.Time { return now }))
	seq, err := tr.Stale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, collect(seq))
}

func TestIsStale(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tr := newTracker(s)

	stale, err := tr.IsStale(ctx, "1")
	require.NoError(t, err)
	assert.True(t, stale, "missing table")

	insert(t, s, record.Record{"uid": "fresh", "retrieved_at": now.AddDate(0, 0, -1)})
	insert(t, s, record.Record{"uid": "old", "retrieved_at": now.AddDate(0, 0, -45)})
	insert(t, s, record.Record{"uid": "never", "retrieved_at": nil})
	insert(t, s, record.Record{"uid": "junk", "retrieved_at": "yesterday-ish"})

	tests := map[string]bool{
		"fresh":   false,
		"old":     true,
		"never":   true,
		"junk":    true,
		"missing": true,
	}
	for id, want := range tests {
		got, err := tr.IsStale(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}
}

func TestIsStale_AddsColumn(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	insert(t, s, record.Record{"uid": "1"})

	stale, err := newTracker(s).IsStale(ctx, "1")
	require.NoError(t, err)
	assert.True(t, stale)

	cols, err := s.Columns(ctx, "ocdata")
	require.NoError(t, err)
	assert.Contains(t, cols, "retrieved_at")
}
