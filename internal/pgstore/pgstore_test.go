package pgstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/botsync/internal/record"
	"github.com/roach88/botsync/internal/store"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"uid FROM ocdata", "uid FROM ocdata"},
		{"uid FROM ocdata WHERE uid = ?", "uid FROM ocdata WHERE uid = $1"},
		{"* FROM t WHERE a = ? AND b > ?", "* FROM t WHERE a = $1 AND b > $2"},
		{"* FROM t WHERE a = '?' AND b = ?", "* FROM t WHERE a = '?' AND b = $1"},
		{`"odd?" FROM t WHERE x = ?`, `"odd?" FROM t WHERE x = $1`},
		{"* FROM t WHERE a = 'it''s?' AND b = ?", "* FROM t WHERE a = 'it''s?' AND b = $1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rebind(tt.in), tt.in)
	}
}

func TestTextValue(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{"x", "x"},
		{[]byte("raw"), "raw"},
		{true, "true"},
		{42, "42"},
		{int64(-7), "-7"},
		{1.5, "1.5"},
		{at, "2024-01-02T03:04:05Z"},
		{record.Date{Year: 2024, Month: time.March, Day: 9}, "2024-03-09"},
	}
	for _, tt := range tests {
		got, err := TextValue(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}

	_, err := TextValue(map[string]any{"a": 1})
	assert.Error(t, err)
}

// openTestStore connects to BOTSYNC_PG_DSN, skipping when it is unset.
func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dsn := os.Getenv("BOTSYNC_PG_DSN")
	if dsn == "" {
		t.Skip("BOTSYNC_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)

	table := fmt.Sprintf("ocdata_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+store.QuoteIdent(table))
		s.Close()
	})
	return s, table
}

func TestInsertOrUpdate_Postgres(t *testing.T) {
	s, table := openTestStore(t)
	ctx := context.Background()
	keys := []string{"uid"}

	exists, err := s.TableExists(ctx, table)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.InsertOrUpdate(ctx, table, keys, record.Record{"uid": "1", "name": "Foo"}))
	require.NoError(t, s.InsertOrUpdate(ctx, table, keys, record.Record{"uid": "1", "name": "Foo Ltd", "employees": 12}))

	rows, err := s.Select(ctx, "uid, name, employees FROM "+store.QuoteIdent(table)+" WHERE uid = ?", "1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Foo Ltd", rows[0]["name"])
	assert.Equal(t, "12", rows[0]["employees"])

	cols, err := s.Columns(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, []string{"employees", "name", "uid"}, cols)

	require.NoError(t, s.AddColumn(ctx, table, "retrieved_at"))
	cols, err = s.Columns(ctx, table)
	require.NoError(t, err)
	assert.Contains(t, cols, "retrieved_at")
}

func TestRunReports_Postgres(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	bot := fmt.Sprintf("pg-test-%d", time.Now().UnixNano())
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRunReport(ctx, store.RunReport{
		RunID: bot + "-1", Bot: bot, Status: store.StatusSuccess, Updated: 3, StartedAt: at, FinishedAt: at,
	}))

	got, err := s.RunReports(ctx, bot, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Updated)
	assert.True(t, at.Equal(got[0].StartedAt))
}
