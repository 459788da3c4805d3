package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/botsync/internal/record"
)

var uidKey = []string{"uid"}

func TestInsertOrUpdate_CreatesTable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	exists, err := s.TableExists(ctx, "ocdata")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, company("1", "Foo Inc")))

	exists, err = s.TableExists(ctx, "ocdata")
	require.NoError(t, err)
	assert.True(t, exists)

	cols, err := s.Columns(ctx, "ocdata")
	require.NoError(t, err)
	assert.Equal(t, []string{"company_number", "jurisdiction_code", "name", "uid"}, cols)
}

func TestInsertOrUpdate_ReplacesOnKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, company("1", "Foo Inc")))
	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, company("1", "Foo Ltd")))
	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, company("2", "Bar")))

	rows, err := s.Select(ctx, "uid, name FROM ocdata ORDER BY uid")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Foo Ltd", rows[0]["name"])
	assert.Equal(t, "Bar", rows[1]["name"])
}

func TestInsertOrUpdate_AddsNewColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, company("1", "Foo Inc")))

	withAddress := company("2", "Bar")
	withAddress["registered_address"] = "1 Bar St"
	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, withAddress))

	rows, err := s.Select(ctx, "uid, registered_address FROM ocdata ORDER BY uid")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0]["registered_address"])
	assert.Equal(t, "1 Bar St", rows[1]["registered_address"])
}

func TestInsertOrUpdate_PartialRecordKeepsOtherColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	full := company("1", "Foo Inc")
	full["registered_address"] = "1 Foo St"
	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, full))
	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, record.Record{"uid": "1", "retrieved_at": "2024-01-01T00:00:00Z"}))

	rows, err := s.Select(ctx, "* FROM ocdata")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1 Foo St", rows[0]["registered_address"])
	assert.Equal(t, "2024-01-01T00:00:00Z", rows[0]["retrieved_at"])
}

func TestInsertOrUpdate_CompositeKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	keys := []string{"company_number", "jurisdiction_code"}

	a := record.Record{"company_number": "1", "jurisdiction_code": "ie", "name": "A"}
	b := record.Record{"company_number": "1", "jurisdiction_code": "gb", "name": "B"}
	a2 := record.Record{"company_number": "1", "jurisdiction_code": "ie", "name": "A2"}
	require.NoError(t, s.InsertOrUpdate(ctx, "companies", keys, a))
	require.NoError(t, s.InsertOrUpdate(ctx, "companies", keys, b))
	require.NoError(t, s.InsertOrUpdate(ctx, "companies", keys, a2))

	rows, err := s.Select(ctx, "name FROM companies ORDER BY name")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "A2", rows[0]["name"])
	assert.Equal(t, "B", rows[1]["name"])
}

func TestInsertOrUpdate_KeyOnlyRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, record.Record{"uid": "1"}))
	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, record.Record{"uid": "1"}))

	rows, err := s.Select(ctx, "COUNT(*) AS n FROM ocdata")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows[0]["n"])
}

func TestInsertOrUpdate_MissingKey(t *testing.T) {
	s := createTestStore(t)

	err := s.InsertOrUpdate(context.Background(), "ocdata", uidKey, record.Record{"name": "Foo"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingKey))
}

func TestInsertOrUpdate_QuotesIdentifiers(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := record.Record{"uid": "1", "order": "first", `odd "name"`: "x"}
	require.NoError(t, s.InsertOrUpdate(ctx, "select", uidKey, rec))

	rows, err := s.Select(ctx, `"order", "odd ""name""" FROM "select"`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0]["order"])
	assert.Equal(t, "x", rows[0][`odd "name"`])
}

func TestAddColumn(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertOrUpdate(ctx, "ocdata", uidKey, record.Record{"uid": "1"}))
	require.NoError(t, s.AddColumn(ctx, "ocdata", "retrieved_at"))

	cols, err := s.Columns(ctx, "ocdata")
	require.NoError(t, err)
	assert.Contains(t, cols, "retrieved_at")

	rows, err := s.Select(ctx, "retrieved_at FROM ocdata")
	require.NoError(t, err)
	assert.Nil(t, rows[0]["retrieved_at"])

	// Adding twice is an error
	assert.Error(t, s.AddColumn(ctx, "ocdata", "retrieved_at"))
}

func TestUpsertColumns_KeysFirstRestSorted(t *testing.T) {
	cols, err := UpsertColumns([]string{"uid"}, record.Record{"uid": "1", "b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"uid", "a", "b"}, cols)
}

func TestUpsertSQL(t *testing.T) {
	got := UpsertSQL("ocdata", []string{"uid"}, []string{"uid", "name"}, []string{"?", "?"})
	assert.Equal(t,
		`INSERT INTO "ocdata" ("uid", "name") VALUES (?, ?) ON CONFLICT ("uid") DO UPDATE SET "name" = excluded."name"`,
		got)

	keyOnly := UpsertSQL("ocdata", []string{"uid"}, []string{"uid"}, []string{"$1"})
	assert.Equal(t, `INSERT INTO "ocdata" ("uid") VALUES ($1) ON CONFLICT ("uid") DO NOTHING`, keyOnly)
}
