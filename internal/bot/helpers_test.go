package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/botsync/internal/record"
	"github.com/roach88/botsync/internal/schema"
	"github.com/roach88/botsync/internal/store"
	"github.com/roach88/botsync/internal/testutil"
)

// Thursday, inside office hours.
var testNow = time.Date(2014, 10, 9, 15, 0, 0, 0, time.UTC)

// fakeSource serves JSON payloads keyed by identifier.
type fakeSource struct {
	payloads map[string][]byte
	errs     map[string]error
	process  func(raw []byte) (record.Record, error)

	fetched   []string
	fetchOpts []FetchOptions
	processed int
}

func newFakeSource() *fakeSource {
	return &fakeSource{payloads: map[string][]byte{}, errs: map[string]error{}}
}

func (f *fakeSource) add(id string, fields map[string]any) {
	data, _ := json.Marshal(fields)
	f.payloads[id] = data
}

func (f *fakeSource) FetchDatum(_ context.Context, id string, opts FetchOptions) ([]byte, error) {
	f.fetched = append(f.fetched, id)
	f.fetchOpts = append(f.fetchOpts, opts)
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	return f.payloads[id], nil
}

func (f *fakeSource) ProcessDatum(_ context.Context, raw []byte) (record.Record, error) {
	f.processed++
	if f.process != nil {
		return f.process(raw)
	}
	var r record.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// searchSource adds alpha search to fakeSource.
type searchSource struct {
	*fakeSource
	results map[string][]record.Record
	terms   []string
}

func (s *searchSource) Search(_ context.Context, term string) ([]record.Record, error) {
	s.terms = append(s.terms, term)
	return s.results[term], nil
}

// spyStore counts writes.
type spyStore struct {
	*store.Store
	writes int
}

func (s *spyStore) InsertOrUpdate(ctx context.Context, table string, keys []string, rec record.Record) error {
	s.writes++
	return s.Store.InsertOrUpdate(ctx, table, keys, rec)
}

// countingValidator counts validations.
type countingValidator struct {
	engine *schema.Engine
	calls  int
	last   []byte
}

func (v *countingValidator) Validate(name string, jsonText []byte) ([]schema.Violation, error) {
	v.calls++
	v.last = jsonText
	return v.engine.Validate(name, jsonText)
}

func createTestStore(t *testing.T) *spyStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &spyStore{Store: s}
}

// companyConfig keys records by company number and validates them.
func companyConfig() Config {
	return Config{
		Name:       "test-bot",
		PrimaryKey: "company_number",
		SchemaName: "company-schema",
	}
}

type testBot struct {
	*Orchestrator
	source    *fakeSource
	store     *spyStore
	clock     *testutil.FixedClock
	validator *countingValidator
	diag      *bytes.Buffer
}

func newTestBot(t *testing.T, cfg Config, opts ...Option) *testBot {
	t.Helper()
	tb := &testBot{
		source:    newFakeSource(),
		store:     createTestStore(t),
		clock:     testutil.NewFixedClock(testNow),
		validator: &countingValidator{engine: schema.NewEngine()},
		diag:      &bytes.Buffer{},
	}
	base := []Option{
		WithClock(tb.clock.Now),
		WithValidator(tb.validator),
		WithDiagnostics(tb.diag),
		WithRunIDs(testutil.NewSequentialRunIDs("run").Next),
	}
	o, err := New(cfg, tb.source, tb.store, append(base, opts...)...)
	require.NoError(t, err)
	tb.Orchestrator = o
	return tb
}

func company(number string) map[string]any {
	return map[string]any{"name": "Foo Inc " + number, "company_number": number, "jurisdiction_code": "ie"}
}

// seed stores never-retrieved identifiers.
func (tb *testBot) seed(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		row := record.Record{tb.cfg.PrimaryKey: id, record.RetrievedAtField: nil}
		require.NoError(t, tb.store.Store.InsertOrUpdate(context.Background(), tb.cfg.Table, []string{tb.cfg.PrimaryKey}, row))
	}
}

func (tb *testBot) row(t *testing.T, id string) record.Record {
	t.Helper()
	rows, err := tb.store.Select(context.Background(),
		"* FROM "+store.QuoteIdent(tb.cfg.Table)+" WHERE "+store.QuoteIdent(tb.cfg.PrimaryKey)+" = ?", id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}
