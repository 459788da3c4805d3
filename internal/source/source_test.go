package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/botsync/internal/bot"
	"github.com/roach88/botsync/internal/fetch"
	"github.com/roach88/botsync/internal/record"
	"github.com/roach88/botsync/internal/store"
)

const companyPage = `{"company": {"title": "  Café Ltd ", "number": "0012345"}, "jurisdiction": "ie", "employees": 12}`

func newRegistryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/companies/0012345", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(companyPage))
	})
	mux.HandleFunc("/companies/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/companies/banner", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"notice": "Register offline for scheduled maintenance"}`))
	})
	mux.HandleFunc("/companies/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "a" {
			w.Write([]byte(`{"results": []}`))
			return
		}
		w.Write([]byte(`{"results": [{"company": {"title": "Acme", "number": "7"}, "jurisdiction": "ie"}, "junk"]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newSource(t *testing.T, srv *httptest.Server, cfg Config) *JSON {
	t.Helper()
	reg := fetch.NewRegistry(fetch.NewHTTPTransport(),
		fetch.WithURLFunc(fetch.TemplateURL(srv.URL+"/companies/{id}")))
	return New(reg, cfg)
}

func companyFields() map[string]string {
	return map[string]string{
		"name":              "company.title",
		"company_number":    "company.number",
		"jurisdiction_code": "jurisdiction",
		"registered_agent":  "agent.name",
	}
}

func TestFetchDatum(t *testing.T) {
	s := newSource(t, newRegistryServer(t), Config{})

	raw, err := s.FetchDatum(context.Background(), "0012345", bot.FetchOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, companyPage, string(raw))
}

func TestFetchDatum_NotFound(t *testing.T) {
	s := newSource(t, newRegistryServer(t), Config{})

	raw, err := s.FetchDatum(context.Background(), "999", bot.FetchOptions{})
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestFetchDatum_Maintenance(t *testing.T) {
	s := newSource(t, newRegistryServer(t), Config{MaintenanceMarker: "scheduled maintenance"})

	_, err := s.FetchDatum(context.Background(), "down", bot.FetchOptions{})
	assert.ErrorIs(t, err, bot.ErrSourceClosedForMaintenance)

	_, err = s.FetchDatum(context.Background(), "banner", bot.FetchOptions{})
	assert.ErrorIs(t, err, bot.ErrSourceClosedForMaintenance)
	assert.True(t, bot.IsAbort(err))
}

func TestFetchDatum_OtherStatusErrors(t *testing.T) {
	s := newSource(t, newRegistryServer(t), Config{})

	_, err := s.FetchDatum(context.Background(), "broken", bot.FetchOptions{})
	var statusErr *fetch.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.False(t, bot.IsAbort(err))
}

func TestProcessDatum_MapsFields(t *testing.T) {
	s := New(nil, Config{Fields: companyFields()})

	r, err := s.ProcessDatum(context.Background(), []byte(companyPage))
	require.NoError(t, err)
	assert.Equal(t, record.Record{
		"name":              "Café Ltd",
		"company_number":    "0012345",
		"jurisdiction_code": "ie",
	}, r)
}

func TestProcessDatum_WholeObject(t *testing.T) {
	s := New(nil, Config{})

	r, err := s.ProcessDatum(context.Background(), []byte(companyPage))
	require.NoError(t, err)
	assert.Equal(t, int64(12), r["employees"])
	assert.Equal(t, "ie", r["jurisdiction"])
	assert.Equal(t, map[string]any{"title": "Café Ltd", "number": "0012345"}, r["company"])
}

func TestProcessDatum_NullAndInvalid(t *testing.T) {
	s := New(nil, Config{})

	r, err := s.ProcessDatum(context.Background(), []byte("null"))
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = s.ProcessDatum(context.Background(), []byte(`["not", "an", "object"]`))
	assert.Error(t, err)

	_, err = s.ProcessDatum(context.Background(), []byte(`<html>`))
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	srv := newRegistryServer(t)
	s := newSource(t, srv, Config{
		Fields:        companyFields(),
		SearchURL:     srv.URL + "/search?q={term}",
		SearchResults: "results",
	})

	results, err := s.Search(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []record.Record{{
		"name":              "Acme",
		"company_number":    "7",
		"jurisdiction_code": "ie",
	}}, results)

	results, err = s.Search(context.Background(), "b")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_NotConfigured(t *testing.T) {
	s := New(nil, Config{})
	_, err := s.Search(context.Background(), "a")
	assert.ErrorIs(t, err, bot.ErrAlphaSearchNotSupported)
}

func TestSource_DrivesUpdateCycle(t *testing.T) {
	srv := newRegistryServer(t)
	s := newSource(t, srv, Config{Fields: companyFields()})

	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.InsertOrUpdate(ctx, "ocdata", []string{"company_number"},
		record.Record{"company_number": "0012345", "retrieved_at": nil}))

	now := time.Date(2014, 10, 9, 15, 0, 0, 0, time.UTC)
	o, err := bot.New(bot.Config{
		Name:       "json-registry",
		PrimaryKey: "company_number",
		SchemaName: "company-schema",
	}, s, st, bot.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	summary, err := o.UpdateStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	rows, err := st.Select(ctx, `name, retrieved_at FROM ocdata WHERE company_number = ?`, "0012345")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Café Ltd", rows[0]["name"])
	assert.Equal(t, "2014-10-09T15:00:00Z", rows[0]["retrieved_at"])
}
