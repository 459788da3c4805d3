// Package source provides a configurable bot.Source for registries that
// publish one JSON document per record.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/botsync/internal/bot"
	"github.com/roach88/botsync/internal/fetch"
	"github.com/roach88/botsync/internal/record"
)

// Config maps a registry's JSON documents onto records.
type Config struct {
	// Fields maps record fields to dotted paths in the payload, e.g.
	// "name": "company.title". Empty means the payload object is the record.
	Fields map[string]string

	// SearchURL enables alpha search. "{term}" is replaced by the term.
	SearchURL string

	// SearchResults is the dotted path to the result array in a search
	// response. Empty means the response is the array.
	SearchResults string

	// MaintenanceMarker, when found in a payload, means the registry is
	// closed for maintenance.
	MaintenanceMarker string
}

// JSON fetches registry pages and turns them into records.
type JSON struct {
	registry *fetch.Registry
	cfg      Config
	logger   *slog.Logger
}

// Option configures a JSON source.
type Option func(*JSON)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *JSON) { s.logger = l }
}

// New creates a JSON source fetching through reg.
func New(reg *fetch.Registry, cfg Config, opts ...Option) *JSON {
	s := &JSON{registry: reg, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchDatum returns the registry page for id. A 404 yields nil; a 503 or a
// page carrying the maintenance marker yields bot.ErrSourceClosedForMaintenance.
func (s *JSON) FetchDatum(ctx context.Context, id string, opts bot.FetchOptions) ([]byte, error) {
	raw, err := s.registry.FetchPage(ctx, id, fetch.RequestOptions{})
	if err != nil {
		return nil, s.classify(err)
	}
	if s.underMaintenance(raw) {
		return nil, bot.ErrSourceClosedForMaintenance
	}
	if opts.IgnoreOutOfHours {
		s.logger.Debug("fetched outside the update cycle", "id", id)
	}
	return raw, nil
}

// ProcessDatum decodes a page into a record. A JSON null page yields nil.
func (s *JSON) ProcessDatum(_ context.Context, raw []byte) (record.Record, error) {
	doc, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("process datum: %w", err)
	}
	if doc == nil {
		return nil, nil
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("process datum: expected a JSON object, got %T", doc)
	}
	return s.mapRecord(obj), nil
}

// Search queries the registry's search endpoint for term.
func (s *JSON) Search(ctx context.Context, term string) ([]record.Record, error) {
	if s.cfg.SearchURL == "" {
		return nil, bot.ErrAlphaSearchNotSupported
	}
	u := strings.ReplaceAll(s.cfg.SearchURL, "{term}", url.QueryEscape(term))
	raw, err := s.registry.Get(ctx, u, fetch.RequestOptions{})
	if err != nil {
		return nil, s.classify(err)
	}
	if s.underMaintenance(raw) {
		return nil, bot.ErrSourceClosedForMaintenance
	}

	doc, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}
	if s.cfg.SearchResults != "" {
		doc, _ = lookup(doc, s.cfg.SearchResults)
	}
	if doc == nil {
		return nil, nil
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("search %q: expected a JSON array, got %T", term, doc)
	}

	out := make([]record.Record, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, s.mapRecord(obj))
	}
	return out, nil
}

func (s *JSON) classify(err error) error {
	var statusErr *fetch.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	switch statusErr.StatusCode {
	case http.StatusNotFound:
		return nil
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", bot.ErrSourceClosedForMaintenance, statusErr.URL)
	}
	return err
}

func (s *JSON) underMaintenance(raw []byte) bool {
	return s.cfg.MaintenanceMarker != "" && bytes.Contains(raw, []byte(s.cfg.MaintenanceMarker))
}

func (s *JSON) mapRecord(obj map[string]any) record.Record {
	if len(s.cfg.Fields) == 0 {
		return normalize(obj).(map[string]any)
	}
	r := make(record.Record, len(s.cfg.Fields))
	for field, path := range s.cfg.Fields {
		if v, ok := lookup(obj, path); ok {
			r[field] = normalize(v)
		}
	}
	return r
}

func decode(raw []byte) (any, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// lookup follows a dotted path through nested objects.
func lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalize puts strings into NFC form and trims them. Integral numbers
// become int64 so they are not stored in exponent form.
func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(norm.NFC.String(val))
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i, elem := range val {
			val[i] = normalize(elem)
		}
		return val
	case map[string]any:
		for k, elem := range val {
			val[k] = normalize(elem)
		}
		return val
	default:
		return v
	}
}
