package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/botsync/internal/record"
	"github.com/roach88/botsync/internal/store"
)

// RegistryURLField is the record column holding a stored page URL.
const RegistryURLField = "registry_url"

// ErrSingleRecordUpdateNotImplemented is returned when no URL can be found
// for an identifier.
var ErrSingleRecordUpdateNotImplemented = errors.New("single record update not implemented")

// URLFunc computes the page URL for an identifier. ok=false means the bot
// cannot compute one and the stored URL should be tried.
type URLFunc func(id string) (u string, ok bool)

// TemplateURL returns a URLFunc substituting the path-escaped identifier for
// every "{id}" in tmpl. An empty template computes nothing.
func TemplateURL(tmpl string) URLFunc {
	return func(id string) (string, bool) {
		if tmpl == "" {
			return "", false
		}
		return strings.ReplaceAll(tmpl, "{id}", url.PathEscape(id)), true
	}
}

// Selector reads stored records.
type Selector interface {
	Select(ctx context.Context, query string, args ...any) ([]record.Record, error)
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Registry fetches registry pages for identifiers.
type Registry struct {
	transport  Transport
	computeURL URLFunc
	store      Selector
	table      string
	key        string
	delay      time.Duration
	sleep      Sleeper
	logger     *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithURLFunc sets how page URLs are computed.
func WithURLFunc(f URLFunc) RegistryOption {
	return func(r *Registry) { r.computeURL = f }
}

// WithStoredURLs enables the fallback to the registry_url column of table.
func WithStoredURLs(s Selector, table, key string) RegistryOption {
	return func(r *Registry) {
		r.store = s
		r.table = table
		r.key = key
	}
}

// WithDelay pauses for d before every request. Zero disables the pause.
func WithDelay(d time.Duration) RegistryOption {
	return func(r *Registry) { r.delay = d }
}

// WithSleeper replaces the pause implementation. Used in tests.
func WithSleeper(s Sleeper) RegistryOption {
	return func(r *Registry) { r.sleep = s }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a Registry fetching through t.
func NewRegistry(t Transport, opts ...RegistryOption) *Registry {
	r := &Registry{
		transport:  t,
		computeURL: func(string) (string, bool) { return "", false },
		key:        record.DefaultPrimaryKey,
		sleep:      Sleep,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// URL resolves the page URL for id: computed first, then the stored
// registry_url column. Returns ErrSingleRecordUpdateNotImplemented when
// neither yields a URL.
func (r *Registry) URL(ctx context.Context, id string) (string, error) {
	if u, ok := r.computeURL(id); ok && u != "" {
		return u, nil
	}

	u, err := r.storedURL(ctx, id)
	if err != nil {
		return "", err
	}
	if u == "" {
		return "", fmt.Errorf("%w: no registry url for %s", ErrSingleRecordUpdateNotImplemented, id)
	}
	return u, nil
}

func (r *Registry) storedURL(ctx context.Context, id string) (string, error) {
	if r.store == nil || r.table == "" {
		return "", nil
	}
	rows, err := r.store.Select(ctx, fmt.Sprintf("%s FROM %s WHERE %s = ? LIMIT 1",
		store.QuoteIdent(RegistryURLField), store.QuoteIdent(r.table), store.QuoteIdent(r.key)), id)
	if err != nil {
		// A table or column that does not exist yet just means nothing is stored.
		r.logger.Debug("stored registry url unavailable", "id", id, "error", err)
		return "", nil
	}
	if len(rows) == 0 || rows[0][RegistryURLField] == nil {
		return "", nil
	}
	return fmt.Sprint(rows[0][RegistryURLField]), nil
}

// FetchPage GETs the page for id, pausing first when a delay is configured.
func (r *Registry) FetchPage(ctx context.Context, id string, opts RequestOptions) ([]byte, error) {
	u, err := r.URL(ctx, id)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("fetching registry page", "id", id, "url", u)
	return r.Get(ctx, u, opts)
}

// Get GETs rawURL through the registry's transport, pausing first when a
// delay is configured.
func (r *Registry) Get(ctx context.Context, rawURL string, opts RequestOptions) ([]byte, error) {
	if r.delay > 0 {
		if err := r.sleep(ctx, r.delay); err != nil {
			return nil, err
		}
	}
	return r.transport.Get(ctx, rawURL, opts)
}
