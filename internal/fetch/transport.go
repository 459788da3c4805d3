// Package fetch retrieves registry pages for bots.
//
// HTTPTransport is a thin HTTP client, also used by the notifier. Registry
// resolves the page URL for an identifier and fetches it, pausing before each
// request when the source asks for it. Nothing here retries: a failed request is reported to the caller.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody caps the response body kept on a StatusError.
const maxErrorBody = 512

// Transport performs GET requests.
type Transport interface {
	Get(ctx context.Context, rawURL string, opts RequestOptions) ([]byte, error)
}

// RequestOptions are per-request extras.
type RequestOptions struct {
	Query   url.Values
	Headers map[string]string
}

// StatusError represents a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string // first 512 bytes
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// HTTPTransport is a Transport over net/http.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// TransportOption configures HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) TransportOption {
	return func(t *HTTPTransport) {
		t.client.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) TransportOption {
	return func(t *HTTPTransport) {
		t.userAgent = ua
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// NewHTTPTransport creates an HTTPTransport with a 30 second timeout.
func NewHTTPTransport(opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "botsync",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get fetches rawURL and returns the body. Returns *StatusError for non-2xx responses.
func (t *HTTPTransport) Get(ctx context.Context, rawURL string, opts RequestOptions) ([]byte, error) {
	return t.Do(ctx, http.MethodGet, rawURL, nil, opts)
}

// Do sends a request with an optional JSON body and returns the response body.
// Returns *StatusError for non-2xx responses.
func (t *HTTPTransport) Do(ctx context.Context, method, rawURL string, body []byte, opts RequestOptions) ([]byte, error) {
	fullURL := rawURL
	if len(opts.Query) > 0 {
		sep := "?"
		if u, err := url.Parse(rawURL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		fullURL += sep + opts.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", strings.ToLower(method), fullURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fullURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s := string(respBody)
		if len(s) > maxErrorBody {
			s = s[:maxErrorBody]
		}
		return nil, &StatusError{URL: fullURL, StatusCode: resp.StatusCode, Body: s}
	}
	return respBody, nil
}
