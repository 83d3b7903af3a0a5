// CLAUDE:SUMMARY HTTP fetcher for feed documents: base URL resolution, cache-busting version param, typed transport and status errors.
package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher retrieves the raw body of a document. Implementations report
// connection failures as *TransportError and non-success responses as
// *HTTPStatusError.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// HTTPConfig configures HTTPFetcher.
type HTTPConfig struct {
	// BaseURL is joined with each key to form the document URL.
	BaseURL string
	// Version is appended as a cache-busting query parameter so intermediate
	// HTTP caches cannot serve bytes from an earlier deployment.
	Version string
	// VersionParam names the cache-busting parameter. Default: "v".
	VersionParam string
	Timeout      time.Duration // Default: 15s.
	MaxBytes     int64         // Default: 8MB.
	UserAgent    string
	// Client overrides the HTTP client (tests). Timeout is ignored when set.
	Client *http.Client
}

func (c *HTTPConfig) defaults() {
	if c.VersionParam == "" {
		c.VersionParam = "v"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 8 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "feedsync/1.0"
	}
}

// HTTPFetcher performs plain GET requests for feed documents.
type HTTPFetcher struct {
	client *http.Client
	base   *url.URL
	config HTTPConfig
}

// NewHTTPFetcher validates the base URL and builds a fetcher.
func NewHTTPFetcher(cfg HTTPConfig) (*HTTPFetcher, error) {
	cfg.defaults()
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("cache: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("cache: base url must be http or https, got %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPFetcher{client: client, base: base, config: cfg}, nil
}

// URL returns the request URL for key, including the version marker.
func (f *HTTPFetcher) URL(key string) string {
	ref, err := url.Parse(strings.TrimPrefix(key, "/"))
	if err != nil {
		ref = &url.URL{Path: key}
	}
	u := f.base.ResolveReference(ref)
	if f.config.Version != "" {
		q := u.Query()
		q.Set(f.config.VersionParam, f.config.Version)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Fetch GETs the document for key.
func (f *HTTPFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	target := f.URL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPStatusError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, target, f.config.MaxBytes)
	}
	return body, nil
}
