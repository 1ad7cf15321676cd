// Package fetch provides the HTTP(S) fetcher the recorder uses to pull
// album pages and cover art. It is the one process-wide resource the
// core shares: one Fetcher is constructed at startup and reused for
// every song.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Fetcher fetches a URL's body into memory.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher is the default net/http-backed Fetcher, with optional
// HTTP(S) proxy support.
type HTTPFetcher struct {
	client *http.Client
}

// New returns an HTTPFetcher. proxyURL may be empty, in which case
// requests go out directly, without any proxy; proxy environment
// variables are not consulted.
func New(proxyURL string) (*HTTPFetcher, error) {
	transport := &http.Transport{}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("fetch: parse proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	return &HTTPFetcher{
		client: &http.Client{Transport: transport},
	}, nil
}

// Fetch performs a GET request against url and returns the full response
// body.
func (f *HTTPFetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: %s: unexpected status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	return body, nil
}
