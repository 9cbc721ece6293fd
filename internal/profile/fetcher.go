package profile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// Fetcher handles HTTP requests for remote profiles with retry logic and
// conditional fetches.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration
	maxBytes   int64
}

// FetcherConfig represents fetcher configuration
type FetcherConfig struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxBytes   int64
}

// DefaultFetcherConfig returns default fetcher configuration
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		UserAgent:  "clash-verge-xpp/1.0",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		MaxBytes:   5 * 1024 * 1024,
	}
}

// FetchResult is the outcome of a profile fetch.
type FetchResult struct {
	Content []byte
	ETag    string

	// NotModified is true when the server answered 304 to a conditional
	// request; Content is empty in that case.
	NotModified bool
}

// NewFetcher creates a new profile fetcher
func NewFetcher(config FetcherConfig) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent:  config.UserAgent,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		maxBytes:   config.MaxBytes,
	}
}

// Fetch fetches profile content from a URL with retry logic. A non-empty
// etag is sent as If-None-Match to avoid redundant downloads.
func (f *Fetcher) Fetch(ctx context.Context, url, etag string) (*FetchResult, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &pkgerrors.FetchError{URL: url, Cause: ctx.Err()}
			case <-time.After(f.retryDelay * time.Duration(attempt)):
			}
		}

		result, err := f.doFetch(ctx, url, etag)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}

		// Don't retry on client errors (4xx)
		if httpErr, ok := err.(*HTTPError); ok {
			if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
				break
			}
		}
	}

	return nil, &pkgerrors.FetchError{
		URL:   url,
		Cause: fmt.Errorf("fetch failed after %d attempts: %w", f.maxRetries+1, lastErr),
	}
}

// doFetch performs a single fetch attempt
func (f *Fetcher) doFetch(ctx context.Context, url, etag string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{ETag: etag, NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        url,
		}
	}

	// Read at most maxBytes+1 to detect oversized responses deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", f.maxBytes)
	}

	return &FetchResult{
		Content: body,
		ETag:    resp.Header.Get("ETag"),
	}, nil
}

// HTTPError represents an HTTP error
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s for %s", e.StatusCode, e.Status, e.URL)
}
