package profile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

func testFetcher() *Fetcher {
	cfg := DefaultFetcherConfig()
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	return NewFetcher(cfg)
}

func TestFetchReturnsContentAndETag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("proxies: []\n"))
	}))
	defer server.Close()

	result, err := testFetcher().Fetch(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if string(result.Content) != "proxies: []\n" {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if result.ETag != `"v1"` {
		t.Errorf("unexpected etag: %q", result.ETag)
	}
	if result.NotModified {
		t.Error("fresh fetch must not report NotModified")
	}
}

func TestFetchConditionalNotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("proxies: []\n"))
	}))
	defer server.Close()

	result, err := testFetcher().Fetch(context.Background(), server.URL, `"v1"`)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if !result.NotModified {
		t.Error("expected NotModified for a matching etag")
	}
	if len(result.Content) != 0 {
		t.Errorf("304 must not carry content, got %q", result.Content)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("proxies: []\n"))
	}))
	defer server.Close()

	if _, err := testFetcher().Fetch(context.Background(), server.URL, ""); err != nil {
		t.Fatalf("Fetch() error after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testFetcher().Fetch(context.Background(), server.URL, "")
	var ferr *pkgerrors.FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if !errors.Is(err, pkgerrors.ErrFetch) {
		t.Error("FetchError must unwrap to ErrFetch")
	}
	if attempts != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", attempts)
	}
}

func TestFetchRejectsOversizedResponse(t *testing.T) {
	cfg := DefaultFetcherConfig()
	cfg.MaxRetries = 0
	cfg.MaxBytes = 16
	fetcher := NewFetcher(cfg)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 64))
	}))
	defer server.Close()

	if _, err := fetcher.Fetch(context.Background(), server.URL, ""); err == nil {
		t.Fatal("expected error for oversized response")
	}
}
