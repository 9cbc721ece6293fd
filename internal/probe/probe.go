// Package probe measures whether the local proxy endpoint actually carries
// traffic: a TCP handshake against the listener, then HTTP requests routed
// through it. Useful after activation to distinguish "state says enabled"
// from "traffic really flows".
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultURLs are the connectivity endpoints probed through the proxy.
var DefaultURLs = []string{
	"http://www.gstatic.com/generate_204",
	"http://cp.cloudflare.com/generate_204",
}

// Result is the outcome of probing one URL through the proxy.
type Result struct {
	URL       string
	LatencyMS int
	Err       error
}

// Config tunes the prober.
type Config struct {
	// ProxyAddr is the local proxy endpoint, host:port.
	ProxyAddr string

	Workers int64
	Timeout time.Duration
}

// Prober runs connectivity checks through a local proxy endpoint.
type Prober struct {
	config Config
	logger *zap.Logger
}

// New creates a prober.
func New(config Config, logger *zap.Logger) *Prober {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Prober{config: config, logger: logger.Named("probe")}
}

// Listening checks that the proxy port accepts TCP connections, returning
// the handshake time.
func (p *Prober) Listening(ctx context.Context) (int, error) {
	start := time.Now()
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", p.config.ProxyAddr)
	if err != nil {
		return 0, fmt.Errorf("proxy endpoint %s not reachable: %w", p.config.ProxyAddr, err)
	}
	conn.Close()
	return int(time.Since(start).Milliseconds()), nil
}

// Run probes every URL through the proxy concurrently and returns results in
// URL order. Individual failures are reported per URL, never aborting the
// rest.
func (p *Prober) Run(ctx context.Context, urls []string) []Result {
	if len(urls) == 0 {
		urls = DefaultURLs
	}

	results := make([]Result, len(urls))
	sem := semaphore.NewWeighted(p.config.Workers)
	var wg sync.WaitGroup

	for i, target := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{URL: target, Err: err}
			continue
		}
		wg.Add(1)
		i, target := i, target
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			latency, err := p.fetch(ctx, target)
			results[i] = Result{URL: target, LatencyMS: latency, Err: err}
		}()
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			p.logger.Debug("probe failed", zap.String("url", r.URL), zap.Error(r.Err))
		} else {
			p.logger.Debug("probe ok", zap.String("url", r.URL), zap.Int("latency_ms", r.LatencyMS))
		}
	}
	return results
}

// fetch issues one request through the proxy and measures the round trip.
func (p *Prober) fetch(ctx context.Context, target string) (int, error) {
	proxyURL, err := url.Parse("http://" + p.config.ProxyAddr)
	if err != nil {
		return 0, fmt.Errorf("invalid proxy address: %w", err)
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyURL(proxyURL),
		DisableKeepAlives:     true,
		ResponseHeaderTimeout: p.config.Timeout,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   p.config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request through proxy failed: %w", err)
	}
	resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return int(elapsed.Milliseconds()), nil
}
