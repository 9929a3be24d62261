// Package proxy holds the proxy endpoints used for outbound API calls.
package proxy

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"SwapRunner/internal/jitter"
)

const (
	// DefaultFindAttempts bounds how many random endpoints FindWorking probes.
	DefaultFindAttempts = 5
	// DefaultProbeTimeout is used when callers pass a non-positive timeout.
	DefaultProbeTimeout = 10 * time.Second
)

// Pool is an immutable set of endpoints with uniform random selection. It
// keeps no success/failure history; a previously failing endpoint can be
// picked again.
type Pool struct {
	endpoints []Endpoint
	rnd       *jitter.Source
}

// NewPool builds a pool over a copy of endpoints.
func NewPool(endpoints []Endpoint, rnd *jitter.Source) *Pool {
	if rnd == nil {
		rnd = jitter.NewRandom()
	}
	return &Pool{endpoints: append([]Endpoint(nil), endpoints...), rnd: rnd}
}

// Load reads a newline-delimited proxy file. It never fails: a missing file
// or bad records are logged and yield a smaller (possibly empty) pool.
func Load(path string, rnd *jitter.Source, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return NewPool(nil, rnd)
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("failed to load proxies", slog.String("path", path), slog.Any("error", err))
		return NewPool(nil, rnd)
	}
	defer f.Close()

	endpoints, err := Parse(f, logger)
	if err != nil {
		logger.Warn("failed to read proxy file", slog.String("path", path), slog.Any("error", err))
	}
	return NewPool(endpoints, rnd)
}

// Parse reads proxy records from r, skipping blanks, comments and records
// that do not parse.
func Parse(r io.Reader, logger *slog.Logger) ([]Endpoint, error) {
	var endpoints []Endpoint
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ep, err := ParseEndpoint(line)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping proxy record", slog.Int("line", lineNo), slog.Any("error", err))
			}
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, scanner.Err()
}

// Len reports the number of endpoints.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.endpoints)
}

// Endpoints returns a copy of the pool members.
func (p *Pool) Endpoints() []Endpoint {
	if p == nil {
		return nil
	}
	return append([]Endpoint(nil), p.endpoints...)
}

// PickRandom returns a uniformly chosen endpoint, or false on an empty pool.
func (p *Pool) PickRandom() (Endpoint, bool) {
	if p.Len() == 0 {
		return Endpoint{}, false
	}
	return p.endpoints[p.rnd.IntN(len(p.endpoints))], true
}

// TestLiveness issues a GET to probeURL through ep and reports whether a 2xx
// answer arrived within timeout.
func TestLiveness(ctx context.Context, ep Endpoint, probeURL string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	transport := &http.Transport{DisableKeepAlives: true}
	if err := ep.Apply(transport); err != nil {
		return false
	}
	client := &http.Client{Transport: transport, Timeout: timeout}
	defer transport.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// FindWorking samples up to maxAttempts random endpoints and returns the
// first live one. Sampling is with replacement.
func (p *Pool) FindWorking(ctx context.Context, probeURL string, timeout time.Duration, maxAttempts int) (Endpoint, bool) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultFindAttempts
	}
	for i := 0; i < maxAttempts; i++ {
		if ctx.Err() != nil {
			return Endpoint{}, false
		}
		ep, ok := p.PickRandom()
		if !ok {
			return Endpoint{}, false
		}
		if TestLiveness(ctx, ep, probeURL, timeout) {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Health is the outcome of probing one endpoint.
type Health struct {
	Endpoint Endpoint
	Alive    bool
	Latency  time.Duration
}

// CheckAll probes every endpoint with at most parallelism probes in flight.
// Results keep pool order.
func (p *Pool) CheckAll(ctx context.Context, probeURL string, timeout time.Duration, parallelism int) []Health {
	endpoints := p.Endpoints()
	results := make([]Health, len(endpoints))
	if parallelism <= 0 {
		parallelism = 8
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, ep := range endpoints {
		g.Go(func() error {
			start := time.Now()
			alive := TestLiveness(gctx, ep, probeURL, timeout)
			results[i] = Health{Endpoint: ep, Alive: alive, Latency: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
