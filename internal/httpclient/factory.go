// Package httpclient builds HTTP clients that present a randomized browser
// identity and optionally route through a proxy.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "SwapRunner/internal/errors"
	"SwapRunner/internal/jitter"
	"SwapRunner/internal/proxy"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 2048
	maxResponseBody = 4 << 20
)

// Config controls the clients a Factory builds.
type Config struct {
	// Timeout bounds every single request.
	Timeout time.Duration `yaml:"timeout"`
	// Site is the web origin pinned into Origin/Referer.
	Site string `yaml:"site"`
}

// RequestObserver receives one callback per finished request.
type RequestObserver interface {
	ObserveRequest(endpoint string, status int, err error, elapsed time.Duration)
}

// Factory builds Clients. Build performs no network I/O.
type Factory struct {
	cfg      Config
	rnd      *jitter.Source
	observer RequestObserver
}

// FactoryOption customises a Factory.
type FactoryOption func(*Factory)

// WithObserver reports every request to o.
func WithObserver(o RequestObserver) FactoryOption {
	return func(f *Factory) {
		f.observer = o
	}
}

// NewFactory returns a Factory. A nil rnd uses a randomly seeded source.
func NewFactory(cfg Config, rnd *jitter.Source, opts ...FactoryOption) *Factory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if rnd == nil {
		rnd = jitter.NewRandom()
	}
	f := &Factory{cfg: cfg, rnd: rnd}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Build returns a client with a fresh identity. When ep is non-nil every
// connection of the client goes through it.
func (f *Factory) Build(ep *proxy.Endpoint) (*Client, error) {
	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	var via *proxy.Endpoint
	if ep != nil {
		if err := ep.Apply(transport); err != nil {
			return nil, err
		}
		cp := *ep
		via = &cp
	}

	identity := randomIdentity(f.rnd)
	return &Client{
		http:     &http.Client{Transport: transport, Timeout: f.cfg.Timeout},
		header:   identity.header(f.cfg.Site),
		identity: identity,
		proxy:    via,
		observer: f.observer,
	}, nil
}

// Client posts JSON with a fixed identity header set.
type Client struct {
	http     *http.Client
	header   http.Header
	identity Identity
	proxy    *proxy.Endpoint
	observer RequestObserver
}

// Identity returns the browser identity of the client.
func (c *Client) Identity() Identity { return c.identity }

// Proxy returns the endpoint the client routes through, if any.
func (c *Client) Proxy() (proxy.Endpoint, bool) {
	if c.proxy == nil {
		return proxy.Endpoint{}, false
	}
	return *c.proxy, true
}

// Describe is a short label for logs.
func (c *Client) Describe() string {
	if c.proxy == nil {
		return "direct"
	}
	return c.proxy.String()
}

// Close drops idle connections.
func (c *Client) Close() {
	if t, ok := c.http.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// PostJSON sends body as JSON and decodes the answer into out (when out is
// non-nil). Failures come back as coded errors from this package.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build request")
	}
	for k, v := range c.header {
		req.Header[k] = append([]string(nil), v...)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, 0, err, start)
		if ctx.Err() != nil {
			return xerrors.Wrap(xerrors.CodeCanceled, ctx.Err(), "request aborted")
		}
		return xerrors.Wrap(CodeTransport, err, fmt.Sprintf("POST %s via %s", endpointPath(endpoint), c.Describe()))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{StatusCode: resp.StatusCode, URL: endpoint, Body: strings.TrimSpace(string(raw))}
		c.observe(endpoint, resp.StatusCode, se, start)
		return statusError(se)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		c.observe(endpoint, resp.StatusCode, err, start)
		return xerrors.Wrap(CodeTransport, err, "read response body")
	}
	if len(raw) > maxResponseBody {
		tooLarge := xerrors.New(CodeTooLarge, fmt.Sprintf("%s response larger than %d bytes", endpointPath(endpoint), maxResponseBody),
			xerrors.WithMetadata("limit", strconv.Itoa(maxResponseBody)))
		c.observe(endpoint, resp.StatusCode, tooLarge, start)
		return tooLarge
	}
	c.observe(endpoint, resp.StatusCode, nil, start)
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(CodeDecode, err, fmt.Sprintf("decode %s response", endpointPath(endpoint)))
	}
	return nil
}

func (c *Client) observe(endpoint string, status int, err error, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(endpointPath(endpoint), status, err, time.Since(start))
	}
}

func endpointPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}
