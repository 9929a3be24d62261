package httpclient

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SwapRunner/internal/errors"
	"SwapRunner/internal/jitter"
	"SwapRunner/internal/proxy"
)

type recordingObserver struct {
	mu       sync.Mutex
	statuses []int
	paths    []string
}

func (r *recordingObserver) ObserveRequest(endpoint string, status int, _ error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, endpoint)
	r.statuses = append(r.statuses, status)
}

func TestBuildPinsSiteHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := NewFactory(Config{Site: "https://testnet.euclidswap.io/"}, jitter.New(7))
	client, err := f.Build(nil)
	require.NoError(t, err)
	defer client.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, client.PostJSON(context.Background(), srv.URL+"/api/v1/execute", map[string]string{"a": "b"}, &out))
	assert.True(t, out.OK)
	assert.Equal(t, "https://testnet.euclidswap.io", got.Get("Origin"))
	assert.Equal(t, "https://testnet.euclidswap.io/", got.Get("Referer"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, client.Identity().UserAgent, got.Get("User-Agent"))
	assert.NotEmpty(t, got.Get("Sec-CH-UA"))
	assert.Equal(t, "direct", client.Describe())
	_, viaProxy := client.Proxy()
	assert.False(t, viaProxy)
}

func TestIdentitiesVary(t *testing.T) {
	f := NewFactory(Config{}, jitter.New(99))
	agents := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := f.Build(nil)
		require.NoError(t, err)
		agents[c.Identity().UserAgent+c.Identity().AcceptLanguage] = true
	}
	assert.Greater(t, len(agents), 1)
}

func TestPostJSONStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		code   xerrors.Code
	}{
		{http.StatusTooManyRequests, CodeRateLimited},
		{http.StatusForbidden, CodeForbidden},
		{http.StatusBadGateway, CodeUpstreamFailure},
		{http.StatusBadRequest, CodeUpstreamFailure},
	}
	for _, tc := range cases {
		t.Run(strconv.Itoa(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("  slow down  "))
			}))
			defer srv.Close()

			obs := &recordingObserver{}
			client, err := NewFactory(Config{}, jitter.New(1), WithObserver(obs)).Build(nil)
			require.NoError(t, err)

			err = client.PostJSON(context.Background(), srv.URL+"/quote", struct{}{}, nil)
			require.Error(t, err)
			assert.Equal(t, tc.code, xerrors.CodeOf(err))
			assert.Equal(t, tc.status, StatusCodeOf(err))
			assert.True(t, xerrors.RetryableError(err))

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "slow down", se.Body)
			assert.Equal(t, []int{tc.status}, obs.statuses)
			assert.Equal(t, []string{"/quote"}, obs.paths)
		})
	}
}

func TestPostJSONDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	client, err := NewFactory(Config{}, nil).Build(nil)
	require.NoError(t, err)
	var out map[string]any
	err = client.PostJSON(context.Background(), srv.URL, struct{}{}, &out)
	assert.True(t, xerrors.HasCode(err, CodeDecode))
	assert.Equal(t, 0, StatusCodeOf(err))
}

func TestPostJSONBodyLimit(t *testing.T) {
	atLimit := `"` + strings.Repeat("a", maxResponseBody-2) + `"`
	overLimit := `"` + strings.Repeat("a", maxResponseBody-1) + `"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big" {
			_, _ = w.Write([]byte(overLimit))
			return
		}
		_, _ = w.Write([]byte(atLimit))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	client, err := NewFactory(Config{}, jitter.New(1), WithObserver(obs)).Build(nil)
	require.NoError(t, err)

	var fits string
	require.NoError(t, client.PostJSON(context.Background(), srv.URL+"/ok", struct{}{}, &fits))
	assert.Len(t, fits, maxResponseBody-2)

	var big string
	err = client.PostJSON(context.Background(), srv.URL+"/big", struct{}{}, &big)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, CodeTooLarge))
	assert.False(t, xerrors.RetryableError(err))
	assert.Empty(t, big)
	assert.Equal(t, []string{"/ok", "/big"}, obs.paths)
}

func TestPostJSONTransportFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client, err := NewFactory(Config{Timeout: time.Second}, jitter.New(1)).Build(nil)
	require.NoError(t, err)
	err = client.PostJSON(context.Background(), "http://"+addr+"/x", struct{}{}, nil)
	assert.True(t, xerrors.HasCode(err, CodeTransport))
}

func TestPostJSONCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client, err := NewFactory(Config{}, jitter.New(1)).Build(nil)
	require.NoError(t, err)
	err = client.PostJSON(ctx, srv.URL, struct{}{}, nil)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeCanceled))
	assert.False(t, xerrors.RetryableError(err))
}

func TestBuildRoutesThroughProxy(t *testing.T) {
	var sawAuth, sawURI string
	var body map[string]string
	fwd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Proxy-Authorization")
		sawURI = r.RequestURI
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer fwd.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(fwd.URL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	ep := proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: host, Port: p, Username: "u", Password: "p"}

	client, err := NewFactory(Config{}, jitter.New(1)).Build(&ep)
	require.NoError(t, err)
	got, ok := client.Proxy()
	require.True(t, ok)
	assert.Equal(t, ep, got)

	require.NoError(t, client.PostJSON(context.Background(), "http://api.invalid/api/v1/track", map[string]string{"tx_hash": "0x1"}, nil))
	assert.NotEmpty(t, sawAuth)
	assert.Equal(t, "http://api.invalid/api/v1/track", sawURI)
	assert.Equal(t, "0x1", body["tx_hash"])
}
