package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	m := New("")
	m.ObserveRequest("/api/v1/execute/astro/swap", 429, nil, 120*time.Millisecond)
	m.ObserveRequest("/api/v1/execute/astro/swap", 200, nil, 80*time.Millisecond)
	m.RetryScheduled("quote", "rate_limit")
	m.ProxyRotated("quote")
	m.AttemptFinished("euclid", "confirmed")
	m.AttemptFinished("euclid", "confirmed")
	m.TrackingFailed("engagement")
	m.Confirmed(3 * time.Second)
	m.AccountFinished("completed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/v1/execute/astro/swap", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("quote", "rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProxyRotations.WithLabelValues("quote")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Attempts.WithLabelValues("euclid", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrackingFailures.WithLabelValues("engagement")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ConfirmationLatency))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("/x", 200, nil, time.Second)
	m.RetryScheduled("quote", "generic")
	m.ProxyRotated("quote")
	m.AttemptFinished("mon", "failed")
	m.TrackingFailed("swap")
	m.Confirmed(time.Second)
	m.AccountFinished("setup_failed")
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("test")
	m.AttemptFinished("andr", "skipped")
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_campaign_attempts_total{status="skipped",token="andr"} 1`)
}

func TestStartServerStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, addr, New("")) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), "go_goroutines")
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Error(t, StartServer(context.Background(), "", nil))
}
