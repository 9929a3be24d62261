// Package metrics exposes Prometheus metrics for swap campaigns.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the campaign collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPLatency         *prometheus.HistogramVec
	Retries             *prometheus.CounterVec
	ProxyRotations      *prometheus.CounterVec
	Attempts            *prometheus.CounterVec
	TrackingFailures    *prometheus.CounterVec
	ConfirmationLatency prometheus.Histogram
	AccountsFinished    *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "swaprunner"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Outbound API requests by endpoint path and status code (0 for transport errors).",
		}, []string{"endpoint", "code"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Outbound API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "retries_total",
			Help:      "Scheduled retries by operation and failure class.",
		}, []string{"operation", "class"}),
		ProxyRotations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "proxy_rotations_total",
			Help:      "Proxy rotations after rate limiting or forbidden answers.",
		}, []string{"operation"}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "attempts_total",
			Help:      "Finished transaction attempts by token and final status.",
		}, []string{"token", "status"}),
		TrackingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "tracking_failures_total",
			Help:      "Best-effort tracking calls that failed after retries.",
		}, []string{"service"}),
		ConfirmationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "confirmation_seconds",
			Help:      "Time from broadcast to receipt.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160, 320},
		}),
		AccountsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "accounts_total",
			Help:      "Accounts processed by outcome (completed, partial, failed).",
		}, []string{"outcome"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one outbound API request.
func (m *Metrics) ObserveRequest(endpoint string, status int, _ error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RetryScheduled records a retry about to sleep.
func (m *Metrics) RetryScheduled(operation, class string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(operation, class).Inc()
}

// ProxyRotated records a proxy switch.
func (m *Metrics) ProxyRotated(operation string) {
	if m == nil {
		return
	}
	m.ProxyRotations.WithLabelValues(operation).Inc()
}

// AttemptFinished records the final status of an attempt.
func (m *Metrics) AttemptFinished(token, status string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(token, status).Inc()
}

// TrackingFailed records a failed tracking call.
func (m *Metrics) TrackingFailed(service string) {
	if m == nil {
		return
	}
	m.TrackingFailures.WithLabelValues(service).Inc()
}

// Confirmed records broadcast-to-receipt latency.
func (m *Metrics) Confirmed(latency time.Duration) {
	if m == nil {
		return
	}
	m.ConfirmationLatency.Observe(latency.Seconds())
}

// AccountFinished records an account outcome.
func (m *Metrics) AccountFinished(outcome string) {
	if m == nil {
		return
	}
	m.AccountsFinished.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer serves /metrics on addr until ctx is done.
func StartServer(ctx context.Context, addr string, m *Metrics) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
