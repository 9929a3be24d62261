package retry

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SwapRunner/internal/errors"
	"SwapRunner/internal/httpclient"
	"SwapRunner/internal/jitter"
	"SwapRunner/internal/proxy"
	"SwapRunner/pkg/logger"
)

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type countingObserver struct {
	retries   map[string]int
	rotations int
}

func (o *countingObserver) RetryScheduled(_ string, class string) {
	if o.retries == nil {
		o.retries = map[string]int{}
	}
	o.retries[class]++
}

func (o *countingObserver) ProxyRotated(string) { o.rotations++ }

func newTestCaller(t *testing.T, sleeps *recordedSleeps, opts ...Option) *Caller {
	t.Helper()
	rnd := jitter.New(42)
	base := []Option{
		WithRand(rnd),
		WithSleeper(sleeps.sleep),
		WithLogger(logger.Discard()),
	}
	return NewCaller(httpclient.NewFactory(httpclient.Config{}, rnd), append(base, opts...)...)
}

func statusServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n < len(statuses) {
			w.WriteHeader(statuses[n])
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func post(url string) Operation {
	return func(ctx context.Context, c *httpclient.Client) error {
		return c.PostJSON(ctx, url, map[string]string{}, nil)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassRateLimit, Classify(httpStatus(http.StatusTooManyRequests)))
	assert.Equal(t, ClassForbidden, Classify(httpStatus(http.StatusForbidden)))
	assert.Equal(t, ClassGeneric, Classify(httpStatus(http.StatusInternalServerError)))
	assert.Equal(t, ClassGeneric, Classify(assert.AnError))
}

func httpStatus(code int) error {
	return xerrors.Wrap(httpclient.CodeUpstreamFailure, &httpclient.StatusError{StatusCode: code}, "")
}

func TestDelayBounds(t *testing.T) {
	c := newTestCaller(t, &recordedSleeps{})
	base := 5 * time.Second
	for attempt := 0; attempt < 12; attempt++ {
		exp := attempt
		if exp > 5 {
			exp = 5
		}
		floor := time.Duration(float64(base) * pow15(exp))
		for i := 0; i < 50; i++ {
			d := c.Delay(ClassRateLimit, attempt)
			assert.GreaterOrEqual(t, d, floor)
			assert.Less(t, d, floor+time.Second)

			g := c.Delay(ClassGeneric, attempt)
			assert.GreaterOrEqual(t, g, base)
			assert.Less(t, g, base+2*time.Second)

			f := c.Delay(ClassForbidden, attempt)
			assert.GreaterOrEqual(t, f, base)
			assert.Less(t, f, base+2*time.Second)
		}
	}
	// exponent caps at 5: 5s * 1.5^5 = 37.96875s
	assert.Less(t, c.Delay(ClassRateLimit, 19), 37968750*time.Microsecond+time.Second)
}

func pow15(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 1.5
	}
	return v
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	srv, calls := statusServer(t)
	sleeps := &recordedSleeps{}
	err := newTestCaller(t, sleeps).Execute(context.Background(), "quote", post(srv.URL))
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, sleeps.delays)
}

func TestExecuteNeverExceedsMaxAttempts(t *testing.T) {
	srv, calls := statusServer(t, repeat(http.StatusBadGateway, 50)...)
	sleeps := &recordedSleeps{}
	err := newTestCaller(t, sleeps).Execute(context.Background(), "quote", post(srv.URL))
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeRetriesExhausted))
	assert.True(t, xerrors.HasCode(err, httpclient.CodeUpstreamFailure))
	assert.Equal(t, http.StatusBadGateway, httpclient.StatusCodeOf(err))
	assert.EqualValues(t, 20, calls.Load())
	assert.Len(t, sleeps.delays, 19)
}

func TestExecuteCustomLimit(t *testing.T) {
	srv, calls := statusServer(t, repeat(http.StatusTooManyRequests, 10)...)
	sleeps := &recordedSleeps{}
	err := newTestCaller(t, sleeps, WithConfig(Config{MaxRetries: 3})).Execute(context.Background(), "swap", post(srv.URL))
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, httpclient.StatusCodeOf(err))
	assert.EqualValues(t, 3, calls.Load())
	require.Len(t, sleeps.delays, 2)
	assert.GreaterOrEqual(t, sleeps.delays[1], 7500*time.Millisecond)
}

// A rate-limited quote that recovers on the third call: exactly three calls,
// the client is rotated to a pool proxy after each 429.
func TestExecuteRateLimitRotatesProxy(t *testing.T) {
	var mu sync.Mutex
	var viaProxy []string
	var calls atomic.Int32
	fwd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		viaProxy = append(viaProxy, r.Header.Get("Proxy-Authorization"))
		mu.Unlock()
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"meta":"{}"}`))
	}))
	defer fwd.Close()

	ep := endpointOf(t, fwd)
	pool := proxy.NewPool([]proxy.Endpoint{ep}, jitter.New(1))
	sleeps := &recordedSleeps{}
	obs := &countingObserver{}
	c := newTestCaller(t, sleeps, WithProxyPool(pool), WithObserver(obs))

	var out map[string]string
	err := c.Execute(context.Background(), "quote", func(ctx context.Context, cl *httpclient.Client) error {
		return cl.PostJSON(ctx, "http://api.invalid/api/v1/execute/astro/swap", map[string]string{}, &out)
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, "{}", out["meta"])
	assert.Len(t, viaProxy, 3)
	for _, auth := range viaProxy {
		assert.NotEmpty(t, auth)
	}
	assert.Equal(t, 2, obs.rotations)
	assert.Equal(t, 2, obs.retries["rate_limit"])
	require.Len(t, sleeps.delays, 2)
	assert.GreaterOrEqual(t, sleeps.delays[0], 5*time.Second)
	assert.Less(t, sleeps.delays[0], 6*time.Second)
	assert.GreaterOrEqual(t, sleeps.delays[1], 7500*time.Millisecond)
	assert.Less(t, sleeps.delays[1], 8500*time.Millisecond)
}

func TestExecuteForbiddenWithoutPoolStaysDirect(t *testing.T) {
	srv, calls := statusServer(t, http.StatusForbidden)
	sleeps := &recordedSleeps{}
	obs := &countingObserver{}
	err := newTestCaller(t, sleeps, WithObserver(obs)).Execute(context.Background(), "track", post(srv.URL))
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Zero(t, obs.rotations)
	assert.Equal(t, 1, obs.retries["forbidden"])
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	sleeps := &recordedSleeps{}
	calls := 0
	stop := xerrors.New(xerrors.CodeInvalidArgument, "bad quote")
	err := newTestCaller(t, sleeps).Execute(context.Background(), "quote", func(context.Context, *httpclient.Client) error {
		calls++
		return stop
	})
	assert.Same(t, stop, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps.delays)
}

func TestExecuteRetriesPlainErrors(t *testing.T) {
	sleeps := &recordedSleeps{}
	calls := 0
	err := newTestCaller(t, sleeps).Execute(context.Background(), "quote", func(context.Context, *httpclient.Client) error {
		calls++
		if calls < 4 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Len(t, sleeps.delays, 3)
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	c := newTestCaller(t, &recordedSleeps{}, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	err := c.Execute(ctx, "quote", func(context.Context, *httpclient.Client) error {
		calls++
		return assert.AnError
	})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeCanceled))
	assert.Equal(t, 1, calls)
}

func TestPreferredProxyUsedFirst(t *testing.T) {
	sticky := proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "10.1.1.1", Port: 8080}
	other := proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: "10.2.2.2", Port: 8080}
	pool := proxy.NewPool([]proxy.Endpoint{other}, jitter.New(1))
	base := newTestCaller(t, &recordedSleeps{}, WithProxyPool(pool))

	var first proxy.Endpoint
	err := base.WithPreferredProxy(&sticky).Execute(context.Background(), "quote", func(_ context.Context, c *httpclient.Client) error {
		first, _ = c.Proxy()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, sticky, first)

	err = base.Execute(context.Background(), "quote", func(_ context.Context, c *httpclient.Client) error {
		first, _ = c.Proxy()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, other, first)
}

func repeat(status, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = status
	}
	return out
}

func endpointOf(t *testing.T, srv *httptest.Server) proxy.Endpoint {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return proxy.Endpoint{Scheme: proxy.SchemeHTTP, Host: host, Port: p, Username: "rot", Password: "pw"}
}
