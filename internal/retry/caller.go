// Package retry 为对外 API 调用提供重试、退避与代理轮换。
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	xerrors "SwapRunner/internal/errors"
	"SwapRunner/internal/httpclient"
	"SwapRunner/internal/jitter"
	"SwapRunner/internal/proxy"
)

// Class 表示失败的退避类别。
type Class int

const (
	// ClassGeneric 使用固定基础延迟加较大抖动。
	ClassGeneric Class = iota
	// ClassRateLimit 对应 HTTP 429，指数退避并轮换代理。
	ClassRateLimit
	// ClassForbidden 对应 HTTP 403，轮换代理，延迟按通用公式计算。
	ClassForbidden
)

func (c Class) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassForbidden:
		return "forbidden"
	default:
		return "generic"
	}
}

// Classify 根据错误链中的 HTTP 状态码判定类别。
func Classify(err error) Class {
	switch httpclient.StatusCodeOf(err) {
	case http.StatusTooManyRequests:
		return ClassRateLimit
	case http.StatusForbidden:
		return ClassForbidden
	default:
		return ClassGeneric
	}
}

// Config 描述重试策略。
type Config struct {
	MaxRetries      int           `yaml:"max_retries"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	BackoffFactor   float64       `yaml:"backoff_factor"`
	BackoffCap      int           `yaml:"backoff_cap"`
	RateLimitJitter time.Duration `yaml:"rate_limit_jitter"`
	GenericJitter   time.Duration `yaml:"generic_jitter"`
}

// DefaultConfig 返回默认策略：最多 20 次尝试，基础延迟 5 秒。
func DefaultConfig() Config {
	return Config{
		MaxRetries:      20,
		BaseDelay:       5 * time.Second,
		BackoffFactor:   1.5,
		BackoffCap:      5,
		RateLimitJitter: time.Second,
		GenericJitter:   2 * time.Second,
	}
}

// WithDefaults 为未设置的字段补齐默认值。
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = def.BackoffCap
	}
	if c.RateLimitJitter <= 0 {
		c.RateLimitJitter = def.RateLimitJitter
	}
	if c.GenericJitter <= 0 {
		c.GenericJitter = def.GenericJitter
	}
	return c
}

// Observer 接收重试过程中的统计回调。
type Observer interface {
	RetryScheduled(operation, class string)
	ProxyRotated(operation string)
}

// Operation 是一次使用给定客户端的 API 调用。
type Operation func(ctx context.Context, client *httpclient.Client) error

// Caller 按策略重复执行 Operation。
type Caller struct {
	cfg       Config
	factory   *httpclient.Factory
	pool      *proxy.Pool
	preferred *proxy.Endpoint
	rnd       *jitter.Source
	sleep     jitter.SleepFunc
	logger    *slog.Logger
	observer  Observer
}

// Option 定义 Caller 的可选配置。
type Option func(*Caller)

// WithConfig 指定重试策略。
func WithConfig(cfg Config) Option {
	return func(c *Caller) {
		c.cfg = cfg.WithDefaults()
	}
}

// WithProxyPool 启用代理池；为空的池等同于直连。
func WithProxyPool(pool *proxy.Pool) Option {
	return func(c *Caller) {
		c.pool = pool
	}
}

// WithRand 指定随机源，测试中用于固定抖动。
func WithRand(rnd *jitter.Source) Option {
	return func(c *Caller) {
		if rnd != nil {
			c.rnd = rnd
		}
	}
}

// WithSleeper 替换等待函数。
func WithSleeper(sleep jitter.SleepFunc) Option {
	return func(c *Caller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(c *Caller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver 注册统计回调。
func WithObserver(o Observer) Option {
	return func(c *Caller) {
		c.observer = o
	}
}

// NewCaller 构造 Caller。
func NewCaller(factory *httpclient.Factory, opts ...Option) *Caller {
	c := &Caller{
		cfg:     DefaultConfig(),
		factory: factory,
		sleep:   jitter.Sleep,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.factory == nil {
		c.factory = httpclient.NewFactory(httpclient.Config{}, c.rnd)
	}
	if c.rnd == nil {
		c.rnd = jitter.NewRandom()
	}
	return c
}

// Config 返回生效的策略。
func (c *Caller) Config() Config { return c.cfg }

// WithPreferredProxy 返回一个以 ep 作为初始客户端代理的副本；ep 为 nil 时清除偏好。
func (c *Caller) WithPreferredProxy(ep *proxy.Endpoint) *Caller {
	cp := *c
	if ep != nil {
		e := *ep
		cp.preferred = &e
	} else {
		cp.preferred = nil
	}
	return &cp
}

// Direct 返回一个不使用代理池与偏好代理的副本。
func (c *Caller) Direct() *Caller {
	cp := *c
	cp.pool = nil
	cp.preferred = nil
	return &cp
}

// Pool 返回代理池，可能为 nil。
func (c *Caller) Pool() *proxy.Pool { return c.pool }

// Delay 计算第 attempt 次（从 0 开始）失败后的等待时间。
func (c *Caller) Delay(class Class, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if class == ClassRateLimit {
		exp := math.Min(float64(attempt), float64(c.cfg.BackoffCap))
		backoff := time.Duration(float64(c.cfg.BaseDelay) * math.Pow(c.cfg.BackoffFactor, exp))
		return backoff + c.rnd.Up(c.cfg.RateLimitJitter)
	}
	return c.cfg.BaseDelay + c.rnd.Up(c.cfg.GenericJitter)
}

// Execute 执行 op，失败时按类别退避重试，最多 MaxRetries 次尝试。
// 携带不可重试错误码的失败立即原样返回；耗尽后返回包裹最后一次错误的 RETRIES_EXHAUSTED。
func (c *Caller) Execute(ctx context.Context, name string, op Operation) error {
	client, err := c.initialClient()
	if err != nil {
		return err
	}
	defer func() { client.Close() }()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return canceled(name, err)
		}
		err := op(ctx, client)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("call recovered after retries",
					slog.String("operation", name),
					slog.Int("attempts", attempt+1),
				)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return canceled(name, ctxErr)
		}
		if coded, ok := xerrors.From(err); ok && !coded.Retryable() {
			return err
		}
		lastErr = err
		if attempt == c.cfg.MaxRetries-1 {
			break
		}

		class := Classify(err)
		if class != ClassGeneric {
			if next, ok := c.rotate(name, client); ok {
				client = next
			}
		}
		delay := c.Delay(class, attempt)
		c.logger.Warn("call failed, retrying",
			slog.String("operation", name),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", c.cfg.MaxRetries),
			slog.String("class", class.String()),
			slog.String("via", client.Describe()),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if c.observer != nil {
			c.observer.RetryScheduled(name, class.String())
		}
		if err := c.sleep(ctx, delay); err != nil {
			return canceled(name, err)
		}
	}

	return xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr,
		fmt.Sprintf("%s failed after %d attempts", name, c.cfg.MaxRetries),
		xerrors.WithMetadata("operation", name),
		xerrors.WithMetadata("class", Classify(lastErr).String()),
	)
}

func (c *Caller) initialClient() (*httpclient.Client, error) {
	var ep *proxy.Endpoint
	if c.preferred != nil {
		ep = c.preferred
	} else if picked, ok := c.pool.PickRandom(); ok {
		ep = &picked
	}
	client, err := c.factory.Build(ep)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "build http client")
	}
	return client, nil
}

// rotate 换成一个独立随机选取的代理，允许与当前代理相同。
func (c *Caller) rotate(name string, current *httpclient.Client) (*httpclient.Client, bool) {
	ep, ok := c.pool.PickRandom()
	if !ok {
		return nil, false
	}
	next, err := c.factory.Build(&ep)
	if err != nil {
		c.logger.Warn("proxy rotation skipped", slog.String("operation", name), slog.Any("error", err))
		return nil, false
	}
	current.Close()
	if c.observer != nil {
		c.observer.ProxyRotated(name)
	}
	return next, true
}

func canceled(name string, err error) error {
	return xerrors.Wrap(xerrors.CodeCanceled, err, name+" canceled")
}
