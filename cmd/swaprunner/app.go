package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"SwapRunner/internal/campaign"
	"SwapRunner/internal/config"
	"SwapRunner/internal/events"
	"SwapRunner/internal/executor"
	"SwapRunner/internal/httpclient"
	"SwapRunner/internal/jitter"
	"SwapRunner/internal/observability/alerting"
	"SwapRunner/internal/observability/metrics"
	"SwapRunner/internal/proxy"
	"SwapRunner/internal/retry"
	"SwapRunner/internal/swap"
	"SwapRunner/internal/wallet"
	"SwapRunner/internal/web3/ethereum"
	"SwapRunner/pkg/logger"
)

// app 持有一次命令执行期间共享的组件。
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	rnd     *jitter.Source
	metrics *metrics.Metrics
	pool    *proxy.Pool
	closers []func()
}

// bootstrap 加载环境文件与配置，初始化日志、指标与代理池。
func bootstrap(ctx context.Context, global *globalOptions) (*app, error) {
	if err := config.LoadDotEnv(global.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(global.resolveConfigPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || global.configPath != "" {
			return nil, err
		}
		cfg = config.Default()
	}
	cfg.ApplyEnv(nil)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     logger.Named("swaprunner"),
		rnd:     jitter.NewRandom(),
		metrics: metrics.New(cfg.Metrics.Namespace),
	}
	a.closers = append(a.closers, func() { _ = logger.Sync() })
	a.pool = proxy.Load(cfg.Proxy.File, a.rnd, logger.Named("proxy"))
	if a.pool.Len() > 0 {
		a.log.Info("proxies loaded", slog.Int("count", a.pool.Len()), slog.String("file", cfg.Proxy.File))
	} else {
		a.log.Warn("no proxies loaded, running without proxy", slog.String("file", cfg.Proxy.File))
	}

	if addr := cfg.Metrics.Address; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr, a.metrics); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
		a.log.Info("metrics server listening", slog.String("address", addr))
	}
	return a, nil
}

// Close 按注册的逆序释放资源。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// accounts 合并环境变量与私钥文件中的账户。
func (a *app) accounts() ([]*wallet.Account, error) {
	fromEnv, err := wallet.FromEnv(os.Environ())
	if err != nil {
		return nil, err
	}
	var fromFile []*wallet.Account
	if path := a.cfg.Accounts.KeyFile; path != "" {
		fromFile, err = wallet.LoadFile(path)
		if err != nil {
			return nil, err
		}
	}
	return wallet.Merge(fromEnv, fromFile), nil
}

func (a *app) alerts() alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if a.cfg.Alerts.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{})
	}
	if a.cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: a.cfg.Alerts.WebhookURL})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

// orchestrator 连接链节点并装配活动执行所需的全部依赖。
func (a *app) orchestrator(ctx context.Context) (*campaign.Orchestrator, *ethereum.Client, error) {
	client, err := ethereum.NewClient(ctx, a.cfg.Network.Config)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, client.Close)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, nil, err
	}
	execCfg, err := a.cfg.ExecutorConfig(chainID)
	if err != nil {
		return nil, nil, err
	}
	exec, err := executor.New(client, execCfg,
		executor.WithLogger(logger.Named("executor")),
		executor.WithStageHook(func(stage executor.Stage, out executor.Outcome) {
			logger.Named("executor").Debug("stage", slog.String("stage", stage.String()), slog.Uint64("gas_limit", out.GasLimit))
		}),
	)
	if err != nil {
		return nil, nil, err
	}

	bus, err := events.Open(ctx, a.cfg.Events)
	if err != nil {
		return nil, nil, err
	}
	var publisher events.Publisher
	if bus != nil {
		publisher = bus
		a.closers = append(a.closers, func() { _ = bus.Close() })
	}

	factory := httpclient.NewFactory(a.cfg.HTTP, a.rnd, httpclient.WithObserver(a.metrics))
	caller := retry.NewCaller(factory,
		retry.WithConfig(a.cfg.Retry),
		retry.WithProxyPool(a.pool),
		retry.WithRand(a.rnd),
		retry.WithLogger(logger.Named("retry")),
		retry.WithObserver(a.metrics),
	)
	settings, err := a.cfg.CampaignSettings()
	if err != nil {
		return nil, nil, err
	}
	runner, err := campaign.NewRunner(settings, campaign.Deps{
		Ledger:   client,
		Executor: exec,
		API:      swap.NewAPI(a.cfg.API),
		Caller:   caller,
		Rand:     a.rnd,
		Events:   publisher,
		Metrics:  a.metrics,
		Alerts:   a.alerts(),
		Logger:   logger.Named("campaign"),
	})
	if err != nil {
		return nil, nil, err
	}
	return campaign.NewOrchestrator(runner), client, nil
}
