package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lp-rfq/internal/aggregator"
	"lp-rfq/internal/config"
	"lp-rfq/internal/execution"
	"lp-rfq/internal/history"
	"lp-rfq/internal/monitor"
	"lp-rfq/internal/pairs"
	"lp-rfq/internal/provider"
	"lp-rfq/internal/provider/orderbook"
	"lp-rfq/internal/provider/simulated"
	"lp-rfq/internal/store"
	"lp-rfq/internal/streamer"
)

const feedBuffer = 32

// App 聚合核心依赖并驱动报价会话。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	registry   *pairs.Registry
	providers  []provider.Provider
	aggregator *aggregator.Aggregator
	history    *history.Logger
	monitor    *monitor.Service
	feed       *monitor.Feed
	executor   *execution.Executor
}

// New 按配置装配报价源、聚合器、历史记录、监控与执行组件。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.Store) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := pairs.Load(cfg.Pairs.File)
	if err != nil {
		return nil, err
	}

	providers, err := buildProviders(cfg.Providers, logger)
	if err != nil {
		return nil, err
	}

	mon, err := monitor.NewService(ctx, st, logger)
	if err != nil {
		return nil, err
	}
	hist, err := history.NewLogger(ctx, st, logger)
	if err != nil {
		return nil, err
	}

	agg, err := aggregator.New(providers, registry, aggregator.Options{
		MarkupBps:       cfg.Pricing.MarkupBps,
		UsePairMarkup:   cfg.Pricing.UsePairMarkup,
		ValidityBuffer:  cfg.Pricing.ValidityBuffer,
		MinValidity:     cfg.Pricing.MinValidity,
		ProviderTimeout: cfg.Aggregator.ProviderTimeout,
	}, mon, logger)
	if err != nil {
		return nil, err
	}

	exec, err := execution.NewExecutor(providers, registry,
		execution.NewSimulatedVenue(cfg.Execution.CommissionBps),
		execution.Options{MaxRetry: cfg.Execution.MaxRetry, RetryWait: cfg.Execution.RetryWait},
		hist, mon, logger,
	)
	if err != nil {
		return nil, err
	}

	logger.Info("报价系统已初始化",
		zap.String("environment", cfg.App.Environment),
		zap.Strings("providers", agg.Providers()),
		zap.Strings("pairs", registry.Symbols()),
	)

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		registry:   registry,
		providers:  providers,
		aggregator: agg,
		history:    hist,
		monitor:    mon,
		feed:       monitor.NewFeed(feedBuffer, logger),
		executor:   exec,
	}, nil
}

// History 返回历史记录服务。
func (a *App) History() *history.Logger {
	return a.history
}

// Monitor 返回监控服务。
func (a *App) Monitor() *monitor.Service {
	return a.monitor
}

// Pairs 返回交易对目录。
func (a *App) Pairs() *pairs.Registry {
	return a.registry
}

// StreamOptions 返回配置中的报价流参数。
func (a *App) StreamOptions() streamer.Options {
	return streamer.Options{
		PollInterval:   a.cfg.Streaming.PollInterval,
		Duration:       a.cfg.Streaming.Duration,
		AutoRefresh:    a.cfg.Streaming.AutoRefresh,
		ImprovementBps: a.cfg.Streaming.ImprovementBps,
	}
}

// Close 断开推送订阅者。
func (a *App) Close() {
	a.feed.Close()
}

func buildProviders(cfg config.ProvidersConfig, logger *zap.Logger) ([]provider.Provider, error) {
	var out []provider.Provider

	prefix := cfg.Random.NamePrefix
	if prefix == "" {
		prefix = "Mock"
	}
	for i := 1; i <= cfg.Random.Count; i++ {
		seed := cfg.Random.Seed
		if seed != 0 {
			seed += int64(i)
		}
		out = append(out, simulated.NewRandom(fmt.Sprintf("%s-%d", prefix, i), simulated.RandomOptions{
			BasePrice:    cfg.Random.BasePrice,
			SpreadBps:    cfg.Random.SpreadBps,
			MinDelay:     cfg.Random.MinDelay,
			MaxDelay:     cfg.Random.MaxDelay,
			FailureRate:  cfg.Random.FailureRate,
			Validity:     cfg.Random.Validity,
			ExecuteDelay: cfg.Random.ExecuteDelay,
			Seed:         seed,
		}, logger))
	}

	for i, sc := range cfg.Sine {
		name := sc.Name
		if name == "" {
			name = fmt.Sprintf("Sine-%d", i+1)
		}
		out = append(out, simulated.NewSine(name, simulated.SineOptions{
			BasePrice:    sc.BasePrice,
			Amplitude:    sc.Amplitude,
			Frequency:    sc.Frequency,
			Phase:        sc.Phase,
			Trend:        sc.Trend,
			SpreadBps:    sc.SpreadBps,
			MinDelay:     sc.MinDelay,
			MaxDelay:     sc.MaxDelay,
			Validity:     sc.Validity,
			ExecuteDelay: sc.ExecuteDelay,
			Seed:         sc.Seed,
		}, logger))
	}

	if cfg.OrderBook.Enabled {
		client, err := orderbook.NewClient(cfg.OrderBook, logger)
		if err != nil {
			return nil, fmt.Errorf("app: 初始化盘口报价源失败: %w", err)
		}
		out = append(out, orderbook.New(cfg.OrderBook, client, logger))
	}

	if cfg.RateLimit.RPS > 0 {
		for i, p := range out {
			out[i] = provider.WithRateLimit(p, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("app: 未配置任何报价源")
	}
	return out, nil
}
