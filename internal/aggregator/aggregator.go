package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lp-rfq/internal/pairs"
	"lp-rfq/internal/provider"
	"lp-rfq/internal/quote"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Options 控制加点与有效期。
type Options struct {
	MarkupBps decimal.Decimal
	// UsePairMarkup 为 true 时使用交易对的默认加点。
	UsePairMarkup   bool
	ValidityBuffer  time.Duration
	MinValidity     time.Duration
	ProviderTimeout time.Duration
}

// DefaultOptions 返回默认参数：5bps 加点，2s 缓冲，最短 3s 有效期。
func DefaultOptions() Options {
	return Options{
		MarkupBps:       decimal.NewFromInt(5),
		ValidityBuffer:  2 * time.Second,
		MinValidity:     3 * time.Second,
		ProviderTimeout: 5 * time.Second,
	}
}

// Outcome 为单个报价源在一轮询价中的结果。
type Outcome struct {
	Provider string
	Quote    *quote.ProviderQuote
	Err      error
	Latency  time.Duration
}

// OK 表示该报价源给出了可用报价。
func (o Outcome) OK() bool {
	return o.Err == nil && o.Quote != nil
}

// OutcomeSink 接收每轮询价的逐源结果。
type OutcomeSink interface {
	ObserveOutcomes(ctx context.Context, req quote.Request, outcomes []Outcome)
}

// Result 为一轮询价的汇总。
type Result struct {
	Quotes   []quote.ProviderQuote
	Best     *quote.Aggregated
	Outcomes []Outcome
}

// Aggregator 并发向报价源询价并选出最优报价。
type Aggregator struct {
	providers []provider.Provider
	pairs     *pairs.Registry
	opts      Options
	sink      OutcomeSink
	logger    *zap.Logger
	now       func() time.Time
}

// New 创建聚合器。providers 的顺序即同价时的优先顺序。
func New(providers []provider.Provider, registry *pairs.Registry, opts Options, sink OutcomeSink, logger *zap.Logger) (*Aggregator, error) {
	if registry == nil {
		return nil, errors.New("aggregator: 交易对目录不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinValidity <= 0 {
		opts.MinValidity = 3 * time.Second
	}
	if opts.MarkupBps.IsNegative() {
		return nil, fmt.Errorf("aggregator: 加点不能为负: %s", opts.MarkupBps)
	}

	seen := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		if _, dup := seen[p.Name()]; dup {
			return nil, fmt.Errorf("aggregator: 报价源名称重复 %q", p.Name())
		}
		seen[p.Name()] = struct{}{}
	}

	return &Aggregator{
		providers: providers,
		pairs:     registry,
		opts:      opts,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Providers 返回已注册报价源名称。
func (a *Aggregator) Providers() []string {
	names := make([]string, 0, len(a.providers))
	for _, p := range a.providers {
		names = append(names, p.Name())
	}
	return names
}

// GetAllQuotes 向全部报价源询价。无可用报价时返回空结果且 Best 为 nil。
func (a *Aggregator) GetAllQuotes(ctx context.Context, req quote.Request) (Result, error) {
	return a.collect(ctx, req, a.providers)
}

// GetQuotesExcluding 向除 excluded 以外的报价源询价，被排除者不会收到请求。
func (a *Aggregator) GetQuotesExcluding(ctx context.Context, excluded string, req quote.Request) (Result, error) {
	competitors := make([]provider.Provider, 0, len(a.providers))
	for _, p := range a.providers {
		if p.Name() != excluded {
			competitors = append(competitors, p)
		}
	}
	return a.collect(ctx, req, competitors)
}

func (a *Aggregator) collect(ctx context.Context, req quote.Request, targets []provider.Provider) (Result, error) {
	pair, err := a.pairs.Lookup(req.BaseAsset, req.QuoteAsset)
	if err != nil {
		return Result{}, err
	}
	if len(targets) == 0 {
		return Result{}, nil
	}

	outcomes := a.fanOut(ctx, req, targets)
	a.report(ctx, req, outcomes)

	quotes := make([]quote.ProviderQuote, 0, len(outcomes))
	for _, o := range outcomes {
		if o.OK() {
			quotes = append(quotes, *o.Quote)
		}
	}
	if len(quotes) == 0 {
		return Result{Quotes: []quote.ProviderQuote{}, Outcomes: outcomes}, nil
	}

	best := selectBest(quotes, req.Side)
	aggregated, err := a.createAggregated(best, req, pair)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Quotes:   quotes,
		Best:     &aggregated,
		Outcomes: outcomes,
	}, nil
}

// fanOut 先发出全部请求再等待，单个报价源失败不会取消其他请求。
func (a *Aggregator) fanOut(ctx context.Context, req quote.Request, targets []provider.Provider) []Outcome {
	roundCtx := ctx
	if a.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		roundCtx, cancel = context.WithTimeout(ctx, a.opts.ProviderTimeout)
		defer cancel()
	}

	outcomes := make([]Outcome, len(targets))
	var group errgroup.Group
	for i, p := range targets {
		group.Go(func() error {
			outcomes[i] = a.request(roundCtx, p, req)
			return nil
		})
	}
	_ = group.Wait()

	return outcomes
}

func (a *Aggregator) request(ctx context.Context, p provider.Provider, req quote.Request) (outcome Outcome) {
	name := p.Name()
	start := time.Now()
	outcome.Provider = name

	defer func() {
		outcome.Latency = time.Since(start)
		if r := recover(); r != nil {
			outcome.Quote = nil
			outcome.Err = &quote.ProviderError{Provider: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	q, err := p.RequestQuote(ctx, req)
	if err != nil {
		outcome.Err = &quote.ProviderError{Provider: name, Err: err}
		return outcome
	}
	if q == nil {
		return outcome
	}
	if !q.Price.IsPositive() {
		outcome.Err = &quote.ProviderError{Provider: name, Err: fmt.Errorf("非法报价 %s", q.Price)}
		return outcome
	}
	if q.Provider == "" {
		q.Provider = name
	}
	outcome.Quote = q
	return outcome
}

func (a *Aggregator) report(ctx context.Context, req quote.Request, outcomes []Outcome) {
	var failures error
	var empty []string
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failures = multierr.Append(failures, o.Err)
		case o.Quote == nil:
			empty = append(empty, o.Provider)
		}
	}

	if failures != nil || len(empty) > 0 {
		a.logger.Warn("部分报价源未返回报价",
			zap.String("session", req.Session),
			zap.Strings("no_quote", empty),
			zap.Error(failures),
		)
	}

	if a.sink != nil {
		a.sink.ObserveOutcomes(ctx, req, outcomes)
	}
}

// selectBest 买入取最低价，卖出取最高价；同价取先出现者。
func selectBest(quotes []quote.ProviderQuote, side quote.Side) quote.ProviderQuote {
	best := quotes[0]
	for _, q := range quotes[1:] {
		if side == quote.SideBuy && q.Price.LessThan(best.Price) {
			best = q
		}
		if side == quote.SideSell && q.Price.GreaterThan(best.Price) {
			best = q
		}
	}
	return best
}
