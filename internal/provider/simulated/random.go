package simulated

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lp-rfq/internal/quote"
)

// RandomOptions 控制随机报价源的行为。
type RandomOptions struct {
	BasePrice   float64
	SpreadBps   float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64
	Validity    time.Duration
	// ExecuteDelay 为成交模拟延迟上限，实际延迟取 [ExecuteDelay/2, ExecuteDelay]。
	ExecuteDelay time.Duration
	Seed         int64
}

// Random 在基准价附近 ±1% 随机波动并带随机延迟的模拟报价源。
type Random struct {
	name   string
	opts   RandomOptions
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom 创建随机报价源。
func NewRandom(name string, opts RandomOptions, logger *zap.Logger) *Random {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Validity <= 0 {
		opts.Validity = 10 * time.Second
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{
		name:   name,
		opts:   opts,
		logger: logger.With(zap.String("provider", name)),
		now:    time.Now,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Name 返回报价源名称。
func (r *Random) Name() string {
	return r.name
}

// RequestQuote 模拟网络延迟后返回报价，按失败率返回无报价。
func (r *Random) RequestQuote(ctx context.Context, req quote.Request) (*quote.ProviderQuote, error) {
	delay := r.uniformDuration(r.opts.MinDelay, r.opts.MaxDelay)
	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}

	r.mu.Lock()
	failed := r.rng.Float64() < r.opts.FailureRate
	variation := r.rng.Float64()*0.02 - 0.01
	r.mu.Unlock()

	if failed {
		return nil, nil
	}

	mid := r.opts.BasePrice * (1 + variation)
	price := applySpread(mid, r.opts.SpreadBps, req.Side)

	return &quote.ProviderQuote{
		Provider:  r.name,
		Price:     price,
		Quantity:  req.Amount,
		Validity:  r.opts.Validity,
		Timestamp: r.now(),
		Side:      req.Side,
		Diagnostics: &quote.Diagnostics{
			Latency:   delay,
			MidPrice:  mid,
			Variation: variation * 100,
		},
	}, nil
}

// ExecuteTrade 模拟成交，报价过期则拒绝。
func (r *Random) ExecuteTrade(ctx context.Context, pq quote.ProviderQuote, cq quote.Aggregated) (bool, error) {
	return executeIfValid(ctx, r.logger, r.now, pq, r.uniformDuration(r.opts.ExecuteDelay/2, r.opts.ExecuteDelay))
}

func (r *Random) uniformDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + time.Duration(r.rng.Int63n(int64(hi-lo)))
}

func applySpread(mid, spreadBps float64, side quote.Side) decimal.Decimal {
	factor := spreadBps / 10000
	if side == quote.SideBuy {
		// 客户买入取卖价
		return decimal.NewFromFloat(mid * (1 + factor))
	}
	return decimal.NewFromFloat(mid * (1 - factor))
}

func executeIfValid(ctx context.Context, logger *zap.Logger, now func() time.Time, pq quote.ProviderQuote, delay time.Duration) (bool, error) {
	if err := sleep(ctx, delay); err != nil {
		return false, err
	}
	if pq.IsExpired(now()) {
		logger.Warn("报价已过期，拒绝成交", zap.Time("quoted_at", pq.Timestamp), zap.Duration("validity", pq.Validity))
		return false, nil
	}
	logger.Info("报价源成交完成", zap.String("price", pq.Price.String()))
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
