package simulated

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lp-rfq/internal/quote"
)

var twoDecimal = decimal.NewFromInt(2)

// SineOptions 控制正弦报价源。
//
// mid(t) = BasePrice + Amplitude*sin(2π*Frequency*t + Phase) + Trend*t，t 为启动后的秒数。
// 多个报价源取不同相位即可轮流占优。
type SineOptions struct {
	BasePrice float64
	Amplitude float64
	Frequency float64
	Phase     float64
	Trend     float64
	SpreadBps float64
	MinDelay  time.Duration
	MaxDelay  time.Duration
	Validity  time.Duration
	// ExecuteDelay 为成交模拟延迟上限。
	ExecuteDelay time.Duration
	Seed         int64
}

// Sine 为价格按正弦波动的模拟报价源。
type Sine struct {
	name    string
	opts    SineOptions
	logger  *zap.Logger
	now     func() time.Time
	started time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSine 创建正弦报价源。
func NewSine(name string, opts SineOptions, logger *zap.Logger) *Sine {
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
	return &Sine{
		name:    name,
		opts:    opts,
		logger:  logger.With(zap.String("provider", name)),
		now:     time.Now,
		started: time.Now(),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Name 返回报价源名称。
func (s *Sine) Name() string {
	return s.name
}

// MidPrice 返回 elapsed 时刻的中间价。
func (s *Sine) MidPrice(elapsed time.Duration) float64 {
	t := elapsed.Seconds()
	return s.opts.BasePrice +
		s.opts.Amplitude*math.Sin(2*math.Pi*s.opts.Frequency*t+s.opts.Phase) +
		s.opts.Trend*t
}

// RequestQuote 按当前正弦中间价加点差报价，可承接两倍请求数量。
func (s *Sine) RequestQuote(ctx context.Context, req quote.Request) (*quote.ProviderQuote, error) {
	delay := s.uniformDuration(s.opts.MinDelay, s.opts.MaxDelay)
	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}

	now := s.now()
	elapsed := now.Sub(s.started)
	mid := s.MidPrice(elapsed)

	return &quote.ProviderQuote{
		Provider:  s.name,
		Price:     applySpread(mid, s.opts.SpreadBps, req.Side),
		Quantity:  req.Amount.Mul(twoDecimal),
		Validity:  s.opts.Validity,
		Timestamp: now,
		Side:      req.Side,
		Diagnostics: &quote.Diagnostics{
			Latency:  delay,
			MidPrice: mid,
			Phase:    s.opts.Phase,
			Elapsed:  elapsed,
		},
	}, nil
}

// ExecuteTrade 模拟成交，报价过期则拒绝。
func (s *Sine) ExecuteTrade(ctx context.Context, pq quote.ProviderQuote, cq quote.Aggregated) (bool, error) {
	return executeIfValid(ctx, s.logger, s.now, pq, s.uniformDuration(s.opts.ExecuteDelay/2, s.opts.ExecuteDelay))
}

func (s *Sine) uniformDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)))
}
