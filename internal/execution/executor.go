package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lp-rfq/internal/id"
	"lp-rfq/internal/pairs"
	"lp-rfq/internal/provider"
	"lp-rfq/internal/quote"
)

// Recorder 持久化执行记录。
type Recorder interface {
	LogExecution(ctx context.Context, rec Record) error
}

// Reporter 接收执行结果用于监控。
type Reporter interface {
	ReportExecution(ctx context.Context, rec Record)
}

// Options 控制对冲提交的重试。
type Options struct {
	MaxRetry  int
	RetryWait time.Duration
}

// Executor 串联对冲计算、报价源成交、对冲成交与盈亏计算。
type Executor struct {
	providers map[string]provider.Provider
	pairs     *pairs.Registry
	venue     Venue
	recorder  Recorder
	reporter  Reporter
	logger    *zap.Logger
	maxRetry  int
	retryWait time.Duration
	now       func() time.Time
}

// NewExecutor 创建执行器。recorder 与 reporter 可为空。
func NewExecutor(providers []provider.Provider, registry *pairs.Registry, venue Venue, opts Options, recorder Recorder, reporter Reporter, logger *zap.Logger) (*Executor, error) {
	if registry == nil {
		return nil, errors.New("execution: 交易对目录不能为空")
	}
	if venue == nil {
		return nil, errors.New("execution: 对冲执行场所不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 3
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}
	return &Executor{
		providers: provider.Index(providers),
		pairs:     registry,
		venue:     venue,
		recorder:  recorder,
		reporter:  reporter,
		logger:    logger,
		maxRetry:  opts.MaxRetry,
		retryWait: opts.RetryWait,
		now:       time.Now,
	}, nil
}

const persistTimeout = 5 * time.Second

// Execute 执行一笔已确认的客户报价。任何失败都转换为 FAILED 记录，不向调用方返回错误。
func (e *Executor) Execute(ctx context.Context, aq quote.Aggregated, pq quote.ProviderQuote) (rec Record) {
	rec = Record{
		ExecutionID: id.New("E"),
		QuoteID:     aq.ID,
		Provider:    aq.Provider,
		ExecutedAt:  e.now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			rec = e.fail(rec, fmt.Errorf("panic: %v", r))
		}
		e.persist(ctx, rec)
	}()

	if err := e.run(ctx, aq, pq, &rec); err != nil {
		return e.fail(rec, err)
	}
	rec.Status = StatusSuccess

	e.logger.Info("执行完成",
		zap.String("execution_id", rec.ExecutionID),
		zap.String("quote_id", rec.QuoteID),
		zap.String("provider", rec.Provider),
		zap.String("hedge", rec.Hedge.Describe(aq.BaseAsset, aq.QuoteAsset)),
		zap.String("pnl", rec.PnL.Describe()),
	)
	return rec
}

func (e *Executor) run(ctx context.Context, aq quote.Aggregated, pq quote.ProviderQuote, rec *Record) error {
	lp, ok := e.providers[aq.Provider]
	if !ok {
		return fmt.Errorf("未找到报价源 %s", aq.Provider)
	}
	pair, err := e.pairs.Lookup(aq.BaseAsset, aq.QuoteAsset)
	if err != nil {
		return err
	}

	hedge, err := CalculateHedge(aq, aq.Side, aq.TargetAsset, pair)
	if err != nil {
		return err
	}
	rec.Hedge = &hedge

	accepted, err := lp.ExecuteTrade(ctx, pq, aq)
	if err != nil {
		return fmt.Errorf("报价源执行失败: %w", err)
	}
	if !accepted {
		return errors.New("报价源执行失败: 报价已过期")
	}

	fill, err := e.submit(ctx, hedge, aq)
	if err != nil {
		return err
	}
	rec.Fill = &fill

	pnl, err := CalculatePnL(aq, aq.Side, aq.TargetAsset, fill, pair)
	if err != nil {
		return err
	}
	rec.PnL = &pnl
	return nil
}

// submit 提交对冲委托，临时性错误按线性退避重试。
func (e *Executor) submit(ctx context.Context, order HedgeOrder, aq quote.Aggregated) (Fill, error) {
	var err error
	for attempt := 1; attempt <= e.maxRetry; attempt++ {
		var fill Fill
		fill, err = e.venue.Execute(ctx, order, aq)
		if err == nil {
			return fill, nil
		}
		if !retryable(err) {
			return Fill{}, fmt.Errorf("对冲下单失败: %w", err)
		}

		wait := time.Duration(attempt) * e.retryWait
		e.logger.Warn("对冲下单失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return Fill{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return Fill{}, fmt.Errorf("重试后仍对冲失败: %w", err)
}

func (e *Executor) fail(rec Record, err error) Record {
	rec.Status = StatusFailed
	rec.Error = err.Error()
	e.logger.Error("执行失败",
		zap.String("execution_id", rec.ExecutionID),
		zap.String("quote_id", rec.QuoteID),
		zap.String("provider", rec.Provider),
		zap.Error(err),
	)
	return rec
}

// persist 在脱离调用方取消的上下文中写入记录，调用方中断时账本仍完整。
func (e *Executor) persist(ctx context.Context, rec Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if e.recorder != nil {
		if err := e.recorder.LogExecution(ctx, rec); err != nil {
			e.logger.Error("执行记录写入失败", zap.String("execution_id", rec.ExecutionID), zap.Error(err))
		}
	}
	if e.reporter != nil {
		e.reporter.ReportExecution(ctx, rec)
	}
}

// TemporaryError 标记可重试的对冲失败。
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string {
	return "temporary: " + e.Err.Error()
}

func (e *TemporaryError) Unwrap() error {
	return e.Err
}

func retryable(err error) bool {
	var tmp *TemporaryError
	return errors.As(err, &tmp)
}
