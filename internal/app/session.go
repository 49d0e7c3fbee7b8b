package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lp-rfq/internal/execution"
	"lp-rfq/internal/quote"
	"lp-rfq/internal/streamer"
)

const executeTimeout = 30 * time.Second

// SessionOptions 描述一次询价会话。
type SessionOptions struct {
	Side   quote.Side
	Amount decimal.Decimal
	Symbol string
	// Target 为数量计价资产，为空时取 base。
	Target string
	Stream streamer.Options
	// Execute 为 true 时在报价流结束后成交最终锁定的报价。
	Execute bool
}

// SessionResult 为会话结果。
type SessionResult struct {
	Request   quote.Request
	Updates   int
	State     streamer.State
	Final     *streamer.Lock
	Execution *execution.Record
}

// RunSession 运行报价流，每条更新写入历史、推送订阅者并记录锁定变化，可选地执行最终锁定的报价。
func (a *App) RunSession(ctx context.Context, opts SessionOptions, onUpdate func(streamer.Update)) (SessionResult, error) {
	var result SessionResult

	pair, err := a.registry.Get(opts.Symbol)
	if err != nil {
		return result, err
	}
	target := opts.Target
	if target == "" {
		target = pair.BaseAsset
	}
	req, err := quote.NewRequest(opts.Side, opts.Amount, pair.BaseAsset, pair.QuoteAsset, target)
	if err != nil {
		return result, err
	}
	if req.TargetAsset == pair.BaseAsset && req.Amount.LessThan(pair.MinAmount) {
		return result, fmt.Errorf("%w: 数量 %s 低于最小值 %s", quote.ErrInvalidRequest, req.Amount, pair.MinAmount)
	}
	result.Request = req

	s, err := streamer.New(a.aggregator, opts.Stream, a.logger)
	if err != nil {
		return result, err
	}

	previous, epoch := "", -1
	runErr := s.Run(ctx, req, func(u streamer.Update) error {
		result.Updates++
		if err := a.history.LogUpdate(ctx, u); err != nil {
			a.logger.Warn("记录报价更新失败", zap.String("quote_id", u.Best.ID), zap.Error(err))
		}
		if u.LockedProvider != previous || u.Epoch != epoch {
			a.monitor.RecordLockChange(ctx, previous, u)
			previous, epoch = u.LockedProvider, u.Epoch
		}
		a.feed.Publish(u)
		if onUpdate != nil {
			onUpdate(u)
		}
		return nil
	})
	result.State = s.State()
	if lock, ok := s.Locked(); ok {
		result.Final = &lock
	}
	if runErr != nil {
		a.monitor.RecordError(ctx, "报价会话中止", runErr, map[string]interface{}{
			"session": req.Session,
			"request": req.String(),
		})
		return result, runErr
	}

	if opts.Execute {
		if result.Final == nil {
			return result, errors.New("app: 无锁定报价可执行")
		}
		// 报价流被中断时仍成交已确认的报价
		execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), executeTimeout)
		defer cancel()
		rec := a.executor.Execute(execCtx, result.Final.Quote, result.Final.ProviderQuote)
		result.Execution = &rec
	}
	return result, nil
}
