package orderbook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"lp-rfq/internal/config"
)

var (
	// ErrMaintenance 表示交易所处于维护状态。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrEmptyBook 表示盘口缺少买一或卖一。
	ErrEmptyBook = errors.New("order book is empty")
)

// Top 为盘口买一卖一。
type Top struct {
	Market    string
	Bid       float64
	BidSize   float64
	Ask       float64
	AskSize   float64
	Timestamp time.Time
}

// Mid 返回中间价。
func (t Top) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

type bookSource interface {
	loadMarkets() error
	fetchOrderBook(market string, depth int64) (ccxt.OrderBook, error)
}

type binanceusdm struct {
	ex *ccxt.Binanceusdm
}

func (b binanceusdm) loadMarkets() error {
	_, err := b.ex.LoadMarkets()
	return err
}

func (b binanceusdm) fetchOrderBook(market string, depth int64) (ccxt.OrderBook, error) {
	return b.ex.FetchOrderBook(market, ccxt.WithFetchOrderBookLimit(depth))
}

// Client 读取交易所公开盘口并实现重试机制，不持有任何交易凭证。
type Client struct {
	retry  config.RetryConfig
	depth  int64
	logger *zap.Logger
	books  bookSource

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 按配置构造交易所客户端，目前支持 binanceusdm。
func NewClient(cfg config.OrderBookConfig, logger *zap.Logger) (*Client, error) {
	var books bookSource
	switch strings.ToLower(cfg.Exchange) {
	case "binanceusdm":
		ex := ccxt.NewBinanceusdm(map[string]interface{}{
			"enableRateLimit": true,
			"options": map[string]interface{}{
				"adjustForTimeDifference": true,
				"defaultType":             "future",
			},
		})
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		books = binanceusdm{ex: ex}
	default:
		return nil, fmt.Errorf("orderbook: 不支持的交易所 %q", cfg.Exchange)
	}
	return newClient(books, cfg, logger), nil
}

func newClient(books bookSource, cfg config.OrderBookConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := int64(cfg.Depth)
	if depth <= 0 {
		depth = 5
	}
	return &Client{
		retry:  cfg.Retry,
		depth:  depth,
		logger: logger,
		books:  books,
	}
}

// TopOfBook 获取市场的买一卖一。
func (c *Client) TopOfBook(ctx context.Context, market string) (Top, error) {
	var raw ccxt.OrderBook
	err := c.callWithRetry(ctx, "fetch_order_book", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		book, err := c.books.fetchOrderBook(market, c.depth)
		if err != nil {
			return err
		}
		raw = book
		return nil
	})
	if err != nil {
		return Top{}, err
	}
	return topOf(market, raw)
}

func topOf(market string, ob ccxt.OrderBook) (Top, error) {
	top := Top{Market: market}
	if len(ob.Bids) == 0 || len(ob.Bids[0]) < 2 || len(ob.Asks) == 0 || len(ob.Asks[0]) < 2 {
		return top, fmt.Errorf("%w: %s", ErrEmptyBook, market)
	}
	top.Bid, top.BidSize = ob.Bids[0][0], ob.Bids[0][1]
	top.Ask, top.AskSize = ob.Asks[0][0], ob.Asks[0][1]
	if top.Bid <= 0 || top.Ask <= 0 {
		return top, fmt.Errorf("%w: %s", ErrEmptyBook, market)
	}

	if ob.Timestamp != nil {
		top.Timestamp = time.UnixMilli(*ob.Timestamp).UTC()
	} else {
		top.Timestamp = time.Now().UTC()
	}
	return top, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}
	if err := c.books.loadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载")
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := c.retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)
		if !retry || attempt >= maxAttempts {
			c.logger.Warn("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}
		c.logger.Debug("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}
