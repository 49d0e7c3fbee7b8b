package orderbook

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lp-rfq/internal/config"
	"lp-rfq/internal/provider"
	"lp-rfq/internal/quote"
)

var _ provider.Provider = (*Provider)(nil)

// Provider 以交易所盘口作为报价：客户买入取卖一，客户卖出取买一。只读取行情，不下单。
type Provider struct {
	name     string
	cfg      config.OrderBookConfig
	client   *Client
	validity time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// New 创建盘口报价源。
func New(cfg config.OrderBookConfig, client *Client, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "Book-" + cfg.Exchange
	}
	validity := cfg.Validity
	if validity <= 0 {
		validity = 5 * time.Second
	}
	return &Provider{
		name:     name,
		cfg:      cfg,
		client:   client,
		validity: validity,
		logger:   logger.With(zap.String("provider", name)),
		now:      time.Now,
	}
}

// Name 返回报价源名称。
func (p *Provider) Name() string {
	return p.name
}

// RequestQuote 读取盘口并返回对应方向的最优价，未配置的交易对返回无报价。
func (p *Provider) RequestQuote(ctx context.Context, req quote.Request) (*quote.ProviderQuote, error) {
	market, ok := p.cfg.Market(req.BaseAsset + req.QuoteAsset)
	if !ok {
		return nil, nil
	}

	start := p.now()
	top, err := p.client.TopOfBook(ctx, market)
	if err != nil {
		return nil, err
	}

	// 报价数量为对应方向盘口首档的 base 数量
	price, size := top.Ask, top.AskSize
	if req.Side == quote.SideSell {
		price, size = top.Bid, top.BidSize
	}

	return &quote.ProviderQuote{
		Provider:  p.name,
		Price:     decimal.NewFromFloat(price),
		Quantity:  decimal.NewFromFloat(size),
		Validity:  p.validity,
		Timestamp: p.now(),
		Side:      req.Side,
		Diagnostics: &quote.Diagnostics{
			Latency:  p.now().Sub(start),
			MidPrice: top.Mid(),
		},
	}, nil
}

// ExecuteTrade 仅校验报价有效期。
func (p *Provider) ExecuteTrade(ctx context.Context, pq quote.ProviderQuote, cq quote.Aggregated) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if pq.IsExpired(p.now()) {
		p.logger.Warn("报价已过期，拒绝成交", zap.String("quote_id", cq.ID))
		return false, nil
	}
	return true, nil
}
