package aggregator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lp-rfq/internal/pairs"
	"lp-rfq/internal/quote"
)

// CreateAggregatedQuote 对报价源报价加点并生成客户报价，交易对未配置时返回 ErrUnsupportedPair。
func (a *Aggregator) CreateAggregatedQuote(pq quote.ProviderQuote, req quote.Request) (quote.Aggregated, error) {
	p, err := a.pairs.Lookup(req.BaseAsset, req.QuoteAsset)
	if err != nil {
		return quote.Aggregated{}, err
	}
	return a.createAggregated(pq, req, p)
}

func (a *Aggregator) createAggregated(pq quote.ProviderQuote, req quote.Request, p pairs.Pair) (quote.Aggregated, error) {
	markup := a.opts.MarkupBps
	if a.opts.UsePairMarkup {
		markup = p.DefaultMarkupBps
	}

	validity := pq.Validity - a.opts.ValidityBuffer
	if validity < a.opts.MinValidity {
		validity = a.opts.MinValidity
	}

	return priceQuote(pq, req, p, markup, validity, a.now())
}

func priceQuote(pq quote.ProviderQuote, req quote.Request, p pairs.Pair, markup decimal.Decimal, validity time.Duration, now time.Time) (quote.Aggregated, error) {
	if p.BaseAsset != req.BaseAsset || p.QuoteAsset != req.QuoteAsset {
		return quote.Aggregated{}, fmt.Errorf("%w: 请求 %s 与交易对 %s 不匹配", quote.ErrUnsupportedPair, req.Symbol(), p.Symbol)
	}

	targetIsBase := req.TargetIsBase()
	clientPrice := markedUpPrice(pq.Price, markup, premium(targetIsBase, req.Side))

	var (
		gives, receives           decimal.Decimal
		givesAsset, receivesAsset string
	)

	switch {
	case targetIsBase && req.Side == quote.SideBuy:
		// 客户买入 base，支付 quote
		receives, receivesAsset = req.Amount, req.BaseAsset
		gives, givesAsset = req.Amount.Mul(clientPrice), req.QuoteAsset
	case targetIsBase && req.Side == quote.SideSell:
		gives, givesAsset = req.Amount, req.BaseAsset
		receives, receivesAsset = req.Amount.Mul(clientPrice), req.QuoteAsset
	case !targetIsBase && req.Side == quote.SideBuy:
		// 客户买入 quote 等价于卖出 base
		receives, receivesAsset = req.Amount, req.QuoteAsset
		gives, givesAsset = req.Amount.Div(clientPrice), req.BaseAsset
	default:
		gives, givesAsset = req.Amount, req.QuoteAsset
		receives, receivesAsset = req.Amount.Div(clientPrice), req.BaseAsset
	}

	// 支付侧向上取整，收到侧向下截断
	gives, err := p.RoundUp(givesAsset, gives)
	if err != nil {
		return quote.Aggregated{}, err
	}
	receives, err = p.RoundDown(receivesAsset, receives)
	if err != nil {
		return quote.Aggregated{}, err
	}

	return quote.Aggregated{
		ID:                   quote.NewAggregatedID(),
		ClientPrice:          clientPrice,
		ProviderPrice:        pq.Price,
		Provider:             pq.Provider,
		MarkupBps:            markup,
		Side:                 req.Side,
		Amount:               req.Amount,
		BaseAsset:            req.BaseAsset,
		QuoteAsset:           req.QuoteAsset,
		TargetAsset:          req.TargetAsset,
		ProfitAsset:          p.ProfitAsset,
		ClientGivesAmount:    gives,
		ClientGivesAsset:     givesAsset,
		ClientReceivesAmount: receives,
		ClientReceivesAsset:  receivesAsset,
		BaseDecimals:         p.BaseDecimals,
		QuoteDecimals:        p.QuoteDecimals,
		Validity:             validity,
		CreatedAt:            now,
	}, nil
}

// premium 判断客户价格是否在报价源价格上加价。
// 直接交易 base 时买入加价、卖出让价；交易 quote 时方向反转。
func premium(targetIsBase bool, side quote.Side) bool {
	if targetIsBase {
		return side == quote.SideBuy
	}
	return side == quote.SideSell
}

func markedUpPrice(price, markupBps decimal.Decimal, up bool) decimal.Decimal {
	factor := markupBps.Div(bpsDivisor)
	if up {
		return price.Mul(decimal.NewFromInt(1).Add(factor))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(factor))
}
