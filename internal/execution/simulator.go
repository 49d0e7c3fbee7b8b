package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"lp-rfq/internal/quote"
)

// Venue 抽象对冲执行场所，方便切换真实或模拟成交。
type Venue interface {
	Execute(ctx context.Context, order HedgeOrder, aq quote.Aggregated) (Fill, error)
}

var _ Venue = (*SimulatedVenue)(nil)

// SimulatedVenue 以报价源价格成交，不模拟滑点，手续费按收到的资产收取。
type SimulatedVenue struct {
	CommissionBps decimal.Decimal
}

// NewSimulatedVenue 创建模拟成交场所。
func NewSimulatedVenue(commissionBps decimal.Decimal) *SimulatedVenue {
	return &SimulatedVenue{CommissionBps: commissionBps}
}

// Execute 按对冲委托模拟成交。
func (v *SimulatedVenue) Execute(ctx context.Context, order HedgeOrder, aq quote.Aggregated) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	price := aq.ProviderPrice
	if !price.IsPositive() {
		return Fill{}, fmt.Errorf("execution: 成交价格无效 %s", price)
	}
	if order.Quantity.Valid == order.QuoteQty.Valid {
		return Fill{}, errors.New("execution: 对冲委托必须且只能指定一种数量")
	}

	var qty, quoteQty decimal.Decimal
	if order.Quantity.Valid {
		qty = order.Quantity.Decimal
		quoteQty = qty.Mul(price)
	} else {
		quoteQty = order.QuoteQty.Decimal
		qty = quoteQty.Div(price)
	}

	rate := v.CommissionBps.Div(bpsDivisor)
	fill := Fill{
		OrderID:       "SIM" + aq.ID,
		Side:          order.Side,
		AvgPrice:      price,
		CommissionBps: v.CommissionBps,
	}
	if order.Side == quote.SideBuy {
		fill.Commission = qty.Mul(rate)
		fill.CommissionAsset = aq.BaseAsset
		qty = qty.Sub(fill.Commission)
	} else {
		fill.Commission = quoteQty.Mul(rate)
		fill.CommissionAsset = aq.QuoteAsset
		quoteQty = quoteQty.Sub(fill.Commission)
	}
	fill.ExecutedQty = qty
	fill.ExecutedQuoteQty = quoteQty
	return fill, nil
}
