package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lp-rfq/internal/pairs"
	"lp-rfq/internal/quote"
)

var bpsDivisor = decimal.NewFromInt(10000)

// CalculatePnL 比较客户报价的收付与对冲成交，计算以利润资产计价的盈亏。
// 净盈亏直接扣除成交手续费，基点以 quote 资产名义金额为分母。
func CalculatePnL(aq quote.Aggregated, side quote.Side, target string, fill Fill, pair pairs.Pair) (PnL, error) {
	if err := checkInputs(aq, side, target, pair); err != nil {
		return PnL{}, err
	}

	profitInBase := pair.ProfitAsset == quote.ProfitBase
	clientPays := aq.ClientGivesAmount
	clientReceives := aq.ClientReceivesAmount
	gotBase := fill.ExecutedQty
	quoteLeg := fill.ExecutedQuoteQty

	var result PnL
	// 我们买入 base 的情形：客户买 base 或客户卖 quote
	weBoughtBase := (target == pair.BaseAsset) == (side == quote.SideBuy)
	switch {
	case weBoughtBase && profitInBase:
		result.Gross, result.Asset = gotBase.Sub(clientReceives), pair.BaseAsset
	case weBoughtBase:
		result.Gross, result.Asset = clientPays.Sub(quoteLeg), pair.QuoteAsset
	case profitInBase:
		result.Gross, result.Asset = clientPays.Sub(gotBase), pair.BaseAsset
	default:
		result.Gross, result.Asset = quoteLeg.Sub(clientReceives), pair.QuoteAsset
	}

	result.Net = result.Gross.Sub(fill.Commission)

	notional := clientReceives
	if aq.ClientGivesAsset == pair.QuoteAsset {
		notional = clientPays
	}
	if !notional.IsPositive() {
		result.Bps = decimal.Zero
		return result, nil
	}

	inQuote := result.Net
	if result.Asset == pair.BaseAsset {
		inQuote = result.Net.Mul(aq.ProviderPrice)
	}
	result.Bps = inQuote.Div(notional).Mul(bpsDivisor)
	return result, nil
}

// Describe 返回便于阅读的盈亏描述。
func (p PnL) Describe() string {
	sign := ""
	if !p.Net.IsNegative() {
		sign = "+"
	}
	return fmt.Sprintf("%s%s %s (%s%s bps)", sign, p.Net.StringFixed(8), p.Asset, sign, p.Bps.StringFixed(2))
}
