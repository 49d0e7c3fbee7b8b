package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lp-rfq/internal/pairs"
	"lp-rfq/internal/quote"
)

// CalculateHedge 根据客户方向、目标资产和利润资产决定对冲方向与数量。
//
// 按 profit_asset 选择精确对冲的一侧，使客户报价的收付正好轧平，残差计入利润资产。
func CalculateHedge(aq quote.Aggregated, side quote.Side, target string, pair pairs.Pair) (HedgeOrder, error) {
	if err := checkInputs(aq, side, target, pair); err != nil {
		return HedgeOrder{}, err
	}

	profitInBase := pair.ProfitAsset == quote.ProfitBase
	price := aq.ProviderPrice

	switch {
	case target == pair.BaseAsset && side == quote.SideBuy:
		// 客户买入 base，我们在市场买入 base
		if profitInBase {
			return quoteQtyOrder(quote.SideBuy, aq.ClientGivesAmount), nil
		}
		return quantityOrder(quote.SideBuy, aq.ClientReceivesAmount), nil

	case target == pair.BaseAsset:
		if profitInBase {
			// 只卖出足够支付客户的 base
			return quantityOrder(quote.SideSell, aq.ClientReceivesAmount.Div(price)), nil
		}
		return quantityOrder(quote.SideSell, aq.ClientGivesAmount), nil

	case side == quote.SideBuy:
		// 客户买入 quote，我们卖出 base 换取 quote
		if profitInBase {
			return quantityOrder(quote.SideSell, aq.ClientReceivesAmount.Div(price)), nil
		}
		return quantityOrder(quote.SideSell, aq.ClientGivesAmount), nil

	default:
		if profitInBase {
			return quoteQtyOrder(quote.SideBuy, aq.ClientGivesAmount), nil
		}
		return quantityOrder(quote.SideBuy, aq.ClientReceivesAmount), nil
	}
}

// Describe 返回便于阅读的对冲描述。
func (h HedgeOrder) Describe(base, quoteAsset string) string {
	if h.Quantity.Valid {
		return fmt.Sprintf("%s %s %s", h.Side, h.Quantity.Decimal.StringFixed(8), base)
	}
	return fmt.Sprintf("%s %s %s worth of %s", h.Side, h.QuoteQty.Decimal.StringFixed(8), quoteAsset, base)
}

func quantityOrder(side quote.Side, qty decimal.Decimal) HedgeOrder {
	return HedgeOrder{Side: side, Quantity: decimal.NewNullDecimal(qty)}
}

func quoteQtyOrder(side quote.Side, qty decimal.Decimal) HedgeOrder {
	return HedgeOrder{Side: side, QuoteQty: decimal.NewNullDecimal(qty)}
}

func checkInputs(aq quote.Aggregated, side quote.Side, target string, pair pairs.Pair) error {
	if !side.Valid() {
		return fmt.Errorf("execution: 未知方向 %q", side)
	}
	if target != pair.BaseAsset && target != pair.QuoteAsset {
		return fmt.Errorf("execution: 目标资产 %s 不属于交易对 %s", target, pair.Symbol)
	}
	if !pair.ProfitAsset.Valid() {
		return fmt.Errorf("execution: 交易对 %s 利润资产配置无效 %q", pair.Symbol, pair.ProfitAsset)
	}
	if !aq.ProviderPrice.IsPositive() {
		return fmt.Errorf("execution: 报价源价格无效 %s", aq.ProviderPrice)
	}
	return nil
}
