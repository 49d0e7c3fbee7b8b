package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"lp-rfq/internal/quote"
)

// Status 为执行结果状态。
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// HedgeOrder 描述在交易所上的对冲委托，Quantity 与 QuoteQty 有且仅有一个有效。
type HedgeOrder struct {
	Side quote.Side `json:"side"`
	// Quantity 为 base 资产数量。
	Quantity decimal.NullDecimal `json:"quantity"`
	// QuoteQty 为花费或收到的 quote 资产数量。
	QuoteQty decimal.NullDecimal `json:"quote_order_qty"`
}

// Fill 为对冲成交回报。
type Fill struct {
	OrderID          string          `json:"order_id"`
	Side             quote.Side      `json:"side"`
	ExecutedQty      decimal.Decimal `json:"executed_qty"`
	ExecutedQuoteQty decimal.Decimal `json:"executed_quote_qty"`
	AvgPrice         decimal.Decimal `json:"avg_price"`
	Commission       decimal.Decimal `json:"commission"`
	CommissionAsset  string          `json:"commission_asset"`
	CommissionBps    decimal.Decimal `json:"commission_bps"`
}

// PnL 为一笔对冲后的盈亏。
type PnL struct {
	Gross decimal.Decimal `json:"gross_pnl"`
	Asset string          `json:"pnl_asset"`
	Net   decimal.Decimal `json:"net_pnl"`
	Bps   decimal.Decimal `json:"pnl_bps"`
}

// Record 为一次执行的完整记录，失败时 Hedge/Fill/PnL 可能为空。
type Record struct {
	ExecutionID string      `json:"execution_id"`
	QuoteID     string      `json:"quote_id"`
	Status      Status      `json:"status"`
	Provider    string      `json:"provider"`
	Hedge       *HedgeOrder `json:"hedge,omitempty"`
	Fill        *Fill       `json:"fill,omitempty"`
	PnL         *PnL        `json:"pnl,omitempty"`
	Error       string      `json:"error,omitempty"`
	ExecutedAt  time.Time   `json:"executed_at"`
}

// Succeeded 表示执行成功。
func (r Record) Succeeded() bool {
	return r.Status == StatusSuccess
}
