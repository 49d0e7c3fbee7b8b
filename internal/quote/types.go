package quote

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lp-rfq/internal/id"
)

// Side 表示客户方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid 判断方向是否合法。
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide 解析大小写不敏感的方向字符串。
func ParseSide(value string) (Side, error) {
	side := Side(strings.ToUpper(strings.TrimSpace(value)))
	if !side.Valid() {
		return "", fmt.Errorf("%w: 未知方向 %q", ErrInvalidRequest, value)
	}
	return side, nil
}

// ProfitAsset 决定点差利润保留在哪个资产。
type ProfitAsset string

const (
	ProfitBase  ProfitAsset = "base"
	ProfitQuote ProfitAsset = "quote"
)

// Valid 判断利润资产策略是否合法。
func (p ProfitAsset) Valid() bool {
	return p == ProfitBase || p == ProfitQuote
}

// Request 为一次询价会话的请求，创建后不可修改。
type Request struct {
	Session     string
	Side        Side
	Amount      decimal.Decimal
	BaseAsset   string
	QuoteAsset  string
	TargetAsset string
	CreatedAt   time.Time
}

// NewRequest 校验参数并构造请求。TargetAsset 必须等于 base 或 quote。
func NewRequest(side Side, amount decimal.Decimal, base, quoteAsset, target string) (Request, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	quoteAsset = strings.ToUpper(strings.TrimSpace(quoteAsset))
	target = strings.ToUpper(strings.TrimSpace(target))

	if !side.Valid() {
		return Request{}, fmt.Errorf("%w: 未知方向 %q", ErrInvalidRequest, side)
	}
	if !amount.IsPositive() {
		return Request{}, fmt.Errorf("%w: 数量必须大于0, got %s", ErrInvalidRequest, amount)
	}
	if base == "" || quoteAsset == "" {
		return Request{}, fmt.Errorf("%w: base/quote 资产不能为空", ErrInvalidRequest)
	}
	if base == quoteAsset {
		return Request{}, fmt.Errorf("%w: base 与 quote 资产相同 %s", ErrInvalidRequest, base)
	}
	if target != base && target != quoteAsset {
		return Request{}, fmt.Errorf("%w: target_asset 必须为 %s 或 %s, got %s", ErrInvalidRequest, base, quoteAsset, target)
	}

	return Request{
		Session:     uuid.NewString(),
		Side:        side,
		Amount:      amount,
		BaseAsset:   base,
		QuoteAsset:  quoteAsset,
		TargetAsset: target,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Symbol 返回交易对代码，例如 BTCUSDT。
func (r Request) Symbol() string {
	return r.BaseAsset + r.QuoteAsset
}

// TargetIsBase 表示数量以 base 资产计价。
func (r Request) TargetIsBase() bool {
	return r.TargetAsset == r.BaseAsset
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s %s on %s/%s", r.Side, r.Amount, r.TargetAsset, r.BaseAsset, r.QuoteAsset)
}

// Diagnostics 为报价附带的诊断信息。
type Diagnostics struct {
	Latency   time.Duration `json:"latency"`
	MidPrice  float64       `json:"mid_price,omitempty"`
	Phase     float64       `json:"phase,omitempty"`
	Variation float64       `json:"variation_pct,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
}

// ProviderQuote 为单个报价源的一次响应。
type ProviderQuote struct {
	Provider    string          `json:"provider"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Validity    time.Duration   `json:"validity"`
	Timestamp   time.Time       `json:"timestamp"`
	Side        Side            `json:"side"`
	Diagnostics *Diagnostics    `json:"diagnostics,omitempty"`
}

// IsExpired 判断报价在 now 时刻是否已失效。
func (q ProviderQuote) IsExpired(now time.Time) bool {
	return now.Sub(q.Timestamp) > q.Validity
}

// TimeRemaining 返回剩余有效时间，不小于0。
func (q ProviderQuote) TimeRemaining(now time.Time) time.Duration {
	return remaining(q.Timestamp, q.Validity, now)
}

// Aggregated 为展示给客户的报价（报价源价格 + 加点）。
type Aggregated struct {
	ID            string          `json:"quote_id"`
	ClientPrice   decimal.Decimal `json:"client_price"`
	ProviderPrice decimal.Decimal `json:"provider_price"`
	Provider      string          `json:"provider"`
	MarkupBps     decimal.Decimal `json:"markup_bps"`

	Side        Side            `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
	BaseAsset   string          `json:"base_asset"`
	QuoteAsset  string          `json:"quote_asset"`
	TargetAsset string          `json:"target_asset"`
	ProfitAsset ProfitAsset     `json:"profit_asset"`

	ClientGivesAmount    decimal.Decimal `json:"client_gives_amount"`
	ClientGivesAsset     string          `json:"client_gives_asset"`
	ClientReceivesAmount decimal.Decimal `json:"client_receives_amount"`
	ClientReceivesAsset  string          `json:"client_receives_asset"`

	BaseDecimals  int32 `json:"base_decimals"`
	QuoteDecimals int32 `json:"quote_decimals"`

	Validity  time.Duration `json:"validity"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewAggregatedID 生成报价 ID。
func NewAggregatedID() string {
	return id.New("Q")
}

// IsExpired 判断客户报价在 now 时刻是否已失效。
func (a Aggregated) IsExpired(now time.Time) bool {
	return now.Sub(a.CreatedAt) > a.Validity
}

// TimeRemaining 返回客户报价剩余有效时间。
func (a Aggregated) TimeRemaining(now time.Time) time.Duration {
	return remaining(a.CreatedAt, a.Validity, now)
}

// TargetIsBase 表示数量以 base 资产计价。
func (a Aggregated) TargetIsBase() bool {
	return a.TargetAsset == a.BaseAsset
}

// Symbol 返回交易对代码。
func (a Aggregated) Symbol() string {
	return a.BaseAsset + a.QuoteAsset
}

func remaining(start time.Time, validity time.Duration, now time.Time) time.Duration {
	left := validity - now.Sub(start)
	if left < 0 {
		return 0
	}
	return left
}
