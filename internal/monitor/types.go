package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"lp-rfq/internal/execution"
	"lp-rfq/internal/quote"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventProviderFailure EventType = "provider_failure"
	EventLockChange      EventType = "lock_change"
	EventExecution       EventType = "execution"
	EventError           EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// ProviderFailurePayload 记录一次报价源失败。
type ProviderFailurePayload struct {
	Session  string     `json:"session"`
	Provider string     `json:"provider"`
	Side     quote.Side `json:"side"`
	Pair     string     `json:"pair"`
	Error    string     `json:"error"`
	Latency  int64      `json:"latency_ms"`
}

// LockChangePayload 记录锁定报价源的切换或刷新。
type LockChangePayload struct {
	Session     string          `json:"session"`
	QuoteID     string          `json:"quote_id"`
	Provider    string          `json:"provider"`
	Previous    string          `json:"previous_provider,omitempty"`
	ClientPrice decimal.Decimal `json:"client_price"`
	Poll        int             `json:"poll"`
	Epoch       int             `json:"epoch"`
}

// ExecutionPayload 记录执行结果。
type ExecutionPayload struct {
	Record execution.Record `json:"record"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
