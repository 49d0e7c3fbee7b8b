package quote

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest 表示询价请求参数不合法。
	ErrInvalidRequest = errors.New("invalid quote request")
	// ErrUnsupportedPair 表示交易对没有配置。
	ErrUnsupportedPair = errors.New("unsupported pair")
	// ErrNoQuotesAvailable 表示本轮所有报价源均失败或无报价。
	ErrNoQuotesAvailable = errors.New("no quotes available")
)

// ProviderError 表示单个报价源调用失败。
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
