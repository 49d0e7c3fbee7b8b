package provider

import (
	"context"

	"lp-rfq/internal/quote"
)

// Provider 为所有报价源需要实现的能力。
type Provider interface {
	// Name 返回稳定的报价源标识，用于锁定与排除逻辑。
	Name() string
	// RequestQuote 请求报价。返回 nil, nil 表示该报价源本轮无法报价。
	RequestQuote(ctx context.Context, req quote.Request) (*quote.ProviderQuote, error)
	// ExecuteTrade 以先前的报价成交，报价已过期时返回 false。
	ExecuteTrade(ctx context.Context, pq quote.ProviderQuote, cq quote.Aggregated) (bool, error)
}

// Index 按名称索引报价源。
func Index(providers []Provider) map[string]Provider {
	out := make(map[string]Provider, len(providers))
	for _, p := range providers {
		out[p.Name()] = p
	}
	return out
}
