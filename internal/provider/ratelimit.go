package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"lp-rfq/internal/quote"
)

type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit 为报价请求增加令牌桶限流，rps<=0 时原样返回。
func WithRateLimit(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *rateLimited) RequestQuote(ctx context.Context, req quote.Request) (*quote.ProviderQuote, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("provider: 等待限流令牌失败: %w", err)
	}
	return r.Provider.RequestQuote(ctx, req)
}
