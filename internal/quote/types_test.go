package quote

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_Validation(t *testing.T) {
	tests := []struct {
		name   string
		side   Side
		amount string
		base   string
		quote  string
		target string
	}{
		{name: "target_not_in_pair", side: SideBuy, amount: "1", base: "BTC", quote: "USDT", target: "ETH"},
		{name: "zero_amount", side: SideBuy, amount: "0", base: "BTC", quote: "USDT", target: "BTC"},
		{name: "negative_amount", side: SideSell, amount: "-1", base: "BTC", quote: "USDT", target: "BTC"},
		{name: "bad_side", side: Side("HOLD"), amount: "1", base: "BTC", quote: "USDT", target: "BTC"},
		{name: "same_assets", side: SideBuy, amount: "1", base: "BTC", quote: "BTC", target: "BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequest(tt.side, decimal.RequireFromString(tt.amount), tt.base, tt.quote, tt.target)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestNewRequest_NormalizesAssets(t *testing.T) {
	req, err := NewRequest(SideBuy, decimal.RequireFromString("50000"), "btc", "usdt", "usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", req.Symbol())
	assert.False(t, req.TargetIsBase())
	assert.NotEmpty(t, req.Session)
	assert.Equal(t, "BUY 50000 USDT on BTC/USDT", req.String())
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide(" sell ")
	require.NoError(t, err)
	assert.Equal(t, SideSell, s)
	assert.Equal(t, SideBuy, s.Opposite())

	_, err = ParseSide("short")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestProviderQuote_Expiry(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	q := ProviderQuote{Timestamp: start, Validity: 10 * time.Second}

	assert.False(t, q.IsExpired(start.Add(10*time.Second)))
	assert.True(t, q.IsExpired(start.Add(10*time.Second+time.Millisecond)))
	assert.Equal(t, 4*time.Second, q.TimeRemaining(start.Add(6*time.Second)))
	assert.Equal(t, time.Duration(0), q.TimeRemaining(start.Add(time.Minute)))
}

func TestAggregated_TimeRemaining(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	a := Aggregated{CreatedAt: start, Validity: 8 * time.Second}
	assert.Equal(t, 3*time.Second, a.TimeRemaining(start.Add(5*time.Second)))
	assert.True(t, a.IsExpired(start.Add(9*time.Second)))
}

func TestProviderError_Unwrap(t *testing.T) {
	root := errors.New("timeout")
	err := error(&ProviderError{Provider: "LP-1", Err: root})
	assert.ErrorIs(t, err, root)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "LP-1", pe.Provider)
}
