package orderbook

import (
	"context"
	"errors"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lp-rfq/internal/config"
	"lp-rfq/internal/quote"
)

type fakeBooks struct {
	book      ccxt.OrderBook
	errs      []error
	loads     int
	fetches   int
	requested string
}

func (f *fakeBooks) loadMarkets() error {
	f.loads++
	return nil
}

func (f *fakeBooks) fetchOrderBook(market string, depth int64) (ccxt.OrderBook, error) {
	f.fetches++
	f.requested = market
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return ccxt.OrderBook{}, err
	}
	return f.book, nil
}

func testConfig() config.OrderBookConfig {
	return config.OrderBookConfig{
		Enabled:  true,
		Name:     "Book-1",
		Exchange: "binanceusdm",
		Markets:  map[string]string{"btcusdt": "BTC/USDT:USDT"},
		Depth:    5,
		Validity: 2 * time.Second,
		Retry:    config.RetryConfig{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
}

func sampleBook() ccxt.OrderBook {
	return ccxt.OrderBook{
		Bids: [][]float64{{99990, 1.2}, {99980, 3}},
		Asks: [][]float64{{100010, 0.8}, {100020, 2}},
	}
}

func newTestProvider(books *fakeBooks) *Provider {
	cfg := testConfig()
	return New(cfg, newClient(books, cfg, nil), nil)
}

func request(t *testing.T, side quote.Side, base, quoteAsset string) quote.Request {
	t.Helper()
	req, err := quote.NewRequest(side, decimal.NewFromInt(1), base, quoteAsset, base)
	require.NoError(t, err)
	return req
}

func TestRequestQuote_UsesAskForBuyAndBidForSell(t *testing.T) {
	books := &fakeBooks{book: sampleBook()}
	p := newTestProvider(books)

	buy, err := p.RequestQuote(context.Background(), request(t, quote.SideBuy, "BTC", "USDT"))
	require.NoError(t, err)
	require.NotNil(t, buy)
	assert.True(t, buy.Price.Equal(decimal.NewFromInt(100010)))
	assert.True(t, buy.Quantity.Equal(decimal.RequireFromString("0.8")))
	assert.Equal(t, "Book-1", buy.Provider)
	assert.Equal(t, 2*time.Second, buy.Validity)
	assert.InDelta(t, 100000.0, buy.Diagnostics.MidPrice, 1e-9)
	assert.Equal(t, "BTC/USDT:USDT", books.requested)

	sell, err := p.RequestQuote(context.Background(), request(t, quote.SideSell, "BTC", "USDT"))
	require.NoError(t, err)
	assert.True(t, sell.Price.Equal(decimal.NewFromInt(99990)))
	assert.True(t, sell.Quantity.Equal(decimal.RequireFromString("1.2")))

	assert.Equal(t, 1, books.loads)
}

func TestRequestQuote_UnmappedPairHasNoQuote(t *testing.T) {
	books := &fakeBooks{book: sampleBook()}
	p := newTestProvider(books)

	q, err := p.RequestQuote(context.Background(), request(t, quote.SideBuy, "ETH", "USDT"))
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.Zero(t, books.fetches)
}

func TestRequestQuote_RetriesNetworkErrors(t *testing.T) {
	books := &fakeBooks{
		book: sampleBook(),
		errs: []error{&ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "reset"}},
	}
	p := newTestProvider(books)

	q, err := p.RequestQuote(context.Background(), request(t, quote.SideBuy, "BTC", "USDT"))
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 2, books.fetches)
}

func TestRequestQuote_PermanentErrorIsNotRetried(t *testing.T) {
	books := &fakeBooks{errs: []error{errors.New("bad symbol")}}
	p := newTestProvider(books)

	_, err := p.RequestQuote(context.Background(), request(t, quote.SideBuy, "BTC", "USDT"))
	require.Error(t, err)
	assert.Equal(t, 1, books.fetches)
}

func TestRequestQuote_MaintenanceStopsRetries(t *testing.T) {
	books := &fakeBooks{errs: []error{&ccxt.Error{Type: ccxt.OnMaintenanceErrType}}}
	p := newTestProvider(books)

	_, err := p.RequestQuote(context.Background(), request(t, quote.SideBuy, "BTC", "USDT"))
	assert.ErrorIs(t, err, ErrMaintenance)
	assert.Equal(t, 1, books.fetches)
}

func TestRequestQuote_EmptyBook(t *testing.T) {
	books := &fakeBooks{book: ccxt.OrderBook{Bids: [][]float64{{99990, 1}}}}
	p := newTestProvider(books)

	_, err := p.RequestQuote(context.Background(), request(t, quote.SideSell, "BTC", "USDT"))
	assert.ErrorIs(t, err, ErrEmptyBook)
}

func TestExecuteTrade_ChecksExpiry(t *testing.T) {
	p := newTestProvider(&fakeBooks{})
	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	p.now = func() time.Time { return now }

	fresh := quote.ProviderQuote{Timestamp: now.Add(-time.Second), Validity: 2 * time.Second}
	ok, err := p.ExecuteTrade(context.Background(), fresh, quote.Aggregated{ID: "Q1"})
	require.NoError(t, err)
	assert.True(t, ok)

	stale := quote.ProviderQuote{Timestamp: now.Add(-3 * time.Second), Validity: 2 * time.Second}
	ok, err = p.ExecuteTrade(context.Background(), stale, quote.Aggregated{ID: "Q2"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewClient_RejectsUnknownExchange(t *testing.T) {
	cfg := testConfig()
	cfg.Exchange = "unknown"
	_, err := NewClient(cfg, nil)
	assert.Error(t, err)
}
