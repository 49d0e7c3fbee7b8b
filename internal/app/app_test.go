package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lp-rfq/internal/config"
	"lp-rfq/internal/execution"
	"lp-rfq/internal/history"
	"lp-rfq/internal/monitor"
	"lp-rfq/internal/quote"
	"lp-rfq/internal/store"
	"lp-rfq/internal/streamer"
)

func testConfig() *config.Config {
	sine := func(name string, phase float64) config.SineProviderConfig {
		return config.SineProviderConfig{
			Name:      name,
			BasePrice: 100000,
			Amplitude: 50,
			Frequency: 0.2,
			Phase:     phase,
			SpreadBps: 2,
			Validity:  10 * time.Second,
		}
	}
	return &config.Config{
		App: config.AppConfig{Environment: "test"},
		Pricing: config.PricingConfig{
			MarkupBps:      decimal.NewFromInt(5),
			ValidityBuffer: 2 * time.Second,
			MinValidity:    3 * time.Second,
		},
		Streaming: config.StreamingConfig{
			PollInterval:   10 * time.Millisecond,
			Duration:       60 * time.Millisecond,
			AutoRefresh:    true,
			ImprovementBps: decimal.NewFromInt(1),
		},
		Aggregator: config.AggregatorConfig{ProviderTimeout: time.Second},
		Providers: config.ProvidersConfig{
			Sine: []config.SineProviderConfig{sine("LP-1", 0), sine("LP-2", 1.5707963), sine("LP-3", 3.1415926)},
		},
		Execution: config.ExecutionConfig{
			CommissionBps: decimal.RequireFromString("0.1"),
			MaxRetry:      1,
			RetryWait:     time.Millisecond,
		},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	st, err := store.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	a, err := New(context.Background(), testConfig(), nil, st)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestRunSession_PersistsAndExecutes(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	var seen []streamer.Update
	res, err := a.RunSession(ctx, SessionOptions{
		Side:    quote.SideBuy,
		Amount:  decimal.RequireFromString("1.5"),
		Symbol:  "BTCUSDT",
		Stream:  a.StreamOptions(),
		Execute: true,
	}, func(u streamer.Update) { seen = append(seen, u) })
	if err != nil {
		t.Fatalf("RunSession error: %v", err)
	}

	if res.Updates == 0 || res.Updates != len(seen) {
		t.Fatalf("unexpected updates: result=%d seen=%d", res.Updates, len(seen))
	}
	if res.State != streamer.StateStopped {
		t.Fatalf("expected STOPPED, got %s", res.State)
	}
	if res.Final == nil {
		t.Fatalf("expected final lock")
	}
	if res.Execution == nil || !res.Execution.Succeeded() {
		t.Fatalf("expected successful execution, got %+v", res.Execution)
	}
	if res.Execution.QuoteID != res.Final.Quote.ID {
		t.Fatalf("executed %s, final lock %s", res.Execution.QuoteID, res.Final.Quote.ID)
	}

	quotes, err := a.History().RecentQuotes(ctx, 100)
	if err != nil {
		t.Fatalf("RecentQuotes error: %v", err)
	}
	if len(quotes) == 0 {
		t.Fatalf("expected persisted quotes")
	}
	for _, q := range quotes {
		if q.Session != res.Request.Session {
			t.Fatalf("unexpected session %s", q.Session)
		}
	}

	records, err := a.History().Executions(ctx, 10)
	if err != nil {
		t.Fatalf("Executions error: %v", err)
	}
	if len(records) != 1 || records[0].Status != execution.StatusSuccess {
		t.Fatalf("unexpected execution ledger: %+v", records)
	}

	locks, err := a.Monitor().ListEvents(ctx, monitor.EventLockChange, 100)
	if err != nil {
		t.Fatalf("ListEvents error: %v", err)
	}
	if len(locks) == 0 {
		t.Fatalf("expected lock_change events")
	}
	execs, err := a.Monitor().ListEvents(ctx, monitor.EventExecution, 10)
	if err != nil {
		t.Fatalf("ListEvents error: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution event, got %d", len(execs))
	}
}

func TestRunSession_InterruptedStreamStillExecutes(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := a.StreamOptions()
	opts.Duration = 0
	res, err := a.RunSession(ctx, SessionOptions{
		Side:    quote.SideBuy,
		Amount:  decimal.NewFromInt(1),
		Symbol:  "BTCUSDT",
		Stream:  opts,
		Execute: true,
	}, func(u streamer.Update) {
		if u.Poll == 2 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("RunSession error: %v", err)
	}
	if res.State != streamer.StateStopped {
		t.Fatalf("expected STOPPED, got %s", res.State)
	}
	if res.Execution == nil || !res.Execution.Succeeded() {
		t.Fatalf("expected successful execution, got %+v", res.Execution)
	}

	records, err := a.History().Executions(context.Background(), 10)
	if err != nil {
		t.Fatalf("Executions error: %v", err)
	}
	if len(records) != 1 || records[0].ExecutionID != res.Execution.ExecutionID {
		t.Fatalf("expected one persisted execution, got %+v", records)
	}
	execs, err := a.Monitor().ListEvents(context.Background(), monitor.EventExecution, 10)
	if err != nil {
		t.Fatalf("ListEvents error: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution event, got %d", len(execs))
	}
}

func TestRunSession_RejectsInvalidRequests(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	_, err := a.RunSession(ctx, SessionOptions{
		Side: quote.SideBuy, Amount: decimal.NewFromInt(1), Symbol: "DOGEUSDT", Stream: a.StreamOptions(),
	}, nil)
	if !errors.Is(err, quote.ErrUnsupportedPair) {
		t.Fatalf("expected ErrUnsupportedPair, got %v", err)
	}

	_, err = a.RunSession(ctx, SessionOptions{
		Side: quote.SideBuy, Amount: decimal.RequireFromString("0.0001"), Symbol: "BTCUSDT", Stream: a.StreamOptions(),
	}, nil)
	if !errors.Is(err, quote.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest below min amount, got %v", err)
	}

	_, err = a.RunSession(ctx, SessionOptions{
		Side: quote.SideSell, Amount: decimal.NewFromInt(50000), Symbol: "BTCUSDT", Target: "ETH", Stream: a.StreamOptions(),
	}, nil)
	if !errors.Is(err, quote.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for foreign target, got %v", err)
	}
}

func TestBuildProviders(t *testing.T) {
	cfg := config.ProvidersConfig{
		Random:    config.RandomProviderConfig{Count: 2, NamePrefix: "Mock", BasePrice: 100000, Seed: 7},
		Sine:      []config.SineProviderConfig{{BasePrice: 100000}},
		RateLimit: config.RateLimitConfig{RPS: 100, Burst: 1},
	}
	providers, err := buildProviders(cfg, nil)
	if err != nil {
		t.Fatalf("buildProviders error: %v", err)
	}

	want := []string{"Mock-1", "Mock-2", "Sine-1"}
	if len(providers) != len(want) {
		t.Fatalf("expected %d providers, got %d", len(want), len(providers))
	}
	for i, p := range providers {
		if p.Name() != want[i] {
			t.Fatalf("provider %d: expected %s, got %s", i, want[i], p.Name())
		}
	}

	if _, err := buildProviders(config.ProvidersConfig{}, nil); err == nil {
		t.Fatalf("expected error without providers")
	}
}

func TestBuildProviders_WiresSettlementDelay(t *testing.T) {
	cfg := config.ProvidersConfig{
		Random: config.RandomProviderConfig{Count: 1, BasePrice: 100000, ExecuteDelay: time.Second},
		Sine:   []config.SineProviderConfig{{Name: "LP-1", BasePrice: 100000, ExecuteDelay: time.Second, Seed: 3}},
	}
	providers, err := buildProviders(cfg, nil)
	if err != nil {
		t.Fatalf("buildProviders error: %v", err)
	}

	pq := quote.ProviderQuote{Timestamp: time.Now(), Validity: time.Minute, Price: decimal.NewFromInt(100000)}
	for _, p := range providers {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := p.ExecuteTrade(ctx, pq, quote.Aggregated{})
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("%s: expected settlement delay to outlast ctx, got %v", p.Name(), err)
		}
	}
}

func TestMonitorMux_ServesHistory(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if _, err := a.RunSession(ctx, SessionOptions{
		Side: quote.SideSell, Amount: decimal.NewFromInt(2), Symbol: "BTCUSDT", Stream: a.StreamOptions(),
	}, nil); err != nil {
		t.Fatalf("RunSession error: %v", err)
	}

	srv := httptest.NewServer(a.monitorMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/providers")
	if err != nil {
		t.Fatalf("GET /providers error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var stats []history.ProviderStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(stats) == 0 {
		t.Fatalf("expected provider stats")
	}

	bad, err := http.Get(srv.URL + "/quotes?since=yesterday")
	if err != nil {
		t.Fatalf("GET /quotes error: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", bad.StatusCode)
	}
}

func TestParseLimit(t *testing.T) {
	cases := map[string]int{"": 50, "abc": 50, "-1": 50, "20": 20, "5000": 1000}
	for raw, want := range cases {
		if got := parseLimit(raw, 50); got != want {
			t.Fatalf("parseLimit(%q) = %d, want %d", raw, got, want)
		}
	}
}
