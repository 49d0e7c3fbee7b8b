package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Pricing.MarkupBps.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected default markup 5, got %s", cfg.Pricing.MarkupBps)
	}
	if cfg.Pricing.ValidityBuffer != 2*time.Second || cfg.Pricing.MinValidity != 3*time.Second {
		t.Errorf("unexpected validity defaults %+v", cfg.Pricing)
	}
	if cfg.Streaming.PollInterval != 500*time.Millisecond || cfg.Streaming.Duration != 30*time.Second {
		t.Errorf("unexpected streaming defaults %+v", cfg.Streaming)
	}
	if !cfg.Streaming.AutoRefresh {
		t.Errorf("expected auto refresh enabled by default")
	}
	if !cfg.Execution.CommissionBps.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("expected commission 0.1 bps, got %s", cfg.Execution.CommissionBps)
	}
	if cfg.Providers.Random.Count != 3 {
		t.Errorf("expected 3 random providers, got %d", cfg.Providers.Random.Count)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
pricing:
  markup_bps: 7.5
  use_pair_markup: true
streaming:
  poll_interval: 250ms
  improvement_bps: "0.5"
providers:
  random:
    count: 0
  sine:
    - name: LP-1
      base_price: 100000
      amplitude: 50
      frequency: 0.2
      phase: 0
      trend: -1
      spread_bps: 5
      min_delay: 100ms
      max_delay: 500ms
      validity: 10s
      execute_delay: 300ms
      seed: 11
  orderbook:
    markets:
      BTCUSDT: BTC/USDT:USDT
`)
	t.Setenv("RFQ_STREAMING_DURATION", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Pricing.MarkupBps.Equal(decimal.RequireFromString("7.5")) || !cfg.Pricing.UsePairMarkup {
		t.Errorf("unexpected pricing %+v", cfg.Pricing)
	}
	if cfg.Streaming.PollInterval != 250*time.Millisecond {
		t.Errorf("unexpected poll interval %s", cfg.Streaming.PollInterval)
	}
	if !cfg.Streaming.ImprovementBps.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("unexpected improvement bps %s", cfg.Streaming.ImprovementBps)
	}
	if cfg.Streaming.Duration != 45*time.Second {
		t.Errorf("expected env override of duration, got %s", cfg.Streaming.Duration)
	}
	if len(cfg.Providers.Sine) != 1 || cfg.Providers.Sine[0].Name != "LP-1" || cfg.Providers.Sine[0].MaxDelay != 500*time.Millisecond {
		t.Fatalf("unexpected sine providers %+v", cfg.Providers.Sine)
	}
	if cfg.Providers.Sine[0].ExecuteDelay != 300*time.Millisecond || cfg.Providers.Sine[0].Seed != 11 {
		t.Errorf("unexpected sine settlement options %+v", cfg.Providers.Sine[0])
	}
	if cfg.Providers.Random.ExecuteDelay != 500*time.Millisecond {
		t.Errorf("expected default random execute delay, got %s", cfg.Providers.Random.ExecuteDelay)
	}
	market, ok := cfg.Providers.OrderBook.Market("BTCUSDT")
	if !ok || market != "BTC/USDT:USDT" {
		t.Errorf("unexpected orderbook market %q (found=%v)", market, ok)
	}
}

func TestLoad_ValidationCollectsErrors(t *testing.T) {
	path := writeConfig(t, `
streaming:
  poll_interval: 0s
providers:
  random:
    failure_rate: 2
pricing:
  markup_bps: -1
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"streaming.poll_interval", "failure_rate", "pricing.markup_bps"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoad_RejectsBadDecimal(t *testing.T) {
	path := writeConfig(t, `
pricing:
  markup_bps: "five"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error for non-numeric markup")
	}
}

func TestValidate_RequiresProvider(t *testing.T) {
	path := writeConfig(t, `
providers:
  random:
    count: 0
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "至少配置一个报价源") {
		t.Fatalf("expected provider requirement error, got %v", err)
	}
}
