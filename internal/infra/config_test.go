package infra

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trade_sim/internal/domain"
)

const sampleConfig = `
app:
  name: trade-sim
feed:
  url: wss://ws.okx.com:8443/ws/v5/public
  ping_interval_sec: 15
simulations:
  - id: btc-buy
    symbol: BTC-USDT
    quantity_usd: 250
    side: buy
    volatility: 0.03
  - id: eth-sell
    exchange: OKX
    symbol: ETH-USDT
    order_type: limit
    quantity_usd: 100
    side: sell
    fee_tier: Tier 3
models:
  slippage:
    coefficients:
      intercept: 0.02
      spread_percentage: 0.5
      size_to_depth: 0.8
      volume_imbalance: -0.2
      volatility: 0.3
logging:
  level: debug
`

func TestParseConfig_DefaultsAndValues(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if got := cfg.PingInterval(); got != 15*time.Second {
		t.Errorf("PingInterval() = %v, want 15s", got)
	}
	if got := cfg.ReconnectInterval(); got != 5*time.Second {
		t.Errorf("ReconnectInterval() = %v, want 5s", got)
	}
	if cfg.Feed.MaxReconnectAttempts != 5 || cfg.Feed.MaxReconnectMultiplier != 5 {
		t.Errorf("reconnect defaults = %d/%d, want 5/5", cfg.Feed.MaxReconnectAttempts, cfg.Feed.MaxReconnectMultiplier)
	}
	if cfg.Feed.SubscribeBatchSize != 10 || cfg.SubscribeBatchInterval() != time.Second {
		t.Errorf("batch defaults = %d/%v, want 10/1s", cfg.Feed.SubscribeBatchSize, cfg.SubscribeBatchInterval())
	}
	if cfg.Engine.LatencyWindow != 1000 || cfg.Engine.MaxDepth != 100 {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Models.Slippage.Coefficients.Intercept != 0.02 {
		t.Errorf("slippage intercept = %v, want 0.02", cfg.Models.Slippage.Coefficients.Intercept)
	}
	if cfg.Models.Impact.Eta != 0.1 {
		t.Errorf("impact eta = %v, want default 0.1", cfg.Models.Impact.Eta)
	}
	if len(cfg.Models.Fee.Schedules["OKX"]) != 5 {
		t.Errorf("fee tiers = %d, want 5", len(cfg.Models.Fee.Schedules["OKX"]))
	}

	p, err := cfg.Simulations[1].Parameters()
	if err != nil {
		t.Fatalf("Parameters() error = %v", err)
	}
	if p.IsBuy || p.OrderType != domain.OrderTypeLimit || p.FeeTier != "Tier 3" {
		t.Errorf("Parameters() = %+v", p)
	}
	if cfg.Simulations[0].Exchange != "OKX" {
		t.Errorf("default exchange = %q, want OKX", cfg.Simulations[0].Exchange)
	}
}

func TestParseConfig_EmptyGetsDefaultSimulation(t *testing.T) {
	cfg, err := ParseConfig([]byte("feed:\n  mock: true\n"))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if len(cfg.Simulations) != 1 || cfg.Simulations[0].Symbol != "BTC-USDT" {
		t.Errorf("Simulations = %+v, want default BTC-USDT", cfg.Simulations)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"bad url", "feed:\n  url: http://example.com\n", "feed.url"},
		{"negative quantity", "simulations:\n  - symbol: BTC-USDT\n    quantity_usd: -1\n", "simulations[0]"},
		{"bad side", "simulations:\n  - symbol: BTC-USDT\n    quantity_usd: 1\n    side: short\n", "simulations[0]"},
		{"duplicate id", "simulations:\n  - {id: a, symbol: X, quantity_usd: 1}\n  - {id: a, symbol: Y, quantity_usd: 1}\n", "simulations[1].id"},
		{"bad level", "logging:\n  level: trace\n", "logging.level"},
		{"negative depth", "engine:\n  max_depth: -3\n", "engine.max_depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			var ce *domain.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("ParseConfig() error = %v, want ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
			if domain.IsRetriable(err) {
				t.Error("config errors must not be retriable")
			}
		})
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRADESIM_FEED_URL", "ws://127.0.0.1:9999/ws")
	t.Setenv("TRADESIM_LOG_LEVEL", "WARN")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Feed.URL != "ws://127.0.0.1:9999/ws" {
		t.Errorf("Feed.URL = %q, want env override", cfg.Feed.URL)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
