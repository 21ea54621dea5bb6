package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trade_sim/internal/domain"
	"trade_sim/internal/models"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "configs/config.yaml"

// Config holds every application setting.
// After LoadConfig, environment variables override deployment-specific values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		URL                    string `yaml:"url"`
		Channel                string `yaml:"channel"`
		Mock                   bool   `yaml:"mock"`
		MockIntervalMS         int    `yaml:"mock_interval_ms"`
		PingIntervalSec        int    `yaml:"ping_interval_sec"`
		ReconnectIntervalSec   int    `yaml:"reconnect_interval_sec"`
		MaxReconnectMultiplier int    `yaml:"max_reconnect_multiplier"`
		MaxReconnectAttempts   int    `yaml:"max_reconnect_attempts"`
		SubscribeBatchSize     int    `yaml:"subscribe_batch_size"`
		SubscribeBatchMS       int    `yaml:"subscribe_batch_interval_ms"`
		HandshakeTimeoutSec    int    `yaml:"handshake_timeout_sec"`
		QueueSize              int    `yaml:"queue_size"`
	} `yaml:"feed"`

	Simulations []SimulationConfig `yaml:"simulations"`

	Engine struct {
		MaxDepth       int     `yaml:"max_depth"`
		LatencyWindow  int     `yaml:"latency_window"`
		HorizonSeconds float64 `yaml:"horizon_seconds"`
		DumpDir        string  `yaml:"dump_dir"`
	} `yaml:"engine"`

	Models models.Config `yaml:"models"`

	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`

	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		Prefix    string `yaml:"prefix"`
		LatestTTL int    `yaml:"latest_ttl_sec"`
	} `yaml:"redis"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// SimulationConfig describes one independent simulation.
type SimulationConfig struct {
	ID          string  `yaml:"id"`
	Exchange    string  `yaml:"exchange"`
	Symbol      string  `yaml:"symbol"`
	OrderType   string  `yaml:"order_type"`
	QuantityUSD float64 `yaml:"quantity_usd"`
	Side        string  `yaml:"side"`
	FeeTier     string  `yaml:"fee_tier"`
	Volatility  float64 `yaml:"volatility"`
}

// Parameters converts the entry into validated simulation parameters.
func (s SimulationConfig) Parameters() (domain.SimulationParameters, error) {
	ot, err := domain.ParseOrderType(s.OrderType)
	if err != nil {
		return domain.SimulationParameters{}, err
	}
	var isBuy bool
	switch strings.ToLower(strings.TrimSpace(s.Side)) {
	case "buy", "":
		isBuy = true
	case "sell":
		isBuy = false
	default:
		return domain.SimulationParameters{}, fmt.Errorf("side %q: %w", s.Side, domain.ErrInvalidParameters)
	}
	p := domain.SimulationParameters{
		Exchange:    s.Exchange,
		Symbol:      s.Symbol,
		OrderType:   ot,
		QuantityUSD: s.QuantityUSD,
		IsBuy:       isBuy,
		FeeTier:     s.FeeTier,
		Volatility:  s.Volatility,
	}
	return p, p.Validate()
}

// LoadConfig reads .env (if present), parses the YAML file, applies defaults
// and environment overrides, then validates.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML bytes the same way LoadConfig does, without touching .env.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.App.Name, "trade-sim")
	setDefault(&c.Feed.URL, "wss://ws.okx.com:8443/ws/v5/public")
	setDefault(&c.Feed.Channel, "books")
	setDefaultInt(&c.Feed.MockIntervalMS, 500)
	setDefaultInt(&c.Feed.PingIntervalSec, 20)
	setDefaultInt(&c.Feed.ReconnectIntervalSec, 5)
	setDefaultInt(&c.Feed.MaxReconnectMultiplier, 5)
	setDefaultInt(&c.Feed.MaxReconnectAttempts, 5)
	setDefaultInt(&c.Feed.SubscribeBatchSize, 10)
	setDefaultInt(&c.Feed.SubscribeBatchMS, 1000)
	setDefaultInt(&c.Feed.HandshakeTimeoutSec, 10)
	setDefaultInt(&c.Feed.QueueSize, 256)

	setDefaultInt(&c.Engine.MaxDepth, 100)
	setDefaultInt(&c.Engine.LatencyWindow, 1000)
	if c.Engine.HorizonSeconds == 0 {
		c.Engine.HorizonSeconds = 1
	}

	def := models.DefaultConfig()
	if len(c.Models.Fee.Schedules) == 0 {
		c.Models.Fee = def.Fee
	}
	if c.Models.Slippage.Coefficients == (models.SlippageCoefficients{}) {
		c.Models.Slippage.Coefficients = def.Slippage.Coefficients
	}
	if c.Models.MakerTaker.Coefficients == (models.MakerTakerCoefficients{}) {
		c.Models.MakerTaker.Coefficients = def.MakerTaker.Coefficients
	}
	if c.Models.Impact == (models.ImpactConfig{}) {
		c.Models.Impact = def.Impact
	}

	setDefault(&c.Storage.Path, "data/trade_sim.db")
	setDefault(&c.Redis.Addr, "localhost:6379")
	setDefault(&c.Redis.Prefix, "tradesim")
	setDefaultInt(&c.Redis.LatestTTL, 300)
	setDefault(&c.Metrics.Addr, "localhost:6060")

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Dir, "logs")
	setDefault(&c.Logging.File, "app.log")
	setDefaultInt(&c.Logging.MaxSizeMB, 10)
	setDefaultInt(&c.Logging.MaxBackups, 3)
	setDefaultInt(&c.Logging.MaxAgeDays, 28)

	if len(c.Simulations) == 0 {
		p := domain.DefaultParameters()
		c.Simulations = []SimulationConfig{{
			Exchange:    p.Exchange,
			Symbol:      p.Symbol,
			OrderType:   string(p.OrderType),
			QuantityUSD: p.QuantityUSD,
			Side:        "buy",
			FeeTier:     p.FeeTier,
			Volatility:  p.Volatility,
		}}
	}
	for i := range c.Simulations {
		setDefault(&c.Simulations[i].Exchange, "OKX")
		setDefault(&c.Simulations[i].OrderType, string(domain.OrderTypeMarket))
		setDefault(&c.Simulations[i].FeeTier, "Tier 1")
	}
}

func setDefault(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setDefaultInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !c.Feed.Mock && !hasPrefix(c.Feed.URL, "ws://") && !hasPrefix(c.Feed.URL, "wss://") {
		return &domain.ConfigError{Field: "feed.url", Err: fmt.Errorf("invalid websocket URL: %q", c.Feed.URL)}
	}
	positive := []struct {
		field string
		value int
	}{
		{"feed.ping_interval_sec", c.Feed.PingIntervalSec},
		{"feed.reconnect_interval_sec", c.Feed.ReconnectIntervalSec},
		{"feed.max_reconnect_multiplier", c.Feed.MaxReconnectMultiplier},
		{"feed.max_reconnect_attempts", c.Feed.MaxReconnectAttempts},
		{"feed.subscribe_batch_size", c.Feed.SubscribeBatchSize},
		{"feed.handshake_timeout_sec", c.Feed.HandshakeTimeoutSec},
		{"feed.queue_size", c.Feed.QueueSize},
		{"engine.max_depth", c.Engine.MaxDepth},
		{"engine.latency_window", c.Engine.LatencyWindow},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &domain.ConfigError{Field: p.field, Err: fmt.Errorf("must be positive, got %d", p.value)}
		}
	}
	if c.Engine.HorizonSeconds <= 0 {
		return &domain.ConfigError{Field: "engine.horizon_seconds", Err: fmt.Errorf("must be positive, got %v", c.Engine.HorizonSeconds)}
	}

	seen := make(map[string]bool, len(c.Simulations))
	for i, s := range c.Simulations {
		field := fmt.Sprintf("simulations[%d]", i)
		if _, err := s.Parameters(); err != nil {
			return &domain.ConfigError{Field: field, Err: err}
		}
		if s.ID != "" {
			if seen[s.ID] {
				return &domain.ConfigError{Field: field + ".id", Err: fmt.Errorf("duplicate id %q", s.ID)}
			}
			seen[s.ID] = true
		}
	}

	if c.Storage.Enabled && c.Storage.Path == "" {
		return &domain.ConfigError{Field: "storage.path", Err: errors.New("required when storage is enabled")}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return &domain.ConfigError{Field: "redis.addr", Err: errors.New("required when redis is enabled")}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overwrites settings when the matching environment variable is set.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("TRADESIM_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("TRADESIM_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TRADESIM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRADESIM_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TRADESIM_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("TRADESIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// PingInterval is the heartbeat period.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Feed.PingIntervalSec) * time.Second
}

// ReconnectInterval is the base reconnect delay.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Feed.ReconnectIntervalSec) * time.Second
}

// SubscribeBatchInterval is the pause between subscription batches.
func (c *Config) SubscribeBatchInterval() time.Duration {
	return time.Duration(c.Feed.SubscribeBatchMS) * time.Millisecond
}

// HandshakeTimeout bounds each connection attempt.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Feed.HandshakeTimeoutSec) * time.Second
}

// MockInterval is the tick period of the mock feed.
func (c *Config) MockInterval() time.Duration {
	return time.Duration(c.Feed.MockIntervalMS) * time.Millisecond
}

// LatestTTL is how long the latest result per simulation stays in Redis.
func (c *Config) LatestTTL() time.Duration {
	return time.Duration(c.Redis.LatestTTL) * time.Second
}
