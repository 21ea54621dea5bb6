package models

import (
	"fmt"
	"log/slog"
	"strings"

	"trade_sim/internal/domain"
)

// FeeRate is a maker/taker rate pair expressed as fractions of notional.
type FeeRate struct {
	Maker float64 `yaml:"maker" json:"maker"`
	Taker float64 `yaml:"taker" json:"taker"`
}

// FeeConfig maps exchange -> tier -> rates. Unknown exchanges use
// DefaultExchange, unknown tiers use DefaultTier.
type FeeConfig struct {
	Schedules       map[string]map[string]FeeRate `yaml:"schedules"`
	DefaultExchange string                        `yaml:"default_exchange"`
	DefaultTier     string                        `yaml:"default_tier"`
}

// DefaultFeeConfig returns the OKX spot schedule.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		Schedules: map[string]map[string]FeeRate{
			"OKX": {
				"Tier 1": {Maker: 0.0008, Taker: 0.0010},
				"Tier 2": {Maker: 0.0006, Taker: 0.0008},
				"Tier 3": {Maker: 0.0004, Taker: 0.0006},
				"Tier 4": {Maker: 0.0002, Taker: 0.0004},
				"Tier 5": {Maker: 0.0000, Taker: 0.0002},
			},
		},
		DefaultExchange: "OKX",
		DefaultTier:     "Tier 1",
	}
}

// FeeBreakdown is the fee result for one order.
type FeeBreakdown struct {
	MakerFeeUSD     float64 `json:"maker_fee_usd"`
	TakerFeeUSD     float64 `json:"taker_fee_usd"`
	TotalFeeUSD     float64 `json:"total_fee_usd"`
	MakerRate       float64 `json:"maker_fee_rate"`
	TakerRate       float64 `json:"taker_fee_rate"`
	MakerProportion float64 `json:"maker_proportion"`
	TakerProportion float64 `json:"taker_proportion"`
	Exchange        string  `json:"exchange"`
	Tier            string  `json:"tier"`
}

// FeeModel is a rule-based tiered fee lookup.
type FeeModel struct {
	cfg    FeeConfig
	logger *slog.Logger
}

// NewFeeModel creates a fee model. A config without schedules falls back to DefaultFeeConfig.
func NewFeeModel(cfg FeeConfig, logger *slog.Logger) *FeeModel {
	def := DefaultFeeConfig()
	if len(cfg.Schedules) == 0 {
		cfg.Schedules = def.Schedules
	}
	if cfg.DefaultExchange == "" {
		cfg.DefaultExchange = def.DefaultExchange
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = def.DefaultTier
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeeModel{cfg: cfg, logger: logger}
}

// lookup resolves exchange and tier case-insensitively, falling back to defaults.
func (m *FeeModel) lookup(exchange, tier string) (string, string, FeeRate, error) {
	exKey, tiers := m.findExchange(exchange)
	if tiers == nil {
		m.logger.Debug("Unknown exchange, using default fee schedule", "exchange", exchange, "default", m.cfg.DefaultExchange)
		exKey, tiers = m.findExchange(m.cfg.DefaultExchange)
		if tiers == nil {
			return "", "", FeeRate{}, fmt.Errorf("no fee schedule for %q: %w", m.cfg.DefaultExchange, domain.ErrInvalidParameters)
		}
	}
	tierKey, rate, ok := findTier(tiers, tier)
	if !ok {
		m.logger.Debug("Unknown fee tier, using default", "tier", tier, "default", m.cfg.DefaultTier)
		tierKey, rate, ok = findTier(tiers, m.cfg.DefaultTier)
		if !ok {
			return "", "", FeeRate{}, fmt.Errorf("no tier %q for %s: %w", m.cfg.DefaultTier, exKey, domain.ErrInvalidParameters)
		}
	}
	return exKey, tierKey, rate, nil
}

func (m *FeeModel) findExchange(name string) (string, map[string]FeeRate) {
	if tiers, ok := m.cfg.Schedules[name]; ok {
		return name, tiers
	}
	for k, tiers := range m.cfg.Schedules {
		if strings.EqualFold(k, name) {
			return k, tiers
		}
	}
	return "", nil
}

func findTier(tiers map[string]FeeRate, name string) (string, FeeRate, bool) {
	if r, ok := tiers[name]; ok {
		return name, r, true
	}
	for k, r := range tiers {
		if strings.EqualFold(k, strings.TrimSpace(name)) {
			return k, r, true
		}
	}
	return "", FeeRate{}, false
}

// Calculate returns the fee breakdown. With a nil split, market orders are
// fully taker and other orders split evenly; a supplied split is normalized
// to sum to 1.
func (m *FeeModel) Calculate(exchange, tier string, orderType domain.OrderType, quantityUSD float64, split *domain.MakerTakerSplit) (FeeBreakdown, error) {
	if err := checkNonNegative("quantity_usd", quantityUSD); err != nil {
		return FeeBreakdown{}, err
	}
	exKey, tierKey, rate, err := m.lookup(exchange, tier)
	if err != nil {
		return FeeBreakdown{}, err
	}

	var maker, taker float64
	switch {
	case split == nil && orderType.IsMarket():
		maker, taker = 0, 1
	case split == nil:
		maker, taker = 0.5, 0.5
	default:
		if err := checkNonNegative("maker proportion", split.Maker); err != nil {
			return FeeBreakdown{}, err
		}
		if err := checkNonNegative("taker proportion", split.Taker); err != nil {
			return FeeBreakdown{}, err
		}
		maker, taker = split.Maker, split.Taker
		if total := maker + taker; total > 0 {
			maker /= total
			taker /= total
		}
	}

	b := FeeBreakdown{
		MakerFeeUSD:     quantityUSD * maker * rate.Maker,
		TakerFeeUSD:     quantityUSD * taker * rate.Taker,
		MakerRate:       rate.Maker,
		TakerRate:       rate.Taker,
		MakerProportion: maker,
		TakerProportion: taker,
		Exchange:        exKey,
		Tier:            tierKey,
	}
	b.TotalFeeUSD = b.MakerFeeUSD + b.TakerFeeUSD
	return b, nil
}

// Fallback charges the default tier's taker rate on the whole notional.
func (m *FeeModel) Fallback(quantityUSD float64) FeeBreakdown {
	rate := FeeRate{Maker: 0.0008, Taker: 0.0010}
	if _, _, r, err := m.lookup(m.cfg.DefaultExchange, m.cfg.DefaultTier); err == nil {
		rate = r
	}
	return FeeBreakdown{
		TakerFeeUSD:     quantityUSD * rate.Taker,
		TotalFeeUSD:     quantityUSD * rate.Taker,
		MakerRate:       rate.Maker,
		TakerRate:       rate.Taker,
		TakerProportion: 1,
		Exchange:        m.cfg.DefaultExchange,
		Tier:            m.cfg.DefaultTier,
	}
}
