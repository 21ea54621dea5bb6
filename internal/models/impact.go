package models

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"trade_sim/internal/domain"
)

// tradingSecondsPerYear scales annualized volatility to the execution horizon.
const tradingSecondsPerYear = 252 * 24 * 60 * 60

// ImpactConfig parameterizes the Almgren-Chriss model.
type ImpactConfig struct {
	Eta             float64 `yaml:"eta"`
	Gamma           float64 `yaml:"gamma"`
	HorizonSeconds  float64 `yaml:"horizon_seconds"`
	QuantityScaling float64 `yaml:"quantity_scaling"`
}

// DefaultImpactConfig returns eta = gamma = 0.1 over a one second horizon.
func DefaultImpactConfig() ImpactConfig {
	return ImpactConfig{Eta: 0.1, Gamma: 0.1, HorizonSeconds: 1, QuantityScaling: 1}
}

// ImpactEstimate splits impact into temporary and permanent components.
type ImpactEstimate struct {
	TemporaryUSD     float64 `json:"temporary_impact_usd"`
	PermanentUSD     float64 `json:"permanent_impact_usd"`
	TotalUSD         float64 `json:"total_impact_usd"`
	VolatilityScaled float64 `json:"volatility_scaled"`
	QuantityAsset    float64 `json:"quantity_asset"`
	HorizonSeconds   float64 `json:"horizon_seconds"`
}

// MarketImpactModel implements Almgren-Chriss temporary/permanent impact.
// Calibrate may run concurrently with Estimate.
type MarketImpactModel struct {
	params atomic.Pointer[ImpactConfig]
	logger *slog.Logger
}

// NewMarketImpactModel fills zero fields from DefaultImpactConfig.
func NewMarketImpactModel(cfg ImpactConfig, logger *slog.Logger) (*MarketImpactModel, error) {
	def := DefaultImpactConfig()
	if cfg.Eta == 0 {
		cfg.Eta = def.Eta
	}
	if cfg.Gamma == 0 {
		cfg.Gamma = def.Gamma
	}
	if cfg.HorizonSeconds == 0 {
		cfg.HorizonSeconds = def.HorizonSeconds
	}
	if cfg.QuantityScaling == 0 {
		cfg.QuantityScaling = def.QuantityScaling
	}
	if cfg.Eta < 0 || cfg.Gamma < 0 || cfg.HorizonSeconds < 0 || cfg.QuantityScaling < 0 {
		return nil, fmt.Errorf("impact parameters must be positive, got %+v: %w", cfg, domain.ErrInvalidParameters)
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &MarketImpactModel{logger: logger}
	m.params.Store(&cfg)
	return m, nil
}

// Params returns the active parameters.
func (m *MarketImpactModel) Params() ImpactConfig {
	return *m.params.Load()
}

// Calibrate replaces eta, gamma and quantity scaling. Non-positive values keep the current setting.
func (m *MarketImpactModel) Calibrate(eta, gamma, quantityScaling float64) {
	next := *m.params.Load()
	if eta > 0 {
		next.Eta = eta
	}
	if gamma > 0 {
		next.Gamma = gamma
	}
	if quantityScaling > 0 {
		next.QuantityScaling = quantityScaling
	}
	m.params.Store(&next)
	m.logger.Info("Market impact model calibrated", "eta", next.Eta, "gamma", next.Gamma, "quantity_scaling", next.QuantityScaling)
}

// Estimate computes impact for quantityUSD. midPrice <= 0 means unknown, in
// which case the notional is scaled directly instead of converted to base
// units. horizonSeconds <= 0 selects the configured horizon.
func (m *MarketImpactModel) Estimate(quantityUSD, volatility, midPrice, horizonSeconds float64) (ImpactEstimate, error) {
	if err := checkNonNegative("quantity_usd", quantityUSD); err != nil {
		return ImpactEstimate{}, err
	}
	if err := checkNonNegative("volatility", volatility); err != nil {
		return ImpactEstimate{}, err
	}
	if err := checkFinite("mid_price", midPrice); err != nil {
		return ImpactEstimate{}, err
	}
	p := m.params.Load()
	if horizonSeconds <= 0 || math.IsNaN(horizonSeconds) {
		horizonSeconds = p.HorizonSeconds
	}

	volScaled := volatility * math.Sqrt(horizonSeconds/tradingSecondsPerYear)
	var qty float64
	if midPrice > 0 {
		qty = quantityUSD / midPrice
	} else {
		qty = quantityUSD * p.QuantityScaling
	}
	qty = math.Abs(qty)

	temp := volScaled * qty * math.Sqrt(1/horizonSeconds) * p.Eta
	perm := p.Gamma * volScaled * qty
	if midPrice > 0 {
		temp *= midPrice
		perm *= midPrice
	}
	return ImpactEstimate{
		TemporaryUSD:     temp,
		PermanentUSD:     perm,
		TotalUSD:         temp + perm,
		VolatilityScaled: volScaled,
		QuantityAsset:    qty,
		HorizonSeconds:   horizonSeconds,
	}, nil
}

// Fallback is one basis point temporary plus one permanent.
func (m *MarketImpactModel) Fallback(quantityUSD float64) ImpactEstimate {
	return ImpactEstimate{
		TemporaryUSD: quantityUSD * 0.0001,
		PermanentUSD: quantityUSD * 0.0001,
		TotalUSD:     quantityUSD * 0.0002,
	}
}
