// Package models holds the four cost estimators evaluated on every tick.
// Each runs on explicit coefficients; a fitted parameter block, when
// supplied, replaces the default linear combination.
package models

import (
	"fmt"
	"log/slog"
	"math"

	"trade_sim/internal/domain"
)

// FeeEstimator computes exchange fees for an order.
type FeeEstimator interface {
	Calculate(exchange, tier string, orderType domain.OrderType, quantityUSD float64, split *domain.MakerTakerSplit) (FeeBreakdown, error)
	Fallback(quantityUSD float64) FeeBreakdown
}

// SlippageEstimator predicts slippage from book features.
type SlippageEstimator interface {
	Estimate(features domain.FeatureSet, quantityUSD float64, isBuy bool, volatility float64) (SlippageEstimate, error)
	Fallback(quantityUSD float64) SlippageEstimate
}

// ImpactEstimator splits market impact into temporary and permanent parts.
type ImpactEstimator interface {
	Estimate(quantityUSD, volatility, midPrice, horizonSeconds float64) (ImpactEstimate, error)
	Fallback(quantityUSD float64) ImpactEstimate
}

// MakerTakerEstimator predicts the maker/taker fill proportions.
type MakerTakerEstimator interface {
	Estimate(features domain.FeatureSet, quantityUSD float64, orderType domain.OrderType, volatility float64) (domain.MakerTakerSplit, error)
	Fallback(orderType domain.OrderType) domain.MakerTakerSplit
}

// Config carries every model's coefficients.
type Config struct {
	Fee        FeeConfig        `yaml:"fee"`
	Slippage   SlippageConfig   `yaml:"slippage"`
	Impact     ImpactConfig     `yaml:"impact"`
	MakerTaker MakerTakerConfig `yaml:"maker_taker"`
}

// DefaultConfig returns the uncalibrated default coefficients.
func DefaultConfig() Config {
	return Config{
		Fee:        DefaultFeeConfig(),
		Slippage:   DefaultSlippageConfig(),
		Impact:     DefaultImpactConfig(),
		MakerTaker: DefaultMakerTakerConfig(),
	}
}

// Suite bundles one estimator per cost component.
type Suite struct {
	Fee        FeeEstimator
	Slippage   SlippageEstimator
	Impact     ImpactEstimator
	MakerTaker MakerTakerEstimator
}

// NewSuite builds the default estimators from cfg.
func NewSuite(cfg Config, logger *slog.Logger) (*Suite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "models")

	slip, err := NewSlippageModel(cfg.Slippage, logger)
	if err != nil {
		return nil, err
	}
	mt, err := NewMakerTakerModel(cfg.MakerTaker, logger)
	if err != nil {
		return nil, err
	}
	impact, err := NewMarketImpactModel(cfg.Impact, logger)
	if err != nil {
		return nil, err
	}
	return &Suite{
		Fee:        NewFeeModel(cfg.Fee, logger),
		Slippage:   slip,
		Impact:     impact,
		MakerTaker: mt,
	}, nil
}

// LinearParams is a fitted linear model over standardized inputs:
// y = intercept + sum(w_i * (x_i - mean_i) / scale_i).
type LinearParams struct {
	Weights   []float64 `yaml:"weights" json:"weights"`
	Intercept float64   `yaml:"intercept" json:"intercept"`
	Means     []float64 `yaml:"means" json:"means"`
	Scales    []float64 `yaml:"scales" json:"scales"`
}

func (p *LinearParams) validate(n int) error {
	if len(p.Weights) != n {
		return fmt.Errorf("fitted weights: got %d, want %d: %w", len(p.Weights), n, domain.ErrInvalidParameters)
	}
	if len(p.Means) != 0 && len(p.Means) != n {
		return fmt.Errorf("fitted means: got %d, want %d: %w", len(p.Means), n, domain.ErrInvalidParameters)
	}
	if len(p.Scales) != 0 && len(p.Scales) != n {
		return fmt.Errorf("fitted scales: got %d, want %d: %w", len(p.Scales), n, domain.ErrInvalidParameters)
	}
	return nil
}

func (p *LinearParams) predict(x []float64) float64 {
	y := p.Intercept
	for i, w := range p.Weights {
		v := x[i]
		if len(p.Means) > 0 {
			v -= p.Means[i]
		}
		if len(p.Scales) > 0 && p.Scales[i] != 0 {
			v /= p.Scales[i]
		}
		y += w * v
	}
	return y
}

// checkFinite rejects NaN and Inf inputs by name.
func checkFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s is not finite (%v): %w", name, v, domain.ErrInvalidParameters)
	}
	return nil
}

func checkNonNegative(name string, v float64) error {
	if err := checkFinite(name, v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("%s must be >= 0, got %v: %w", name, v, domain.ErrInvalidParameters)
	}
	return nil
}

// sizeToDepth is quantity over depth, 1 when depth is not positive, capped at 1.
func sizeToDepth(quantityUSD, depth float64) float64 {
	if depth <= 0 {
		return 1
	}
	return math.Min(quantityUSD/depth, 1)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
