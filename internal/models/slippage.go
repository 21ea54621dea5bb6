package models

import (
	"log/slog"
	"math"

	"trade_sim/internal/domain"
)

// SlippageCoefficients weight the linear slippage model; output is in percent.
type SlippageCoefficients struct {
	Intercept       float64 `yaml:"intercept"`
	SpreadPct       float64 `yaml:"spread_percentage"`
	SizeToDepth     float64 `yaml:"size_to_depth"`
	VolumeImbalance float64 `yaml:"volume_imbalance"`
	Volatility      float64 `yaml:"volatility"`
}

// SlippageConfig holds default coefficients and an optional fitted block
// over [spread_percentage, size_to_depth, volume_imbalance, volatility].
type SlippageConfig struct {
	Coefficients SlippageCoefficients `yaml:"coefficients"`
	Fitted       *LinearParams        `yaml:"fitted,omitempty"`
}

// DefaultSlippageConfig returns the uncalibrated coefficients.
func DefaultSlippageConfig() SlippageConfig {
	return SlippageConfig{
		Coefficients: SlippageCoefficients{
			Intercept:       0.01,
			SpreadPct:       0.5,
			SizeToDepth:     0.8,
			VolumeImbalance: -0.2,
			Volatility:      0.3,
		},
	}
}

// SlippageEstimate is a slippage prediction for one order.
type SlippageEstimate struct {
	Pct         float64 `json:"slippage_percentage"`
	USD         float64 `json:"slippage_usd"`
	SpreadPct   float64 `json:"spread_percentage"`
	SizeToDepth float64 `json:"size_to_depth"`
	Imbalance   float64 `json:"volume_imbalance"`
}

const slippageInputs = 4

// SlippageModel is a linear regression on book features.
type SlippageModel struct {
	cfg    SlippageConfig
	logger *slog.Logger
}

// NewSlippageModel validates the fitted block if present.
func NewSlippageModel(cfg SlippageConfig, logger *slog.Logger) (*SlippageModel, error) {
	if cfg.Fitted != nil {
		if err := cfg.Fitted.validate(slippageInputs); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlippageModel{cfg: cfg, logger: logger}, nil
}

// Fitted reports whether calibrated parameters are in use.
func (m *SlippageModel) Fitted() bool {
	return m.cfg.Fitted != nil
}

// Estimate predicts slippage. Buys are measured against ask depth within 5%
// of mid; sells use bid depth with the imbalance sign inverted.
func (m *SlippageModel) Estimate(features domain.FeatureSet, quantityUSD float64, isBuy bool, volatility float64) (SlippageEstimate, error) {
	if err := checkNonNegative("quantity_usd", quantityUSD); err != nil {
		return SlippageEstimate{}, err
	}
	if err := checkNonNegative("volatility", volatility); err != nil {
		return SlippageEstimate{}, err
	}
	spreadPct := features.Get(domain.FeatureSpreadPct, 0.01)
	imbalance := features.Get(domain.FeatureVolumeImbalance, 0)
	var depth float64
	if isBuy {
		depth = features.Get(domain.FeatureAskDepth5Pct, 1)
	} else {
		depth = features.Get(domain.FeatureBidDepth5Pct, 1)
		imbalance = -imbalance
	}
	if err := checkFinite("spread_percentage", spreadPct); err != nil {
		return SlippageEstimate{}, err
	}
	if err := checkFinite("volume_imbalance", imbalance); err != nil {
		return SlippageEstimate{}, err
	}
	if err := checkFinite("depth", depth); err != nil {
		return SlippageEstimate{}, err
	}
	ratio := sizeToDepth(quantityUSD, depth)

	var pct float64
	if m.cfg.Fitted != nil {
		pct = m.cfg.Fitted.predict([]float64{spreadPct, ratio, imbalance, volatility})
	} else {
		c := m.cfg.Coefficients
		pct = c.Intercept +
			c.SpreadPct*spreadPct +
			c.SizeToDepth*ratio +
			c.VolumeImbalance*imbalance +
			c.Volatility*volatility
	}
	pct = math.Max(0, pct)
	return SlippageEstimate{
		Pct:         pct,
		USD:         quantityUSD * pct / 100,
		SpreadPct:   spreadPct,
		SizeToDepth: ratio,
		Imbalance:   imbalance,
	}, nil
}

// Fallback is a flat 5 basis points.
func (m *SlippageModel) Fallback(quantityUSD float64) SlippageEstimate {
	return SlippageEstimate{Pct: 0.05, USD: quantityUSD * 0.0005}
}
