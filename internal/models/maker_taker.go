package models

import (
	"log/slog"
	"math"

	"trade_sim/internal/domain"
)

// marketTakerFloor is the minimum taker probability for market orders.
const marketTakerFloor = 0.9

// MakerTakerCoefficients weight the logistic taker-probability model.
type MakerTakerCoefficients struct {
	Intercept   float64 `yaml:"intercept"`
	Market      float64 `yaml:"order_type_market"`
	SpreadPct   float64 `yaml:"spread_percentage"`
	SizeToDepth float64 `yaml:"size_to_depth"`
	Volatility  float64 `yaml:"volatility"`
}

// MakerTakerConfig holds default coefficients and an optional fitted block
// over [order_type_market, spread_percentage, size_to_depth, volatility]
// producing the logit of the taker probability.
type MakerTakerConfig struct {
	Coefficients MakerTakerCoefficients `yaml:"coefficients"`
	Fitted       *LinearParams          `yaml:"fitted,omitempty"`
}

// DefaultMakerTakerConfig returns the uncalibrated coefficients.
func DefaultMakerTakerConfig() MakerTakerConfig {
	return MakerTakerConfig{
		Coefficients: MakerTakerCoefficients{
			Intercept:   2.0,
			Market:      2.0,
			SpreadPct:   0.5,
			SizeToDepth: 0.8,
			Volatility:  0.3,
		},
	}
}

const makerTakerInputs = 4

// MakerTakerModel predicts the maker/taker split with logistic regression.
type MakerTakerModel struct {
	cfg    MakerTakerConfig
	logger *slog.Logger
}

// NewMakerTakerModel validates the fitted block if present.
func NewMakerTakerModel(cfg MakerTakerConfig, logger *slog.Logger) (*MakerTakerModel, error) {
	if cfg.Fitted != nil {
		if err := cfg.Fitted.validate(makerTakerInputs); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MakerTakerModel{cfg: cfg, logger: logger}, nil
}

// Fitted reports whether calibrated parameters are in use.
func (m *MakerTakerModel) Fitted() bool {
	return m.cfg.Fitted != nil
}

// Estimate returns maker and taker proportions summing to 1. Market orders
// never go below a 0.9 taker share.
func (m *MakerTakerModel) Estimate(features domain.FeatureSet, quantityUSD float64, orderType domain.OrderType, volatility float64) (domain.MakerTakerSplit, error) {
	if err := checkNonNegative("quantity_usd", quantityUSD); err != nil {
		return domain.MakerTakerSplit{}, err
	}
	if err := checkNonNegative("volatility", volatility); err != nil {
		return domain.MakerTakerSplit{}, err
	}
	spreadPct := features.Get(domain.FeatureSpreadPct, 0.01)
	avgDepth := (features.Get(domain.FeatureBidDepth5Pct, 1) + features.Get(domain.FeatureAskDepth5Pct, 1)) / 2
	if err := checkFinite("spread_percentage", spreadPct); err != nil {
		return domain.MakerTakerSplit{}, err
	}
	if err := checkFinite("depth", avgDepth); err != nil {
		return domain.MakerTakerSplit{}, err
	}
	ratio := sizeToDepth(quantityUSD, avgDepth)
	var market float64
	if orderType.IsMarket() {
		market = 1
	}

	var z float64
	if m.cfg.Fitted != nil {
		z = m.cfg.Fitted.predict([]float64{market, spreadPct, ratio, volatility})
	} else {
		c := m.cfg.Coefficients
		z = c.Intercept + c.Market*market + c.SpreadPct*spreadPct + c.SizeToDepth*ratio + c.Volatility*volatility
	}
	taker := sigmoid(z)
	if orderType.IsMarket() {
		taker = math.Max(taker, marketTakerFloor)
	}
	return domain.MakerTakerSplit{Maker: 1 - taker, Taker: taker}, nil
}

// Fallback is fully taker for market orders and 80/20 maker otherwise.
func (m *MakerTakerModel) Fallback(orderType domain.OrderType) domain.MakerTakerSplit {
	if orderType.IsMarket() {
		return domain.MakerTakerSplit{Maker: 0, Taker: 1}
	}
	return domain.MakerTakerSplit{Maker: 0.8, Taker: 0.2}
}
