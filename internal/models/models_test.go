package models

import (
	"errors"
	"math"
	"testing"

	"trade_sim/internal/domain"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newSuite(t *testing.T) *Suite {
	t.Helper()
	s, err := NewSuite(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewSuite() error = %v", err)
	}
	return s
}

func TestFeeModel_Calculate(t *testing.T) {
	m := NewFeeModel(DefaultFeeConfig(), nil)
	tests := []struct {
		name      string
		exchange  string
		tier      string
		orderType domain.OrderType
		split     *domain.MakerTakerSplit
		wantTotal float64
		wantTier  string
	}{
		{"market tier1 all taker", "OKX", "Tier 1", domain.OrderTypeMarket, nil, 0.10, "Tier 1"},
		{"limit tier1 even split", "OKX", "Tier 1", domain.OrderTypeLimit, nil, 100 * (0.5*0.0008 + 0.5*0.0010), "Tier 1"},
		{"tier5 maker free", "OKX", "Tier 5", domain.OrderTypeLimit, &domain.MakerTakerSplit{Maker: 1, Taker: 0}, 0, "Tier 5"},
		{"split normalized", "OKX", "Tier 2", domain.OrderTypeLimit, &domain.MakerTakerSplit{Maker: 2, Taker: 2}, 100 * (0.5*0.0006 + 0.5*0.0008), "Tier 2"},
		{"unknown exchange", "KRAKEN", "Tier 3", domain.OrderTypeMarket, nil, 100 * 0.0006, "Tier 3"},
		{"unknown tier", "okx", "VIP 9", domain.OrderTypeMarket, nil, 0.10, "Tier 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Calculate(tt.exchange, tt.tier, tt.orderType, 100, tt.split)
			if err != nil {
				t.Fatalf("Calculate() error = %v", err)
			}
			if !approx(got.TotalFeeUSD, tt.wantTotal) {
				t.Errorf("TotalFeeUSD = %v, want %v", got.TotalFeeUSD, tt.wantTotal)
			}
			if got.Tier != tt.wantTier {
				t.Errorf("Tier = %q, want %q", got.Tier, tt.wantTier)
			}
			if !approx(got.MakerProportion+got.TakerProportion, 1) {
				t.Errorf("proportions sum = %v, want 1", got.MakerProportion+got.TakerProportion)
			}
		})
	}
}

func TestFeeModel_RejectsBadInput(t *testing.T) {
	m := NewFeeModel(DefaultFeeConfig(), nil)
	if _, err := m.Calculate("OKX", "Tier 1", domain.OrderTypeMarket, math.NaN(), nil); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Errorf("NaN quantity error = %v, want ErrInvalidParameters", err)
	}
	if _, err := m.Calculate("OKX", "Tier 1", domain.OrderTypeMarket, 10, &domain.MakerTakerSplit{Maker: -1, Taker: 1}); err == nil {
		t.Error("expected error for negative proportion")
	}
	if fb := m.Fallback(100); !approx(fb.TotalFeeUSD, 0.1) {
		t.Errorf("Fallback().TotalFeeUSD = %v, want 0.1", fb.TotalFeeUSD)
	}
}

func TestSlippageModel_Estimate(t *testing.T) {
	m, _ := NewSlippageModel(DefaultSlippageConfig(), nil)
	features := domain.FeatureSet{
		domain.FeatureSpreadPct:       0.2,
		domain.FeatureVolumeImbalance: 0.5,
		domain.FeatureAskDepth5Pct:    200,
		domain.FeatureBidDepth5Pct:    50,
	}
	tests := []struct {
		name    string
		isBuy   bool
		qty     float64
		wantPct float64
	}{
		// 0.01 + 0.5*0.2 + 0.8*(100/200) - 0.2*0.5 + 0.3*0.02
		{"buy", true, 100, 0.01 + 0.1 + 0.4 - 0.1 + 0.006},
		// ratio capped at 1, imbalance inverted
		{"sell", false, 100, 0.01 + 0.1 + 0.8 + 0.1 + 0.006},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Estimate(features, tt.qty, tt.isBuy, 0.02)
			if err != nil {
				t.Fatalf("Estimate() error = %v", err)
			}
			if !approx(got.Pct, tt.wantPct) {
				t.Errorf("Pct = %v, want %v", got.Pct, tt.wantPct)
			}
			if !approx(got.USD, tt.qty*tt.wantPct/100) {
				t.Errorf("USD = %v, want %v", got.USD, tt.qty*tt.wantPct/100)
			}
		})
	}
}

func TestSlippageModel_ClampsAtZero(t *testing.T) {
	cfg := DefaultSlippageConfig()
	cfg.Coefficients.Intercept = -10
	m, _ := NewSlippageModel(cfg, nil)
	got, err := m.Estimate(domain.FeatureSet{}, 100, true, 0)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if got.Pct != 0 || got.USD != 0 {
		t.Errorf("Estimate() = %+v, want zero", got)
	}
}

func TestSlippageModel_Fitted(t *testing.T) {
	cfg := DefaultSlippageConfig()
	cfg.Fitted = &LinearParams{
		Weights:   []float64{1, 0, 0, 0},
		Intercept: 0.1,
		Means:     []float64{0.1, 0, 0, 0},
		Scales:    []float64{0.1, 1, 1, 1},
	}
	m, err := NewSlippageModel(cfg, nil)
	if err != nil {
		t.Fatalf("NewSlippageModel() error = %v", err)
	}
	if !m.Fitted() {
		t.Error("Fitted() = false, want true")
	}
	got, _ := m.Estimate(domain.FeatureSet{domain.FeatureSpreadPct: 0.3}, 100, true, 0.02)
	// 0.1 + (0.3-0.1)/0.1
	if !approx(got.Pct, 2.1) {
		t.Errorf("Pct = %v, want 2.1", got.Pct)
	}

	cfg.Fitted = &LinearParams{Weights: []float64{1}}
	if _, err := NewSlippageModel(cfg, nil); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Errorf("NewSlippageModel() error = %v, want ErrInvalidParameters", err)
	}
}

func TestSlippageModel_RejectsNaNFeature(t *testing.T) {
	m, _ := NewSlippageModel(DefaultSlippageConfig(), nil)
	_, err := m.Estimate(domain.FeatureSet{domain.FeatureSpreadPct: math.NaN()}, 100, true, 0.02)
	if !errors.Is(err, domain.ErrInvalidParameters) {
		t.Errorf("Estimate() error = %v, want ErrInvalidParameters", err)
	}
	fb := m.Fallback(1000)
	if !approx(fb.USD, 0.5) || fb.Pct != 0.05 {
		t.Errorf("Fallback() = %+v, want 0.05%% / 0.5 USD", fb)
	}
}

func TestMarketImpactModel_Estimate(t *testing.T) {
	m, _ := NewMarketImpactModel(DefaultImpactConfig(), nil)
	got, err := m.Estimate(1000, 0.5, 50000, 0)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	volScaled := 0.5 * math.Sqrt(1.0/(252*86400))
	q := 1000.0 / 50000
	wantTemp := volScaled * q * 0.1 * 50000
	wantPerm := 0.1 * volScaled * q * 50000
	if !approx(got.TemporaryUSD, wantTemp) || !approx(got.PermanentUSD, wantPerm) {
		t.Errorf("Estimate() = %+v, want temp %v perm %v", got, wantTemp, wantPerm)
	}
	if !approx(got.TotalUSD, wantTemp+wantPerm) {
		t.Errorf("TotalUSD = %v, want %v", got.TotalUSD, wantTemp+wantPerm)
	}
}

func TestMarketImpactModel_ConstantInMid(t *testing.T) {
	m, _ := NewMarketImpactModel(DefaultImpactConfig(), nil)
	prev := -1.0
	for _, mid := range []float64{100, 100.5, 101} {
		got, _ := m.Estimate(1000, 0.3, mid, 0)
		if got.TotalUSD+1e-12 < prev {
			t.Errorf("impact decreased at mid %v: %v < %v", mid, got.TotalUSD, prev)
		}
		prev = got.TotalUSD
	}
}

func TestMarketImpactModel_NoMidUsesScaling(t *testing.T) {
	m, _ := NewMarketImpactModel(DefaultImpactConfig(), nil)
	got, _ := m.Estimate(10, 0.3, 0, 4)
	volScaled := 0.3 * math.Sqrt(4.0/(252*86400))
	if want := volScaled * 10 * 0.5 * 0.1; !approx(got.TemporaryUSD, want) {
		t.Errorf("TemporaryUSD = %v, want %v", got.TemporaryUSD, want)
	}
	if got.HorizonSeconds != 4 {
		t.Errorf("HorizonSeconds = %v, want 4", got.HorizonSeconds)
	}
}

func TestMarketImpactModel_Calibrate(t *testing.T) {
	m, _ := NewMarketImpactModel(DefaultImpactConfig(), nil)
	m.Calibrate(0.2, -1, 0)
	p := m.Params()
	if p.Eta != 0.2 || p.Gamma != 0.1 || p.QuantityScaling != 1 {
		t.Errorf("Params() = %+v, want eta 0.2 gamma 0.1 scaling 1", p)
	}
	if _, err := m.Estimate(-1, 0.3, 100, 0); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Errorf("Estimate(-1) error = %v, want ErrInvalidParameters", err)
	}
	if fb := m.Fallback(10000); !approx(fb.TotalUSD, 2) {
		t.Errorf("Fallback().TotalUSD = %v, want 2", fb.TotalUSD)
	}
}

func TestMakerTakerModel_MarketFloor(t *testing.T) {
	cfg := DefaultMakerTakerConfig()
	cfg.Coefficients = MakerTakerCoefficients{Intercept: -50}
	m, _ := NewMakerTakerModel(cfg, nil)
	inputs := []domain.FeatureSet{
		{},
		{domain.FeatureSpreadPct: 10, domain.FeatureBidDepth5Pct: 1e9, domain.FeatureAskDepth5Pct: 1e9},
		{domain.FeatureSpreadPct: -10},
	}
	for i, f := range inputs {
		got, err := m.Estimate(f, 100, domain.OrderTypeMarket, 0)
		if err != nil {
			t.Fatalf("Estimate(%d) error = %v", i, err)
		}
		if got.Taker < 0.9 {
			t.Errorf("Estimate(%d).Taker = %v, want >= 0.9", i, got.Taker)
		}
		if !approx(got.Maker+got.Taker, 1) {
			t.Errorf("Estimate(%d) sum = %v, want 1", i, got.Maker+got.Taker)
		}
	}

	limit, _ := m.Estimate(domain.FeatureSet{}, 100, domain.OrderTypeLimit, 0)
	if limit.Taker >= 0.9 {
		t.Errorf("limit Taker = %v, want below floor", limit.Taker)
	}
}

func TestMakerTakerModel_DefaultCoefficients(t *testing.T) {
	m, _ := NewMakerTakerModel(DefaultMakerTakerConfig(), nil)
	f := domain.FeatureSet{domain.FeatureSpreadPct: 0.1, domain.FeatureBidDepth5Pct: 100, domain.FeatureAskDepth5Pct: 300}
	got, _ := m.Estimate(f, 100, domain.OrderTypeLimit, 0.02)
	z := 2.0 + 0.5*0.1 + 0.8*0.5 + 0.3*0.02
	if want := 1 / (1 + math.Exp(-z)); !approx(got.Taker, want) {
		t.Errorf("Taker = %v, want %v", got.Taker, want)
	}
}

func TestMakerTakerModel_Fallback(t *testing.T) {
	m, _ := NewMakerTakerModel(DefaultMakerTakerConfig(), nil)
	if got := m.Fallback(domain.OrderTypeMarket); got.Taker != 1 || got.Maker != 0 {
		t.Errorf("Fallback(market) = %+v, want all taker", got)
	}
	if got := m.Fallback(domain.OrderTypeLimit); got.Maker != 0.8 || got.Taker != 0.2 {
		t.Errorf("Fallback(limit) = %+v, want 80/20", got)
	}
}

func TestNewSuite(t *testing.T) {
	s := newSuite(t)
	if s.Fee == nil || s.Slippage == nil || s.Impact == nil || s.MakerTaker == nil {
		t.Fatalf("NewSuite() left nil models: %+v", s)
	}
}
