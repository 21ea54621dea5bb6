package domain

import (
	"fmt"
	"math"
	"strings"
)

// OrderType is the simulated order's execution style.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// ParseOrderType normalizes user input ("Market", "LIMIT") into an OrderType.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToLower(strings.TrimSpace(s))) {
	case OrderTypeMarket:
		return OrderTypeMarket, nil
	case OrderTypeLimit:
		return OrderTypeLimit, nil
	default:
		return "", fmt.Errorf("order type %q: %w", s, ErrInvalidParameters)
	}
}

// IsMarket reports whether the order crosses the spread immediately.
func (o OrderType) IsMarket() bool {
	return o == OrderTypeMarket
}

// SimulationParameters describes the hypothetical order being costed.
// Values are immutable for a run; replace the whole struct to change them.
type SimulationParameters struct {
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	OrderType   OrderType `json:"order_type"`
	QuantityUSD float64   `json:"quantity_usd"`
	IsBuy       bool      `json:"is_buy"`
	FeeTier     string    `json:"fee_tier"`
	Volatility  float64   `json:"volatility"`
}

// DefaultParameters mirrors the stock simulator setup: 100 USD market buy of BTC-USDT on OKX.
func DefaultParameters() SimulationParameters {
	return SimulationParameters{
		Exchange:    "OKX",
		Symbol:      "BTC-USDT",
		OrderType:   OrderTypeMarket,
		QuantityUSD: 100,
		IsBuy:       true,
		FeeTier:     "Tier 1",
		Volatility:  0.02,
	}
}

// Validate checks the invariants: positive finite quantity, non-negative volatility.
func (p SimulationParameters) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("symbol is required: %w", ErrInvalidParameters)
	}
	if strings.TrimSpace(p.Exchange) == "" {
		return fmt.Errorf("exchange is required: %w", ErrInvalidParameters)
	}
	if _, err := ParseOrderType(string(p.OrderType)); err != nil {
		return err
	}
	if math.IsNaN(p.QuantityUSD) || math.IsInf(p.QuantityUSD, 0) || p.QuantityUSD <= 0 {
		return fmt.Errorf("quantity_usd must be > 0, got %v: %w", p.QuantityUSD, ErrInvalidParameters)
	}
	if math.IsNaN(p.Volatility) || math.IsInf(p.Volatility, 0) || p.Volatility < 0 {
		return fmt.Errorf("volatility must be >= 0, got %v: %w", p.Volatility, ErrInvalidParameters)
	}
	return nil
}
