package orderbook

import "math"

// noLiquidityImpact is the fractional impact assumed when a side is empty.
const noLiquidityImpact = 0.05

// Fill is the result of walking one side of the book for a USD notional.
type Fill struct {
	Cost        float64 `json:"cost"`
	BaseFilled  float64 `json:"base_filled"`
	AvgPrice    float64 `json:"avg_price"`
	SlippagePct float64 `json:"slippage_pct"`
	Partial     bool    `json:"partial"`
	Remainder   float64 `json:"remainder_usd"`
}

// MarketOrderCost walks asks (buy) or bids (sell) from the best price
// outward until quantityUSD is consumed. Notional left over once the side is
// exhausted is costed at the last available price and flagged Partial.
// SlippagePct is measured against mid, positive when adverse.
// ok is false when quantityUSD <= 0 or there is no mid price.
func (b *Book) MarketOrderCost(quantityUSD float64, isBuy bool) (Fill, bool) {
	if quantityUSD <= 0 || math.IsNaN(quantityUSD) {
		return Fill{}, false
	}
	mid, ok := b.MidPrice()
	if !ok || mid <= 0 {
		return Fill{}, false
	}
	side := &b.bids
	if isBuy {
		side = &b.asks
	}

	var f Fill
	remaining := quantityUSD
	var last float64
	for _, l := range side.levels {
		take := math.Min(remaining, l.Notional())
		f.Cost += take
		f.BaseFilled += take / l.Price
		remaining -= take
		last = l.Price
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		f.Partial = true
		f.Remainder = remaining
		f.Cost += remaining
		f.BaseFilled += remaining / last
	}
	f.AvgPrice = f.Cost / f.BaseFilled
	if isBuy {
		f.SlippagePct = (f.AvgPrice/mid - 1) * 100
	} else {
		f.SlippagePct = (1 - f.AvgPrice/mid) * 100
	}
	return f, true
}

// EstimateImpact returns the fractional distance between mid and the average
// price of a market order for size base units. Unfilled size is priced at
// the last level; an empty side yields a flat 5%.
func (b *Book) EstimateImpact(size float64, isBuy bool) float64 {
	mid, ok := b.MidPrice()
	if !ok || mid <= 0 || size <= 0 {
		return 0
	}
	side := &b.bids
	if isBuy {
		side = &b.asks
	}
	if side.Len() == 0 {
		return noLiquidityImpact
	}

	remaining := size
	var total, last float64
	for _, l := range side.levels {
		take := math.Min(remaining, l.Quantity)
		total += take * l.Price
		remaining -= take
		last = l.Price
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		total += remaining * last
	}
	return math.Abs(total/size-mid) / mid
}
