package orderbook

import (
	"fmt"

	"trade_sim/internal/domain"
)

// volumeLevels is how many best levels feed volume and weighted-price features.
const volumeLevels = 10

// ExtractFeatures computes the feature set from current state. It returns an
// empty set, never an error, when the book is uninitialized or one side is
// empty. Calling it twice without an intervening update gives identical output.
func (b *Book) ExtractFeatures() domain.FeatureSet {
	if !b.initialized || b.bids.Len() == 0 || b.asks.Len() == 0 {
		return domain.FeatureSet{}
	}
	bestBid, _ := b.BestBid()
	bestAsk, _ := b.BestAsk()
	mid, _ := b.MidPrice()
	spread, _ := b.Spread()
	spreadPct, _ := b.SpreadPercentage()

	f := make(domain.FeatureSet, 48)
	f[domain.FeatureMidPrice] = mid
	f[domain.FeatureBestBid] = bestBid
	f[domain.FeatureBestAsk] = bestAsk
	f[domain.FeatureSpread] = spread
	f[domain.FeatureSpreadPct] = spreadPct

	topBids := b.bids.head(volumeLevels)
	topAsks := b.asks.head(volumeLevels)
	bidVol, bidVWAP := volumeAndVWAP(topBids)
	askVol, askVWAP := volumeAndVWAP(topAsks)
	f[domain.FeatureBidVolume] = bidVol
	f[domain.FeatureAskVolume] = askVol
	f[domain.FeatureVolumeImbalance] = imbalance(bidVol, askVol)
	f[domain.FeatureWeightedBidPrice] = bidVWAP
	f[domain.FeatureWeightedAskPrice] = askVWAP

	for _, pct := range domain.DepthPercents {
		band := float64(pct) / 100
		f[fmt.Sprintf("bid_depth_%dpct", pct)] = depthWithin(b.bids.levels, func(p float64) bool { return p >= mid*(1-band) })
		f[fmt.Sprintf("ask_depth_%dpct", pct)] = depthWithin(b.asks.levels, func(p float64) bool { return p <= mid*(1+band) })
	}

	for _, n := range domain.DepthLevels {
		bidDepth, _ := volumeAndVWAP(b.bids.head(n))
		askDepth, _ := volumeAndVWAP(b.asks.head(n))
		f[fmt.Sprintf("bid_depth_%d", n)] = bidDepth
		f[fmt.Sprintf("ask_depth_%d", n)] = askDepth
		f[fmt.Sprintf("depth_imbalance_%d", n)] = imbalance(bidDepth, askDepth)

		f[fmt.Sprintf("bid_impact_%d", n)] = b.EstimateImpact(float64(n), false)
		f[fmt.Sprintf("ask_impact_%d", n)] = b.EstimateImpact(float64(n), true)
	}
	return f
}

func volumeAndVWAP(levels []Level) (volume, vwap float64) {
	var notional float64
	for _, l := range levels {
		volume += l.Quantity
		notional += l.Notional()
	}
	if volume > 0 {
		vwap = notional / volume
	}
	return volume, vwap
}

// depthWithin sums quantity over the best-first prefix whose prices satisfy in.
func depthWithin(levels []Level, in func(price float64) bool) float64 {
	var total float64
	for _, l := range levels {
		if !in(l.Price) {
			break
		}
		total += l.Quantity
	}
	return total
}

func imbalance(bid, ask float64) float64 {
	if bid+ask <= 0 {
		return 0
	}
	return (bid - ask) / (bid + ask)
}
