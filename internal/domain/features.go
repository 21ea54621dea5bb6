package domain

// Feature names produced by the order book and consumed by the cost models.
const (
	FeatureMidPrice         = "mid_price"
	FeatureBestBid          = "best_bid"
	FeatureBestAsk          = "best_ask"
	FeatureSpread           = "spread"
	FeatureSpreadPct        = "spread_percentage"
	FeatureBidVolume        = "bid_volume"
	FeatureAskVolume        = "ask_volume"
	FeatureVolumeImbalance  = "volume_imbalance"
	FeatureWeightedBidPrice = "weighted_bid_price"
	FeatureWeightedAskPrice = "weighted_ask_price"

	FeatureBidDepth1Pct = "bid_depth_1pct"
	FeatureAskDepth1Pct = "ask_depth_1pct"
	FeatureBidDepth2Pct = "bid_depth_2pct"
	FeatureAskDepth2Pct = "ask_depth_2pct"
	FeatureBidDepth5Pct = "bid_depth_5pct"
	FeatureAskDepth5Pct = "ask_depth_5pct"
)

// DepthLevels are the level counts used for level depth, depth imbalance and impact features.
var DepthLevels = [...]int{1, 5, 10}

// DepthPercents are the distances from mid (in percent) used for band depth features.
var DepthPercents = [...]int{1, 2, 5}

// FeatureSet is a flat metric map recomputed every tick. An empty set means
// insufficient data, not zero-valued metrics.
type FeatureSet map[string]float64

// Get returns the named metric or def when it is absent.
func (f FeatureSet) Get(name string, def float64) float64 {
	if v, ok := f[name]; ok {
		return v
	}
	return def
}

// Empty reports whether the set carries no metrics.
func (f FeatureSet) Empty() bool {
	return len(f) == 0
}

// DefaultFeatureSet is the conservative placeholder substituted when the book
// cannot produce features. Models stay callable and fall into their no-mid paths.
func DefaultFeatureSet() FeatureSet {
	return FeatureSet{
		FeatureMidPrice:        0,
		FeatureSpread:          0,
		FeatureSpreadPct:       0,
		FeatureVolumeImbalance: 0,
		FeatureBidDepth5Pct:    1000,
		FeatureAskDepth5Pct:    1000,
	}
}
