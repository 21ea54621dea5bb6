package orderbook

import (
	"errors"
	"math"
	"reflect"
	"strconv"
	"testing"

	"trade_sim/internal/domain"
)

func newTestBook() *Book {
	return New("BTC-USDT", "OKX", 0, nil)
}

func snap(bids, asks [][]string) *domain.Snapshot {
	return &domain.Snapshot{Timestamp: "1746355153000", Exchange: "OKX", Symbol: "BTC-USDT", Bids: bids, Asks: asks}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBook_RoundTrip(t *testing.T) {
	b := newTestBook()
	if _, err := b.Apply(snap([][]string{{"100", "2"}}, [][]string{{"101", "3"}})); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	checks := []struct {
		name string
		fn   func() (float64, bool)
		want float64
	}{
		{"BestBid", b.BestBid, 100},
		{"BestAsk", b.BestAsk, 101},
		{"MidPrice", b.MidPrice, 100.5},
		{"Spread", b.Spread, 1},
		{"SpreadPercentage", b.SpreadPercentage, 1 / 100.5 * 100},
	}
	for _, c := range checks {
		got, ok := c.fn()
		if !ok || !approx(got, c.want) {
			t.Errorf("%s() = %v, %v, want %v", c.name, got, ok, c.want)
		}
	}
	if pct, _ := b.SpreadPercentage(); math.Abs(pct-0.995) > 0.001 {
		t.Errorf("SpreadPercentage() = %v, want ~0.995", pct)
	}
}

func TestBook_EmptyBookUndefined(t *testing.T) {
	b := newTestBook()
	if _, ok := b.MidPrice(); ok {
		t.Error("MidPrice() defined on empty book")
	}
	if _, ok := b.SpreadPercentage(); ok {
		t.Error("SpreadPercentage() defined on empty book")
	}
	if f := b.ExtractFeatures(); !f.Empty() {
		t.Errorf("ExtractFeatures() = %v, want empty", f)
	}
	if _, ok := b.MarketOrderCost(100, true); ok {
		t.Error("MarketOrderCost() ok on empty book")
	}
}

func TestBook_OrderingAndPositiveQuantity(t *testing.T) {
	b := newTestBook()
	_, err := b.Apply(snap(
		[][]string{{"99", "1"}, {"100", "2"}, {"98.5", "0"}, {"97", "4"}, {"abc", "1"}},
		[][]string{{"103", "1"}, {"101", "3"}, {"102", "-1"}, {"101.5", "2"}},
	))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	for _, side := range []*BookSide{b.Bids(), b.Asks()} {
		levels := side.Levels()
		for i, l := range levels {
			if l.Quantity <= 0 {
				t.Errorf("%s level %d has quantity %v", side.side, i, l.Quantity)
			}
			if i > 0 && !side.better(levels[i-1].Price, l.Price) {
				t.Errorf("%s levels out of order at %d: %v then %v", side.side, i, levels[i-1].Price, l.Price)
			}
		}
	}
	if got := b.Bids().Len(); got != 3 {
		t.Errorf("bid levels = %d, want 3", got)
	}
	if got := b.Asks().Len(); got != 3 {
		t.Errorf("ask levels = %d, want 3", got)
	}
}

func TestBook_RejectsBadLevelsIndividually(t *testing.T) {
	tests := []struct {
		name         string
		bids         [][]string
		wantLevels   int
		wantRejected int
	}{
		{"zero quantity", [][]string{{"100", "0"}, {"99", "1"}}, 1, 0},
		{"non-numeric price", [][]string{{"x", "1"}, {"99", "1"}}, 1, 1},
		{"non-numeric quantity", [][]string{{"100", "?"}, {"99", "1"}}, 1, 1},
		{"negative price", [][]string{{"-100", "1"}, {"99", "1"}}, 1, 1},
		{"short tuple", [][]string{{"100"}, {"99", "1"}}, 1, 1},
		{"extra fields ignored", [][]string{{"100", "1", "0", "4"}}, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBook()
			u, err := b.Apply(snap(tt.bids, [][]string{{"101", "1"}}))
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if got := b.Bids().Len(); got != tt.wantLevels {
				t.Errorf("bid levels = %d, want %d", got, tt.wantLevels)
			}
			if u.Rejected != tt.wantRejected {
				t.Errorf("Rejected = %d, want %d", u.Rejected, tt.wantRejected)
			}
		})
	}
}

func TestBook_DuplicatePriceLastWins(t *testing.T) {
	b := newTestBook()
	b.ApplySnapshot(Ask, [][]string{{"101", "1"}, {"102", "1"}, {"101", "7"}})
	levels := b.Asks().Levels()
	if len(levels) != 2 {
		t.Fatalf("ask levels = %d, want 2", len(levels))
	}
	if levels[0].Price != 101 || levels[0].Quantity != 7 {
		t.Errorf("best ask = %+v, want {101 7}", levels[0])
	}
}

func TestBook_TruncatesWorstLevels(t *testing.T) {
	b := New("BTC-USDT", "OKX", 2, nil)
	b.ApplySnapshot(Bid, [][]string{{"97", "1"}, {"99", "1"}, {"98", "1"}})
	b.ApplySnapshot(Ask, [][]string{{"103", "1"}, {"101", "1"}, {"102", "1"}})
	bids, asks := b.Depth(10)
	if want := []Level{{99, 1}, {98, 1}}; !reflect.DeepEqual(bids, want) {
		t.Errorf("bids = %v, want %v", bids, want)
	}
	if want := []Level{{101, 1}, {102, 1}}; !reflect.DeepEqual(asks, want) {
		t.Errorf("asks = %v, want %v", asks, want)
	}
}

func TestBook_OneSidedUpdateKeepsOtherSide(t *testing.T) {
	b := newTestBook()
	b.Apply(snap([][]string{{"100", "1"}}, [][]string{{"101", "1"}}))
	u, err := b.Apply(snap([][]string{{"100.5", "2"}}, nil))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !u.BidsReplaced || u.AsksReplaced {
		t.Errorf("Update = %+v, want bids replaced only", u)
	}
	if ask, _ := b.BestAsk(); ask != 101 {
		t.Errorf("BestAsk() = %v, want 101", ask)
	}
	if mid, ok := b.MidPrice(); !ok || !approx(mid, 100.75) {
		t.Errorf("MidPrice() = %v, %v, want 100.75", mid, ok)
	}
}

func TestBook_AllFilteredSideMeansNoLiquidity(t *testing.T) {
	b := newTestBook()
	b.Apply(snap([][]string{{"100", "1"}}, [][]string{{"101", "1"}}))
	u, _ := b.Apply(snap(nil, [][]string{{"101", "0"}}))
	if !u.NoLiquidity {
		t.Error("NoLiquidity = false, want true")
	}
	if b.Asks().Len() != 0 {
		t.Errorf("ask levels = %d, want 0", b.Asks().Len())
	}
	if f := b.ExtractFeatures(); !f.Empty() {
		t.Error("ExtractFeatures() should be empty with one side empty")
	}
}

func TestBook_CrossedIsCounted(t *testing.T) {
	b := newTestBook()
	u, _ := b.Apply(snap([][]string{{"102", "1"}}, [][]string{{"101", "1"}}))
	if !u.Crossed || !b.IsCrossed() {
		t.Error("crossed book not detected")
	}
	if b.Stats().CrossedBooks != 1 {
		t.Errorf("CrossedBooks = %d, want 1", b.Stats().CrossedBooks)
	}
	if f := b.ExtractFeatures(); f.Empty() {
		t.Error("features should still be computed on a crossed book")
	}
}

func TestBook_SymbolMismatch(t *testing.T) {
	b := newTestBook()
	s := snap([][]string{{"100", "1"}}, [][]string{{"101", "1"}})
	s.Symbol = "ETH-USDT"
	if _, err := b.Apply(s); !errors.Is(err, domain.ErrSymbolMismatch) {
		t.Errorf("Apply() error = %v, want ErrSymbolMismatch", err)
	}
	if b.Initialized() {
		t.Error("book mutated by rejected snapshot")
	}
}

func TestBook_MarketOrderCostMonotonic(t *testing.T) {
	b := newTestBook()
	b.Apply(snap(
		[][]string{{"100", "1"}, {"99", "2"}, {"98", "5"}},
		[][]string{{"101", "1"}, {"102", "2"}, {"103", "5"}},
	))
	sizes := []float64{10, 50, 101, 150, 300, 500, 800}
	prevBuy, prevSell := 0.0, math.Inf(1)
	for _, q := range sizes {
		buy, ok := b.MarketOrderCost(q, true)
		if !ok {
			t.Fatalf("MarketOrderCost(%v, buy) not ok", q)
		}
		if buy.AvgPrice+1e-9 < prevBuy {
			t.Errorf("buy avg price decreased at %v: %v < %v", q, buy.AvgPrice, prevBuy)
		}
		prevBuy = buy.AvgPrice

		sell, _ := b.MarketOrderCost(q, false)
		if sell.AvgPrice > prevSell+1e-9 {
			t.Errorf("sell avg price increased at %v: %v > %v", q, sell.AvgPrice, prevSell)
		}
		prevSell = sell.AvgPrice
	}
}

func TestBook_MarketOrderCostPartialFill(t *testing.T) {
	b := newTestBook()
	b.Apply(snap([][]string{{"100", "1"}}, [][]string{{"101", "1"}, {"102", "1"}}))
	f, ok := b.MarketOrderCost(1000, true)
	if !ok {
		t.Fatal("MarketOrderCost() not ok")
	}
	if !f.Partial {
		t.Error("Partial = false, want true")
	}
	if !approx(f.Remainder, 1000-203) {
		t.Errorf("Remainder = %v, want %v", f.Remainder, 1000-203.0)
	}
	if !approx(f.Cost, 1000) {
		t.Errorf("Cost = %v, want 1000", f.Cost)
	}
	wantBase := 2 + (1000-203)/102.0
	if !approx(f.BaseFilled, wantBase) {
		t.Errorf("BaseFilled = %v, want %v", f.BaseFilled, wantBase)
	}
	if !approx(f.AvgPrice, 1000/wantBase) {
		t.Errorf("AvgPrice = %v, want %v", f.AvgPrice, 1000/wantBase)
	}
	if f.SlippagePct <= 0 {
		t.Errorf("SlippagePct = %v, want > 0", f.SlippagePct)
	}
}

func TestBook_ExtractFeatures(t *testing.T) {
	b := newTestBook()
	b.Apply(snap(
		[][]string{{"100", "2"}, {"99", "3"}, {"90", "10"}},
		[][]string{{"101", "1"}, {"102", "1"}, {"110", "4"}},
	))
	f := b.ExtractFeatures()
	want := map[string]float64{
		domain.FeatureMidPrice:        100.5,
		domain.FeatureBidVolume:       15,
		domain.FeatureAskVolume:       6,
		domain.FeatureVolumeImbalance: 9.0 / 21.0,
		"bid_depth_1pct":              2, // >= 99.495
		"ask_depth_1pct":              1, // <= 101.505
		"bid_depth_5pct":              5, // >= 95.475
		"ask_depth_5pct":              2, // <= 105.525
		"bid_depth_1":                 2,
		"ask_depth_5":                 6,
		"depth_imbalance_1":           (2.0 - 1) / 3,
		"ask_impact_1":                (101 - 100.5) / 100.5,
		"bid_impact_1":                (100.5 - 100) / 100.5,
	}
	for k, v := range want {
		got, ok := f[k]
		if !ok {
			t.Errorf("feature %q missing", k)
			continue
		}
		if !approx(got, v) {
			t.Errorf("feature %q = %v, want %v", k, got, v)
		}
	}
	if again := b.ExtractFeatures(); !reflect.DeepEqual(f, again) {
		t.Error("ExtractFeatures() not idempotent")
	}
}

func TestBook_EstimateImpactBeyondDepth(t *testing.T) {
	b := newTestBook()
	b.Apply(snap([][]string{{"100", "1"}}, [][]string{{"101", "1"}}))
	// 10 units against a single 1-unit level: remainder priced at 101.
	got := b.EstimateImpact(10, true)
	if want := (101 - 100.5) / 100.5; !approx(got, want) {
		t.Errorf("EstimateImpact() = %v, want %v", got, want)
	}
}

func BenchmarkBook_Apply(b *testing.B) {
	bids := make([][]string, 50)
	asks := make([][]string, 50)
	for i := range bids {
		bids[i] = []string{formatPrice(100 - float64(i)*0.1), "1.5"}
		asks[i] = []string{formatPrice(100.1 + float64(i)*0.1), "1.5"}
	}
	s := snap(bids, asks)
	book := newTestBook()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		book.Apply(s)
		book.ExtractFeatures()
	}
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
