// Package orderbook keeps a full-depth price level book per instrument and
// derives the market features the cost models consume.
package orderbook

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"trade_sim/internal/domain"
)

// DefaultMaxDepth is the number of levels kept per side when none is configured.
const DefaultMaxDepth = 100

// Update describes what a single Apply call did.
type Update struct {
	Duration     time.Duration
	BidsReplaced bool
	AsksReplaced bool
	Rejected     int
	Crossed      bool
	NoLiquidity  bool
}

// Stats are cumulative counters since the book was created.
type Stats struct {
	Updates        uint64 `json:"updates"`
	RejectedLevels uint64 `json:"rejected_levels"`
	CrossedBooks   uint64 `json:"crossed_books"`
}

// Book is a two-sided price level book. It is not safe for concurrent use;
// a single pipeline goroutine owns it.
type Book struct {
	symbol   string
	exchange string
	maxDepth int
	logger   *slog.Logger

	bids BookSide
	asks BookSide

	lastUpdate    domain.Timestamp
	bidsUpdatedAt time.Time
	asksUpdatedAt time.Time
	initialized   bool
	stats         Stats

	bidScratch []Level
	askScratch []Level
}

// New creates an empty book. maxDepth <= 0 selects DefaultMaxDepth.
func New(symbol, exchange string, maxDepth int, logger *slog.Logger) *Book {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		symbol:   symbol,
		exchange: exchange,
		maxDepth: maxDepth,
		logger:   logger.With("module", "orderbook", "symbol", symbol),
		bids:     BookSide{side: Bid},
		asks:     BookSide{side: Ask},
	}
}

func (b *Book) Symbol() string   { return b.symbol }
func (b *Book) Exchange() string { return b.exchange }

// Initialized reports whether at least one update has been applied.
func (b *Book) Initialized() bool { return b.initialized }

// LastUpdate is the feed timestamp of the most recent update.
func (b *Book) LastUpdate() domain.Timestamp { return b.lastUpdate }

// Stats returns the cumulative counters.
func (b *Book) Stats() Stats { return b.stats }

// Bids and Asks expose the sides read-only.
func (b *Book) Bids() *BookSide { return &b.bids }
func (b *Book) Asks() *BookSide { return &b.asks }

func (b *Book) sideOf(s Side) *BookSide {
	if s == Bid {
		return &b.bids
	}
	return &b.asks
}

// parse turns raw tuples into levels, skipping and logging bad ones.
func (b *Book) parse(side Side, raw [][]string, dst []Level) ([]Level, int) {
	dst = dst[:0]
	rejected := 0
	for _, tuple := range raw {
		l, err := ParseLevel(tuple)
		if err != nil {
			if errors.Is(err, errEmptyLevel) {
				continue
			}
			rejected++
			b.logger.Warn("Rejected price level", "side", side.String(), "level", tuple, "error", err)
			continue
		}
		dst = append(dst, l)
	}
	return dst, rejected
}

// ApplySnapshot replaces one side wholesale. Bad tuples are skipped and
// counted; the rest of the side still applies. It returns the rejected count.
func (b *Book) ApplySnapshot(side Side, raw [][]string) int {
	var scratch *[]Level
	if side == Bid {
		scratch = &b.bidScratch
	} else {
		scratch = &b.askScratch
	}
	levels, rejected := b.parse(side, raw, *scratch)
	*scratch = levels
	b.sideOf(side).replace(levels, b.maxDepth)
	b.markUpdated(side, time.Now())
	b.stats.RejectedLevels += uint64(rejected)
	return rejected
}

func (b *Book) markUpdated(side Side, now time.Time) {
	if side == Bid {
		b.bidsUpdatedAt = now
	} else {
		b.asksUpdatedAt = now
	}
	b.initialized = true
}

// Apply applies a normalized snapshot. Both sides are parsed before either
// is replaced so feature extraction never sees a half-applied tick. A side
// whose array is empty is left unchanged; a side whose entries were all
// filtered out becomes empty.
func (b *Book) Apply(snap *domain.Snapshot) (Update, error) {
	start := time.Now()
	if snap == nil {
		return Update{}, fmt.Errorf("nil snapshot: %w", domain.ErrMalformedSnapshot)
	}
	if snap.Symbol != "" && b.symbol != "" && snap.Symbol != b.symbol {
		return Update{}, fmt.Errorf("snapshot for %s applied to %s book: %w", snap.Symbol, b.symbol, domain.ErrSymbolMismatch)
	}

	var u Update
	var bidRejected, askRejected int
	if len(snap.Bids) > 0 {
		b.bidScratch, bidRejected = b.parse(Bid, snap.Bids, b.bidScratch)
	}
	if len(snap.Asks) > 0 {
		b.askScratch, askRejected = b.parse(Ask, snap.Asks, b.askScratch)
	}

	now := time.Now()
	if len(snap.Bids) > 0 {
		b.bids.replace(b.bidScratch, b.maxDepth)
		b.markUpdated(Bid, now)
		u.BidsReplaced = true
	}
	if len(snap.Asks) > 0 {
		b.asks.replace(b.askScratch, b.maxDepth)
		b.markUpdated(Ask, now)
		u.AsksReplaced = true
	}
	if u.BidsReplaced || u.AsksReplaced {
		b.lastUpdate = snap.Timestamp
		b.stats.Updates++
	}

	u.Rejected = bidRejected + askRejected
	b.stats.RejectedLevels += uint64(u.Rejected)
	u.NoLiquidity = (u.BidsReplaced && b.bids.Len() == 0) || (u.AsksReplaced && b.asks.Len() == 0)

	if b.IsCrossed() {
		u.Crossed = true
		b.stats.CrossedBooks++
		bid, _ := b.bids.Best()
		ask, _ := b.asks.Best()
		b.logger.Warn("Crossed book", "best_bid", bid.Price, "best_ask", ask.Price, "ts", string(snap.Timestamp))
	}
	u.Duration = time.Since(start)
	return u, nil
}

// IsCrossed reports best bid >= best ask with both sides present.
func (b *Book) IsCrossed() bool {
	bid, okB := b.bids.Best()
	ask, okA := b.asks.Best()
	return okB && okA && bid.Price >= ask.Price
}

// BestBid returns the highest bid price.
func (b *Book) BestBid() (float64, bool) {
	l, ok := b.bids.Best()
	return l.Price, ok
}

// BestAsk returns the lowest ask price.
func (b *Book) BestAsk() (float64, bool) {
	l, ok := b.asks.Best()
	return l.Price, ok
}

// MidPrice is (best bid + best ask) / 2, undefined if either side is empty.
func (b *Book) MidPrice() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Spread is best ask - best bid.
func (b *Book) Spread() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask - bid, true
}

// SpreadPercentage is the spread relative to mid, in percent.
func (b *Book) SpreadPercentage() (float64, bool) {
	spread, ok := b.Spread()
	if !ok {
		return 0, false
	}
	mid, _ := b.MidPrice()
	if mid == 0 {
		return 0, false
	}
	return spread / mid * 100, true
}

// Depth returns copies of up to n best levels per side.
func (b *Book) Depth(n int) (bids, asks []Level) {
	return slices.Clone(b.bids.head(n)), slices.Clone(b.asks.head(n))
}

// State is a JSON view of the book used in state dumps.
type State struct {
	Symbol      string  `json:"symbol"`
	Exchange    string  `json:"exchange"`
	LastUpdate  string  `json:"last_update"`
	Initialized bool    `json:"initialized"`
	BidLevels   int     `json:"bid_levels"`
	AskLevels   int     `json:"ask_levels"`
	TopBids     []Level `json:"top_bids"`
	TopAsks     []Level `json:"top_asks"`
	Stats       Stats   `json:"stats"`
}

// State captures the top n levels and counters.
func (b *Book) State(n int) State {
	bids, asks := b.Depth(n)
	return State{
		Symbol:      b.symbol,
		Exchange:    b.exchange,
		LastUpdate:  string(b.lastUpdate),
		Initialized: b.initialized,
		BidLevels:   b.bids.Len(),
		AskLevels:   b.asks.Len(),
		TopBids:     bids,
		TopAsks:     asks,
		Stats:       b.stats,
	}
}
