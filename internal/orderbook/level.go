package orderbook

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"trade_sim/internal/domain"
)

// errEmptyLevel marks a level whose quantity is zero or negative. Such
// levels are dropped silently; they are removals, not bad input.
var errEmptyLevel = errors.New("empty level")

// Side selects one half of the book.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Level is a single price level. Quantity is always > 0 once stored.
type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Notional is the level value in quote currency.
func (l Level) Notional() float64 {
	return l.Price * l.Quantity
}

// ParseLevel reads a [price, quantity, ...] tuple. Tokens are parsed as
// decimals, so "NaN" and "Inf" are rejected, then narrowed to float64.
func ParseLevel(raw []string) (Level, error) {
	if len(raw) < 2 {
		return Level{}, fmt.Errorf("level %v: want price and quantity: %w", raw, domain.ErrMalformedSnapshot)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(raw[0]))
	if err != nil {
		return Level{}, fmt.Errorf("price %q: %w", raw[0], domain.ErrMalformedSnapshot)
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(raw[1]))
	if err != nil {
		return Level{}, fmt.Errorf("quantity %q: %w", raw[1], domain.ErrMalformedSnapshot)
	}
	if !price.IsPositive() {
		return Level{}, fmt.Errorf("price %q must be positive: %w", raw[0], domain.ErrMalformedSnapshot)
	}
	if !qty.IsPositive() {
		return Level{}, errEmptyLevel
	}
	l := Level{Price: price.InexactFloat64(), Quantity: qty.InexactFloat64()}
	if math.IsInf(l.Price, 0) || math.IsInf(l.Quantity, 0) {
		return Level{}, fmt.Errorf("level %v out of range: %w", raw, domain.ErrMalformedSnapshot)
	}
	return l, nil
}

// BookSide holds levels best-first: bids descending, asks ascending.
type BookSide struct {
	side   Side
	levels []Level
}

// Len returns the number of stored levels.
func (s *BookSide) Len() int {
	return len(s.levels)
}

// Best returns the top of this side.
func (s *BookSide) Best() (Level, bool) {
	if len(s.levels) == 0 {
		return Level{}, false
	}
	return s.levels[0], true
}

// Levels returns the stored levels best-first. The slice must not be modified.
func (s *BookSide) Levels() []Level {
	return s.levels
}

// better reports whether price a ranks ahead of price b on this side.
func (s *BookSide) better(a, b float64) bool {
	if s.side == Bid {
		return a > b
	}
	return a < b
}

// replace rebuilds the side from parsed levels. Duplicate prices keep the
// last occurrence. Depth beyond maxDepth (when > 0) is truncated from the
// worst end.
func (s *BookSide) replace(in []Level, maxDepth int) {
	s.levels = append(s.levels[:0], in...)
	slices.SortStableFunc(s.levels, func(a, b Level) int {
		switch {
		case a.Price == b.Price:
			return 0
		case s.better(a.Price, b.Price):
			return -1
		default:
			return 1
		}
	})

	// Stable sort keeps input order inside a run of equal prices; keep the run's last entry.
	out := s.levels[:0]
	for i, l := range s.levels {
		if i+1 < len(s.levels) && s.levels[i+1].Price == l.Price {
			continue
		}
		out = append(out, l)
	}
	s.levels = out

	if maxDepth > 0 && len(s.levels) > maxDepth {
		s.levels = s.levels[:maxDepth]
	}
}

// head returns at most n best levels.
func (s *BookSide) head(n int) []Level {
	if n <= 0 || n >= len(s.levels) {
		return s.levels
	}
	return s.levels[:n]
}
