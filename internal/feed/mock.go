package feed

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
)

// Mock random-walk parameters.
const (
	MockStartPrice = 65000.0
	MockVolatility = 0.001 // per-tick stddev as a fraction of price
	MockSpreadPct  = 0.01  // percent of price
	mockDepthDecay = 0.2
	mockLevels     = 20
)

// MockSource generates a random-walk order book for offline runs. It
// implements domain.FeedSource.
type MockSource struct {
	symbol   string
	exchange string
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	price float64

	out       chan *domain.Snapshot
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMockSource creates a generator; equal seeds give equal books.
func NewMockSource(symbol, exchange string, interval time.Duration, seed uint64, logger *slog.Logger) *MockSource {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if exchange == "" {
		exchange = okxExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSource{
		symbol:   symbol,
		exchange: exchange,
		interval: interval,
		logger:   logger.With("module", "feed", "source", "mock", "symbol", symbol),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		price:    MockStartPrice,
		out:      make(chan *domain.Snapshot, 16),
	}
}

func (m *MockSource) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run(ctx)
	m.logger.Info("Mock feed started", slog.Duration("interval", m.interval))
	return nil
}

func (m *MockSource) Snapshots() <-chan *domain.Snapshot {
	return m.out
}

func (m *MockSource) Err() error {
	return nil
}

func (m *MockSource) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.closeOnce.Do(func() { close(m.out) })
	return nil
}

func (m *MockSource) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := event.AcquireSnapshot()
			m.Generate(snap)
			select {
			case m.out <- snap:
			case <-ctx.Done():
				event.ReleaseSnapshot(snap)
				return
			}
		}
	}
}

// Generate advances the walk one step and writes a 20-level book into dst.
// Sizes are larger near the touch and gaps widen away from it.
func (m *MockSource) Generate(dst *domain.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.price += m.rng.NormFloat64() * MockVolatility * m.price
	spread := m.price * MockSpreadPct / 100

	dst.Timestamp = domain.Timestamp(time.Now().UTC().Format(time.RFC3339Nano))
	dst.Exchange = m.exchange
	dst.Symbol = m.symbol
	dst.ReceivedAt = time.Now()
	dst.Bids = m.side(dst.Bids[:0], m.price-spread/2, -1)
	dst.Asks = m.side(dst.Asks[:0], m.price+spread/2, 1)
}

func (m *MockSource) side(levels [][]string, best float64, dir float64) [][]string {
	px := best
	for i := range mockLevels {
		var size, gap float64
		if i < 5 {
			size = m.uniform(5, 50)
			gap = m.uniform(0.1, 0.5)
		} else {
			size = m.uniform(0.5, 10)
			gap = m.uniform(0.5, 2)
		}
		size *= 1 - float64(i)*mockDepthDecay/mockLevels
		if size <= 0 {
			size = 0.01
		}
		levels = append(levels, []string{
			strconv.FormatFloat(px, 'f', 2, 64),
			strconv.FormatFloat(size, 'f', 8, 64),
		})
		px += dir * gap
	}
	return levels
}

func (m *MockSource) uniform(lo, hi float64) float64 {
	return lo + m.rng.Float64()*(hi-lo)
}
