// Package engine sequences one tick at a time through the order book and
// the cost models.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
	"trade_sim/internal/models"
	"trade_sim/internal/orderbook"
)

// Model names used as keys in TickResult.ModelErrors.
const (
	ModelMakerTaker = "maker_taker"
	ModelFee        = "fee"
	ModelSlippage   = "slippage"
	ModelImpact     = "market_impact"
)

// Config tunes a pipeline.
type Config struct {
	MaxDepth       int
	LatencyWindow  int
	HorizonSeconds float64
	// DumpDir receives a JSON state dump when a tick panics. Empty disables dumps.
	DumpDir string
}

// Pipeline is the single-threaded per-simulation tick processor. It owns
// the book; ProcessTick and Run must be called from one goroutine only.
// SetParameters and Parameters are safe from any goroutine.
type Pipeline struct {
	id      string
	params  atomic.Pointer[domain.SimulationParameters]
	book    *orderbook.Book
	models  *models.Suite
	stats   *LatencyStats
	cfg     Config
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewPipeline validates params and builds an empty book for params.Symbol.
// A nil metrics uses infra.GlobalMetrics.
func NewPipeline(id string, params domain.SimulationParameters, suite *models.Suite, cfg Config, metrics *infra.Metrics, logger *slog.Logger) (*Pipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if suite == nil || suite.Fee == nil || suite.Slippage == nil || suite.Impact == nil || suite.MakerTaker == nil {
		return nil, fmt.Errorf("pipeline %s: incomplete model suite: %w", id, domain.ErrInvalidParameters)
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "engine", "simulation_id", id)
	p := &Pipeline{
		id:      id,
		book:    orderbook.New(params.Symbol, params.Exchange, cfg.MaxDepth, logger),
		models:  suite,
		stats:   NewLatencyStats(cfg.LatencyWindow),
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
	p.params.Store(&params)
	return p, nil
}

// ID returns the simulation id stamped on every result.
func (p *Pipeline) ID() string { return p.id }

// Parameters returns the active parameters.
func (p *Pipeline) Parameters() domain.SimulationParameters {
	return *p.params.Load()
}

// SetParameters swaps the parameters; the next tick uses them. The symbol
// cannot change because the book is bound to it.
func (p *Pipeline) SetParameters(params domain.SimulationParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if cur := p.params.Load(); cur.Symbol != params.Symbol {
		return fmt.Errorf("cannot switch %s pipeline to %s: %w", cur.Symbol, params.Symbol, domain.ErrSymbolMismatch)
	}
	p.params.Store(&params)
	p.logger.Info("Simulation parameters updated",
		"order_type", string(params.OrderType),
		"quantity_usd", params.QuantityUSD,
		"is_buy", params.IsBuy,
		"fee_tier", params.FeeTier,
		"volatility", params.Volatility)
	return nil
}

// Run processes snapshots in arrival order until ctx is done or in closes.
// Each snapshot is returned to the event pool after processing. A result
// still pending when ctx ends is discarded.
func (p *Pipeline) Run(ctx context.Context, in <-chan *domain.Snapshot, out chan<- domain.TickResult) error {
	p.logger.Info("Pipeline started")
	defer p.logger.Info("Pipeline stopped", "ticks", p.stats.tickCount)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-in:
			if !ok {
				return nil
			}
			res := p.ProcessTick(snap)
			event.ReleaseSnapshot(snap)
			select {
			case out <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// ProcessTick applies one snapshot and evaluates every cost model. It never
// panics and always returns a result; failures surface as an error status
// (bad input) or as ModelErrors entries with fallback values (model faults).
func (p *Pipeline) ProcessTick(snap *domain.Snapshot) (res domain.TickResult) {
	start := time.Now()
	sinceLast, _ := p.stats.RecordArrival(start)
	params := *p.params.Load()

	res = domain.TickResult{SimulationID: p.id, Status: domain.ResultOK}
	if snap != nil {
		res.Timestamp = string(snap.Timestamp)
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			p.dumpOnPanic(r)
			res = p.finishError(res.Timestamp, fmt.Errorf("tick aborted: %v", r), start, sinceLast, 0)
		}
	}()

	if err := validateSnapshot(snap); err != nil {
		p.metrics.RecordMalformedMessage()
		p.logger.Warn("Malformed snapshot", "error", err, "ts", res.Timestamp)
		return p.finishError(res.Timestamp, err, start, sinceLast, 0)
	}

	upd, err := p.book.Apply(snap)
	if err != nil {
		p.logger.Warn("Snapshot rejected", "error", err, "ts", res.Timestamp)
		return p.finishError(res.Timestamp, err, start, sinceLast, 0)
	}
	p.metrics.RecordRejectedLevels(upd.Rejected)
	if upd.Crossed {
		p.metrics.RecordCrossedBook()
	}

	features := p.book.ExtractFeatures()
	if features.Empty() {
		res.InsufficientData = true
		features = domain.DefaultFeatureSet()
	}
	// Zero when undefined; the impact model treats it as unknown.
	mid, _ := p.book.MidPrice()

	split, err := guard(func() (domain.MakerTakerSplit, error) {
		return p.models.MakerTaker.Estimate(features, params.QuantityUSD, params.OrderType, params.Volatility)
	})
	if err != nil {
		split = p.models.MakerTaker.Fallback(params.OrderType)
		p.modelFailed(&res, ModelMakerTaker, err)
	}

	fees, err := guard(func() (models.FeeBreakdown, error) {
		return p.models.Fee.Calculate(params.Exchange, params.FeeTier, params.OrderType, params.QuantityUSD, &split)
	})
	if err != nil {
		fees = p.models.Fee.Fallback(params.QuantityUSD)
		p.modelFailed(&res, ModelFee, err)
	}

	slip, err := guard(func() (models.SlippageEstimate, error) {
		return p.models.Slippage.Estimate(features, params.QuantityUSD, params.IsBuy, params.Volatility)
	})
	if err != nil {
		slip = p.models.Slippage.Fallback(params.QuantityUSD)
		p.modelFailed(&res, ModelSlippage, err)
	}

	impact, err := guard(func() (models.ImpactEstimate, error) {
		return p.models.Impact.Estimate(params.QuantityUSD, params.Volatility, mid, p.cfg.HorizonSeconds)
	})
	if err != nil {
		impact = p.models.Impact.Fallback(params.QuantityUSD)
		p.modelFailed(&res, ModelImpact, err)
	}

	res.MakerTaker = split
	res.ExpectedFeesUSD = fees.TotalFeeUSD
	res.ExpectedSlippageUSD = slip.USD
	res.ExpectedMarketImpactUSD = impact.TotalUSD
	res.NetCostUSD = slip.USD + fees.TotalFeeUSD + impact.TotalUSD

	if fill, ok := p.book.MarketOrderCost(params.QuantityUSD, params.IsBuy); ok {
		res.ExpectedAvgPrice = fill.AvgPrice
		res.PartialFill = fill.Partial
		if fill.Partial {
			p.metrics.RecordPartialFill()
			p.logger.Debug("Partial fill against visible depth", "remainder_usd", fill.Remainder, "avg_price", fill.AvgPrice)
		}
	}

	latency := time.Since(start)
	p.stats.RecordLatency(latency)
	p.metrics.RecordTick(latency.Nanoseconds())
	res.InternalLatencyMs = durationMs(latency)
	res.Performance = p.performance(upd.Duration, sinceLast)
	return res
}

func (p *Pipeline) performance(bookUpdate, sinceLast time.Duration) domain.PerformanceStats {
	st := p.stats.Stats()
	st.BookUpdateMs = durationMs(bookUpdate)
	st.TimeSinceLastTickMs = durationMs(sinceLast)
	return st
}

func (p *Pipeline) finishError(ts string, err error, start time.Time, sinceLast, bookUpdate time.Duration) domain.TickResult {
	latency := time.Since(start)
	p.stats.RecordLatency(latency)
	p.metrics.RecordTick(latency.Nanoseconds())
	p.metrics.RecordTickError()
	return domain.TickResult{
		SimulationID:      p.id,
		Timestamp:         ts,
		Status:            domain.ResultError,
		Error:             err.Error(),
		InternalLatencyMs: durationMs(latency),
		Performance:       p.performance(bookUpdate, sinceLast),
	}
}

func (p *Pipeline) modelFailed(res *domain.TickResult, model string, err error) {
	if res.ModelErrors == nil {
		res.ModelErrors = make(map[string]string, 1)
	}
	res.ModelErrors[model] = err.Error()
	p.metrics.RecordModelFallback()
	p.logger.Warn("Cost model failed, using fallback", "model", model, "error", err)
}

// guard converts a panic inside a model call into an error.
func guard[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out, err = zero, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// validateSnapshot checks the normalized shape before the book is touched.
func validateSnapshot(snap *domain.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot: %w", domain.ErrMalformedSnapshot)
	}
	if snap.Symbol == "" {
		return fmt.Errorf("missing symbol: %w", domain.ErrMalformedSnapshot)
	}
	if _, _, err := snap.Timestamp.Time(); err != nil {
		return err
	}
	return nil
}

// stateDump is the post-mortem view written on panic.
type stateDump struct {
	SimulationID string                      `json:"simulation_id"`
	Panic        string                      `json:"panic"`
	DumpedAt     time.Time                   `json:"dumped_at"`
	Parameters   domain.SimulationParameters `json:"parameters"`
	Book         orderbook.State             `json:"book"`
	Performance  domain.PerformanceStats     `json:"performance"`
}

func (p *Pipeline) dumpOnPanic(r any) {
	if p.cfg.DumpDir == "" {
		return
	}
	name := filepath.Join(p.cfg.DumpDir, fmt.Sprintf("panic_%s_%d.json", p.id, time.Now().UnixNano()))
	p.DumpState(name, fmt.Sprint(r))
}

// DumpState writes the pipeline state to a file (for post-mortem).
func (p *Pipeline) DumpState(filename, reason string) {
	p.logger.Info("Dumping internal state...", slog.String("file", filename))

	data := stateDump{
		SimulationID: p.id,
		Panic:        reason,
		DumpedAt:     time.Now().UTC(),
		Parameters:   p.Parameters(),
		Book:         p.book.State(20),
		Performance:  p.stats.Stats(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		p.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		p.logger.Error("Failed to create dump directory", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		p.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
