// Package service runs simulations: each one is an independent feed, tick
// pipeline and book whose results fan out to the configured sinks.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
	"trade_sim/internal/infra"

	"golang.org/x/sync/errgroup"
)

const resultBuffer = 64

// statusReporter is implemented by feeds with a connection state machine.
type statusReporter interface {
	Status() domain.ConnectionStatus
}

// Simulation owns one feed+pipeline pair and keeps the latest result.
type Simulation struct {
	id       string
	source   domain.FeedSource
	pipeline *engine.Pipeline
	sinks    []*guardedSink
	metrics  *infra.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	latest  domain.TickResult
	hasLast bool
	running bool

	emitted atomic.Uint64
}

// NewSimulation wires source -> pipeline -> sinks. Every sink is wrapped in
// its own circuit breaker.
func NewSimulation(source domain.FeedSource, pipeline *engine.Pipeline, sinks []domain.ResultSink, metrics *infra.Metrics, logger *slog.Logger) *Simulation {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "service", "simulation_id", pipeline.ID())

	guarded := make([]*guardedSink, 0, len(sinks))
	for _, sink := range sinks {
		guarded = append(guarded, newGuardedSink(sink, metrics, logger))
	}
	return &Simulation{
		id:       pipeline.ID(),
		source:   source,
		pipeline: pipeline,
		sinks:    guarded,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *Simulation) ID() string { return s.id }

// Parameters returns the active order parameters.
func (s *Simulation) Parameters() domain.SimulationParameters {
	return s.pipeline.Parameters()
}

// SetParameters hot-swaps the order parameters; the next tick uses them.
func (s *Simulation) SetParameters(p domain.SimulationParameters) error {
	return s.pipeline.SetParameters(p)
}

// Latest returns the most recent result, false before the first tick.
func (s *Simulation) Latest() (domain.TickResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLast
}

// Emitted counts results handed to the sinks.
func (s *Simulation) Emitted() uint64 {
	return s.emitted.Load()
}

// Running reports whether Run is active.
func (s *Simulation) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ConnectionStatus reports the feed state when the source has one.
func (s *Simulation) ConnectionStatus() (domain.ConnectionStatus, bool) {
	if r, ok := s.source.(statusReporter); ok {
		return r.Status(), true
	}
	return domain.ConnectionStatus{}, false
}

// Run streams until ctx ends (nil) or the feed fails terminally (its error).
// Ticks are processed strictly in arrival order on one goroutine; results
// still in flight at cancellation are discarded.
func (s *Simulation) Run(ctx context.Context) error {
	if err := s.source.Start(ctx); err != nil {
		return fmt.Errorf("simulation %s: start feed: %w", s.id, err)
	}
	defer s.source.Close()

	s.setRunning(true)
	defer s.setRunning(false)

	p := s.pipeline.Parameters()
	s.logger.Info("Simulation started",
		slog.String("exchange", p.Exchange),
		slog.String("symbol", p.Symbol),
		slog.String("order_type", string(p.OrderType)),
		slog.Float64("quantity_usd", p.QuantityUSD),
		slog.Int("sinks", len(s.sinks)))

	results := make(chan domain.TickResult, resultBuffer)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(results)
		if err := s.pipeline.Run(gctx, s.source.Snapshots(), results); err != nil {
			return err
		}
		return s.source.Err()
	})

	g.Go(func() error {
		for res := range results {
			if gctx.Err() != nil {
				continue
			}
			s.dispatch(gctx, res)
		}
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}
	if err != nil {
		s.logger.Error("Simulation stopped", slog.Any("error", err), slog.Uint64("emitted", s.Emitted()))
		return fmt.Errorf("simulation %s: %w", s.id, err)
	}
	s.logger.Info("Simulation stopped", slog.Uint64("emitted", s.Emitted()))
	return nil
}

func (s *Simulation) dispatch(ctx context.Context, res domain.TickResult) {
	s.mu.Lock()
	s.latest = res
	s.hasLast = true
	s.mu.Unlock()
	s.emitted.Add(1)

	for _, sink := range s.sinks {
		sink.publish(ctx, res)
	}
}

func (s *Simulation) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}
