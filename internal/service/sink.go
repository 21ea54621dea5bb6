package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/infra"

	"github.com/sony/gobreaker"
)

const (
	sinkTimeout        = 2 * time.Second
	breakerFailures    = 5
	breakerOpenTimeout = 30 * time.Second
)

// FuncSink adapts a callback (UI bridge, stdout printer) to domain.ResultSink.
type FuncSink struct {
	name string
	fn   func(domain.TickResult)
}

func NewFuncSink(name string, fn func(domain.TickResult)) *FuncSink {
	return &FuncSink{name: name, fn: fn}
}

func (s *FuncSink) Name() string { return s.name }

func (s *FuncSink) Publish(_ context.Context, res domain.TickResult) error {
	s.fn(res)
	return nil
}

// guardedSink shields the fan-out from a failing sink. After consecutive
// failures the breaker opens and results for that sink are dropped until a
// half-open trial publish succeeds.
type guardedSink struct {
	sink    domain.ResultSink
	cb      *gobreaker.CircuitBreaker
	metrics *infra.Metrics
	logger  *slog.Logger
}

func newGuardedSink(sink domain.ResultSink, metrics *infra.Metrics, logger *slog.Logger) *guardedSink {
	g := &guardedSink{
		sink:    sink,
		metrics: metrics,
		logger:  logger.With("sink", sink.Name()),
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        sink.Name(),
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: g.onStateChange,
	})
	return g
}

func (g *guardedSink) publish(ctx context.Context, res domain.TickResult) {
	_, err := g.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		defer cancel()
		return nil, g.sink.Publish(ctx, res)
	})
	if err == nil {
		return
	}
	g.metrics.RecordSinkFailure()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.logger.Debug("Sink circuit open, result dropped")
		return
	}
	g.logger.Warn("Sink publish failed", slog.Any("error", err))
}

func (g *guardedSink) onStateChange(name string, from, to gobreaker.State) {
	switch {
	case to == gobreaker.StateOpen:
		g.metrics.AddOpenCircuits(1)
	case from == gobreaker.StateOpen:
		g.metrics.AddOpenCircuits(-1)
	}
	g.logger.Warn("Sink circuit state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}

func (g *guardedSink) state() gobreaker.State {
	return g.cb.State()
}
