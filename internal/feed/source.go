package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
)

// Source is a domain.FeedSource backed by a live Connection subscribed to
// one (channel, instrument) pair.
type Source struct {
	conn    *Connection
	channel string
	symbol  string
	out     chan *domain.Snapshot
	metrics *infra.Metrics
	logger  *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSource wires a Connection whose frames are normalized into pooled snapshots.
func NewSource(opts Options, dialer Dialer, channel, symbol string, queueSize int, metrics *infra.Metrics, logger *slog.Logger) *Source {
	if queueSize <= 0 {
		queueSize = 256
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		channel: channel,
		symbol:  symbol,
		out:     make(chan *domain.Snapshot, queueSize),
		metrics: metrics,
		logger:  logger.With("module", "feed", "symbol", symbol),
	}
	s.conn = NewConnection(opts, dialer, s.handle, metrics, logger)
	return s
}

// Connection exposes the underlying state machine for status reporting.
func (s *Source) Connection() *Connection {
	return s.conn
}

// Start subscribes and begins connecting. The snapshot channel is closed
// when the connection reaches Closed.
func (s *Source) Start(ctx context.Context) error {
	s.conn.Subscribe(s.channel, s.symbol)
	if err := s.conn.Connect(ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.conn.Done()
		s.closeOut()
	}()
	return nil
}

// Status reports the connection state machine.
func (s *Source) Status() domain.ConnectionStatus {
	return s.conn.Status()
}

func (s *Source) Snapshots() <-chan *domain.Snapshot {
	return s.out
}

// Err reports the connection's terminal failure, if any.
func (s *Source) Err() error {
	return s.conn.Err()
}

func (s *Source) Close() error {
	s.conn.Disconnect()
	s.closeOut()
	s.wg.Wait()
	return nil
}

func (s *Source) closeOut() {
	s.closeOnce.Do(func() { close(s.out) })
}

// handle runs on the connection's read goroutine.
func (s *Source) handle(raw []byte) {
	snap := event.AcquireSnapshot()
	if err := Normalize(raw, snap); err != nil {
		event.ReleaseSnapshot(snap)
		s.logDropped(raw, err)
		return
	}
	if snap.Symbol != s.symbol {
		s.logger.Debug("Dropping snapshot for other instrument", "got", snap.Symbol)
		event.ReleaseSnapshot(snap)
		return
	}
	snap.ReceivedAt = time.Now()

	select {
	case s.out <- snap:
	default:
		s.metrics.RecordDroppedTick()
		s.logger.Warn("Snapshot queue full, dropping tick")
		event.ReleaseSnapshot(snap)
	}
}

func (s *Source) logDropped(raw []byte, err error) {
	switch {
	case errors.Is(err, domain.ErrSkipMessage):
		s.logger.Debug("Control message", slog.String("reason", err.Error()))
	case errors.Is(err, ErrExchangeEvent):
		s.logger.Error("Exchange reported an error", slog.Any("error", err))
	default:
		s.metrics.RecordMalformedMessage()
		s.logger.Warn("Dropping malformed message",
			slog.Any("error", err),
			slog.String("frame", truncate(raw, 200)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
