package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight process-wide counters.
// Uses atomic operations for thread-safety; exported via the Prometheus collector.
type Metrics struct {
	// Counters
	ticksProcessed    atomic.Uint64
	tickErrors        atomic.Uint64
	modelFallbacks    atomic.Uint64
	malformedMessages atomic.Uint64
	droppedTicks      atomic.Uint64
	rejectedLevels    atomic.Uint64
	crossedBooks      atomic.Uint64
	partialFills      atomic.Uint64
	reconnects        atomic.Uint64
	sinkFailures      atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	circuitOpen       atomic.Int32 // number of open result-sink breakers
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records one processed tick with its internal latency.
func (m *Metrics) RecordTick(latencyNs int64) {
	m.ticksProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordTickError records a tick that produced an error result.
func (m *Metrics) RecordTickError() {
	m.tickErrors.Add(1)
}

// RecordModelFallback records a cost model replaced by its fallback value.
func (m *Metrics) RecordModelFallback() {
	m.modelFallbacks.Add(1)
}

// RecordMalformedMessage records a feed message dropped during normalization.
func (m *Metrics) RecordMalformedMessage() {
	m.malformedMessages.Add(1)
}

// RecordDroppedTick records a snapshot discarded because the pipeline queue was full.
func (m *Metrics) RecordDroppedTick() {
	m.droppedTicks.Add(1)
}

// RecordRejectedLevels records price levels skipped by the order book.
func (m *Metrics) RecordRejectedLevels(n int) {
	if n > 0 {
		m.rejectedLevels.Add(uint64(n))
	}
}

// RecordCrossedBook records a book left crossed after an update.
func (m *Metrics) RecordCrossedBook() {
	m.crossedBooks.Add(1)
}

// RecordPartialFill records a book walk that exhausted its side.
func (m *Metrics) RecordPartialFill() {
	m.partialFills.Add(1)
}

// RecordReconnect records a reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordSinkFailure records a result sink publish failure.
func (m *Metrics) RecordSinkFailure() {
	m.sinkFailures.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// AddOpenCircuits adjusts the open breaker count when several sinks are guarded.
func (m *Metrics) AddOpenCircuits(delta int32) {
	m.circuitOpen.Add(delta)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksProcessed    uint64
	TickErrors        uint64
	ModelFallbacks    uint64
	MalformedMessages uint64
	DroppedTicks      uint64
	RejectedLevels    uint64
	CrossedBooks      uint64
	PartialFills      uint64
	Reconnects        uint64
	SinkFailures      uint64
	AvgLatencyNs      int64
	ActiveConnections int32
	CircuitOpen       bool
	OpenCircuits      int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TicksProcessed:    m.ticksProcessed.Load(),
		TickErrors:        m.tickErrors.Load(),
		ModelFallbacks:    m.modelFallbacks.Load(),
		MalformedMessages: m.malformedMessages.Load(),
		DroppedTicks:      m.droppedTicks.Load(),
		RejectedLevels:    m.rejectedLevels.Load(),
		CrossedBooks:      m.crossedBooks.Load(),
		PartialFills:      m.partialFills.Load(),
		Reconnects:        m.reconnects.Load(),
		SinkFailures:      m.sinkFailures.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		CircuitOpen:       m.circuitOpen.Load() > 0,
		OpenCircuits:      m.circuitOpen.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksProcessed.Store(0)
	m.tickErrors.Store(0)
	m.modelFallbacks.Store(0)
	m.malformedMessages.Store(0)
	m.droppedTicks.Store(0)
	m.rejectedLevels.Store(0)
	m.crossedBooks.Store(0)
	m.partialFills.Store(0)
	m.reconnects.Store(0)
	m.sinkFailures.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.circuitOpen.Store(0)
}
