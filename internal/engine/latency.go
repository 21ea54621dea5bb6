package engine

import (
	"slices"
	"time"

	"trade_sim/internal/domain"
)

// DefaultLatencyWindow is the number of trailing samples kept for percentiles.
const DefaultLatencyWindow = 1000

// ring is a fixed-capacity sample window. Order is irrelevant to the stats.
type ring struct {
	buf  []float64
	next int
	full bool
}

func newRing(n int) ring {
	return ring{buf: make([]float64, n)}
}

func (r *ring) push(v float64) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) values() []float64 {
	if r.full {
		return r.buf
	}
	return r.buf[:r.next]
}

// LatencyStats tracks internal tick latency and tick arrival intervals over
// a bounded trailing window. Not safe for concurrent use.
type LatencyStats struct {
	latencies   ring
	intervals   ring
	tickCount   uint64
	lastArrival time.Time
	scratch     []float64
}

// NewLatencyStats creates a window of the given size (DefaultLatencyWindow if <= 0).
func NewLatencyStats(window int) *LatencyStats {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &LatencyStats{
		latencies: newRing(window),
		intervals: newRing(window),
		scratch:   make([]float64, 0, window),
	}
}

// RecordArrival counts a tick and returns the time since the previous one
// (zero and false on the first tick).
func (s *LatencyStats) RecordArrival(now time.Time) (time.Duration, bool) {
	s.tickCount++
	prev := s.lastArrival
	s.lastArrival = now
	if prev.IsZero() {
		return 0, false
	}
	d := now.Sub(prev)
	s.intervals.push(durationMs(d))
	return d, true
}

// RecordLatency adds one processing-time sample.
func (s *LatencyStats) RecordLatency(d time.Duration) {
	s.latencies.push(durationMs(d))
}

// Stats summarizes the window. Percentiles use the sample at index
// floor(n*q) of the sorted window, clamped to the maximum.
func (s *LatencyStats) Stats() domain.PerformanceStats {
	st := domain.PerformanceStats{TickCount: s.tickCount}

	vals := s.latencies.values()
	st.WindowSize = len(vals)
	if len(vals) > 0 {
		s.scratch = append(s.scratch[:0], vals...)
		slices.Sort(s.scratch)
		var sum float64
		for _, v := range s.scratch {
			sum += v
		}
		st.AvgLatencyMs = sum / float64(len(s.scratch))
		st.MinLatencyMs = s.scratch[0]
		st.MaxLatencyMs = s.scratch[len(s.scratch)-1]
		st.P95LatencyMs = percentile(s.scratch, 0.95)
		st.P99LatencyMs = percentile(s.scratch, 0.99)
	}

	if iv := s.intervals.values(); len(iv) > 0 {
		var sum float64
		for _, v := range iv {
			sum += v
		}
		if avg := sum / float64(len(iv)); avg > 0 {
			st.TicksPerSecond = 1000 / avg
		}
	}
	return st
}

func percentile(sorted []float64, q float64) float64 {
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[idx]
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
