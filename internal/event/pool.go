// Package event pools the snapshot records that flow from feed producers to
// the pipeline consumer.
package event

import (
	"sync"

	"trade_sim/internal/domain"
)

// snapshotPool reduces GC pressure on the per-tick hot path.
//
// Usage:
//
//	snap := AcquireSnapshot()
//	snap.Symbol = "BTC-USDT"
//	// ... hand off to the pipeline ...
//	ReleaseSnapshot(snap) // consumer returns it after ProcessTick
var snapshotPool = sync.Pool{
	New: func() interface{} {
		return &domain.Snapshot{
			Asks: make([][]string, 0, 64),
			Bids: make([][]string, 0, 64),
		}
	},
}

// AcquireSnapshot gets a cleared Snapshot from the pool.
func AcquireSnapshot() *domain.Snapshot {
	return snapshotPool.Get().(*domain.Snapshot)
}

// ReleaseSnapshot resets the snapshot and returns it to the pool.
// The caller must not touch it afterwards.
func ReleaseSnapshot(s *domain.Snapshot) {
	if s == nil {
		return
	}
	s.Reset()
	snapshotPool.Put(s)
}

// Warmup pre-allocates snapshots to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	snaps := make([]*domain.Snapshot, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		snaps = append(snaps, AcquireSnapshot())
	}
	for _, s := range snaps {
		ReleaseSnapshot(s)
	}
}
