package domain

import "context"

// FeedSource produces normalized snapshots for a single simulation.
// Snapshots is closed when the source stops; Err then reports a terminal
// failure, or nil after a requested Close.
type FeedSource interface {
	Start(ctx context.Context) error
	Snapshots() <-chan *Snapshot
	Err() error
	Close() error
}

// ResultSink receives emitted tick results (UI bridge, recorder, bus).
type ResultSink interface {
	Name() string
	Publish(ctx context.Context, result TickResult) error
}
