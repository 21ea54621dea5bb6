// Package bus distributes tick results over Redis: every result is published
// on a per-simulation channel and the newest one is kept under a TTL key.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trade_sim/internal/domain"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to Redis and verifies connectivity with a PING.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// Publisher implements domain.ResultSink on Redis.
type Publisher struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPublisher(rdb *redis.Client, prefix string, ttl time.Duration) *Publisher {
	return &Publisher{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (p *Publisher) Name() string {
	return "redis"
}

// Channel is the pub/sub channel carrying a simulation's results.
func (p *Publisher) Channel(simulationID string) string {
	return p.prefix + ":tick:" + simulationID
}

// LatestKey holds the newest result of a simulation.
func (p *Publisher) LatestKey(simulationID string) string {
	return p.prefix + ":latest:" + simulationID
}

// Publish sends the JSON-encoded result and refreshes the latest key.
func (p *Publisher) Publish(ctx context.Context, res domain.TickResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redis: encode result: %w", err)
	}
	payload := string(b)

	ch := p.Channel(res.SimulationID)
	if err := p.rdb.Publish(ctx, ch, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", ch, err)
	}
	key := p.LatestKey(res.SimulationID)
	if err := p.rdb.Set(ctx, key, payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Latest reads the newest stored result. A missing key returns nil, nil.
func (p *Publisher) Latest(ctx context.Context, simulationID string) (*domain.TickResult, error) {
	key := p.LatestKey(simulationID)
	raw, err := p.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	var res domain.TickResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return &res, nil
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}
