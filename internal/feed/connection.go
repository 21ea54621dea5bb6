// Package feed keeps a market-data websocket alive and turns its frames into
// normalized order book snapshots.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/infra"

	"golang.org/x/time/rate"
)

const (
	pingMessage       = `{"op":"ping"}`
	maxHeartbeatCheck = time.Second
)

var errConnectionLost = errors.New("connection lost")

// Subscription is one (channel, instrument) pair on the exchange.
type Subscription struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type command struct {
	Op   string         `json:"op"`
	Args []Subscription `json:"args"`
}

// Options tunes the connection state machine.
type Options struct {
	URL                    string
	PingInterval           time.Duration
	ReconnectInterval      time.Duration
	MaxReconnectMultiplier int
	MaxReconnectAttempts   int
	SubscribeBatchSize     int
	SubscribeBatchInterval time.Duration
}

// OptionsFromConfig maps the feed section of the application config.
func OptionsFromConfig(cfg *infra.Config) Options {
	return Options{
		URL:                    cfg.Feed.URL,
		PingInterval:           cfg.PingInterval(),
		ReconnectInterval:      cfg.ReconnectInterval(),
		MaxReconnectMultiplier: cfg.Feed.MaxReconnectMultiplier,
		MaxReconnectAttempts:   cfg.Feed.MaxReconnectAttempts,
		SubscribeBatchSize:     cfg.Feed.SubscribeBatchSize,
		SubscribeBatchInterval: cfg.SubscribeBatchInterval(),
	}
}

func (o *Options) applyDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 5 * time.Second
	}
	if o.MaxReconnectMultiplier <= 0 {
		o.MaxReconnectMultiplier = 5
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.SubscribeBatchSize <= 0 {
		o.SubscribeBatchSize = 10
	}
	if o.SubscribeBatchInterval < 0 {
		o.SubscribeBatchInterval = 0
	}
}

// Connection owns one transport link and its lifecycle:
// Disconnected -> Connecting -> Connected -> Reconnecting -> ... -> Closed.
//
// Inbound frames are handed to the handler from the read goroutine, one at a
// time and in arrival order.
type Connection struct {
	opts    Options
	dialer  Dialer
	handler func(msg []byte)
	metrics *infra.Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    Conn
	status  domain.ConnectionStatus
	changed chan struct{}
	err     error
	subs    []Subscription
	cancel  context.CancelFunc

	lastInbound atomic.Int64
	started     atomic.Bool
	wg          sync.WaitGroup
	done        chan struct{}
	doneOnce    sync.Once

	// wait sleeps between reconnect attempts; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewConnection creates a connection in the Disconnected state. Nothing is
// dialed until Connect.
func NewConnection(opts Options, dialer Dialer, handler func(msg []byte), metrics *infra.Metrics, logger *slog.Logger) *Connection {
	opts.applyDefaults()
	if handler == nil {
		handler = func([]byte) {}
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		opts:    opts,
		dialer:  dialer,
		handler: handler,
		metrics: metrics,
		logger:  logger.With("module", "feed", "url", opts.URL),
		status:  domain.ConnectionStatus{State: domain.StateDisconnected},
		changed: make(chan struct{}),
		done:    make(chan struct{}),
		wait:    sleepCtx,
	}
}

// Connect starts the connection loop in the background and returns at once.
// Use WaitConnected to block until the first handshake completes.
func (c *Connection) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("feed connection already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

// Disconnect stops every loop, releases the transport and moves to Closed.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.closeConnection()
	c.wg.Wait()
	c.finish(nil)
	c.logger.Info("Feed disconnected")
}

// WaitConnected blocks until the connection is Connected, Closed, or ctx ends.
func (c *Connection) WaitConnected(ctx context.Context) error {
	for {
		c.mu.RLock()
		st := c.status
		changed := c.changed
		c.mu.RUnlock()

		switch st.State {
		case domain.StateConnected:
			return nil
		case domain.StateClosed:
			if st.Err != nil {
				return st.Err
			}
			return domain.ErrNotConnected
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Status returns the current state and reconnect attempt count.
func (c *Connection) Status() domain.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Done is closed once the connection reaches Closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err reports the terminal failure, nil after a requested Disconnect.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Subscriptions returns the tracked subscription set in insertion order.
func (c *Connection) Subscriptions() []Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.subs)
}

// Subscribe tracks (channel, instID) and sends it now when connected;
// otherwise it goes out with the replay after the next handshake.
// Subscribing twice is a no-op. Returns false once the connection is Closed.
func (c *Connection) Subscribe(channel, instID string) bool {
	sub := Subscription{Channel: channel, InstID: instID}

	c.mu.Lock()
	if c.status.State == domain.StateClosed {
		c.mu.Unlock()
		return false
	}
	if slices.Contains(c.subs, sub) {
		c.mu.Unlock()
		c.logger.Debug("Already subscribed", "channel", channel, "inst_id", instID)
		return true
	}
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	if c.SendJSON(command{Op: "subscribe", Args: []Subscription{sub}}) {
		c.logger.Info("Subscription sent", "channel", channel, "inst_id", instID)
	} else {
		c.logger.Info("Subscription queued until connected", "channel", channel, "inst_id", instID)
	}
	return true
}

// Unsubscribe drops (channel, instID) from the tracked set. Unknown pairs are a no-op.
func (c *Connection) Unsubscribe(channel, instID string) bool {
	sub := Subscription{Channel: channel, InstID: instID}

	c.mu.Lock()
	i := slices.Index(c.subs, sub)
	if i < 0 {
		c.mu.Unlock()
		return true
	}
	c.subs = slices.Delete(c.subs, i, i+1)
	c.mu.Unlock()

	c.SendJSON(command{Op: "unsubscribe", Args: []Subscription{sub}})
	c.logger.Info("Unsubscribed", "channel", channel, "inst_id", instID)
	return true
}

// Send writes one text frame. It fails fast with false when not Connected.
// The state lock is released before writing so a stalled peer cannot block
// closeConnection.
func (c *Connection) Send(msg []byte) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	connected := c.status.State == domain.StateConnected
	c.mu.RUnlock()

	if conn == nil || !connected {
		c.logger.Debug("Cannot send, not connected")
		return false
	}
	if err := conn.WriteMessage(msg); err != nil {
		c.logger.Warn("Send failed", slog.Any("error", err))
		return false
	}
	return true
}

// SendJSON marshals v and sends it.
func (c *Connection) SendJSON(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", slog.Any("error", err))
		return false
	}
	return c.Send(b)
}

func (c *Connection) connectionLoop(ctx context.Context) {
	defer c.wg.Done()

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.finish(nil)
			return
		}

		c.setStatus(domain.StateConnecting, attempt, nil)
		err := c.connect(ctx)
		fatal := err != nil && !domain.IsRetriable(err)
		if err == nil {
			attempt = 0
			err = c.serve(ctx)
		}
		if ctx.Err() != nil {
			c.finish(nil)
			return
		}
		if fatal {
			c.logger.Error("Feed refused connection, not retrying", slog.Any("error", err))
			c.finish(err)
			return
		}

		attempt++
		if attempt > c.opts.MaxReconnectAttempts {
			c.logger.Error("Reconnect attempts exhausted, giving up",
				slog.Any("error", err),
				slog.Int("max_attempts", c.opts.MaxReconnectAttempts))
			c.finish(fmt.Errorf("%w after %d attempts: %v", domain.ErrReconnectExhausted, c.opts.MaxReconnectAttempts, err))
			return
		}

		delay := Backoff(attempt, c.opts.ReconnectInterval, c.opts.MaxReconnectMultiplier)
		c.setStatus(domain.StateReconnecting, attempt, err)
		c.metrics.RecordReconnect()
		c.logger.Warn("Feed connection failed",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.opts.MaxReconnectAttempts),
			slog.Duration("retry_in", delay))

		if c.wait(ctx, delay) != nil {
			c.finish(nil)
			return
		}
	}
}

func (c *Connection) connect(ctx context.Context) error {
	conn, err := c.dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		var ne *domain.NetworkError
		if errors.As(err, &ne) {
			return err
		}
		return domain.NewNetworkError("dial", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.metrics.IncrementConnections()

	if ctx.Err() != nil {
		c.closeConnection()
		return ctx.Err()
	}

	c.lastInbound.Store(time.Now().UnixNano())
	c.setStatus(domain.StateConnected, 0, nil)
	c.logger.Info("Feed connected")
	return nil
}

// serve runs the heartbeat alongside the read loop until the link drops.
func (c *Connection) serve(ctx context.Context) error {
	hbCtx, stop := context.WithCancel(ctx)
	defer stop()

	c.wg.Add(1)
	go c.heartbeatLoop(hbCtx)

	c.resubscribe(ctx)
	return c.readLoop(ctx)
}

// resubscribe replays the tracked set in paced batches.
func (c *Connection) resubscribe(ctx context.Context) {
	subs := c.Subscriptions()
	if len(subs) == 0 {
		return
	}
	c.logger.Info("Resubscribing", slog.Int("subscriptions", len(subs)))

	limiter := rate.NewLimiter(rate.Every(c.opts.SubscribeBatchInterval), 1)
	for batch := range slices.Chunk(subs, c.opts.SubscribeBatchSize) {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if !c.SendJSON(command{Op: "subscribe", Args: batch}) {
			c.logger.Error("Failed to resubscribe batch", slog.Int("size", len(batch)))
		}
	}
}

func (c *Connection) readLoop(ctx context.Context) error {
	readTimeout := 2 * c.opts.PingInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return errConnectionLost
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := conn.ReadMessage()
		if err != nil {
			c.closeConnection()
			return domain.NewNetworkError("read", err)
		}
		c.lastInbound.Store(time.Now().UnixNano())
		if isPong(msg) {
			continue
		}
		c.handler(msg)
	}
}

// heartbeatLoop sends keep-alives and force-closes the link after two
// silent ping intervals.
func (c *Connection) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	lastPing := time.Now()
	ticker := time.NewTicker(min(c.opts.PingInterval, maxHeartbeatCheck))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			idle := now.Sub(time.Unix(0, c.lastInbound.Load()))
			if idle > 2*c.opts.PingInterval {
				c.logger.Error("Heartbeat timeout, forcing reconnect", slog.Duration("idle", idle))
				c.closeConnection()
				return
			}
			if now.Sub(lastPing) >= c.opts.PingInterval {
				if !c.Send([]byte(pingMessage)) {
					c.logger.Warn("Cannot send ping")
				}
				lastPing = now
			}
		}
	}
}

func (c *Connection) closeConnection() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()
	c.metrics.DecrementConnections()
}

func (c *Connection) setStatus(state domain.ConnectionState, attempt int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatusLocked(state, attempt, err)
}

func (c *Connection) setStatusLocked(state domain.ConnectionState, attempt int, err error) {
	c.status = domain.ConnectionStatus{State: state, Attempt: attempt, Err: err}
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Connection) finish(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.setStatusLocked(domain.StateClosed, c.status.Attempt, err)
		c.mu.Unlock()
		close(c.done)
	})
}

func isPong(msg []byte) bool {
	return string(msg) == "pong"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
