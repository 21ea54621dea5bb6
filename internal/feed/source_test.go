package feed

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/infra"

	"github.com/gorilla/websocket"
)

func TestSource_StreamsNormalizedSnapshots(t *testing.T) {
	fe, url := newFakeExchange(t)
	m := &infra.Metrics{}
	src := NewSource(Options{URL: url}, NewWebsocketDialer(time.Second), "books", "BTC-USDT", 8, m, nil)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	server := fe.nextConn(t)
	if cmd := fe.nextCommand(t); cmd.Op != "subscribe" || cmd.Args[0].InstID != "BTC-USDT" {
		t.Fatalf("subscribe command = %+v", cmd)
	}

	frames := []string{
		`{"event":"subscribe","arg":{"channel":"books","instId":"BTC-USDT"}}`,
		`{broken`,
		`{"arg":{"channel":"books","instId":"BTC-USDT"},"data":[{"asks":[["101","1"]],"bids":[["99","2"]],"ts":"1629966436396"}]}`,
		`{"arg":{"channel":"books","instId":"ETH-USDT"},"data":[{"asks":[["2001","1"]],"bids":[["1999","2"]]}]}`,
	}
	for _, f := range frames {
		if err := server.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}

	select {
	case snap := <-src.Snapshots():
		if snap.Symbol != "BTC-USDT" || snap.Exchange != "OKX" {
			t.Errorf("snapshot = %s/%s, want OKX/BTC-USDT", snap.Exchange, snap.Symbol)
		}
		if len(snap.Asks) != 1 || snap.Asks[0][0] != "101" {
			t.Errorf("Asks = %v, want [[101 1]]", snap.Asks)
		}
		if snap.ReceivedAt.IsZero() {
			t.Error("ReceivedAt not stamped")
		}
	case <-time.After(testTimeout):
		t.Fatal("no snapshot delivered")
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for range src.Snapshots() {
		t.Error("unexpected extra snapshot")
	}
	if got := m.Snapshot().MalformedMessages; got != 1 {
		t.Errorf("MalformedMessages = %d, want 1", got)
	}
	if err := src.Err(); err != nil {
		t.Errorf("Err() after Close = %v, want nil", err)
	}
}

func TestSource_TerminalFailureClosesChannel(t *testing.T) {
	opts := Options{URL: "ws://unreachable", ReconnectInterval: time.Millisecond, MaxReconnectAttempts: 2}
	src := NewSource(opts, &failingDialer{}, "books", "BTC-USDT", 8, &infra.Metrics{}, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Close()

	select {
	case _, ok := <-src.Snapshots():
		if ok {
			t.Fatal("unexpected snapshot")
		}
	case <-time.After(testTimeout):
		t.Fatal("snapshot channel not closed after reconnects were exhausted")
	}
	if err := src.Err(); !errors.Is(err, domain.ErrReconnectExhausted) {
		t.Errorf("Err() = %v, want ErrReconnectExhausted", err)
	}
	if st := src.Connection().Status(); st.State != domain.StateClosed {
		t.Errorf("State = %v, want closed", st.State)
	}
}

func TestMockSource_Generate(t *testing.T) {
	a := NewMockSource("BTC-USDT", "", time.Second, 42, nil)
	b := NewMockSource("BTC-USDT", "", time.Second, 42, nil)

	var sa, sb domain.Snapshot
	for i := 0; i < 5; i++ {
		a.Generate(&sa)
		b.Generate(&sb)
	}
	if len(sa.Bids) != mockLevels || len(sa.Asks) != mockLevels {
		t.Fatalf("levels = %d/%d, want %d each", len(sa.Bids), len(sa.Asks), mockLevels)
	}
	if sa.Bids[0][0] != sb.Bids[0][0] || sa.Asks[19][1] != sb.Asks[19][1] {
		t.Error("equal seeds produced different books")
	}
	if sa.Exchange != "OKX" || sa.Symbol != "BTC-USDT" {
		t.Errorf("snapshot = %s/%s, want OKX/BTC-USDT", sa.Exchange, sa.Symbol)
	}

	price := func(level []string) float64 {
		p, err := strconv.ParseFloat(level[0], 64)
		if err != nil {
			t.Fatalf("ParseFloat(%q): %v", level[0], err)
		}
		return p
	}
	if price(sa.Bids[0]) >= price(sa.Asks[0]) {
		t.Errorf("best bid %s >= best ask %s", sa.Bids[0][0], sa.Asks[0][0])
	}
	for i := 1; i < mockLevels; i++ {
		if price(sa.Bids[i]) >= price(sa.Bids[i-1]) {
			t.Errorf("bids not descending at %d: %s after %s", i, sa.Bids[i][0], sa.Bids[i-1][0])
		}
		if price(sa.Asks[i]) <= price(sa.Asks[i-1]) {
			t.Errorf("asks not ascending at %d: %s after %s", i, sa.Asks[i][0], sa.Asks[i-1][0])
		}
	}
	if _, ok, err := sa.Timestamp.Time(); !ok || err != nil {
		t.Errorf("Timestamp %q not parseable: %v", sa.Timestamp, err)
	}
}

func TestMockSource_StartClose(t *testing.T) {
	src := NewMockSource("BTC-USDT", "OKX", 5*time.Millisecond, 1, nil)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case snap := <-src.Snapshots():
		if snap.Symbol != "BTC-USDT" {
			t.Errorf("Symbol = %q", snap.Symbol)
		}
	case <-time.After(testTimeout):
		t.Fatal("no mock snapshot")
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for range src.Snapshots() {
	}
	if src.Err() != nil {
		t.Errorf("Err() = %v, want nil", src.Err())
	}
}

func TestSource_FullQueueCountsDroppedTicks(t *testing.T) {
	m := &infra.Metrics{}
	src := NewSource(Options{URL: "ws://unused"}, &failingDialer{}, "books", "BTC-USDT", 1, m, nil)
	frame := []byte(`{"arg":{"channel":"books","instId":"BTC-USDT"},"data":[{"asks":[["101","1"]],"bids":[["99","2"]],"ts":"1629966436396"}]}`)

	for range 3 {
		src.handle(frame)
	}
	if got := len(src.Snapshots()); got != 1 {
		t.Errorf("queued = %d, want 1", got)
	}
	if got := m.Snapshot().DroppedTicks; got != 2 {
		t.Errorf("DroppedTicks = %d, want 2", got)
	}
}
