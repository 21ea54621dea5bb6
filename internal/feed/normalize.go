package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"trade_sim/internal/domain"
)

// ErrExchangeEvent marks an `{"event":"error"}` frame from the exchange.
var ErrExchangeEvent = errors.New("exchange error event")

const okxExchange = "OKX"

type bookData struct {
	Asks [][]string       `json:"asks"`
	Bids [][]string       `json:"bids"`
	Ts   domain.Timestamp `json:"ts"`
}

// message covers both inbound shapes: the flat normalized record and the
// OKX {arg, data} envelope, plus control events.
type message struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   *struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []bookData       `json:"data"`
	Ts   domain.Timestamp `json:"ts"`

	Timestamp domain.Timestamp `json:"timestamp"`
	Exchange  string           `json:"exchange"`
	Symbol    string           `json:"symbol"`
	Asks      [][]string       `json:"asks"`
	Bids      [][]string       `json:"bids"`
}

// Normalize decodes one frame into dst. Control frames (pong, subscribe
// acks, non-book channels) return an error wrapping domain.ErrSkipMessage;
// exchange error events wrap ErrExchangeEvent; anything unusable wraps
// domain.ErrMalformedSnapshot. dst is only written on success.
func Normalize(raw []byte, dst *domain.Snapshot) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fmt.Errorf("empty frame: %w", domain.ErrMalformedSnapshot)
	}
	if isPong(raw) {
		return domain.ErrSkipMessage
	}

	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decode: %v: %w", err, domain.ErrMalformedSnapshot)
	}

	switch m.Event {
	case "":
	case "error":
		return fmt.Errorf("code=%s msg=%s: %w", m.Code, m.Msg, ErrExchangeEvent)
	default:
		return fmt.Errorf("event %q: %w", m.Event, domain.ErrSkipMessage)
	}

	if m.Arg != nil {
		return normalizeEnvelope(&m, dst)
	}
	return normalizeFlat(&m, dst)
}

func normalizeEnvelope(m *message, dst *domain.Snapshot) error {
	if !isBookChannel(m.Arg.Channel) {
		return fmt.Errorf("channel %q: %w", m.Arg.Channel, domain.ErrSkipMessage)
	}
	if m.Arg.InstID == "" {
		return fmt.Errorf("missing instId: %w", domain.ErrMalformedSnapshot)
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("empty data: %w", domain.ErrMalformedSnapshot)
	}
	d := m.Data[0]
	ts := d.Ts
	if ts == "" {
		ts = m.Ts
	}
	return fill(dst, ts, okxExchange, m.Arg.InstID, d.Asks, d.Bids)
}

func normalizeFlat(m *message, dst *domain.Snapshot) error {
	if m.Symbol == "" {
		return fmt.Errorf("missing symbol: %w", domain.ErrMalformedSnapshot)
	}
	if m.Exchange == "" {
		return fmt.Errorf("missing exchange: %w", domain.ErrMalformedSnapshot)
	}
	return fill(dst, m.Timestamp, m.Exchange, m.Symbol, m.Asks, m.Bids)
}

func fill(dst *domain.Snapshot, ts domain.Timestamp, exchange, symbol string, asks, bids [][]string) error {
	if len(asks) == 0 && len(bids) == 0 {
		return fmt.Errorf("empty depth for %s: %w", symbol, domain.ErrMalformedSnapshot)
	}
	if _, _, err := ts.Time(); err != nil {
		return err
	}
	dst.Timestamp = ts
	dst.Exchange = exchange
	dst.Symbol = symbol
	dst.Asks = append(dst.Asks[:0], asks...)
	dst.Bids = append(dst.Bids[:0], bids...)
	return nil
}

// isBookChannel accepts the OKX depth channels (books, books5, books-l2-tbt,
// books50-l2-tbt, bbo-tbt).
func isBookChannel(ch string) bool {
	return strings.HasPrefix(ch, "books") || strings.HasPrefix(ch, "bbo")
}
