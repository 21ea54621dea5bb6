package feed

import (
	"context"
	"errors"
	"time"

	"trade_sim/internal/domain"

	"github.com/gorilla/websocket"
)

// Conn is one live transport session.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens transport sessions. Tests substitute a failing or scripted dialer.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

const defaultWriteTimeout = 10 * time.Second

// WebsocketDialer dials with gorilla/websocket. Every write is bounded by
// WriteTimeout.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WebsocketDialer{HandshakeTimeout: handshakeTimeout, WriteTimeout: defaultWriteTimeout}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		// The server answered but refused the upgrade; retrying will not help.
		if errors.Is(err, websocket.ErrBadHandshake) {
			return nil, domain.NewFatalNetworkError("handshake", err)
		}
		return nil, domain.NewNetworkError("dial", err)
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &wsConn{conn: conn, writeTimeout: writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, msg, err := c.conn.ReadMessage()
	return msg, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
