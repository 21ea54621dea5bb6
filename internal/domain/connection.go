package domain

import "fmt"

// ConnectionState is the feed connection lifecycle.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ConnectionStatus is a point-in-time view of a feed connection.
// Attempt is the consecutive failure count and is meaningful while Reconnecting.
type ConnectionStatus struct {
	State   ConnectionState
	Attempt int
	Err     error
}

func (s ConnectionStatus) String() string {
	if s.State == StateReconnecting {
		return fmt.Sprintf("%s(%d)", s.State, s.Attempt)
	}
	return s.State.String()
}
