package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrNotConnected is returned when a send is attempted without a live transport.
	ErrNotConnected = errors.New("not connected")

	// ErrReconnectExhausted is the terminal failure of a feed connection. Not retriable.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrMalformedSnapshot is returned when a snapshot cannot be normalized.
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	// ErrSymbolMismatch is returned when a snapshot belongs to another instrument.
	ErrSymbolMismatch = errors.New("symbol mismatch")

	// ErrInvalidParameters is returned when simulation parameters fail validation.
	ErrInvalidParameters = errors.New("invalid simulation parameters")

	// ErrSkipMessage marks a control frame (pong, ack) that carries no snapshot.
	ErrSkipMessage = errors.New("control message")
)
