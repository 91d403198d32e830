package circuit

import (
	"errors"
	"fmt"
)

// Sentinel errors for common circuit error conditions.
var (
	// ErrAlreadyInitialized is returned when Initialize is invoked more than once.
	ErrAlreadyInitialized = errors.New("circuit: already initialized")

	// ErrNotInitialized is returned when an entry point is invoked before
	// initialization has completed.
	ErrNotInitialized = errors.New("circuit: not initialized")

	// ErrDisposed is returned when an entry point is invoked after disposal.
	ErrDisposed = errors.New("circuit: disposed")

	// ErrMissingSecret is returned when a circuit identity is constructed
	// with a zero secret.
	ErrMissingSecret = errors.New("circuit: identity secret must not be empty")

	// ErrDispatcherStopped is returned when work is submitted to a stopped
	// dispatcher.
	ErrDispatcherStopped = errors.New("circuit: dispatcher stopped")

	// ErrStreamUnavailable is returned when claiming a stream that is
	// unknown or already claimed.
	ErrStreamUnavailable = errors.New("circuit: stream not available, it may have timed out")

	// ErrUnknownStream is returned for chunks referencing an unknown or
	// expired stream id.
	ErrUnknownStream = errors.New("circuit: unknown stream id")

	// ErrStreamTooLarge is returned when a transfer exceeds the configured
	// buffer limit.
	ErrStreamTooLarge = errors.New("circuit: stream exceeds maximum buffer size")

	// ErrUnknownCall is returned when completing a call id that has no
	// pending entry.
	ErrUnknownCall = errors.New("circuit: unknown call id")

	// ErrCircuitNotFound is returned when a circuit id does not resolve to
	// a live circuit.
	ErrCircuitNotFound = errors.New("circuit: circuit not found")

	// ErrInvalidSecret is returned when a reconnect attempt presents the
	// wrong circuit secret.
	ErrInvalidSecret = errors.New("circuit: invalid circuit secret")

	// ErrMaxCircuits is returned when the registry is at capacity.
	ErrMaxCircuits = errors.New("circuit: max circuits reached")

	// ErrNotConnected is returned when sending on a proxy with no live
	// transport.
	ErrNotConnected = errors.New("circuit: client not connected")
)

// OpError wraps an error with the circuit and operation that produced it.
type OpError struct {
	CircuitID string
	Op        string
	Err       error
}

// Error returns the error message with circuit context.
func (e *OpError) Error() string {
	if e.CircuitID == "" {
		return fmt.Sprintf("circuit: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("circuit %s: %s: %v", e.CircuitID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError creates a new OpError.
func NewOpError(circuitID, op string, err error) *OpError {
	return &OpError{CircuitID: circuitID, Op: op, Err: err}
}

// PanicError wraps a panic recovered from dispatched work or a lifecycle
// handler.
type PanicError struct {
	Op    string
	Panic any
	Stack []byte
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("circuit: panic in %s: %v", e.Op, e.Panic)
}
