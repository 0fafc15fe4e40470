package transport

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrTransport is the base error for transport service failures.
	ErrTransport = errors.New("transport")

	// ErrAlreadyStarted is returned when Start is called on a started service.
	ErrAlreadyStarted = fmt.Errorf("%w: already started", ErrTransport)

	// ErrNotStarted is returned when sending on a service that was never started.
	ErrNotStarted = fmt.Errorf("%w: not started", ErrTransport)

	// ErrStopped is returned after Stop.
	ErrStopped = fmt.Errorf("%w: stopped", ErrTransport)

	// ErrQueueFull is returned when a bounded queue rejects a message.
	ErrQueueFull = fmt.Errorf("%w: queue full", ErrTransport)

	// ErrNoLink is reported when no protocol offers a viable link to the destination.
	ErrNoLink = fmt.Errorf("%w: no viable link", ErrTransport)

	// ErrMaxAttempts is reported when a message exhausted its forwarding attempts.
	ErrMaxAttempts = fmt.Errorf("%w: max attempts reached", ErrTransport)

	// ErrShutdownDropped is reported for messages still queued at Stop.
	ErrShutdownDropped = fmt.Errorf("%w: dropped at shutdown", ErrTransport)

	// ErrUnknownClient is returned for group operations on unregistered clients.
	ErrUnknownClient = fmt.Errorf("%w: unknown client", ErrTransport)

	// ErrDuplicate is returned by a destination queue that already holds the message.
	ErrDuplicate = fmt.Errorf("%w: message already queued", ErrTransport)

	// ErrInvalidGroup is returned when joining an address that is not a joinable multicast group.
	ErrInvalidGroup = fmt.Errorf("%w: invalid group", ErrTransport)
)

// RecoveryError wraps a panic raised while a worker handled a message.
type RecoveryError struct {
	// PanicValue is the original value that was passed to panic().
	PanicValue any
	// StackTrace contains the full stack trace at the point of panic.
	StackTrace string
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.PanicValue)
}

// ClientError wraps an error returned by a client's receive callback.
// The message reached the client, so it is not a transport failure.
type ClientError struct {
	Err error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client exception: %v", e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// protect runs fn and converts a panic into a RecoveryError.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RecoveryError{
				PanicValue: r,
				StackTrace: string(debug.Stack()),
			}
		}
	}()
	return fn()
}
