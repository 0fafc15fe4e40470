package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxsml/gomts/message"
)

var (
	// ErrLink is the base error for link failures.
	ErrLink = errors.New("link")

	// ErrUnregisteredName is returned when a protocol has no record of the destination.
	ErrUnregisteredName = fmt.Errorf("%w: unregistered name", ErrLink)

	// ErrNameLookup is returned on a transient failure resolving a destination.
	ErrNameLookup = fmt.Errorf("%w: name lookup failed", ErrLink)

	// ErrCommFailure is returned on network or remote call failures.
	ErrCommFailure = fmt.Errorf("%w: communication failure", ErrLink)

	// ErrMisdelivered is returned when the target is not registered at the receiving node.
	ErrMisdelivered = fmt.Errorf("%w: misdelivered message", ErrLink)

	// ErrMessageSecurity is returned when a message fails an integrity or authenticity check.
	ErrMessageSecurity = fmt.Errorf("%w: message security", ErrLink)
)

// Error is a link failure with protocol and destination context.
type Error struct {
	// Protocol is the name of the failing protocol.
	Protocol string
	// Destination is the target address.
	Destination message.Address
	// Kind is one of the link sentinel errors.
	Kind error
	// Err is the underlying cause, may be nil.
	Err error
}

// NewError creates a link error of the given kind.
func NewError(protocol string, dest message.Address, kind, cause error) *Error {
	return &Error{Protocol: protocol, Destination: dest, Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s to %s: %v", e.Protocol, e.Destination, e.Kind)
	}
	return fmt.Sprintf("%s to %s: %v: %v", e.Protocol, e.Destination, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Decision is the pipeline's reaction to a forwarding failure.
type Decision int

const (
	// Drop abandons the message.
	Drop Decision = iota
	// Retry forwards the message again if the link's retry hook agrees.
	Retry
	// TryNext excludes the failing protocol and selects another link.
	TryNext
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case TryNext:
		return "try-next"
	default:
		return "drop"
	}
}

// Classify maps a forwarding error to a Decision.
//
// Communication and name lookup failures are retried, unregistered names
// move on to the next candidate, everything else is dropped. Context
// cancellation always drops.
func Classify(err error) Decision {
	switch {
	case err == nil:
		return Drop
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Drop
	case errors.Is(err, ErrMessageSecurity), errors.Is(err, ErrMisdelivered):
		return Drop
	case errors.Is(err, ErrUnregisteredName):
		return TryNext
	case errors.Is(err, ErrCommFailure), errors.Is(err, ErrNameLookup):
		return Retry
	default:
		return Drop
	}
}
