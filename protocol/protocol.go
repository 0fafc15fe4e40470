// Package protocol holds the parts shared by the network link protocols:
// the wire codec, delivery outcomes and directory resolution.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"

	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/message/cloudevents"
	"github.com/fxsml/gomts/nameservice"
)

// ContentType is the content type of an encoded message.
const ContentType = "application/cloudevents+json"

// Encode encodes msg for the network and adds the encoded size to
// message.AttrBytesOut.
func Encode(msg *message.Message) ([]byte, error) {
	data, err := cloudevents.Marshal(msg)
	if err != nil {
		return nil, err
	}
	msg.Attributes().Add(message.AttrBytesOut, len(data))
	return data, nil
}

// Decode decodes a message received from the network and records the
// encoded size in message.AttrBytesIn.
func Decode(data []byte) (*message.Message, error) {
	msg, err := cloudevents.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	msg.Attributes().Delete(message.AttrBytesOut)
	msg.Attributes().Set(message.AttrBytesIn, len(data))
	return msg, nil
}

// NodeAddress is the directory address under which a node publishes its
// own endpoint.
func NodeAddress(identifier string) message.Address {
	return message.NewAddress("node:" + identifier)
}

// Outcome is the delivery result reported back to the sending node.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeMisdelivered Outcome = "misdelivered"
	OutcomeSecurity     Outcome = "security"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeUnavailable  Outcome = "unavailable"
	OutcomeError        Outcome = "error"
)

// ErrRemote is wrapped by errors reported by a receiving node that have no
// link failure kind.
var ErrRemote = errors.New("remote delivery failed")

// OutcomeOf maps a delivery error of the receiving node to an outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, link.ErrMisdelivered):
		return OutcomeMisdelivered
	case errors.Is(err, link.ErrMessageSecurity):
		return OutcomeSecurity
	case errors.Is(err, cloudevents.ErrInvalidEvent):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// Err converts an outcome reported for dest back into a link error on the
// sending node. Unavailable receivers are communication failures and are
// retried; the other failures are final.
func (o Outcome) Err(protocol string, dest message.Address, detail string) error {
	var cause error
	if detail != "" {
		cause = errors.New(detail)
	}
	switch o {
	case OutcomeOK, "":
		return nil
	case OutcomeMisdelivered:
		return link.NewError(protocol, dest, link.ErrMisdelivered, cause)
	case OutcomeSecurity:
		return link.NewError(protocol, dest, link.ErrMessageSecurity, cause)
	case OutcomeUnavailable:
		return link.NewError(protocol, dest, link.ErrCommFailure, cause)
	default:
		return link.NewError(protocol, dest, fmt.Errorf("%w: %s", ErrRemote, o), cause)
	}
}

// Resolver resolves destinations through a directory, retrying transient
// directory failures.
type Resolver struct {
	Directory nameservice.Directory
	Protocol  string
	// Attempts bounds the lookups per resolution. Default: 3.
	Attempts int
	// Interval is the initial wait between lookups. Default: 50ms.
	Interval time.Duration
}

// Resolve returns the endpoint of addr. A missing binding is
// link.ErrUnregisteredName; a directory that keeps failing is
// link.ErrNameLookup.
func (r Resolver) Resolve(ctx context.Context, addr message.Address) (string, error) {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Interval
	if b.InitialInterval <= 0 {
		b.InitialInterval = 50 * time.Millisecond
	}

	var endpoint string
	err := backoff.Retry(func() error {
		var err error
		endpoint, err = r.Directory.Lookup(ctx, addr, r.Protocol)
		if errors.Is(err, nameservice.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))

	switch {
	case err == nil:
		return endpoint, nil
	case errors.Is(err, nameservice.ErrNotFound):
		return "", link.NewError(r.Protocol, addr, link.ErrUnregisteredName, nil)
	case ctx.Err() != nil:
		return "", ctx.Err()
	default:
		return "", link.NewError(r.Protocol, addr, link.ErrNameLookup, err)
	}
}

// Known reports whether addr has a binding. Multicast addresses are known
// when any node has published an endpoint.
func (r Resolver) Known(ctx context.Context, addr message.Address) bool {
	if addr.IsMulticast() {
		endpoints, err := r.Directory.Endpoints(ctx, r.Protocol)
		return err == nil && len(endpoints) > 0
	}
	_, err := r.Directory.Lookup(ctx, addr, r.Protocol)
	return err == nil
}

// Registrations publishes the local clients and the node itself in a
// directory and withdraws them on Clear.
type Registrations struct {
	directory nameservice.Directory
	protocol  string
	endpoint  string

	mu    sync.Mutex
	addrs map[message.Address]struct{}
}

// NewRegistrations creates the registrations of one node endpoint.
func NewRegistrations(d nameservice.Directory, protocol, endpoint string) *Registrations {
	return &Registrations{
		directory: d,
		protocol:  protocol,
		endpoint:  endpoint,
		addrs:     make(map[message.Address]struct{}),
	}
}

// Endpoint returns the published endpoint.
func (r *Registrations) Endpoint() string { return r.endpoint }

// Add publishes addr.
func (r *Registrations) Add(ctx context.Context, addr message.Address) error {
	err := r.directory.Register(ctx, nameservice.Entry{Address: addr, Protocol: r.protocol, Endpoint: r.endpoint})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.addrs[addr] = struct{}{}
	r.mu.Unlock()
	return nil
}

// Remove withdraws addr.
func (r *Registrations) Remove(ctx context.Context, addr message.Address) error {
	r.mu.Lock()
	delete(r.addrs, addr)
	r.mu.Unlock()
	return r.directory.Unregister(ctx, addr, r.protocol)
}

// Clear withdraws every published address.
func (r *Registrations) Clear(ctx context.Context) error {
	r.mu.Lock()
	addrs := make([]message.Address, 0, len(r.addrs))
	for addr := range r.addrs {
		addrs = append(addrs, addr)
	}
	clear(r.addrs)
	r.mu.Unlock()

	var errs error
	for _, addr := range addrs {
		errs = multierr.Append(errs, r.directory.Unregister(ctx, addr, r.protocol))
	}
	return errs
}
