// Package link defines the contract between the transport pipeline and the
// link protocols that move messages between nodes.
//
// A [Protocol] claims destination addresses and hands out one
// [DestinationLink] per destination. Each link estimates a [Cost] for a
// message; [MaxCost] means the link cannot deliver it. A [SelectionPolicy]
// picks one link among the viable candidates, [MinCost] being the default.
//
// Failures returned by a link are classified by [Classify] into a
// [Decision]: retry on the same link, try the next candidate, or drop.
package link

import (
	"context"
	"math"
	"strconv"

	"github.com/fxsml/gomts/message"
)

// Cost is a transport-defined, comparable delivery cost. Lower is preferred.
type Cost int64

// MaxCost marks a link that cannot deliver a message.
const MaxCost Cost = math.MaxInt64

// Viable reports whether c is below MaxCost.
func (c Cost) Viable() bool { return c < MaxCost }

func (c Cost) String() string {
	if c == MaxCost {
		return "max"
	}
	return strconv.FormatInt(int64(c), 10)
}

// DestinationLink forwards messages to one destination over one protocol.
type DestinationLink interface {
	// Destination returns the address this link serves.
	Destination() message.Address
	// Protocol returns the name of the owning protocol.
	Protocol() string
	// Cost estimates the cost of forwarding msg. MaxCost means cannot deliver.
	Cost(msg *message.Message) Cost
	// ForwardMessage sends msg to the destination. Calls are synchronous.
	ForwardMessage(ctx context.Context, msg *message.Message) error
	// RetryFailedMessage reports whether msg should be retried after a
	// failed forwarding attempt. attempt is one-based.
	RetryFailedMessage(msg *message.Message, attempt int) bool
}

// Deliverer delivers an inbound message to local recipients.
type Deliverer interface {
	DeliverMessage(ctx context.Context, msg *message.Message) error
}

// Node is the local side a protocol delivers inbound messages to.
type Node interface {
	Deliverer
	// Identifier returns the node identifier.
	Identifier() string
}

// Protocol is the transport-plugin contract consumed by the pipeline.
type Protocol interface {
	// Name returns the protocol name, unique per node.
	Name() string
	// Start binds the protocol to node and starts accepting inbound messages.
	Start(ctx context.Context, node Node) error
	// RegisterNode publishes the node itself to the protocol's name service.
	RegisterNode(ctx context.Context) error
	// RegisterClient publishes a local client address.
	RegisterClient(ctx context.Context, addr message.Address) error
	// UnregisterClient withdraws a local client address.
	UnregisterClient(ctx context.Context, addr message.Address) error
	// AddressKnown reports whether the protocol can reach addr.
	AddressKnown(ctx context.Context, addr message.Address) bool
	// DestinationLink returns the link to addr.
	DestinationLink(addr message.Address) (DestinationLink, error)
	// Close stops the protocol.
	Close() error
}

// Candidate is a link offered to a SelectionPolicy with its cost for the
// message being sent.
type Candidate struct {
	Link DestinationLink
	Cost Cost
}
