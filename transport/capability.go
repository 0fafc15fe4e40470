package transport

import (
	"context"

	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
)

// SendQueue accepts outgoing messages from local clients.
type SendQueue interface {
	// SendMessage enqueues msg without blocking.
	SendMessage(msg *message.Message) error
	// Len returns the number of queued messages.
	Len() int
}

// Router hands a message to the queue of its destination.
type Router interface {
	RouteMessage(msg *message.Message) error
}

// DestinationQueue holds messages for one destination until its link
// sender forwards them.
type DestinationQueue interface {
	// Destination returns the address served by the queue.
	Destination() message.Address
	// Enqueue adds msg. Returns ErrDuplicate if msg is already queued.
	Enqueue(msg *message.Message) error
	// Len returns the number of queued messages.
	Len() int
}

// ReceiveLink delivers inbound messages to one local client.
type ReceiveLink interface {
	// Address returns the client address.
	Address() message.Address
	// DeliverMessage hands msg to the client.
	DeliverMessage(ctx context.Context, msg *message.Message) error
}

// Capability keys for aspect weaving.
var (
	SendQueueKey        = aspect.NewKey[SendQueue]("SendQueue")
	RouterKey           = aspect.NewKey[Router]("Router")
	DestinationQueueKey = aspect.NewKey[DestinationQueue]("DestinationQueue")
	DestinationLinkKey  = aspect.NewKey[link.DestinationLink]("DestinationLink")
	MessageDelivererKey = aspect.NewKey[link.Deliverer]("MessageDeliverer")
	ReceiveLinkKey      = aspect.NewKey[ReceiveLink]("ReceiveLink")
)
