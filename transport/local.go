package transport

import (
	"context"
	"sync/atomic"

	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
)

const localProtocolName = "local"

// Costs of the built-in local protocol. Local multicast is expensive so that
// a network protocol reaching every node, this one included, wins.
const (
	localUnicastCost   link.Cost = 0
	localMulticastCost link.Cost = 1000
)

// localProtocol delivers messages addressed to clients of this node without
// leaving the process.
type localProtocol struct {
	registry *Registry
	node     atomic.Pointer[nodeRef]
}

type nodeRef struct{ link.Node }

func newLocalProtocol(registry *Registry) *localProtocol {
	return &localProtocol{registry: registry}
}

func (p *localProtocol) Name() string { return localProtocolName }

func (p *localProtocol) Start(_ context.Context, node link.Node) error {
	p.node.Store(&nodeRef{node})
	return nil
}

func (p *localProtocol) RegisterNode(context.Context) error { return nil }

func (p *localProtocol) RegisterClient(context.Context, message.Address) error { return nil }

func (p *localProtocol) UnregisterClient(context.Context, message.Address) error { return nil }

func (p *localProtocol) AddressKnown(_ context.Context, addr message.Address) bool {
	if addr.IsMulticast() {
		return p.registry.HasMembers(addr)
	}
	return p.registry.IsLocal(addr)
}

func (p *localProtocol) DestinationLink(addr message.Address) (link.DestinationLink, error) {
	return &localLink{protocol: p, dest: addr}, nil
}

func (p *localProtocol) Close() error { return nil }

type localLink struct {
	protocol *localProtocol
	dest     message.Address
}

func (l *localLink) Destination() message.Address { return l.dest }

func (l *localLink) Protocol() string { return localProtocolName }

func (l *localLink) Cost(*message.Message) link.Cost {
	if l.dest.IsMulticast() {
		if !l.protocol.registry.HasMembers(l.dest) {
			return link.MaxCost
		}
		return localMulticastCost
	}
	if !l.protocol.registry.IsLocal(l.dest) {
		return link.MaxCost
	}
	return localUnicastCost
}

func (l *localLink) ForwardMessage(ctx context.Context, msg *message.Message) error {
	ref := l.protocol.node.Load()
	if ref == nil {
		return link.NewError(localProtocolName, l.dest, link.ErrUnregisteredName, ErrNotStarted)
	}
	msg.Attributes().Set(message.AttrProtocol, localProtocolName)
	return ref.DeliverMessage(ctx, msg)
}

func (l *localLink) RetryFailedMessage(*message.Message, int) bool { return false }
