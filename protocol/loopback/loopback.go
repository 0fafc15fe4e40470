// Package loopback connects several transport nodes of one process.
//
// Messages between nodes are encoded and decoded exactly as a network
// protocol would, so the receiving node works on its own copy. A [Network]
// can partition nodes to simulate communication failures.
package loopback

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/multierr"

	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/protocol"
)

// Name is the default protocol name.
const Name = "loopback"

// Network is an in-process network of nodes.
type Network struct {
	mu          sync.RWMutex
	nodes       map[string]link.Node
	clients     map[message.Address]string
	partitioned map[string]struct{}
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		nodes:       make(map[string]link.Node),
		clients:     make(map[message.Address]string),
		partitioned: make(map[string]struct{}),
	}
}

// Config configures a loopback protocol.
type Config struct {
	// Name is the protocol name. Default: "loopback".
	Name string
	// Cost of every link. Default: 10.
	Cost link.Cost
}

func (c Config) parse() Config {
	if c.Name == "" {
		c.Name = Name
	}
	if c.Cost <= 0 {
		c.Cost = 10
	}
	return c
}

// Protocol returns a new protocol attached to n, for one node.
func (n *Network) Protocol(cfg Config) *Protocol {
	return &Protocol{cfg: cfg.parse(), network: n}
}

// Partition cuts the node off the network. Messages to and from it fail
// with link.ErrCommFailure until Heal.
func (n *Network) Partition(identifier string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[identifier] = struct{}{}
}

// Heal reconnects a partitioned node.
func (n *Network) Heal(identifier string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, identifier)
}

// Nodes returns the identifiers of the attached nodes, sorted.
func (n *Network) Nodes() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (n *Network) reachable(from, to string) bool {
	_, a := n.partitioned[from]
	_, b := n.partitioned[to]
	return !a && !b
}

// Protocol is the link protocol of one node on a Network.
type Protocol struct {
	cfg     Config
	network *Network

	mu   sync.RWMutex
	node link.Node
}

var _ link.Protocol = (*Protocol)(nil)

func (p *Protocol) Name() string { return p.cfg.Name }

func (p *Protocol) Start(_ context.Context, node link.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.node = node
	return nil
}

func (p *Protocol) self() (link.Node, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.node == nil {
		return nil, fmt.Errorf("%s: not started", p.cfg.Name)
	}
	return p.node, nil
}

func (p *Protocol) RegisterNode(context.Context) error {
	node, err := p.self()
	if err != nil {
		return err
	}
	p.network.mu.Lock()
	defer p.network.mu.Unlock()
	p.network.nodes[node.Identifier()] = node
	return nil
}

func (p *Protocol) RegisterClient(_ context.Context, addr message.Address) error {
	node, err := p.self()
	if err != nil {
		return err
	}
	p.network.mu.Lock()
	defer p.network.mu.Unlock()
	p.network.clients[addr] = node.Identifier()
	return nil
}

func (p *Protocol) UnregisterClient(_ context.Context, addr message.Address) error {
	node, err := p.self()
	if err != nil {
		return err
	}
	p.network.mu.Lock()
	defer p.network.mu.Unlock()
	if p.network.clients[addr] == node.Identifier() {
		delete(p.network.clients, addr)
	}
	return nil
}

// AddressKnown reports whether a client is registered on any node. Multicast
// groups are known while any node is attached; the local broadcast group is
// never sent across the network.
func (p *Protocol) AddressKnown(_ context.Context, addr message.Address) bool {
	p.network.mu.RLock()
	defer p.network.mu.RUnlock()
	if addr.IsMulticast() {
		return addr != message.LocalBroadcast && len(p.network.nodes) > 0
	}
	_, ok := p.network.clients[addr]
	return ok
}

func (p *Protocol) DestinationLink(addr message.Address) (link.DestinationLink, error) {
	if addr == message.LocalBroadcast {
		return nil, link.NewError(p.cfg.Name, addr, link.ErrUnregisteredName, nil)
	}
	return &destinationLink{p: p, dest: addr}, nil
}

// Close detaches the node and its clients from the network.
func (p *Protocol) Close() error {
	node, err := p.self()
	if err != nil {
		return nil
	}
	id := node.Identifier()
	p.network.mu.Lock()
	defer p.network.mu.Unlock()
	if p.network.nodes[id] == node {
		delete(p.network.nodes, id)
	}
	for addr, owner := range p.network.clients {
		if owner == id {
			delete(p.network.clients, addr)
		}
	}
	return nil
}

type destinationLink struct {
	p    *Protocol
	dest message.Address
}

func (l *destinationLink) Destination() message.Address { return l.dest }

func (l *destinationLink) Protocol() string { return l.p.cfg.Name }

func (l *destinationLink) Cost(*message.Message) link.Cost {
	if !l.p.AddressKnown(context.Background(), l.dest) {
		return link.MaxCost
	}
	return l.p.cfg.Cost
}

func (l *destinationLink) RetryFailedMessage(*message.Message, int) bool { return true }

func (l *destinationLink) ForwardMessage(ctx context.Context, msg *message.Message) error {
	self, err := l.p.self()
	if err != nil {
		return link.NewError(l.p.cfg.Name, l.dest, link.ErrCommFailure, err)
	}
	targets, err := l.targets(self.Identifier())
	if err != nil {
		return err
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	var errs error
	for _, node := range targets {
		received, err := protocol.Decode(data)
		if err != nil {
			return err
		}
		received.Attributes().Set(message.AttrProtocol, l.p.cfg.Name)
		if err := node.DeliverMessage(ctx, received); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// targets returns the nodes the message goes to.
func (l *destinationLink) targets(from string) ([]link.Node, error) {
	n := l.p.network
	n.mu.RLock()
	defer n.mu.RUnlock()

	if l.dest.IsMulticast() {
		if _, cut := n.partitioned[from]; cut {
			return nil, link.NewError(l.p.cfg.Name, l.dest, link.ErrCommFailure, fmt.Errorf("node %s partitioned", from))
		}
		ids := make([]string, 0, len(n.nodes))
		for id := range n.nodes {
			if n.reachable(from, id) {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		nodes := make([]link.Node, 0, len(ids))
		for _, id := range ids {
			nodes = append(nodes, n.nodes[id])
		}
		return nodes, nil
	}

	owner, ok := n.clients[l.dest]
	if !ok {
		return nil, link.NewError(l.p.cfg.Name, l.dest, link.ErrUnregisteredName, nil)
	}
	node, ok := n.nodes[owner]
	if !ok || !n.reachable(from, owner) {
		return nil, link.NewError(l.p.cfg.Name, l.dest, link.ErrCommFailure, fmt.Errorf("node %s unreachable", owner))
	}
	return []link.Node{node}, nil
}
