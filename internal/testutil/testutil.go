// Package testutil provides fakes for testing the transport pipeline.
package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
)

// RecordingClient records every delivered message.
type RecordingClient struct {
	addr message.Address

	mu   sync.Mutex
	msgs []*message.Message
	err  error
	hook func(ctx context.Context, msg *message.Message)
}

// NewRecordingClient creates a client for the unicast address name.
func NewRecordingClient(name string) *RecordingClient {
	return &RecordingClient{addr: message.NewAddress(name)}
}

func (c *RecordingClient) Address() message.Address { return c.addr }

func (c *RecordingClient) Receive(ctx context.Context, msg *message.Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	err, hook := c.err, c.hook
	c.mu.Unlock()
	if hook != nil {
		hook(ctx, msg)
	}
	return err
}

// FailWith makes Receive return err after recording.
func (c *RecordingClient) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// OnReceive sets a hook called after each recorded message.
func (c *RecordingClient) OnReceive(fn func(ctx context.Context, msg *message.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = fn
}

// Messages returns the recorded messages in delivery order.
func (c *RecordingClient) Messages() []*message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.msgs)
}

// Len returns the number of recorded messages.
func (c *RecordingClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// Payloads returns the recorded payloads as strings.
func (c *RecordingClient) Payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = string(m.Payload())
	}
	return out
}

// ScriptedLink is a DestinationLink with scripted costs and failures.
type ScriptedLink struct {
	dest     message.Address
	protocol string

	mu        sync.Mutex
	cost      link.Cost
	script    []error
	always    error
	retry     func(msg *message.Message, attempt int) bool
	forward   func(ctx context.Context, msg *message.Message) error
	forwarded []*message.Message
	calls     int
}

// NewScriptedLink creates a link that accepts every message at cost 1.
func NewScriptedLink(protocol string, dest message.Address) *ScriptedLink {
	return &ScriptedLink{dest: dest, protocol: protocol, cost: 1}
}

func (l *ScriptedLink) Destination() message.Address { return l.dest }

func (l *ScriptedLink) Protocol() string { return l.protocol }

func (l *ScriptedLink) Cost(*message.Message) link.Cost {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cost
}

// ForwardMessage returns the next scripted error, then the sticky error set
// by FailAlways, then the result of the forward hook.
func (l *ScriptedLink) ForwardMessage(ctx context.Context, msg *message.Message) error {
	l.mu.Lock()
	l.calls++
	var err error
	switch {
	case len(l.script) > 0:
		err = l.script[0]
		l.script = l.script[1:]
	case l.always != nil:
		err = l.always
	}
	fwd := l.forward
	l.mu.Unlock()

	if err == nil && fwd != nil {
		err = fwd(ctx, msg)
	}
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.forwarded = append(l.forwarded, msg)
	l.mu.Unlock()
	return nil
}

func (l *ScriptedLink) RetryFailedMessage(msg *message.Message, attempt int) bool {
	l.mu.Lock()
	retry := l.retry
	l.mu.Unlock()
	if retry == nil {
		return true
	}
	return retry(msg, attempt)
}

// SetCost sets the reported cost.
func (l *ScriptedLink) SetCost(c link.Cost) *ScriptedLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cost = c
	return l
}

// FailWith queues errors returned by the next forwarding calls, in order.
func (l *ScriptedLink) FailWith(errs ...error) *ScriptedLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.script = append(l.script, errs...)
	return l
}

// FailAlways makes every forwarding call fail with err. Nil clears it.
func (l *ScriptedLink) FailAlways(err error) *ScriptedLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.always = err
	return l
}

// SetRetry sets the retry hook. Default: always retry.
func (l *ScriptedLink) SetRetry(fn func(msg *message.Message, attempt int) bool) *ScriptedLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retry = fn
	return l
}

// OnForward sets a hook run for forwarding calls that are not scripted to fail.
func (l *ScriptedLink) OnForward(fn func(ctx context.Context, msg *message.Message) error) *ScriptedLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forward = fn
	return l
}

// Forwarded returns the successfully forwarded messages in order.
func (l *ScriptedLink) Forwarded() []*message.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.forwarded)
}

// ForwardedPayloads returns the forwarded payloads as strings.
func (l *ScriptedLink) ForwardedPayloads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.forwarded))
	for i, m := range l.forwarded {
		out[i] = string(m.Payload())
	}
	return out
}

// Calls returns the number of forwarding calls.
func (l *ScriptedLink) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// FakeProtocol is a Protocol backed by scripted links.
type FakeProtocol struct {
	name string

	mu         sync.Mutex
	links      map[message.Address]*ScriptedLink
	node       link.Node
	nodeAdded  bool
	clients    []message.Address
	linkCalls  int
	closed     bool
	startError error
}

// NewFakeProtocol creates a protocol that knows no address.
func NewFakeProtocol(name string) *FakeProtocol {
	return &FakeProtocol{name: name, links: make(map[message.Address]*ScriptedLink)}
}

// Know makes addr reachable and returns its link.
func (p *FakeProtocol) Know(addr message.Address) *ScriptedLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.links[addr]; ok {
		return l
	}
	l := NewScriptedLink(p.name, addr)
	p.links[addr] = l
	return l
}

// Forget makes addr unreachable.
func (p *FakeProtocol) Forget(addr message.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.links, addr)
}

// FailStart makes Start return err.
func (p *FakeProtocol) FailStart(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startError = err
}

func (p *FakeProtocol) Name() string { return p.name }

func (p *FakeProtocol) Start(_ context.Context, node link.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startError != nil {
		return p.startError
	}
	p.node = node
	return nil
}

func (p *FakeProtocol) RegisterNode(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodeAdded = true
	return nil
}

func (p *FakeProtocol) RegisterClient(_ context.Context, addr message.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.clients, addr) {
		p.clients = append(p.clients, addr)
	}
	return nil
}

func (p *FakeProtocol) UnregisterClient(_ context.Context, addr message.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := slices.Index(p.clients, addr); i >= 0 {
		p.clients = slices.Delete(p.clients, i, i+1)
	}
	return nil
}

func (p *FakeProtocol) AddressKnown(_ context.Context, addr message.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.links[addr]
	return ok
}

func (p *FakeProtocol) DestinationLink(addr message.Address) (link.DestinationLink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linkCalls++
	l, ok := p.links[addr]
	if !ok {
		return nil, link.NewError(p.name, addr, link.ErrUnregisteredName, nil)
	}
	return l, nil
}

func (p *FakeProtocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Node returns the node passed to Start.
func (p *FakeProtocol) Node() link.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.node
}

// NodeRegistered reports whether RegisterNode was called.
func (p *FakeProtocol) NodeRegistered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodeAdded
}

// Clients returns the registered client addresses.
func (p *FakeProtocol) Clients() []message.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.clients)
}

// LinkCalls returns how often DestinationLink was called.
func (p *FakeProtocol) LinkCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linkCalls
}

// Closed reports whether Close was called.
func (p *FakeProtocol) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
