// Package nats is a link protocol that carries messages as CloudEvents over
// NATS.
//
// Unicast messages use request/reply on the subject of the node hosting the
// target, found in a shared [nameservice.Directory], so the sender learns
// the delivery outcome. Multicast messages are published once on a subject
// every node subscribes to and are delivered best effort.
//
// Subjects:
//
//	<prefix>.node.<identifier>   unicast requests to one node
//	<prefix>.multicast           multicast messages to all nodes
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"

	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/nameservice"
	"github.com/fxsml/gomts/protocol"
	"github.com/fxsml/gomts/transport"
)

const (
	// Name is the default protocol name.
	Name = "nats"

	headerOutcome = "Mts-Outcome"
)

// ErrConfig is returned for an invalid configuration.
var ErrConfig = errors.New("nats protocol: invalid config")

// Config configures the NATS protocol.
type Config struct {
	// Name is the protocol name. Default: "nats".
	Name string
	// URL is the NATS server URL. Default: nats.DefaultURL.
	// Ignored when Conn is set.
	URL string
	// Conn is an established connection to use. The caller keeps ownership.
	Conn *nats.Conn
	// SubjectPrefix prefixes all subjects. Default: "mts".
	SubjectPrefix string
	// RequestTimeout bounds one unicast request. Default: 5s.
	RequestTimeout time.Duration
	// ConnectTimeout bounds the initial connection. Default: 5s.
	ConnectTimeout time.Duration
	// Cost of every link. Default: 50.
	Cost link.Cost
	// Directory resolves client addresses to node subjects. Required.
	Directory nameservice.Directory
	// LookupAttempts bounds directory lookups per message. Default: 3.
	LookupAttempts int
	// Logger for operational logging. Default: slog.Default().
	Logger transport.Logger
}

func (c Config) parse() (Config, error) {
	if c.Directory == nil {
		return c, fmt.Errorf("%w: directory required", ErrConfig)
	}
	if c.Name == "" {
		c.Name = Name
	}
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	c.SubjectPrefix = strings.Trim(c.SubjectPrefix, ".")
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "mts"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.Cost <= 0 {
		c.Cost = 50
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}

// Protocol is the NATS link protocol of one node.
type Protocol struct {
	cfg      Config
	resolver protocol.Resolver

	mu    sync.RWMutex
	conn  *nats.Conn
	owned bool
	node  link.Node
	regs  *protocol.Registrations
	subs  []*nats.Subscription
}

var _ link.Protocol = (*Protocol)(nil)

// New creates the protocol. The connection is made by Start.
func New(cfg Config) (*Protocol, error) {
	cfg, err := cfg.parse()
	if err != nil {
		return nil, err
	}
	return &Protocol{
		cfg: cfg,
		resolver: protocol.Resolver{
			Directory: cfg.Directory,
			Protocol:  cfg.Name,
			Attempts:  cfg.LookupAttempts,
		},
	}, nil
}

func (p *Protocol) Name() string { return p.cfg.Name }

// NodeSubject returns the unicast subject of a node.
func (p *Protocol) NodeSubject(identifier string) string {
	return p.cfg.SubjectPrefix + ".node." + identifier
}

// MulticastSubject returns the subject all nodes receive multicasts on.
func (p *Protocol) MulticastSubject() string {
	return p.cfg.SubjectPrefix + ".multicast"
}

// Start connects to NATS and subscribes to the node and multicast subjects.
func (p *Protocol) Start(_ context.Context, node link.Node) error {
	conn := p.cfg.Conn
	owned := false
	if conn == nil {
		var err error
		conn, err = nats.Connect(
			p.cfg.URL,
			nats.Timeout(p.cfg.ConnectTimeout),
			nats.Name("mts-"+node.Identifier()),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					p.cfg.Logger.Warn("NATS disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				p.cfg.Logger.Info("NATS reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connect %s: %w", p.cfg.URL, err)
		}
		owned = true
	}

	subject := p.NodeSubject(node.Identifier())
	unicast, err := conn.Subscribe(subject, p.handleRequest)
	if err != nil {
		if owned {
			conn.Close()
		}
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	multicast, err := conn.Subscribe(p.MulticastSubject(), p.handleMulticast)
	if err != nil {
		_ = unicast.Unsubscribe()
		if owned {
			conn.Close()
		}
		return fmt.Errorf("subscribe %s: %w", p.MulticastSubject(), err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
	p.owned = owned
	p.node = node
	p.regs = protocol.NewRegistrations(p.cfg.Directory, p.cfg.Name, subject)
	p.subs = []*nats.Subscription{unicast, multicast}
	return nil
}

func (p *Protocol) state() (*nats.Conn, link.Node, *protocol.Registrations) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn, p.node, p.regs
}

func (p *Protocol) RegisterNode(ctx context.Context) error {
	_, node, regs := p.state()
	if regs == nil {
		return fmt.Errorf("%s: not started", p.cfg.Name)
	}
	return regs.Add(ctx, protocol.NodeAddress(node.Identifier()))
}

func (p *Protocol) RegisterClient(ctx context.Context, addr message.Address) error {
	_, _, regs := p.state()
	if regs == nil {
		return fmt.Errorf("%s: not started", p.cfg.Name)
	}
	return regs.Add(ctx, addr)
}

func (p *Protocol) UnregisterClient(ctx context.Context, addr message.Address) error {
	_, _, regs := p.state()
	if regs == nil {
		return nil
	}
	return regs.Remove(ctx, addr)
}

// AddressKnown consults the directory. Multicast groups are known while any
// node is published; the local broadcast group never is.
func (p *Protocol) AddressKnown(ctx context.Context, addr message.Address) bool {
	if addr == message.LocalBroadcast {
		return false
	}
	return p.resolver.Known(ctx, addr)
}

func (p *Protocol) DestinationLink(addr message.Address) (link.DestinationLink, error) {
	if addr == message.LocalBroadcast {
		return nil, link.NewError(p.cfg.Name, addr, link.ErrUnregisteredName, nil)
	}
	return &destinationLink{p: p, dest: addr}, nil
}

// Close withdraws the node from the directory, unsubscribes and closes an
// owned connection.
func (p *Protocol) Close() error {
	p.mu.Lock()
	conn, owned, regs, subs := p.conn, p.owned, p.regs, p.subs
	p.conn, p.regs, p.subs = nil, nil, nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := regs.Clear(ctx)
	for _, sub := range subs {
		errs = multierr.Append(errs, sub.Unsubscribe())
	}
	if owned {
		conn.Close()
	}
	return errs
}

func (p *Protocol) deliver(m *nats.Msg) (*message.Message, error) {
	_, node, _ := p.state()
	if node == nil {
		return nil, errNotStarted
	}
	msg, err := protocol.Decode(m.Data)
	if err != nil {
		return nil, err
	}
	msg.Attributes().Set(message.AttrProtocol, p.cfg.Name)

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
	defer cancel()
	return msg, node.DeliverMessage(ctx, msg)
}

var errNotStarted = errors.New("node not started")

func (p *Protocol) handleRequest(m *nats.Msg) {
	msg, err := p.deliver(m)
	outcome := protocol.OutcomeOf(err)
	if errors.Is(err, errNotStarted) {
		outcome = protocol.OutcomeUnavailable
	}
	if err != nil {
		args := []any{"protocol", p.cfg.Name, "error", err}
		if msg != nil {
			args = append(args, "id", msg.ID(), "target", msg.Target().String())
		}
		p.cfg.Logger.Warn("Inbound delivery failed", args...)
	}

	reply := nats.NewMsg(m.Reply)
	reply.Header.Set(headerOutcome, string(outcome))
	if err != nil {
		reply.Data = []byte(err.Error())
	}
	if err := m.RespondMsg(reply); err != nil {
		p.cfg.Logger.Warn("Reply failed", "protocol", p.cfg.Name, "error", err)
	}
}

func (p *Protocol) handleMulticast(m *nats.Msg) {
	if msg, err := p.deliver(m); err != nil {
		args := []any{"protocol", p.cfg.Name, "error", err}
		if msg != nil {
			args = append(args, "id", msg.ID(), "target", msg.Target().String())
		}
		p.cfg.Logger.Warn("Inbound multicast failed", args...)
	}
}

type destinationLink struct {
	p    *Protocol
	dest message.Address
}

func (l *destinationLink) Destination() message.Address { return l.dest }

func (l *destinationLink) Protocol() string { return l.p.cfg.Name }

func (l *destinationLink) Cost(*message.Message) link.Cost {
	conn, _, _ := l.p.state()
	if conn == nil || !conn.IsConnected() {
		return link.MaxCost
	}
	return l.p.cfg.Cost
}

func (l *destinationLink) RetryFailedMessage(*message.Message, int) bool { return true }

func (l *destinationLink) ForwardMessage(ctx context.Context, msg *message.Message) error {
	conn, _, _ := l.p.state()
	if conn == nil {
		return link.NewError(l.p.cfg.Name, l.dest, link.ErrCommFailure, nats.ErrConnectionClosed)
	}

	if l.dest.IsMulticast() {
		data, err := protocol.Encode(msg)
		if err != nil {
			return err
		}
		if err := conn.Publish(l.p.MulticastSubject(), data); err != nil {
			return link.NewError(l.p.cfg.Name, l.dest, link.ErrCommFailure, err)
		}
		message.SetStatus(msg, message.StatusBestEffort)
		return nil
	}

	subject, err := l.p.resolver.Resolve(ctx, l.dest)
	if err != nil {
		return err
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, l.p.cfg.RequestTimeout)
	defer cancel()
	req := nats.NewMsg(subject)
	req.Data = data
	resp, err := conn.RequestMsgWithContext(ctx, req)
	if err != nil {
		return link.NewError(l.p.cfg.Name, l.dest, link.ErrCommFailure, err)
	}
	return protocol.Outcome(resp.Header.Get(headerOutcome)).Err(l.p.cfg.Name, l.dest, string(resp.Data))
}
