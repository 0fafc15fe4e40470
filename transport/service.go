package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
)

// Option configures a Service.
type Option func(*options)

type options struct {
	protocols []link.Protocol
	chain     aspect.Chain
	registry  *aspect.Registry
	policy    link.SelectionPolicy
	logger    Logger
}

// WithProtocols adds link protocols. The built-in local protocol is always loaded first.
func WithProtocols(protocols ...link.Protocol) Option {
	return func(o *options) {
		o.protocols = append(o.protocols, protocols...)
	}
}

// WithAspects appends aspects to the chain, after those named in Config.Aspects.
func WithAspects(aspects ...*aspect.Aspect) Option {
	return func(o *options) {
		o.chain = append(o.chain, aspects...)
	}
}

// WithAspectRegistry sets the registry used to resolve Config.Aspects.
func WithAspectRegistry(r *aspect.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithSelectionPolicy sets the initial link selection policy. Default: link.MinCost.
func WithSelectionPolicy(p link.SelectionPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// QueueLengths reports the number of messages waiting in each queue.
type QueueLengths struct {
	Send         int
	Destinations map[string]int
}

// Service is the message transport of one node. It owns the send pipeline,
// the receive pipeline and every component they share.
type Service struct {
	cfg         Config
	logger      Logger
	incarnation int64

	protocols []link.Protocol
	chain     aspect.Chain
	policy    *link.Provisioner

	registry *Registry
	tracker  *messageTracker
	watchers *watchers

	rawSend      *sendQueue
	sendQueue    SendQueue
	router       Router
	destinations *destinationQueueFactory
	deliverer    link.Deliverer

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	runCtx  context.Context
	wg      sync.WaitGroup
}

// New creates a transport service.
func New(cfg Config, opts ...Option) (*Service, error) {
	cfg, err := cfg.parse()
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	var chain aspect.Chain
	if len(cfg.Aspects) > 0 {
		if o.registry == nil {
			return nil, fmt.Errorf("%w: aspects %v configured without registry", ErrTransport, cfg.Aspects)
		}
		chain, err = o.registry.Resolve(cfg.Aspects...)
		if err != nil {
			return nil, err
		}
	}
	chain = append(chain, o.chain...)

	s := &Service{
		cfg:         cfg,
		logger:      o.logger,
		incarnation: time.Now().UnixNano(),
		chain:       chain,
		policy:      link.NewProvisioner(o.policy),
		registry:    NewRegistry(),
		tracker:     newMessageTracker(),
		watchers:    &watchers{logger: o.logger},
	}

	s.protocols = append(s.protocols, newLocalProtocol(s.registry))
	seen := map[string]bool{localProtocolName: true}
	for _, p := range o.protocols {
		if p == nil {
			continue
		}
		if seen[p.Name()] {
			return nil, fmt.Errorf("%w: duplicate protocol %q", ErrTransport, p.Name())
		}
		seen[p.Name()] = true
		s.protocols = append(s.protocols, p)
	}

	s.destinations = newDestinationQueueFactory(cfg, chain, s.spawnLinkSender)
	s.router = aspect.Weave[Router](chain, RouterKey, "", &router{destinations: s.destinations})
	s.rawSend = newSendQueue(cfg.SendQueueCapacity)
	s.sendQueue = aspect.Weave[SendQueue](chain, SendQueueKey, "", s.rawSend)
	s.deliverer = aspect.Weave[link.Deliverer](chain, MessageDelivererKey, "", &messageDeliverer{
		registry: s.registry,
		logger:   s.logger,
	})
	return s, nil
}

// Identifier returns the node identifier.
func (s *Service) Identifier() string { return s.cfg.Identifier }

// Incarnation returns the value stamped on outgoing messages to tell this
// run of the node from earlier ones.
func (s *Service) Incarnation() int64 { return s.incarnation }

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Chain returns the aspect chain applied to every component.
func (s *Service) Chain() aspect.Chain { return s.chain }

// Deliverer returns the woven message deliverer that protocols hand inbound
// messages to.
func (s *Service) Deliverer() link.Deliverer { return s.deliverer }

// DeliverMessage implements link.Node.
func (s *Service) DeliverMessage(ctx context.Context, msg *message.Message) error {
	return s.deliverer.DeliverMessage(ctx, msg)
}

// Start starts the protocols, publishes the node and the clients registered
// so far, and starts the send worker. Destination workers start on demand.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.protocols {
		g.Go(func() error {
			if err := p.Start(gctx, s); err != nil {
				return fmt.Errorf("start protocol %s: %w", p.Name(), err)
			}
			if err := p.RegisterNode(gctx); err != nil {
				return fmt.Errorf("register node with %s: %w", p.Name(), err)
			}
			for _, addr := range s.registry.Addresses() {
				if err := p.RegisterClient(gctx, addr); err != nil {
					return fmt.Errorf("register client %s with %s: %w", addr, p.Name(), err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Transport start failed", "node", s.cfg.Identifier, "error", err)
		return multierr.Append(err, s.Stop())
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSendQueue(runCtx)
	}()

	s.logger.Info("Transport started", "node", s.cfg.Identifier, "protocols", s.protocolNames(), "aspects", s.chain.Names())
	return nil
}

// Stop stops all workers, drops every message still queued and closes the
// protocols. Stop is idempotent.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	s.rawSend.queue.Close()
	queues := s.destinations.close()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	for _, msg := range s.rawSend.queue.Drain() {
		s.drop(msg, ErrShutdownDropped)
	}
	for _, q := range queues {
		for _, msg := range q.queue.Drain() {
			s.drop(msg, ErrShutdownDropped)
		}
	}

	var err error
	for _, p := range s.protocols {
		err = multierr.Append(err, p.Close())
	}
	s.logger.Info("Transport stopped", "node", s.cfg.Identifier)
	return err
}

// RegisterClient registers a local client. Registering an address twice is a no-op.
func (s *Service) RegisterClient(ctx context.Context, c Client) error {
	addr := c.Address()
	if addr.IsZero() || addr.IsMulticast() || !addr.RoundTrips() {
		return fmt.Errorf("%w: invalid client address %q", ErrTransport, addr)
	}
	_, created := s.registry.findOrRegister(addr, func() ReceiveLink {
		return aspect.Weave[ReceiveLink](s.chain, ReceiveLinkKey, "", &receiveLink{client: c, watchers: s.watchers})
	})
	if !created {
		return nil
	}
	s.logger.Debug("Client registered", "client", addr.String())

	if !s.isRunning() {
		return nil
	}
	var err error
	for _, p := range s.protocols {
		err = multierr.Append(err, p.RegisterClient(ctx, addr))
	}
	return err
}

// UnregisterClient removes a local client. Messages already queued for it
// fail at delivery. Unregistering an unknown client is a no-op.
func (s *Service) UnregisterClient(ctx context.Context, c Client) error {
	addr := c.Address()
	if !s.registry.unregister(addr) {
		return nil
	}
	s.logger.Debug("Client unregistered", "client", addr.String())

	if !s.isRunning() {
		return nil
	}
	var err error
	for _, p := range s.protocols {
		err = multierr.Append(err, p.UnregisterClient(ctx, addr))
	}
	return err
}

// JoinGroup adds a registered client to a multicast group.
func (s *Service) JoinGroup(group message.Address, c Client) error {
	return s.registry.join(group, c.Address())
}

// LeaveGroup removes a client from a multicast group.
func (s *Service) LeaveGroup(group message.Address, c Client) {
	s.registry.leave(group, c.Address())
}

// Registry returns the local client registry.
func (s *Service) Registry() *Registry { return s.registry }

// SendMessage enqueues msg for delivery and returns immediately.
// Messages from unregistered sources are silently ignored.
func (s *Service) SendMessage(msg *message.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrTransport)
	}
	s.mu.Lock()
	started, stopped := s.started, s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if !started {
		return ErrNotStarted
	}
	if !s.registry.IsLocal(msg.Source()) {
		s.logger.Debug("Ignoring message from unregistered client", "id", msg.ID(), "source", msg.Source().String())
		return nil
	}

	attrs := msg.Attributes()
	if _, ok := attrs.Get(message.AttrSendTime); !ok {
		attrs.Set(message.AttrSendTime, time.Now().UTC())
	}
	if _, ok := attrs.Get(message.AttrIncarnation); !ok {
		attrs.Set(message.AttrIncarnation, s.incarnation)
	}

	s.tracker.enter()
	if err := s.sendQueue.SendMessage(msg); err != nil {
		s.tracker.exit()
		s.watchers.dropped(msg, err)
		return err
	}
	return nil
}

// FlushMessages blocks until every accepted message was forwarded or
// dropped, then returns the messages dropped since the previous flush.
func (s *Service) FlushMessages(ctx context.Context) ([]*message.Message, error) {
	return s.tracker.flush(ctx)
}

// AddressKnown reports whether some protocol can reach addr.
func (s *Service) AddressKnown(ctx context.Context, addr message.Address) bool {
	for _, p := range s.protocols {
		if p.AddressKnown(ctx, addr) {
			return true
		}
	}
	return false
}

// AddWatcher registers a watcher. Watchers are compared by identity.
func (s *Service) AddWatcher(w Watcher) { s.watchers.add(w) }

// RemoveWatcher removes a watcher and reports whether it was registered.
func (s *Service) RemoveWatcher(w Watcher) bool { return s.watchers.remove(w) }

// SetSelectionPolicy replaces the link selection policy. Nil restores link.MinCost.
func (s *Service) SetSelectionPolicy(p link.SelectionPolicy) { s.policy.Set(p) }

// SelectionPolicy returns the active link selection policy.
func (s *Service) SelectionPolicy() link.SelectionPolicy { return s.policy.Get() }

// QueueLengths reports current queue lengths.
func (s *Service) QueueLengths() QueueLengths {
	return QueueLengths{
		Send:         s.sendQueue.Len(),
		Destinations: s.destinations.lengths(),
	}
}

func (s *Service) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

func (s *Service) protocolNames() []string {
	names := make([]string, len(s.protocols))
	for i, p := range s.protocols {
		names[i] = p.Name()
	}
	return names
}

func (s *Service) runSendQueue(ctx context.Context) {
	for {
		msg, err := s.rawSend.queue.Pop(ctx)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			s.drop(msg, ErrShutdownDropped)
			continue
		}
		err = protect(func() error { return s.router.RouteMessage(msg) })
		switch {
		case err == nil:
		case errors.Is(err, ErrDuplicate):
			s.logger.Debug("Message already queued", "id", msg.ID(), "target", msg.Target().String())
			s.tracker.exit()
		default:
			s.drop(msg, err)
		}
	}
}

// spawnLinkSender is called by the destination factory under its lock.
func (s *Service) spawnLinkSender(q *destinationQueue) {
	sender := newLinkSender(s, q)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sender.run(s.runCtx)
	}()
	s.logger.Debug("Link sender started", "destination", q.dest.String())
}

func (s *Service) forwarded(msg *message.Message) {
	protocol, _ := msg.Attributes().String(message.AttrProtocol)
	s.logger.Debug("Message forwarded", "id", msg.ID(), "target", msg.Target().String(), "protocol", protocol)
	s.watchers.sent(msg)
	s.tracker.exit()
}

func (s *Service) drop(msg *message.Message, err error) {
	s.logger.Error("Message dropped", "id", msg.ID(), "source", msg.Source().String(),
		"target", msg.Target().String(), "error", err)
	s.watchers.dropped(msg, err)
	s.tracker.drop(msg)
}
