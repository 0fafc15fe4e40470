// Package http is a link protocol that carries messages as structured
// CloudEvents over HTTP.
//
// Every node publishes its endpoint and the addresses of its clients in a
// shared [nameservice.Directory]. Mount [Protocol.Handler] on the node's
// HTTP server at the configured path.
//
//	p, err := http.New(http.Config{
//	    Endpoint:  "http://10.0.0.1:8080",
//	    Directory: dir,
//	})
//	mux.Handle(http.DefaultPath, p.Handler())
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"go.uber.org/multierr"

	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/message/cloudevents"
	"github.com/fxsml/gomts/nameservice"
	"github.com/fxsml/gomts/protocol"
	"github.com/fxsml/gomts/transport"
)

const (
	// Name is the default protocol name.
	Name = "http"
	// DefaultPath is the default path of the inbound handler.
	DefaultPath = "/mts"

	headerOutcome = "Mts-Outcome"
)

// ErrConfig is returned for an invalid configuration.
var ErrConfig = errors.New("http protocol: invalid config")

// Config configures the HTTP protocol.
type Config struct {
	// Name is the protocol name. Default: "http".
	Name string
	// Endpoint is the base URL under which peers reach this node. Required.
	Endpoint string
	// Path is appended to endpoints for inbound messages. Default: "/mts".
	Path string
	// Directory resolves client addresses to node endpoints. Required.
	Directory nameservice.Directory
	// Client sends requests. Default: a client with a 10s timeout.
	Client *http.Client
	// Cost of every link. Default: 100.
	Cost link.Cost
	// MaxBodySize bounds inbound requests. Default: 4 MiB.
	MaxBodySize int64
	// LookupAttempts bounds directory lookups per message. Default: 3.
	LookupAttempts int
	// Logger for operational logging. Default: slog.Default().
	Logger transport.Logger
}

func (c Config) parse() (Config, error) {
	if c.Name == "" {
		c.Name = Name
	}
	if c.Endpoint == "" {
		return c, fmt.Errorf("%w: endpoint required", ErrConfig)
	}
	if c.Directory == nil {
		return c, fmt.Errorf("%w: directory required", ErrConfig)
	}
	c.Endpoint = strings.TrimSuffix(c.Endpoint, "/")
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Cost <= 0 {
		c.Cost = 100
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 4 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}

// Protocol is the HTTP link protocol of one node.
type Protocol struct {
	cfg      Config
	resolver protocol.Resolver
	regs     *protocol.Registrations

	mu   sync.RWMutex
	node link.Node
}

var _ link.Protocol = (*Protocol)(nil)

// New creates the protocol.
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
		regs: protocol.NewRegistrations(cfg.Directory, cfg.Name, cfg.Endpoint),
	}, nil
}

func (p *Protocol) Name() string { return p.cfg.Name }

// Path is the request path served by [Protocol.Handler].
func (p *Protocol) Path() string { return p.cfg.Path }

func (p *Protocol) Start(_ context.Context, node link.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.node = node
	return nil
}

func (p *Protocol) self() link.Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.node
}

func (p *Protocol) RegisterNode(ctx context.Context) error {
	node := p.self()
	if node == nil {
		return fmt.Errorf("%s: not started", p.cfg.Name)
	}
	return p.regs.Add(ctx, protocol.NodeAddress(node.Identifier()))
}

func (p *Protocol) RegisterClient(ctx context.Context, addr message.Address) error {
	return p.regs.Add(ctx, addr)
}

func (p *Protocol) UnregisterClient(ctx context.Context, addr message.Address) error {
	return p.regs.Remove(ctx, addr)
}

// AddressKnown consults the directory. Multicast groups are known while any
// node endpoint is published; the local broadcast group never is.
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

// Close withdraws this node and its clients from the directory.
func (p *Protocol) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.regs.Clear(ctx)
}

// Handler returns the handler for inbound messages. It answers 204 on
// delivery, 404 for a misdelivered message, 403 for a rejected one, 400
// for an undecodable request and 503 before the node started.
func (p *Protocol) Handler() http.Handler {
	return http.HandlerFunc(p.serveHTTP)
}

func (p *Protocol) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	node := p.self()
	if node == nil {
		p.respond(w, protocol.OutcomeUnavailable, "node not started")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.cfg.MaxBodySize))
	if err != nil {
		p.respond(w, protocol.OutcomeInvalid, err.Error())
		return
	}
	msg, err := p.decode(r, data)
	if err != nil {
		p.cfg.Logger.Warn("Rejected inbound request", "protocol", p.cfg.Name, "error", err)
		p.respond(w, protocol.OutcomeInvalid, err.Error())
		return
	}
	msg.Attributes().Set(message.AttrProtocol, p.cfg.Name)

	if err := node.DeliverMessage(r.Context(), msg); err != nil {
		p.cfg.Logger.Warn("Inbound delivery failed",
			"protocol", p.cfg.Name, "id", msg.ID(), "target", msg.Target().String(), "error", err)
		p.respond(w, protocol.OutcomeOf(err), err.Error())
		return
	}
	p.respond(w, protocol.OutcomeOK, "")
}

// decode accepts structured and binary mode CloudEvents.
func (p *Protocol) decode(r *http.Request, data []byte) (*message.Message, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), protocol.ContentType) {
		return protocol.Decode(data)
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	e, err := cehttp.NewEventFromHTTPRequest(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cloudevents.ErrInvalidEvent, err)
	}
	msg, err := cloudevents.FromEvent(e)
	if err != nil {
		return nil, err
	}
	msg.Attributes().Set(message.AttrBytesIn, len(data))
	return msg, nil
}

var outcomeStatus = map[protocol.Outcome]int{
	protocol.OutcomeOK:           http.StatusNoContent,
	protocol.OutcomeMisdelivered: http.StatusNotFound,
	protocol.OutcomeSecurity:     http.StatusForbidden,
	protocol.OutcomeInvalid:      http.StatusBadRequest,
	protocol.OutcomeUnavailable:  http.StatusServiceUnavailable,
	protocol.OutcomeError:        http.StatusInternalServerError,
}

func (p *Protocol) respond(w http.ResponseWriter, o protocol.Outcome, detail string) {
	w.Header().Set(headerOutcome, string(o))
	status := outcomeStatus[o]
	if o == protocol.OutcomeOK {
		w.WriteHeader(status)
		return
	}
	http.Error(w, detail, status)
}

// outcomeFromResponse reads the outcome of a response, falling back to the
// status code when the receiver did not report one.
func outcomeFromResponse(resp *http.Response) protocol.Outcome {
	if o := protocol.Outcome(resp.Header.Get(headerOutcome)); o != "" {
		return o
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return protocol.OutcomeOK
	case resp.StatusCode == http.StatusNotFound:
		return protocol.OutcomeMisdelivered
	case resp.StatusCode == http.StatusForbidden:
		return protocol.OutcomeSecurity
	case resp.StatusCode == http.StatusBadRequest:
		return protocol.OutcomeInvalid
	case resp.StatusCode >= 500:
		return protocol.OutcomeUnavailable
	default:
		return protocol.OutcomeError
	}
}

type destinationLink struct {
	p    *Protocol
	dest message.Address
}

func (l *destinationLink) Destination() message.Address { return l.dest }

func (l *destinationLink) Protocol() string { return l.p.cfg.Name }

func (l *destinationLink) Cost(*message.Message) link.Cost { return l.p.cfg.Cost }

func (l *destinationLink) RetryFailedMessage(*message.Message, int) bool { return true }

func (l *destinationLink) ForwardMessage(ctx context.Context, msg *message.Message) error {
	endpoints, err := l.endpoints(ctx)
	if err != nil {
		return err
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	var errs error
	for _, endpoint := range endpoints {
		errs = multierr.Append(errs, l.post(ctx, endpoint, data))
	}
	return errs
}

func (l *destinationLink) endpoints(ctx context.Context) ([]string, error) {
	if !l.dest.IsMulticast() {
		endpoint, err := l.p.resolver.Resolve(ctx, l.dest)
		if err != nil {
			return nil, err
		}
		return []string{endpoint}, nil
	}
	endpoints, err := l.p.cfg.Directory.Endpoints(ctx, l.p.cfg.Name)
	if err != nil {
		return nil, link.NewError(l.p.cfg.Name, l.dest, link.ErrNameLookup, err)
	}
	if len(endpoints) == 0 {
		return nil, link.NewError(l.p.cfg.Name, l.dest, link.ErrUnregisteredName, nil)
	}
	return endpoints, nil
}

func (l *destinationLink) post(ctx context.Context, endpoint string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+l.p.cfg.Path, bytes.NewReader(data))
	if err != nil {
		return link.NewError(l.p.cfg.Name, l.dest, link.ErrNameLookup, err)
	}
	req.Header.Set("Content-Type", protocol.ContentType)

	resp, err := l.p.cfg.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return link.NewError(l.p.cfg.Name, l.dest, link.ErrCommFailure, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return outcomeFromResponse(resp).Err(l.p.cfg.Name, l.dest, strings.TrimSpace(string(body)))
}
