// Package aspects provides the standard aspects of the message transport.
//
// Each constructor returns an [aspect.Aspect] that wraps one or more of the
// transport capabilities. [Register] makes them available by name to
// [transport.Config.Aspects].
package aspects

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/transport"
)

// LogLevel represents the severity level for logging messages.
type LogLevel string

const (
	// LogLevelDebug is used for detailed information.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is used for general information messages.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is used for warning conditions.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is used for error conditions.
	LogLevelError LogLevel = "error"
)

// TraceConfig configures the trace aspect.
// Defaults are used for any field not set.
type TraceConfig struct {
	// Logger receives the trace records. Defaults to slog.Default().
	Logger transport.Logger

	// Args are additional arguments to include in all log messages.
	Args []any

	// LevelSuccess is the log level used for successful calls.
	// Defaults to LogLevelDebug.
	LevelSuccess LogLevel
	// LevelFailure is the log level used for failed calls.
	// Defaults to LogLevelWarn.
	LevelFailure LogLevel

	// MessageSuccess is the message logged on success.
	// Defaults to "MTS: Success".
	MessageSuccess string
	// MessageFailure is the message logged on failure.
	// Defaults to "MTS: Failure".
	MessageFailure string

	// Disabled disables all logging when set to true.
	Disabled bool
}

var defaultTraceConfig = TraceConfig{
	LevelSuccess:   LogLevelDebug,
	LevelFailure:   LogLevelWarn,
	MessageSuccess: "MTS: Success",
	MessageFailure: "MTS: Failure",
}

func (c TraceConfig) parse() TraceConfig {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.LevelSuccess = LogLevel(strings.ToLower(string(c.LevelSuccess)))
	if c.LevelSuccess == "" {
		c.LevelSuccess = defaultTraceConfig.LevelSuccess
	}
	c.LevelFailure = LogLevel(strings.ToLower(string(c.LevelFailure)))
	if c.LevelFailure == "" {
		c.LevelFailure = defaultTraceConfig.LevelFailure
	}
	if c.MessageSuccess == "" {
		c.MessageSuccess = defaultTraceConfig.MessageSuccess
	}
	if c.MessageFailure == "" {
		c.MessageFailure = defaultTraceConfig.MessageFailure
	}
	return c
}

func logFunc(level LogLevel, log transport.Logger) func(msg string, args ...any) {
	switch level {
	case LogLevelDebug:
		return log.Debug
	case LogLevelWarn:
		return log.Warn
	case LogLevelError:
		return log.Error
	default:
		return log.Info
	}
}

type tracer struct {
	args       []any
	logSuccess func(msg string, args ...any)
	logFailure func(msg string, args ...any)
	msgSuccess string
	msgFailure string
}

func (t *tracer) record(capability string, msg *message.Message, start time.Time, err error) {
	args := make([]any, 0, len(t.args)+12)
	args = append(args, t.args...)
	args = append(args,
		"capability", capability,
		"id", msg.ID(),
		"source", msg.Source().String(),
		"target", msg.Target().String(),
		"duration", time.Since(start),
	)
	if err != nil {
		t.logFailure(t.msgFailure, append(args, "error", err)...)
		return
	}
	t.logSuccess(t.msgSuccess, args...)
}

// Trace logs every call through the send queue, the destination links, the
// message deliverer and the receive links.
func Trace(cfg TraceConfig) *aspect.Aspect {
	a := aspect.New(NameTrace)
	cfg = cfg.parse()
	if cfg.Disabled {
		return a
	}
	t := &tracer{
		args:       cfg.Args,
		logSuccess: logFunc(cfg.LevelSuccess, cfg.Logger),
		logFailure: logFunc(cfg.LevelFailure, cfg.Logger),
		msgSuccess: cfg.MessageSuccess,
		msgFailure: cfg.MessageFailure,
	}

	aspect.Provide(a, transport.SendQueueKey, func(q transport.SendQueue) (transport.SendQueue, bool) {
		return &tracedSendQueue{SendQueue: q, t: t}, true
	})
	aspect.Provide(a, transport.DestinationLinkKey, func(l link.DestinationLink) (link.DestinationLink, bool) {
		return &tracedLink{DestinationLink: l, t: t}, true
	})
	aspect.Provide(a, transport.MessageDelivererKey, func(d link.Deliverer) (link.Deliverer, bool) {
		return &tracedDeliverer{next: d, t: t, capability: transport.MessageDelivererKey.Name()}, true
	})
	aspect.Provide(a, transport.ReceiveLinkKey, func(rl transport.ReceiveLink) (transport.ReceiveLink, bool) {
		return &tracedReceiveLink{ReceiveLink: rl, t: t}, true
	})
	return a
}

type tracedSendQueue struct {
	transport.SendQueue
	t *tracer
}

func (q *tracedSendQueue) SendMessage(msg *message.Message) error {
	start := time.Now()
	err := q.SendQueue.SendMessage(msg)
	q.t.record(transport.SendQueueKey.Name(), msg, start, err)
	return err
}

type tracedLink struct {
	link.DestinationLink
	t *tracer
}

func (l *tracedLink) ForwardMessage(ctx context.Context, msg *message.Message) error {
	start := time.Now()
	err := l.DestinationLink.ForwardMessage(ctx, msg)
	l.t.record(transport.DestinationLinkKey.Name()+"/"+l.Protocol(), msg, start, err)
	return err
}

type tracedDeliverer struct {
	next       link.Deliverer
	t          *tracer
	capability string
}

func (d *tracedDeliverer) DeliverMessage(ctx context.Context, msg *message.Message) error {
	start := time.Now()
	err := d.next.DeliverMessage(ctx, msg)
	d.t.record(d.capability, msg, start, err)
	return err
}

type tracedReceiveLink struct {
	transport.ReceiveLink
	t *tracer
}

func (l *tracedReceiveLink) DeliverMessage(ctx context.Context, msg *message.Message) error {
	start := time.Now()
	err := l.ReceiveLink.DeliverMessage(ctx, msg)
	l.t.record(transport.ReceiveLinkKey.Name(), msg, start, err)
	return err
}
