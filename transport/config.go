package transport

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ordering selects the dispatch order of destination queues.
type Ordering string

const (
	// OrderFIFO dispatches in arrival order.
	OrderFIFO Ordering = "fifo"
	// OrderPriority dispatches by descending priority, then ascending send time.
	OrderPriority Ordering = "priority"
)

// UnreachablePolicy decides what happens to a message no link can carry.
type UnreachablePolicy string

const (
	// UnreachableDrop reports the message dropped.
	UnreachableDrop UnreachablePolicy = "drop"
	// UnreachableHold keeps the message and retries link selection after a backoff.
	UnreachableHold UnreachablePolicy = "hold"
)

// Config configures a transport Service.
type Config struct {
	// Identifier names the node. Default: "node-" followed by a random suffix.
	Identifier string `yaml:"identifier"`

	// SendQueueCapacity bounds the send queue. 0 = unbounded (default).
	SendQueueCapacity int `yaml:"send_queue_capacity"`

	// DestinationQueueCapacity bounds each destination queue. 0 = unbounded (default).
	DestinationQueueCapacity int `yaml:"destination_queue_capacity"`

	// Ordering of destination queues. Default: OrderFIFO.
	Ordering Ordering `yaml:"ordering"`

	// MaxAttempts caps forwarding attempts per message, including holds.
	// 0 = unbounded (default).
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the initial delay between attempts. Default: 100ms.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// RetryMaxDelay caps the exponential retry delay. Default: 10s.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`

	// Unreachable policy. Default: UnreachableDrop.
	Unreachable UnreachablePolicy `yaml:"unreachable"`

	// Aspects lists aspect names, in application order.
	// Names are resolved with the registry passed via WithAspectRegistry.
	Aspects []string `yaml:"aspects"`

	// Backoff overrides the delay between attempts.
	// If nil, exponential backoff from RetryDelay to RetryMaxDelay with ±20% jitter.
	Backoff BackoffFunc `yaml:"-"`
}

var defaultConfig = Config{
	Ordering:      OrderFIFO,
	RetryDelay:    100 * time.Millisecond,
	RetryMaxDelay: 10 * time.Second,
	Unreachable:   UnreachableDrop,
}

func (c Config) parse() (Config, error) {
	if c.Identifier == "" {
		c.Identifier = "node-" + uuid.NewString()[:8]
	}
	if c.SendQueueCapacity < 0 {
		c.SendQueueCapacity = 0
	}
	if c.DestinationQueueCapacity < 0 {
		c.DestinationQueueCapacity = 0
	}
	switch c.Ordering {
	case "":
		c.Ordering = defaultConfig.Ordering
	case OrderFIFO, OrderPriority:
	default:
		return c, fmt.Errorf("%w: unknown ordering %q", ErrTransport, c.Ordering)
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultConfig.RetryDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultConfig.RetryMaxDelay
	}
	switch c.Unreachable {
	case "":
		c.Unreachable = defaultConfig.Unreachable
	case UnreachableDrop, UnreachableHold:
	default:
		return c, fmt.Errorf("%w: unknown unreachable policy %q", ErrTransport, c.Unreachable)
	}
	if c.Backoff == nil {
		c.Backoff = ExponentialBackoff(c.RetryDelay, 2, c.RetryMaxDelay, 0.2)
	}
	return c, nil
}
