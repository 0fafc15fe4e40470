package aspects

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/transport"
)

// DedupeConfig configures the duplicate suppression aspect.
type DedupeConfig struct {
	// Size is the number of recent message IDs remembered. Default: 4096.
	Size int
	// Senders is the number of sender incarnations remembered. Default: 1024.
	Senders int
}

func (c DedupeConfig) parse() DedupeConfig {
	if c.Size <= 0 {
		c.Size = 4096
	}
	if c.Senders <= 0 {
		c.Senders = 1024
	}
	return c
}

// Dedupe suppresses inbound messages already delivered on this node and
// messages from an older incarnation of a known sender. Suppressed messages
// are marked [message.StatusDroppedDuplicate] or
// [message.StatusOldIncarnation] and are not delivered. Neither case is an
// error for the sending side.
func Dedupe(cfg DedupeConfig) (*aspect.Aspect, error) {
	cfg = cfg.parse()
	seen, err := lru.New[string, struct{}](cfg.Size)
	if err != nil {
		return nil, err
	}
	incarnations, err := lru.New[message.Address, int](cfg.Senders)
	if err != nil {
		return nil, err
	}

	a := aspect.New(NameDedupe)
	aspect.Provide(a, transport.MessageDelivererKey, func(d link.Deliverer) (link.Deliverer, bool) {
		return &dedupeDeliverer{next: d, seen: seen, incarnations: incarnations}, true
	})
	return a, nil
}

type dedupeDeliverer struct {
	next link.Deliverer

	mu           sync.Mutex
	seen         *lru.Cache[string, struct{}]
	incarnations *lru.Cache[message.Address, int]
}

func (d *dedupeDeliverer) DeliverMessage(ctx context.Context, msg *message.Message) error {
	if status, ok := d.admit(msg); !ok {
		message.SetStatus(msg, status)
		return nil
	}
	return d.next.DeliverMessage(ctx, msg)
}

func (d *dedupeDeliverer) admit(msg *message.Message) (message.DeliveryStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if inc, ok := msg.Attributes().Int(message.AttrIncarnation); ok {
		known, found := d.incarnations.Get(msg.Source())
		switch {
		case found && inc < known:
			return message.StatusOldIncarnation, false
		case !found || inc > known:
			d.incarnations.Add(msg.Source(), inc)
		}
	}

	if ok, _ := d.seen.ContainsOrAdd(msg.ID(), struct{}{}); ok {
		return message.StatusDroppedDuplicate, false
	}
	return "", true
}
