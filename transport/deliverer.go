package transport

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
)

// messageDeliverer hands inbound messages to local receive links.
type messageDeliverer struct {
	registry *Registry
	logger   Logger
}

// DeliverMessage delivers msg to its local recipients.
//
// A multicast target is fanned out to every current member under one
// registry read lock; a group without local members is not an error. A
// unicast target that is not registered fails with link.ErrMisdelivered.
// Client exceptions are recorded on the message and not returned.
func (d *messageDeliverer) DeliverMessage(ctx context.Context, msg *message.Message) error {
	target := msg.Target()
	if _, ok := msg.Attributes().Get(message.AttrReceiveTime); !ok {
		msg.Attributes().Set(message.AttrReceiveTime, time.Now().UTC())
	}

	var errs error
	deliver := func(rl ReceiveLink) {
		if err := rl.DeliverMessage(ctx, msg); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if target.IsMulticast() {
		n := d.registry.forEachMember(target, deliver)
		d.logger.Debug("Delivered multicast message", "id", msg.ID(), "group", target.String(), "members", n)
		return d.filter(msg, errs)
	}

	if !d.registry.withClient(target, deliver) {
		d.logger.Error("Misdelivered message", "id", msg.ID(), "source", msg.Source().String(), "target", target.String())
		return link.NewError(localProtocolName, target, link.ErrMisdelivered, nil)
	}
	return d.filter(msg, errs)
}

// filter drops client exceptions, which are already recorded as message status.
func (d *messageDeliverer) filter(msg *message.Message, errs error) error {
	var out error
	for _, err := range multierr.Errors(errs) {
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			d.logger.Warn("Client exception", "id", msg.ID(), "target", msg.Target().String(), "error", clientErr.Err)
			continue
		}
		out = multierr.Append(out, err)
	}
	return out
}

// receiveLink delivers to one client.
type receiveLink struct {
	client   Client
	watchers *watchers
}

func (l *receiveLink) Address() message.Address { return l.client.Address() }

func (l *receiveLink) DeliverMessage(ctx context.Context, msg *message.Message) error {
	err := protect(func() error { return l.client.Receive(ctx, msg) })
	if err != nil {
		message.SetStatus(msg, message.StatusClientException)
		return &ClientError{Err: err}
	}
	message.SetStatus(msg, message.StatusDelivered)
	l.watchers.received(msg)
	return nil
}
