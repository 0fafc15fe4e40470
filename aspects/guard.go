package aspects

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/transport"
)

// AttrSignature holds the message authentication code set by [Guard].
const AttrSignature = "signature"

// ErrNoGuardKey is returned when a guard is configured without a key.
var ErrNoGuardKey = errors.New("guard: key required")

// GuardConfig configures the message authentication aspect.
type GuardConfig struct {
	// Key is the shared HMAC-SHA256 key of all nodes.
	Key []byte
}

// Guard signs every forwarded message and rejects inbound messages whose
// signature is missing or wrong with [link.ErrMessageSecurity]. Accepted
// messages are marked with [message.AttrSecure].
//
// All nodes exchanging messages must share the key.
func Guard(cfg GuardConfig) (*aspect.Aspect, error) {
	if len(cfg.Key) == 0 {
		return nil, ErrNoGuardKey
	}
	key := append([]byte(nil), cfg.Key...)

	a := aspect.New(NameGuard)
	aspect.Provide(a, transport.DestinationLinkKey, func(l link.DestinationLink) (link.DestinationLink, bool) {
		return &signingLink{DestinationLink: l, key: key}, true
	})
	aspect.Provide(a, transport.MessageDelivererKey, func(d link.Deliverer) (link.Deliverer, bool) {
		return &verifyingDeliverer{next: d, key: key}, true
	})
	return a, nil
}

func sign(key []byte, msg *message.Message) string {
	mac := hmac.New(sha256.New, key)
	for _, part := range []string{msg.ID(), msg.Source().String(), msg.Target().String()} {
		mac.Write([]byte(part))
		mac.Write([]byte{0})
	}
	mac.Write(msg.Payload())
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type signingLink struct {
	link.DestinationLink
	key []byte
}

func (l *signingLink) ForwardMessage(ctx context.Context, msg *message.Message) error {
	msg.Attributes().Set(AttrSignature, sign(l.key, msg))
	return l.DestinationLink.ForwardMessage(ctx, msg)
}

type verifyingDeliverer struct {
	next link.Deliverer
	key  []byte
}

func (d *verifyingDeliverer) DeliverMessage(ctx context.Context, msg *message.Message) error {
	got, ok := msg.Attributes().String(AttrSignature)
	if !ok {
		return link.NewError(NameGuard, msg.Target(), link.ErrMessageSecurity, errors.New("unsigned message"))
	}
	if !hmac.Equal([]byte(got), []byte(sign(d.key, msg))) {
		return link.NewError(NameGuard, msg.Target(), link.ErrMessageSecurity,
			fmt.Errorf("bad signature from %s", msg.Source()))
	}
	msg.Attributes().Set(message.AttrSecure, true)
	return d.next.DeliverMessage(ctx, msg)
}
