package transport

import (
	"context"

	"github.com/fxsml/gomts/message"
)

// Client is a local message endpoint.
type Client interface {
	// Address returns the client's unicast address.
	Address() message.Address
	// Receive is called for every message delivered to the client.
	Receive(ctx context.Context, msg *message.Message) error
}

// ReceiveFunc handles a delivered message.
type ReceiveFunc func(ctx context.Context, msg *message.Message) error

// NewClient creates a Client for addr that calls fn on delivery.
func NewClient(addr message.Address, fn ReceiveFunc) Client {
	return &funcClient{addr: addr, fn: fn}
}

type funcClient struct {
	addr message.Address
	fn   ReceiveFunc
}

func (c *funcClient) Address() message.Address { return c.addr }

func (c *funcClient) Receive(ctx context.Context, msg *message.Message) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, msg)
}
