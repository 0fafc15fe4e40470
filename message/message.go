package message

import (
	"time"

	"github.com/google/uuid"
)

// Message is the unit of transport. Source, target, and payload are fixed at
// construction; attributes are shared by reference so every pipeline stage
// observes mutations made upstream.
type Message struct {
	id      string
	source  Address
	target  Address
	payload []byte
	attrs   *Attributes
}

// New creates a message with a fresh ID and an empty attribute set.
func New(source, target Address, payload []byte) *Message {
	return NewWithID(uuid.NewString(), source, target, payload, nil)
}

// NewWithID creates a message with an explicit ID. Used by codecs rebuilding
// a message received from the network. A nil attrs gets an empty set.
func NewWithID(id string, source, target Address, payload []byte, attrs *Attributes) *Message {
	if attrs == nil {
		attrs = NewAttributes()
	}
	return &Message{
		id:      id,
		source:  source,
		target:  target,
		payload: payload,
		attrs:   attrs,
	}
}

// ID returns the message identifier.
func (m *Message) ID() string { return m.id }

// Source returns the sending client's address.
func (m *Message) Source() Address { return m.source }

// Target returns the destination address, possibly multicast.
func (m *Message) Target() Address { return m.target }

// Payload returns the opaque payload. Callers must not modify it.
func (m *Message) Payload() []byte { return m.payload }

// Attributes returns the shared attribute set.
func (m *Message) Attributes() *Attributes { return m.attrs }

func (m *Message) String() string {
	return m.source.String() + "->" + m.target.String() + " [" + m.id + "]"
}

// Priority returns the message priority. Unset means 0.
func Priority(m *Message) int {
	p, _ := m.attrs.Int(AttrPriority)
	return p
}

// SetPriority sets the dispatch priority used by priority-ordered queues.
func SetPriority(m *Message, p int) {
	m.attrs.Set(AttrPriority, p)
}

// SendTime returns the time the message entered the send pipeline.
func SendTime(m *Message) time.Time {
	t, _ := m.attrs.Time(AttrSendTime)
	return t
}

// Status returns the last recorded delivery status.
func Status(m *Message) DeliveryStatus {
	s, _ := m.attrs.String(AttrDeliveryStatus)
	return DeliveryStatus(s)
}

// SetStatus records a delivery status.
func SetStatus(m *Message, s DeliveryStatus) {
	m.attrs.Set(AttrDeliveryStatus, string(s))
}

// ByPriority orders higher priority first and, on ties, earlier send time first.
func ByPriority(a, b *Message) bool {
	pa, pb := Priority(a), Priority(b)
	if pa != pb {
		return pa > pb
	}
	return SendTime(a).Before(SendTime(b))
}
