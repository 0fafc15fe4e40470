package cloudevents

import (
	"encoding/json"
	"errors"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/fxsml/gomts/message"
)

// Event attributes used on the wire.
const (
	// EventType is the CloudEvents type of every transported message.
	EventType = "io.gomts.message"
	// ContentType is the data content type of the opaque payload.
	ContentType = "application/octet-stream"

	extAttributes = "mtsattrs"
)

// ErrInvalidEvent is returned when an event cannot be decoded into a message.
var ErrInvalidEvent = errors.New("cloudevents: invalid message event")

// ToEvent converts a message into a CloudEvent.
// The source attribute carries the sender address, the subject carries the
// target address and the message attributes travel as one JSON extension.
func ToEvent(msg *message.Message) (*cloudevents.Event, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidEvent)
	}

	e := cloudevents.NewEvent()
	e.SetID(msg.ID())
	e.SetType(EventType)
	e.SetSource(msg.Source().String())
	e.SetSubject(msg.Target().String())
	if t := message.SendTime(msg); !t.IsZero() {
		e.SetTime(t)
	}

	attrs, err := json.Marshal(msg.Attributes().Snapshot())
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	e.SetExtension(extAttributes, string(attrs))

	if err := e.SetData(ContentType, msg.Payload()); err != nil {
		return nil, fmt.Errorf("set data: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return &e, nil
}

// FromEvent converts a CloudEvent produced by [ToEvent] back into a message
// with the original ID and attributes.
func FromEvent(e *cloudevents.Event) (*message.Message, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.Type() != EventType {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrInvalidEvent, e.Type())
	}
	if e.Subject() == "" {
		return nil, fmt.Errorf("%w: missing target", ErrInvalidEvent)
	}

	attrs := message.NewAttributes()
	if raw, ok := e.Extensions()[extAttributes]; ok {
		s, ok := raw.(string)
		if !ok {
			s = fmt.Sprint(raw)
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("%w: attributes: %v", ErrInvalidEvent, err)
		}
		attrs = message.AttributesFrom(m)
	}

	var payload []byte
	if b := e.Data(); len(b) > 0 {
		payload = append([]byte(nil), b...)
	}

	return message.NewWithID(
		e.ID(),
		message.ParseAddress(e.Source()),
		message.ParseAddress(e.Subject()),
		payload,
		attrs,
	), nil
}

// Marshal encodes a message as a structured-mode CloudEvents JSON document.
func Marshal(msg *message.Message) ([]byte, error) {
	e, err := ToEvent(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Unmarshal decodes a document produced by [Marshal].
func Unmarshal(data []byte) (*message.Message, error) {
	var e cloudevents.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return FromEvent(&e)
}
