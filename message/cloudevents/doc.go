// Package cloudevents encodes transport messages as CloudEvents.
//
// Network link protocols use [Marshal] and [Unmarshal] for the wire format:
// a structured-mode JSON event whose source is the sender address, whose
// subject is the target address, and whose data is the opaque payload.
// Message attributes travel in a single JSON extension so receiving aspects
// see the attributes recorded by the sender.
//
// [ToEvent] and [FromEvent] expose the event form for protocol bindings that
// speak CloudEvents natively, such as the HTTP binding.
package cloudevents
