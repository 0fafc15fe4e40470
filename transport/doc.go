// Package transport implements the message transport service of a node.
//
// # Send pipeline
//
// [Service.SendMessage] enqueues a message on the send queue and returns.
// One worker drains the send queue in FIFO order and hands every message to
// the router, which obtains the destination queue of the target address from
// a find-or-make cache. The first message to a destination creates its queue
// and a dedicated link sender, so every destination has exactly one queue and
// one consumer.
//
// A link sender asks every loaded [link.Protocol] whether it knows the
// destination, collects one cost estimate per known protocol and lets the
// selection policy choose. Failures are classified with [link.Classify]:
//
//   - communication and name lookup failures are retried with backoff while
//     the link's retry hook agrees and Config.MaxAttempts is not reached
//   - unregistered names move on to the next candidate protocol
//   - misdelivery, security failures, panics and unknown errors drop the message
//
// A message without any viable link is dropped, or held and retried when
// Config.Unreachable is UnreachableHold.
//
// # Receive pipeline
//
// Protocols deliver inbound messages to [Service.Deliverer]. Multicast
// targets are fanned out to every local member of the group under one
// registry read lock; a unicast target that is not registered is reported
// as [link.ErrMisdelivered].
//
// # Aspects
//
// Every component is built once and woven with the configured
// [aspect.Chain] under its capability key: [SendQueueKey], [RouterKey],
// [DestinationQueueKey], [DestinationLinkKey], [MessageDelivererKey] and
// [ReceiveLinkKey]. Destination links are woven per protocol, so aspects may
// reject individual transports.
//
// # Outcomes
//
// Every accepted message is either forwarded or dropped exactly once.
// Watchers observe both; [Service.FlushMessages] waits until nothing is in
// flight and returns the messages dropped since the previous flush.
//
// Queues are unbounded unless a capacity is configured.
package transport
