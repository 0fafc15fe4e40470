// Package message defines the data model carried by the message transport.
//
// This package is part of [gomts], the message-transport core of an agent
// platform. The gomts family includes:
//
//   - [message] (this package): Addresses, messages and shared attributes
//   - [transport]: Send, route, destination and receive pipeline
//   - [link]: Transport-agnostic links, costs and link selection
//   - [aspect]: Typed decorator chains over pipeline capabilities
//
// [gomts]: https://github.com/fxsml/gomts
// [message]: https://pkg.go.dev/github.com/fxsml/gomts/message
// [transport]: https://pkg.go.dev/github.com/fxsml/gomts/transport
// [link]: https://pkg.go.dev/github.com/fxsml/gomts/link
// [aspect]: https://pkg.go.dev/github.com/fxsml/gomts/aspect
//
// # Messages
//
// A [Message] has an immutable source, target and payload. Its [Attributes]
// are shared by reference: an aspect that records a byte count on the send
// side is visible to every later stage on the same node.
//
//	msg := message.New(message.NewAddress("alice"), message.NewAddress("bob"), []byte("hi"))
//	message.SetPriority(msg, 5)
//
// # Addresses
//
// [NewAddress] names a single client. [NewMulticastAddress] names a group of
// local recipients; [LocalBroadcast] matches every registered client.
package message
