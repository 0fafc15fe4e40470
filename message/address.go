package message

import "strings"

// multicastPrefix marks the string form of a multicast address.
const multicastPrefix = "multicast:"

type addressKind uint8

const (
	kindUnicast addressKind = iota
	kindMulticast
)

// Address identifies a message endpoint. A unicast address names one
// client; a multicast address names a group of local recipients.
//
// Address is comparable and safe to use as a map key.
type Address struct {
	name string
	kind addressKind
}

// LocalBroadcast is the multicast group every registered local client belongs to.
var LocalBroadcast = NewMulticastAddress("*")

// NewAddress returns the unicast address for name.
func NewAddress(name string) Address {
	return Address{name: name, kind: kindUnicast}
}

// NewMulticastAddress returns the multicast address for group.
func NewMulticastAddress(group string) Address {
	return Address{name: group, kind: kindMulticast}
}

// ParseAddress is the inverse of [Address.String] for every address that
// [Address.RoundTrips]. A unicast name starting with "multicast:" parses as a
// multicast address.
func ParseAddress(s string) Address {
	if group, ok := strings.CutPrefix(s, multicastPrefix); ok {
		return NewMulticastAddress(group)
	}
	return NewAddress(s)
}

// Name returns the client name or multicast group name.
func (a Address) Name() string { return a.name }

// IsMulticast reports whether a denotes a fan-out group.
func (a Address) IsMulticast() bool { return a.kind == kindMulticast }

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool { return a.name == "" }

// RoundTrips reports whether ParseAddress(a.String()) yields a again.
func (a Address) RoundTrips() bool {
	return a.kind == kindMulticast || !strings.HasPrefix(a.name, multicastPrefix)
}

func (a Address) String() string {
	if a.kind == kindMulticast {
		return multicastPrefix + a.name
	}
	return a.name
}
