package message

import (
	"encoding/json"
	"maps"
	"strconv"
	"sync"
	"time"
)

// Attribute keys. Keys are lowercase alphanumeric so they survive as
// CloudEvents extension names.
const (
	// AttrDeliveryStatus holds a DeliveryStatus string.
	AttrDeliveryStatus = "deliverystatus"
	// AttrSendTime is the time the message entered the send queue.
	AttrSendTime = "sendtime"
	// AttrReceiveTime is the time the message reached the receiving node.
	AttrReceiveTime = "receivetime"
	// AttrPriority is the dispatch priority, higher first.
	AttrPriority = "priority"
	// AttrAttempts counts forwarding attempts made by the link sender.
	AttrAttempts = "attempts"
	// AttrProtocol names the link protocol that carried the message.
	AttrProtocol = "protocol"
	// AttrBytesOut is the encoded size sent by a network protocol.
	AttrBytesOut = "bytesout"
	// AttrBytesIn is the encoded size received by a network protocol.
	AttrBytesIn = "bytesin"
	// AttrStreaming marks a message sent over a streaming connection.
	AttrStreaming = "streaming"
	// AttrEncrypted marks a message whose payload was encrypted in transit.
	AttrEncrypted = "encrypted"
	// AttrSecure marks a message accepted by a security aspect.
	AttrSecure = "secure"
	// AttrIncarnation identifies the sending node's incarnation.
	AttrIncarnation = "incarnation"
)

// DeliveryStatus is the outcome recorded in AttrDeliveryStatus.
type DeliveryStatus string

// Delivery status vocabulary.
const (
	StatusDelivered        DeliveryStatus = "Delivered"
	StatusClientException  DeliveryStatus = "ClientException"
	StatusDroppedDuplicate DeliveryStatus = "DroppedDuplicate"
	StatusHeld             DeliveryStatus = "Held"
	StatusStoreAndForward  DeliveryStatus = "Store&Forward"
	StatusBestEffort       DeliveryStatus = "BestEffort"
	StatusOldIncarnation   DeliveryStatus = "OldIncarnation"
)

// Attributes is a mutable attribute set shared by reference between the
// pipeline stages handling one message. Safe for concurrent use.
type Attributes struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewAttributes returns an empty attribute set.
func NewAttributes() *Attributes {
	return &Attributes{m: make(map[string]any)}
}

// AttributesFrom returns an attribute set holding a copy of m.
func AttributesFrom(m map[string]any) *Attributes {
	a := NewAttributes()
	maps.Copy(a.m, m)
	return a
}

// Get returns the raw value for key.
func (a *Attributes) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.m[key]
	return v, ok
}

// Set stores value under key.
func (a *Attributes) Set(key string, value any) {
	a.mu.Lock()
	a.m[key] = value
	a.mu.Unlock()
}

// Delete removes key.
func (a *Attributes) Delete(key string) {
	a.mu.Lock()
	delete(a.m, key)
	a.mu.Unlock()
}

// Snapshot returns a copy of the current attributes.
func (a *Attributes) Snapshot() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.m)
}

// String returns the value for key if it is a string.
func (a *Attributes) String(key string) (string, bool) {
	v, ok := a.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns the value for key if it is a bool.
func (a *Attributes) Bool(key string) (bool, bool) {
	v, ok := a.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Int returns the value for key as an int. Numeric values decoded from JSON
// (float64, json.Number) and decimal strings are converted.
func (a *Attributes) Int(key string) (int, bool) {
	v, ok := a.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// Add increments the integer stored under key by delta and returns the result.
func (a *Attributes) Add(key string, delta int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var cur int
	switch n := a.m[key].(type) {
	case int:
		cur = n
	case float64:
		cur = int(n)
	}
	cur += delta
	a.m[key] = cur
	return cur
}

// Time returns the value for key as a time. RFC 3339 strings are parsed.
func (a *Attributes) Time(key string) (time.Time, bool) {
	v, ok := a.Get(key)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
