// Package nameservice resolves client addresses to the network endpoints
// through which a link protocol reaches them.
package nameservice

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/fxsml/gomts/message"
)

// ErrNotFound is returned when no endpoint is registered for an address.
var ErrNotFound = errors.New("nameservice: not found")

// Entry binds a client address to the endpoint of the node hosting it.
type Entry struct {
	Address  message.Address
	Protocol string
	Endpoint string
}

// Directory is a name service shared by all nodes of a platform.
type Directory interface {
	// Register binds e.Address to e.Endpoint for e.Protocol, replacing any
	// previous binding.
	Register(ctx context.Context, e Entry) error
	// Unregister removes the binding. Removing a missing binding is not an error.
	Unregister(ctx context.Context, addr message.Address, protocol string) error
	// Lookup returns the endpoint bound to addr, or ErrNotFound.
	Lookup(ctx context.Context, addr message.Address, protocol string) (string, error)
	// Endpoints returns the distinct endpoints registered for protocol, sorted.
	Endpoints(ctx context.Context, protocol string) ([]string, error)
}

// Memory is an in-process Directory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[message.Address]string
}

// NewMemory creates an empty in-process directory.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]map[message.Address]string)}
}

func (m *Memory) Register(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byAddr, ok := m.entries[e.Protocol]
	if !ok {
		byAddr = make(map[message.Address]string)
		m.entries[e.Protocol] = byAddr
	}
	byAddr[e.Address] = e.Endpoint
	return nil
}

func (m *Memory) Unregister(_ context.Context, addr message.Address, protocol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[protocol], addr)
	return nil
}

func (m *Memory) Lookup(_ context.Context, addr message.Address, protocol string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	endpoint, ok := m.entries[protocol][addr]
	if !ok {
		return "", ErrNotFound
	}
	return endpoint, nil
}

func (m *Memory) Endpoints(_ context.Context, protocol string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	endpoints := make([]string, 0, len(m.entries[protocol]))
	for _, endpoint := range m.entries[protocol] {
		endpoints = append(endpoints, endpoint)
	}
	return distinct(endpoints), nil
}

func distinct(endpoints []string) []string {
	slices.Sort(endpoints)
	return slices.Compact(endpoints)
}

var (
	_ Directory = (*Memory)(nil)
	_ Directory = (*Redis)(nil)
	_ Directory = (*Cached)(nil)
)
