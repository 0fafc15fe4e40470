package transport

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fxsml/gomts/message"
)

// Registry maps local client addresses to receive links and multicast
// groups to their local members. It is the single source of truth for
// which clients are local.
//
// Delivery holds the read lock for the whole fan-out of one message, so a
// registration change never interleaves with it. A slow receiver therefore
// delays registration and unregistration until its delivery returns, and a
// client must not register or unregister from within Receive.
//
// Membership queries read a copy-on-write view and never take the lock, so
// clients may send from within Receive.
type Registry struct {
	mu      sync.RWMutex
	clients map[message.Address]ReceiveLink
	groups  map[message.Address]map[message.Address]struct{}

	view atomic.Pointer[registryView]
}

// registryView is an immutable snapshot. Address slices are sorted by name.
type registryView struct {
	clients map[message.Address]struct{}
	sorted  []message.Address
	groups  map[message.Address][]message.Address
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		clients: make(map[message.Address]ReceiveLink),
		groups:  make(map[message.Address]map[message.Address]struct{}),
	}
	r.publish()
	return r
}

// publish must be called with mu held for writing.
func (r *Registry) publish() {
	v := &registryView{
		clients: make(map[message.Address]struct{}, len(r.clients)),
		sorted:  make([]message.Address, 0, len(r.clients)),
		groups:  make(map[message.Address][]message.Address, len(r.groups)),
	}
	for addr := range r.clients {
		v.clients[addr] = struct{}{}
		v.sorted = append(v.sorted, addr)
	}
	slices.SortFunc(v.sorted, byName)
	for group, members := range r.groups {
		list := make([]message.Address, 0, len(members))
		for member := range members {
			list = append(list, member)
		}
		slices.SortFunc(list, byName)
		v.groups[group] = list
	}
	r.view.Store(v)
}

// findOrRegister returns the receive link registered for addr, creating it
// with build on a miss. The second result reports whether a link was created.
func (r *Registry) findOrRegister(addr message.Address, build func() ReceiveLink) (ReceiveLink, bool) {
	r.mu.RLock()
	rl, ok := r.clients[addr]
	r.mu.RUnlock()
	if ok {
		return rl, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rl, ok := r.clients[addr]; ok {
		return rl, false
	}
	rl = build()
	r.clients[addr] = rl
	r.publish()
	return rl, true
}

// unregister removes addr and its group memberships.
func (r *Registry) unregister(addr message.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[addr]; !ok {
		return false
	}
	delete(r.clients, addr)
	for group, members := range r.groups {
		delete(members, addr)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	r.publish()
	return true
}

func (r *Registry) join(group, member message.Address) error {
	if !group.IsMulticast() || group == message.LocalBroadcast {
		return ErrInvalidGroup
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[member]; !ok {
		return ErrUnknownClient
	}
	members, ok := r.groups[group]
	if !ok {
		members = make(map[message.Address]struct{})
		r.groups[group] = members
	}
	members[member] = struct{}{}
	r.publish()
	return nil
}

func (r *Registry) leave(group, member message.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, member)
	if len(members) == 0 {
		delete(r.groups, group)
	}
	r.publish()
}

// IsLocal reports whether addr is a registered local client.
func (r *Registry) IsLocal(addr message.Address) bool {
	_, ok := r.view.Load().clients[addr]
	return ok
}

// HasMembers reports whether the multicast group has local members.
// LocalBroadcast has members while any client is registered.
func (r *Registry) HasMembers(group message.Address) bool {
	v := r.view.Load()
	if group == message.LocalBroadcast {
		return len(v.clients) > 0
	}
	return len(v.groups[group]) > 0
}

// Addresses returns the registered client addresses, sorted by name.
func (r *Registry) Addresses() []message.Address {
	return slices.Clone(r.view.Load().sorted)
}

// Members returns the local members of group, sorted by name.
// LocalBroadcast yields every registered client.
func (r *Registry) Members(group message.Address) []message.Address {
	v := r.view.Load()
	if group == message.LocalBroadcast {
		return slices.Clone(v.sorted)
	}
	return slices.Clone(v.groups[group])
}

// withClient calls fn with the receive link of addr under the read lock.
// It reports false if addr is not registered.
func (r *Registry) withClient(addr message.Address, fn func(ReceiveLink)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rl, ok := r.clients[addr]
	if !ok {
		return false
	}
	fn(rl)
	return true
}

// forEachMember calls fn for every local member of group under one read
// lock acquisition. It returns the number of members visited.
func (r *Registry) forEachMember(group message.Address, fn func(ReceiveLink)) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if group == message.LocalBroadcast {
		for _, rl := range r.clients {
			fn(rl)
		}
		return len(r.clients)
	}
	n := 0
	for member := range r.groups[group] {
		if rl, ok := r.clients[member]; ok {
			fn(rl)
			n++
		}
	}
	return n
}

func byName(a, b message.Address) int {
	return strings.Compare(a.Name(), b.Name())
}
