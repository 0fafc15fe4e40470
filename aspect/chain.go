package aspect

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrUnknownAspect is returned when resolving a name that was never registered.
	ErrUnknownAspect = errors.New("aspect: unknown aspect")

	// ErrDuplicateAspect is returned when registering a name twice.
	ErrDuplicateAspect = errors.New("aspect: duplicate aspect")
)

// Chain is an ordered list of aspects. Order is significant.
type Chain []*Aspect

// Names returns the aspect names in registration order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, a := range c {
		names[i] = a.Name()
	}
	return names
}

// Weave applies chain to base for capability key and returns the final object.
//
// Aspects are visited in registration order. An aspect that rejects transport
// for this capability is skipped; otherwise its delegate wraps the current
// object. If no aspect wraps, base is returned unchanged.
func Weave[T any](chain Chain, key Key[T], transport string, base T) T {
	current := base
	for _, a := range chain {
		if a == nil || a.Rejects(transport, key.name) {
			continue
		}
		if wrapped, ok := Delegate(a, key, current); ok {
			current = wrapped
		}
	}
	return current
}

// Factory builds an aspect instance.
type Factory func() (*Aspect, error)

// Registry maps aspect names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named factory.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("aspect: invalid registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAspect, name)
	}
	r.factories[name] = f
	return nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve builds a chain from names, in the given order.
func (r *Registry) Resolve(names ...string) (Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := make(Chain, 0, len(names))
	for _, name := range names {
		f, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAspect, name)
		}
		a, err := f()
		if err != nil {
			return nil, fmt.Errorf("aspect %s: %w", name, err)
		}
		chain = append(chain, a)
	}
	return chain, nil
}
