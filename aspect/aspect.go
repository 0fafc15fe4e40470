// Package aspect weaves cross-cutting behavior around pipeline components.
//
// Every pipeline component is published under a typed capability [Key]. An
// [Aspect] provides delegate functions for the capabilities it wants to wrap.
// [Weave] applies a [Chain] of aspects to a freshly built component in
// registration order, each aspect wrapping the result of the previous one:
// for a chain [A, B] the woven object is B(A(base)), so B runs outermost.
//
// Aspects may reject a transport for a capability, in which case they are
// skipped when weaving objects that belong to that transport.
//
// Aspects are resolved by name from a [Registry] of factory functions once
// at startup. There is no dynamic loading.
package aspect

// Key identifies a capability interface T.
// Keys are compared by name; two keys with the same name and different T
// never match each other's delegates.
type Key[T any] struct {
	name string
}

// NewKey creates a capability key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the capability name.
func (k Key[T]) Name() string { return k.name }

func (k Key[T]) String() string { return k.name }

// RejectFunc reports whether an aspect must be skipped for the given
// transport and capability.
type RejectFunc func(transport, capability string) bool

// Aspect is a named set of capability delegates.
// An Aspect is configured before it is added to a chain and must not be
// modified afterwards.
type Aspect struct {
	name      string
	delegates map[string]any
	reject    RejectFunc
}

// New creates an aspect without delegates.
func New(name string) *Aspect {
	return &Aspect{
		name:      name,
		delegates: make(map[string]any),
	}
}

// Name returns the aspect name.
func (a *Aspect) Name() string { return a.name }

// Provide registers the delegate for capability key. The delegate receives
// the current object and returns its wrapper; returning false leaves the
// object unwrapped. Provide returns a for chaining.
func Provide[T any](a *Aspect, key Key[T], fn func(T) (T, bool)) *Aspect {
	a.delegates[key.name] = fn
	return a
}

// RejectTransports sets the transport rejection predicate of a.
func RejectTransports(a *Aspect, fn RejectFunc) *Aspect {
	a.reject = fn
	return a
}

// Provides reports whether a has a delegate for the named capability.
func (a *Aspect) Provides(capability string) bool {
	_, ok := a.delegates[capability]
	return ok
}

// Rejects reports whether a must be skipped for transport and capability.
// An empty transport never rejects.
func (a *Aspect) Rejects(transport, capability string) bool {
	if transport == "" || a.reject == nil {
		return false
	}
	return a.reject(transport, capability)
}

// Delegate asks a for a wrapper of obj under key.
func Delegate[T any](a *Aspect, key Key[T], obj T) (T, bool) {
	raw, ok := a.delegates[key.name]
	if !ok {
		return obj, false
	}
	fn, ok := raw.(func(T) (T, bool))
	if !ok {
		return obj, false
	}
	return fn(obj)
}
