package aspect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type describer interface {
	Describe() string
}

type base string

func (b base) Describe() string { return string(b) }

type wrapper struct {
	name  string
	inner describer
}

func (w wrapper) Describe() string { return w.name + "(" + w.inner.Describe() + ")" }

var describerKey = NewKey[describer]("Describer")

func wrapping(name string) *Aspect {
	return Provide(New(name), describerKey, func(d describer) (describer, bool) {
		return wrapper{name: name, inner: d}, true
	})
}

func TestWeave_CascadesInRegistrationOrder(t *testing.T) {
	chain := Chain{wrapping("A"), wrapping("B")}

	got := Weave[describer](chain, describerKey, "", base("X"))
	assert.Equal(t, "B(A(X))", got.Describe())

	again := Weave[describer](chain, describerKey, "", base("X"))
	assert.Equal(t, got, again)
}

func TestWeave_NoDelegateReturnsBase(t *testing.T) {
	other := NewKey[describer]("Other")
	chain := Chain{wrapping("A")}

	got := Weave[describer](chain, other, "", base("X"))
	assert.Equal(t, base("X"), got)

	decline := Provide(New("decline"), describerKey, func(d describer) (describer, bool) {
		return nil, false
	})
	got = Weave[describer](Chain{decline}, describerKey, "", base("X"))
	assert.Equal(t, base("X"), got)
}

func TestWeave_SkipsRejectedTransport(t *testing.T) {
	a := RejectTransports(wrapping("A"), func(transport, capability string) bool {
		return transport == "loopback" && capability == "Describer"
	})
	chain := Chain{a, wrapping("B")}

	assert.Equal(t, "B(X)", Weave[describer](chain, describerKey, "loopback", base("X")).Describe())
	assert.Equal(t, "B(A(X))", Weave[describer](chain, describerKey, "http", base("X")).Describe())
	assert.Equal(t, "B(A(X))", Weave[describer](chain, describerKey, "", base("X")).Describe())
}

func TestDelegate_KeyTypeMismatch(t *testing.T) {
	a := wrapping("A")
	sameName := NewKey[string]("Describer")

	got, ok := Delegate(a, sameName, "x")
	assert.False(t, ok)
	assert.Equal(t, "x", got)
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b", func() (*Aspect, error) { return wrapping("B"), nil }))
	require.NoError(t, r.Register("a", func() (*Aspect, error) { return wrapping("A"), nil }))

	assert.ErrorIs(t, r.Register("a", func() (*Aspect, error) { return nil, nil }), ErrDuplicateAspect)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	chain, err := r.Resolve("b", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, chain.Names())
	assert.Equal(t, "A(B(X))", Weave[describer](chain, describerKey, "", base("X")).Describe())

	_, err = r.Resolve("a", "missing")
	assert.ErrorIs(t, err, ErrUnknownAspect)
}

func TestRegistry_FactoryError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	require.NoError(t, r.Register("bad", func() (*Aspect, error) { return nil, boom }))

	_, err := r.Resolve("bad")
	assert.ErrorIs(t, err, boom)
}
