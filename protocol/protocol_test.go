package protocol

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/nameservice"
)

func TestEncodeDecode_CountsBytes(t *testing.T) {
	msg := message.New(message.NewAddress("alice"), message.NewAddress("bob"), []byte("payload"))
	data, err := Encode(msg)
	require.NoError(t, err)

	out, ok := msg.Attributes().Int(message.AttrBytesOut)
	require.True(t, ok)
	assert.Equal(t, len(data), out)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID(), got.ID())
	in, ok := got.Attributes().Int(message.AttrBytesIn)
	require.True(t, ok)
	assert.Equal(t, len(data), in)
	_, ok = got.Attributes().Get(message.AttrBytesOut)
	assert.False(t, ok)

	_, err = Decode([]byte("garbage"))
	assert.Equal(t, OutcomeInvalid, OutcomeOf(err))
}

func TestOutcome_RoundTrip(t *testing.T) {
	dest := message.NewAddress("bob")
	tests := []struct {
		err      error
		outcome  Outcome
		decision link.Decision
	}{
		{nil, OutcomeOK, link.Drop},
		{link.NewError("local", dest, link.ErrMisdelivered, nil), OutcomeMisdelivered, link.Drop},
		{link.NewError("guard", dest, link.ErrMessageSecurity, nil), OutcomeSecurity, link.Drop},
		{errors.New("boom"), OutcomeError, link.Drop},
	}
	for _, tt := range tests {
		o := OutcomeOf(tt.err)
		assert.Equal(t, tt.outcome, o)
		err := o.Err("http", dest, "detail")
		if tt.err == nil {
			assert.NoError(t, err)
			continue
		}
		assert.Equal(t, tt.decision, link.Classify(err), o)
	}

	err := OutcomeUnavailable.Err("http", dest, "")
	assert.ErrorIs(t, err, link.ErrCommFailure)
	assert.Equal(t, link.Retry, link.Classify(err))

	assert.ErrorIs(t, OutcomeError.Err("http", dest, "x"), ErrRemote)
}

type flakyDirectory struct {
	nameservice.Directory
	failures atomic.Int32
	calls    atomic.Int32
}

func (d *flakyDirectory) Lookup(ctx context.Context, addr message.Address, protocol string) (string, error) {
	d.calls.Add(1)
	if d.failures.Add(-1) >= 0 {
		return "", errors.New("directory unavailable")
	}
	return d.Directory.Lookup(ctx, addr, protocol)
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	bob := message.NewAddress("bob")
	mem := nameservice.NewMemory()
	require.NoError(t, mem.Register(ctx, nameservice.Entry{Address: bob, Protocol: "http", Endpoint: "http://n1"}))

	d := &flakyDirectory{Directory: mem}
	r := Resolver{Directory: d, Protocol: "http", Interval: time.Millisecond}

	d.failures.Store(2)
	got, err := r.Resolve(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "http://n1", got)
	assert.Equal(t, int32(3), d.calls.Load())

	d.calls.Store(0)
	d.failures.Store(10)
	_, err = r.Resolve(ctx, bob)
	assert.ErrorIs(t, err, link.ErrNameLookup)
	assert.Equal(t, link.Retry, link.Classify(err))
	assert.Equal(t, int32(3), d.calls.Load())

	d.calls.Store(0)
	d.failures.Store(0)
	_, err = r.Resolve(ctx, message.NewAddress("ghost"))
	assert.ErrorIs(t, err, link.ErrUnregisteredName)
	assert.Equal(t, int32(1), d.calls.Load(), "missing bindings are not retried")
}

func TestResolver_Known(t *testing.T) {
	ctx := context.Background()
	mem := nameservice.NewMemory()
	r := Resolver{Directory: mem, Protocol: "http"}
	group := message.NewMulticastAddress("ops")

	assert.False(t, r.Known(ctx, group))
	assert.False(t, r.Known(ctx, message.NewAddress("bob")))

	reg := NewRegistrations(mem, "http", "http://n1")
	require.NoError(t, reg.Add(ctx, NodeAddress("n1")))
	require.NoError(t, reg.Add(ctx, message.NewAddress("bob")))
	assert.True(t, r.Known(ctx, group))
	assert.True(t, r.Known(ctx, message.NewAddress("bob")))

	require.NoError(t, reg.Remove(ctx, message.NewAddress("bob")))
	assert.False(t, r.Known(ctx, message.NewAddress("bob")))

	require.NoError(t, reg.Add(ctx, message.NewAddress("carol")))
	require.NoError(t, reg.Clear(ctx))
	assert.False(t, r.Known(ctx, group))
	assert.False(t, r.Known(ctx, message.NewAddress("carol")))
}
