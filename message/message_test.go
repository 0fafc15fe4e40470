package message_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/gomts/message"
)

func TestAddress_RoundTrip(t *testing.T) {
	t.Parallel()

	uni := message.NewAddress("alice")
	multi := message.NewMulticastAddress("ops")

	assert.False(t, uni.IsMulticast())
	assert.True(t, multi.IsMulticast())
	assert.Equal(t, "alice", uni.String())
	assert.Equal(t, "multicast:ops", multi.String())

	assert.Equal(t, uni, message.ParseAddress(uni.String()))
	assert.Equal(t, multi, message.ParseAddress(multi.String()))
	assert.NotEqual(t, message.NewAddress("ops"), multi)
	assert.True(t, message.Address{}.IsZero())
	assert.True(t, uni.RoundTrips())
	assert.True(t, multi.RoundTrips())

	odd := message.NewAddress("multicast:ops")
	assert.False(t, odd.RoundTrips())
	assert.Equal(t, multi, message.ParseAddress(odd.String()))
}

func TestMessage_New(t *testing.T) {
	t.Parallel()

	src, dst := message.NewAddress("a"), message.NewAddress("b")
	m1 := message.New(src, dst, []byte("x"))
	m2 := message.New(src, dst, []byte("x"))

	assert.NotEmpty(t, m1.ID())
	assert.NotEqual(t, m1.ID(), m2.ID())
	assert.Equal(t, src, m1.Source())
	assert.Equal(t, dst, m1.Target())
	assert.Equal(t, []byte("x"), m1.Payload())
	require.NotNil(t, m1.Attributes())
}

func TestAttributes_SharedByReference(t *testing.T) {
	t.Parallel()

	msg := message.New(message.NewAddress("a"), message.NewAddress("b"), nil)
	attrs := msg.Attributes()
	attrs.Set(message.AttrBytesOut, 42)

	n, ok := msg.Attributes().Int(message.AttrBytesOut)
	require.True(t, ok)
	assert.Equal(t, 42, n)

	message.SetStatus(msg, message.StatusDelivered)
	assert.Equal(t, message.StatusDelivered, message.Status(msg))
}

func TestAttributes_Conversions(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	attrs := message.AttributesFrom(map[string]any{
		"f": float64(7),
		"s": "12",
		"t": now.Format(time.RFC3339Nano),
		"b": true,
	})

	f, ok := attrs.Int("f")
	assert.True(t, ok)
	assert.Equal(t, 7, f)

	s, ok := attrs.Int("s")
	assert.True(t, ok)
	assert.Equal(t, 12, s)

	parsed, ok := attrs.Time("t")
	assert.True(t, ok)
	assert.True(t, now.Equal(parsed))

	b, ok := attrs.Bool("b")
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = attrs.Int("missing")
	assert.False(t, ok)
}

func TestAttributes_ConcurrentAdd(t *testing.T) {
	t.Parallel()

	attrs := message.NewAttributes()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attrs.Add(message.AttrAttempts, 1)
		}()
	}
	wg.Wait()

	n, _ := attrs.Int(message.AttrAttempts)
	assert.Equal(t, 50, n)
}

func TestByPriority(t *testing.T) {
	t.Parallel()

	src, dst := message.NewAddress("a"), message.NewAddress("b")
	base := time.Now()

	low := message.New(src, dst, nil)
	low.Attributes().Set(message.AttrSendTime, base)

	high := message.New(src, dst, nil)
	message.SetPriority(high, 2)
	high.Attributes().Set(message.AttrSendTime, base.Add(time.Second))

	early := message.New(src, dst, nil)
	message.SetPriority(early, 2)
	early.Attributes().Set(message.AttrSendTime, base)

	assert.True(t, message.ByPriority(high, low), "higher priority first")
	assert.False(t, message.ByPriority(low, high))
	assert.True(t, message.ByPriority(early, high), "earlier send time wins ties")
	assert.False(t, message.ByPriority(high, early))
}
