package nameservice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/gomts/message"
)

func testDirectory(t *testing.T, d Directory) {
	t.Helper()
	ctx := context.Background()
	alice := message.NewAddress("alice")
	bob := message.NewAddress("bob")

	_, err := d.Lookup(ctx, alice, "http")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.Register(ctx, Entry{Address: alice, Protocol: "http", Endpoint: "http://n1"}))
	require.NoError(t, d.Register(ctx, Entry{Address: bob, Protocol: "http", Endpoint: "http://n1"}))
	require.NoError(t, d.Register(ctx, Entry{Address: alice, Protocol: "nats", Endpoint: "mts.node.n1"}))

	got, err := d.Lookup(ctx, alice, "http")
	require.NoError(t, err)
	assert.Equal(t, "http://n1", got)

	got, err = d.Lookup(ctx, alice, "nats")
	require.NoError(t, err)
	assert.Equal(t, "mts.node.n1", got)

	require.NoError(t, d.Register(ctx, Entry{Address: bob, Protocol: "http", Endpoint: "http://n2"}))
	got, err = d.Lookup(ctx, bob, "http")
	require.NoError(t, err)
	assert.Equal(t, "http://n2", got, "register replaces")

	endpoints, err := d.Endpoints(ctx, "http")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://n1", "http://n2"}, endpoints)

	require.NoError(t, d.Unregister(ctx, alice, "http"))
	require.NoError(t, d.Unregister(ctx, alice, "http"))
	_, err = d.Lookup(ctx, alice, "http")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Lookup(ctx, alice, "nats")
	assert.NoError(t, err, "other protocols keep their bindings")

	endpoints, err = d.Endpoints(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, endpoints)
}

func TestMemory(t *testing.T) {
	testDirectory(t, NewMemory())
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, RedisConfig{}), mr
}

func TestRedis(t *testing.T) {
	d, mr := newRedis(t)
	testDirectory(t, d)
	assert.True(t, mr.Exists("mts:directory:nats"))
}

func TestRedis_SharedBetweenNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	c1 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c1.Close(); _ = c2.Close() })

	ctx := context.Background()
	n1 := NewRedis(c1, RedisConfig{Prefix: "p"})
	n2 := NewRedis(c2, RedisConfig{Prefix: "p"})

	require.NoError(t, n1.Register(ctx, Entry{Address: message.NewAddress("alice"), Protocol: "http", Endpoint: "http://n1"}))
	got, err := n2.Lookup(ctx, message.NewAddress("alice"), "http")
	require.NoError(t, err)
	assert.Equal(t, "http://n1", got)
}

func TestRedis_Failure(t *testing.T) {
	d, mr := newRedis(t)
	mr.Close()

	_, err := d.Lookup(context.Background(), message.NewAddress("alice"), "http")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestCached(t *testing.T) {
	testDirectory(t, NewCached(NewMemory(), CacheConfig{}))
}

type countingDirectory struct {
	Directory
	lookups atomic.Int32
	gate    chan struct{}
}

func (d *countingDirectory) Lookup(ctx context.Context, addr message.Address, protocol string) (string, error) {
	d.lookups.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	return d.Directory.Lookup(ctx, addr, protocol)
}

func TestCached_HitsAndInvalidation(t *testing.T) {
	ctx := context.Background()
	alice := message.NewAddress("alice")
	next := &countingDirectory{Directory: NewMemory()}
	c := NewCached(next, CacheConfig{})

	_, err := c.Lookup(ctx, alice, "http")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Lookup(ctx, alice, "http")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(2), next.lookups.Load(), "misses are not cached")

	require.NoError(t, c.Register(ctx, Entry{Address: alice, Protocol: "http", Endpoint: "http://n1"}))
	for i := 0; i < 3; i++ {
		got, err := c.Lookup(ctx, alice, "http")
		require.NoError(t, err)
		assert.Equal(t, "http://n1", got)
	}
	assert.Equal(t, int32(3), next.lookups.Load())

	require.NoError(t, c.Register(ctx, Entry{Address: alice, Protocol: "http", Endpoint: "http://n2"}))
	got, err := c.Lookup(ctx, alice, "http")
	require.NoError(t, err)
	assert.Equal(t, "http://n2", got)

	require.NoError(t, c.Unregister(ctx, alice, "http"))
	_, err = c.Lookup(ctx, alice, "http")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCached_Expires(t *testing.T) {
	ctx := context.Background()
	alice := message.NewAddress("alice")
	next := &countingDirectory{Directory: NewMemory()}
	require.NoError(t, next.Register(ctx, Entry{Address: alice, Protocol: "http", Endpoint: "http://n1"}))
	c := NewCached(next, CacheConfig{TTL: 20 * time.Millisecond})

	_, err := c.Lookup(ctx, alice, "http")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = c.Lookup(ctx, alice, "http")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.lookups.Load())
}

func TestCached_CollapsesConcurrentLookups(t *testing.T) {
	ctx := context.Background()
	alice := message.NewAddress("alice")
	next := &countingDirectory{Directory: NewMemory(), gate: make(chan struct{})}
	require.NoError(t, next.Register(ctx, Entry{Address: alice, Protocol: "http", Endpoint: "http://n1"}))
	c := NewCached(next, CacheConfig{})

	var wg sync.WaitGroup
	results := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Lookup(ctx, alice, "http")
			if err == nil {
				results <- got
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(next.gate)
	wg.Wait()
	close(results)

	n := 0
	for got := range results {
		assert.Equal(t, "http://n1", got)
		n++
	}
	assert.Equal(t, 10, n)
	assert.Equal(t, int32(1), next.lookups.Load())
}
