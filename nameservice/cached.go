package nameservice

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/fxsml/gomts/message"
)

// CacheConfig configures a cached directory.
type CacheConfig struct {
	// Size is the maximum number of cached lookups. Default: 1024.
	Size int
	// TTL bounds the age of a cached lookup. Default: 30s.
	TTL time.Duration
}

func (c CacheConfig) parse() CacheConfig {
	if c.Size <= 0 {
		c.Size = 1024
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	return c
}

// Cached caches successful lookups of another Directory. Concurrent lookups
// of the same binding share one call. Failed lookups are not cached.
//
// Bindings changed through another node stay stale for up to TTL.
type Cached struct {
	next  Directory
	cache *expirable.LRU[string, string]
	group singleflight.Group
}

// NewCached wraps next with a lookup cache.
func NewCached(next Directory, cfg CacheConfig) *Cached {
	cfg = cfg.parse()
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, string](cfg.Size, nil, cfg.TTL),
	}
}

func cacheKey(addr message.Address, protocol string) string {
	return protocol + "|" + addr.String()
}

func (c *Cached) Register(ctx context.Context, e Entry) error {
	defer c.cache.Remove(cacheKey(e.Address, e.Protocol))
	return c.next.Register(ctx, e)
}

func (c *Cached) Unregister(ctx context.Context, addr message.Address, protocol string) error {
	defer c.cache.Remove(cacheKey(addr, protocol))
	return c.next.Unregister(ctx, addr, protocol)
}

func (c *Cached) Lookup(ctx context.Context, addr message.Address, protocol string) (string, error) {
	key := cacheKey(addr, protocol)
	if endpoint, ok := c.cache.Get(key); ok {
		return endpoint, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		endpoint, err := c.next.Lookup(ctx, addr, protocol)
		if err != nil {
			return "", err
		}
		c.cache.Add(key, endpoint)
		return endpoint, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cached) Endpoints(ctx context.Context, protocol string) ([]string, error) {
	return c.next.Endpoints(ctx, protocol)
}

// Purge drops all cached lookups.
func (c *Cached) Purge() { c.cache.Purge() }
