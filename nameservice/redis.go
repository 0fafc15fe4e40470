package nameservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fxsml/gomts/message"
)

// RedisConfig configures a Redis directory.
type RedisConfig struct {
	// Prefix of the hash keys, one hash per protocol. Default: "mts:directory".
	Prefix string
}

func (c RedisConfig) parse() RedisConfig {
	if c.Prefix == "" {
		c.Prefix = "mts:directory"
	}
	return c
}

// Redis is a Directory stored in Redis hashes keyed by protocol, so that
// every node of a platform sees the same bindings.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a directory on client. The caller owns the client.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	cfg = cfg.parse()
	return &Redis{client: client, prefix: cfg.Prefix}
}

func (r *Redis) key(protocol string) string {
	return r.prefix + ":" + protocol
}

func (r *Redis) Register(ctx context.Context, e Entry) error {
	if err := r.client.HSet(ctx, r.key(e.Protocol), e.Address.String(), e.Endpoint).Err(); err != nil {
		return fmt.Errorf("nameservice: register %s/%s: %w", e.Protocol, e.Address, err)
	}
	return nil
}

func (r *Redis) Unregister(ctx context.Context, addr message.Address, protocol string) error {
	if err := r.client.HDel(ctx, r.key(protocol), addr.String()).Err(); err != nil {
		return fmt.Errorf("nameservice: unregister %s/%s: %w", protocol, addr, err)
	}
	return nil
}

func (r *Redis) Lookup(ctx context.Context, addr message.Address, protocol string) (string, error) {
	endpoint, err := r.client.HGet(ctx, r.key(protocol), addr.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("nameservice: lookup %s/%s: %w", protocol, addr, err)
	}
	return endpoint, nil
}

func (r *Redis) Endpoints(ctx context.Context, protocol string) ([]string, error) {
	endpoints, err := r.client.HVals(ctx, r.key(protocol)).Result()
	if err != nil {
		return nil, fmt.Errorf("nameservice: endpoints %s: %w", protocol, err)
	}
	return distinct(endpoints), nil
}
