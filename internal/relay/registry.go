package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrClaimed means the identifier is already held by another peer.
var ErrClaimed = errors.New("relay: identifier already claimed")

// Registry arbitrates exclusive ownership of listening identifiers.
// A single-instance relay uses the in-memory registry; a multi-instance
// deployment shares a Redis registry so hosts on different instances
// cannot claim the same room identifier.
type Registry interface {
	Claim(ctx context.Context, id string) error
	Refresh(ctx context.Context, id string) error
	Release(ctx context.Context, id string)
}

// MemoryRegistry tracks claims in process memory.
type MemoryRegistry struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ids: make(map[string]struct{})}
}

func (r *MemoryRegistry) Claim(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.ids[id]; taken {
		return fmt.Errorf("claim %q: %w", id, ErrClaimed)
	}
	r.ids[id] = struct{}{}
	return nil
}

func (r *MemoryRegistry) Refresh(_ context.Context, _ string) error { return nil }

func (r *MemoryRegistry) Release(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
}

// claimTTL bounds how long a crashed relay instance can hold an
// identifier hostage. Live claims are refreshed well inside this.
const claimTTL = 60 * time.Second

// RedisRegistry arbitrates claims through Redis SETNX with a TTL.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry connects to Redis and verifies the connection.
func NewRedisRegistry(ctx context.Context, redisURL string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisRegistry{client: client}, nil
}

func key(id string) string { return "relay:claim:" + id }

func (r *RedisRegistry) Claim(ctx context.Context, id string) error {
	ok, err := r.client.SetNX(ctx, key(id), "1", claimTTL).Result()
	if err != nil {
		return fmt.Errorf("claim %q: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("claim %q: %w", id, ErrClaimed)
	}
	return nil
}

func (r *RedisRegistry) Refresh(ctx context.Context, id string) error {
	return r.client.Expire(ctx, key(id), claimTTL).Err()
}

func (r *RedisRegistry) Release(ctx context.Context, id string) {
	r.client.Del(ctx, key(id))
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
