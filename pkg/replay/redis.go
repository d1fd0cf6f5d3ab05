package replay

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "samlgate:replay:"

// RedisGuard is a Guard backed by Redis. SETNX with a TTL gives the atomic
// check-and-record in a single round trip, and Redis expires the records
// itself so no reaper is needed.
type RedisGuard struct {
	client *redis.Client
}

// NewRedisGuard creates a Redis-backed guard from a connection URL.
func NewRedisGuard(url string) (*RedisGuard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &RedisGuard{client: redis.NewClient(opts)}, nil
}

// NewRedisGuardFromClient wraps an existing client, mainly for tests.
func NewRedisGuardFromClient(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

// CheckAndRecord implements Guard.
func (g *RedisGuard) CheckAndRecord(ctx context.Context, messageID string) (bool, error) {
	recorded, err := g.client.SetNX(ctx, redisKeyPrefix+messageID, 1, TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record message ID: %w", err)
	}
	return !recorded, nil
}

// Close releases the underlying connection.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
