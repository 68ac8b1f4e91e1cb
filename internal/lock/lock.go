// Package lock provides the optional cross-replica dispatch lock the
// Scheduler uses when more than one scheduler replica points at the same
// Store: a Redis SET NX guards against two replicas firing the same due
// task at once, mirroring the teacher's Redis SET NX coordination in
// AlertOnceCacheRedis, adapted from a cache-dedup path to a scheduling
// mutex. Single-replica deployments use NoopLocker and pay no Redis cost.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker guards a cross-process critical section by key. TryLock reports
// whether the caller won the lock; losing is not an error, it means
// another holder already has it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// NoopLocker always grants the lock, used when no Redis is configured and
// exactly one scheduler replica is running.
type NoopLocker struct{}

// TryLock always succeeds.
func (NoopLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

// RedisLocker backs TryLock with a Redis SET NX, so only the first replica
// to observe a due task within the lock's ttl actually dispatches it.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker builds a RedisLocker over an already-connected client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock attempts to claim key for ttl via SET NX.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}
