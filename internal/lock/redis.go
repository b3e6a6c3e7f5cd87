package lock

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tradernet-identity/internal/repository"
)

// RedisLocker implements Locker on top of a repository.DistributedLock.
// Keys are namespaced with a prefix so several deployments can share one
// Redis database.
type RedisLocker struct {
	distributedLock repository.DistributedLock
	prefix          string
	logger          zerolog.Logger
}

// NewRedisLocker creates a new RedisLocker wrapping a DistributedLock implementation.
func NewRedisLocker(dl repository.DistributedLock, prefix string, logger zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		distributedLock: dl,
		prefix:          prefix,
		logger:          logger.With().Str("component", "redis_locker").Logger(),
	}
}

func (l *RedisLocker) key(key string) string {
	return l.prefix + key
}

// Acquire attempts to acquire a lock.
// Returns the owner token, or false if the lock is held by another owner.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return l.distributedLock.Acquire(ctx, l.key(key), ttl)
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (l *RedisLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, bool, error) {
	token, acquired, err := l.distributedLock.AcquireWithRetry(ctx, l.key(key), ttl, maxRetries, retryDelay)
	if err == nil && !acquired {
		l.logger.Debug().Str("key", key).Int("retries", maxRetries).Msg("lock busy")
	}
	return token, acquired, err
}

// Release releases the lock owned by token.
func (l *RedisLocker) Release(ctx context.Context, key, token string) (bool, error) {
	released, err := l.distributedLock.Release(ctx, l.key(key), token)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("failed to release lock")
	} else if !released {
		l.logger.Warn().Str("key", key).Msg("lock expired before release")
	}
	return released, err
}

// Extend extends the TTL of the lock owned by token.
func (l *RedisLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return l.distributedLock.Extend(ctx, l.key(key), token, ttl)
}

// IsHeld checks if the lock is currently held.
func (l *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	return l.distributedLock.IsHeld(ctx, l.key(key))
}

// Ensure RedisLocker implements Locker
var _ Locker = (*RedisLocker)(nil)
