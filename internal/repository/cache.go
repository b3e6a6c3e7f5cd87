package repository

import (
	"context"
	"time"
)

// =============================================================================
// Cache Interface
// =============================================================================

// Cache defines the interface for caching operations.
// Implemented in memory for single-node deployments and on Redis for
// distributed ones.
type Cache interface {
	// Get retrieves a value by key.
	// Returns ErrCacheMiss if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an optional TTL.
	// If ttl is 0, the value doesn't expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// DeleteMulti removes multiple values.
	DeleteMulti(ctx context.Context, keys ...string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Distributed Lock Interface (Redis)
// =============================================================================

// DistributedLock defines the interface for distributed locking.
// Used to coordinate aggregate writes across multiple instances. Each
// acquisition is identified by an owner token that Release and Extend check.
type DistributedLock interface {
	// Acquire attempts to acquire a lock.
	// On success it returns the owner token and true; false if the lock is
	// held by another owner. The lock will automatically expire after ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (token string, acquired bool, err error)

	// Release releases the lock if token still owns it.
	// Returns false if the lock is gone or owned by another token.
	Release(ctx context.Context, key, token string) (bool, error)

	// Extend extends the TTL of the lock if token still owns it.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held by anyone.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Common Cache Keys
// =============================================================================

// CacheKeys generates cache keys for common scenarios.
var CacheKeys = cacheKeys{}

type cacheKeys struct{}

// RoleByName returns a cache key for a role looked up by name.
func (cacheKeys) RoleByName(name string) string {
	return "role:name:" + name
}

// RoleList returns the cache key for the full role list.
func (cacheKeys) RoleList() string {
	return "role:list"
}
