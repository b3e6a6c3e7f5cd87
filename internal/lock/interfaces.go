// Package lock provides distributed and local locking abstractions.
// For single-node deployments, memory-based locks are used.
// For distributed deployments, Redis-based locks can be used.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotAcquired indicates a lock could not be acquired within the retry budget.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker defines the interface for distributed/local locking.
// In-memory locks serve single-node deployments and Redis-based locks serve
// several instances sharing one database. Business logic sees only this
// interface.
//
// Every successful acquisition returns an owner token. Release and Extend
// act only when the token still owns the key, so a holder whose lock expired
// cannot release or extend a lock taken over by another writer.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// On success it returns the owner token and true. It returns false if the
	// lock is held by another owner. The lock expires after ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (token string, acquired bool, err error)

	// Release releases the lock owned by token.
	// Returns false if the lock expired or is owned by someone else.
	Release(ctx context.Context, key, token string) (bool, error)

	// Extend extends the TTL of the lock owned by token.
	// Returns false if the lock expired or is owned by someone else.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held by anyone.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Options controls how WithLock acquires its lock.
type Options struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultOptions are used by WithLock for zero-valued fields.
var DefaultOptions = Options{
	TTL:        30 * time.Second,
	MaxRetries: 100,
	RetryDelay: 50 * time.Millisecond,
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultOptions.TTL
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultOptions.RetryDelay
	}
	return o
}

// WithLock runs fn while holding key. The lock is released when fn returns,
// even if fn fails. It returns ErrNotAcquired if the lock stays busy.
func WithLock(ctx context.Context, l Locker, key string, opts Options, fn func(ctx context.Context) error) error {
	opts = opts.withDefaults()

	token, acquired, err := l.AcquireWithRetry(ctx, key, opts.TTL, opts.MaxRetries, opts.RetryDelay)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, _ = l.Release(releaseCtx, key, token)
	}()

	return fn(ctx)
}

// =============================================================================
// Common Lock Keys
// =============================================================================

// Keys provides lock key generation for common scenarios.
var Keys = lockKeys{}

type lockKeys struct{}

// User returns the write-scope lock key of a user aggregate.
func (lockKeys) User(id int64) string {
	return "lock:user:" + strconv.FormatInt(id, 10)
}

// Username returns the lock key guarding creation of a username.
func (lockKeys) Username(username string) string {
	return "lock:username:" + strings.ToLower(strings.TrimSpace(username))
}

// GroupHierarchy returns the lock key guarding group parent edits.
// The whole hierarchy shares one key.
func (lockKeys) GroupHierarchy() string {
	return "lock:group:hierarchy"
}

// Bootstrap returns the lock key for first-run bootstrapping.
func (lockKeys) Bootstrap() string {
	return "lock:bootstrap"
}
