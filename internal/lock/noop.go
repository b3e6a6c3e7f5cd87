package lock

import (
	"context"
	"time"
)

// NoOpLocker grants every lock immediately and never records ownership.
// It backs lock.backend=none, where a single admin process is the only
// writer of the identity database.
type NoOpLocker struct{}

// NewNoOpLocker creates a new no-op locker.
func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

// Acquire grants the lock with an empty owner token.
func (n *NoOpLocker) Acquire(ctx context.Context, _ string, _ time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return "", true, nil
}

// AcquireWithRetry grants the lock on the first attempt.
func (n *NoOpLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, _ int, _ time.Duration) (string, bool, error) {
	return n.Acquire(ctx, key, ttl)
}

// Release reports success for any token.
func (n *NoOpLocker) Release(ctx context.Context, _, _ string) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

// Extend reports success for any token.
func (n *NoOpLocker) Extend(ctx context.Context, _, _ string, _ time.Duration) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

// IsHeld is always false: nothing is recorded.
func (n *NoOpLocker) IsHeld(ctx context.Context, _ string) (bool, error) {
	return false, ctx.Err()
}

var _ Locker = (*NoOpLocker)(nil)
