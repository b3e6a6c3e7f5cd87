package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker implements Locker using in-memory locks.
// This is suitable for single-node deployments where distributed locking is not needed.
// The locks are NOT shared across process restarts or multiple instances.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
	stop  chan struct{}
	once  sync.Once
}

// lockEntry is one acquisition; token identifies its owner.
type lockEntry struct {
	expiresAt time.Time
	token     string
}

// NewMemoryLocker creates a new in-memory locker.
// Call Close to stop the background cleanup.
func NewMemoryLocker() *MemoryLocker {
	ml := &MemoryLocker{
		locks: make(map[string]*lockEntry),
		stop:  make(chan struct{}),
	}

	go ml.cleanupLoop(30 * time.Second)

	return ml
}

// Close stops the background cleanup goroutine.
func (m *MemoryLocker) Close() {
	m.once.Do(func() { close(m.stop) })
}

// cleanupLoop periodically removes expired locks.
func (m *MemoryLocker) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup removes expired locks.
func (m *MemoryLocker) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, entry := range m.locks {
		if !now.Before(entry.expiresAt) {
			delete(m.locks, key)
		}
	}
}

// liveEntry returns the unexpired entry for key. Expired entries are dropped.
// Callers must hold m.mu.
func (m *MemoryLocker) liveEntry(key string, now time.Time) *lockEntry {
	entry, exists := m.locks[key]
	if !exists {
		return nil
	}
	if !now.Before(entry.expiresAt) {
		delete(m.locks, key)
		return nil
	}
	return entry
}

// Acquire attempts to acquire a lock.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if m.liveEntry(key, now) != nil {
		return "", false, nil
	}

	token := uuid.NewString()
	m.locks[key] = &lockEntry{
		expiresAt: now.Add(ttl),
		token:     token,
	}

	return token, true, nil
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, bool, error) {
	return acquireWithRetry(ctx, m, key, ttl, maxRetries, retryDelay)
}

// Release releases the lock if token still owns it.
func (m *MemoryLocker) Release(ctx context.Context, key, token string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.liveEntry(key, time.Now())
	if entry == nil || entry.token != token {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

// Extend extends the TTL of the lock if token still owns it.
func (m *MemoryLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry := m.liveEntry(key, now)
	if entry == nil || entry.token != token {
		return false, nil
	}
	entry.expiresAt = now.Add(ttl)
	return true, nil
}

// IsHeld checks if a lock is currently held.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.liveEntry(key, time.Now()) != nil, nil
}

// acquireWithRetry retries l.Acquire up to maxRetries times.
func acquireWithRetry(ctx context.Context, l Locker, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, bool, error) {
	for i := 0; i <= maxRetries; i++ {
		token, acquired, err := l.Acquire(ctx, key, ttl)
		if err != nil {
			return "", false, err
		}
		if acquired {
			return token, true, nil
		}

		// Don't sleep on the last attempt.
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return "", false, nil
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)
