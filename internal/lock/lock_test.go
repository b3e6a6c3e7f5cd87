package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Close()

	token, ok, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	held, err := l.IsHeld(ctx, "k")
	require.NoError(t, err)
	require.True(t, held)

	released, err := l.Release(ctx, "k", "someone-else")
	require.NoError(t, err)
	require.False(t, released)

	released, err = l.Release(ctx, "k", token)
	require.NoError(t, err)
	require.True(t, released)

	released, err = l.Release(ctx, "k", token)
	require.NoError(t, err)
	require.False(t, released)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Close()

	first, ok, err := l.Acquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	extended, err := l.Extend(ctx, "k", first, time.Minute)
	require.NoError(t, err)
	require.False(t, extended)

	second, ok, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	extended, err = l.Extend(ctx, "k", first, time.Minute)
	require.NoError(t, err)
	require.False(t, extended)

	extended, err = l.Extend(ctx, "k", second, time.Minute)
	require.NoError(t, err)
	require.True(t, extended)
}

func TestMemoryLocker_StaleRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Close()

	stale, ok, err := l.Acquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	current, ok, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := l.Release(ctx, "k", stale)
	require.NoError(t, err)
	require.False(t, released)

	held, err := l.IsHeld(ctx, "k")
	require.NoError(t, err)
	require.True(t, held)

	_, ok, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "a third writer must not get in while the current holder is active")

	released, err = l.Release(ctx, "k", current)
	require.NoError(t, err)
	require.True(t, released)
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	l := NewMemoryLocker()
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := l.Acquire(ctx, "k", time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWithLock_SerializesWriters(t *testing.T) {
	l := NewMemoryLocker()
	defer l.Close()

	var inside, maxInside int32
	var wg sync.WaitGroup
	opts := Options{TTL: time.Second, MaxRetries: 1000, RetryDelay: time.Millisecond}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(context.Background(), l, Keys.User(1), opts, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInside)
	held, err := l.IsHeld(context.Background(), Keys.User(1))
	require.NoError(t, err)
	require.False(t, held)
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	l := NewMemoryLocker()
	defer l.Close()
	boom := errors.New("boom")

	err := WithLock(context.Background(), l, "k", Options{}, func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	held, err := l.IsHeld(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, held)
}

func TestWithLock_ExpiredHolderKeepsSuccessorLock(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Close()

	var successor string
	err := WithLock(ctx, l, "k", Options{TTL: 10 * time.Millisecond}, func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		token, ok, err := l.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		successor = token
		return nil
	})
	require.NoError(t, err)

	held, err := l.IsHeld(ctx, "k")
	require.NoError(t, err)
	require.True(t, held)

	released, err := l.Release(ctx, "k", successor)
	require.NoError(t, err)
	require.True(t, released)
}

func TestWithLock_Busy(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	defer l.Close()

	_, ok, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	err = WithLock(ctx, l, "k", Options{MaxRetries: 1, RetryDelay: time.Millisecond}, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrNotAcquired)
	require.False(t, called)
}

func TestNoOpLocker(t *testing.T) {
	ran := false
	err := WithLock(context.Background(), NewNoOpLocker(), "k", Options{}, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestKeys(t *testing.T) {
	require.Equal(t, "lock:user:42", Keys.User(42))
	require.Equal(t, "lock:username:alice", Keys.Username(" Alice "))
	require.Equal(t, "lock:group:hierarchy", Keys.GroupHierarchy())
	require.Equal(t, "lock:bootstrap", Keys.Bootstrap())
}
