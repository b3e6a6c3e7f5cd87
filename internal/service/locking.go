package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tradernet-identity/internal/lock"
	"github.com/prn-tf/tradernet-identity/internal/metrics"
)

// runLocked runs fn while holding key. Acquisition failures become ErrBusy
// or ErrInternalError; errors from fn are returned unchanged.
func runLocked(
	ctx context.Context,
	locker lock.Locker,
	key string,
	opts lock.Options,
	m *metrics.Metrics,
	logger zerolog.Logger,
	fn func(ctx context.Context) error,
) error {
	var fnErr error
	ran := false
	start := time.Now()

	err := lock.WithLock(ctx, locker, key, opts, func(ctx context.Context) error {
		ran = true
		m.ObserveLockWait(time.Since(start).Seconds())
		fnErr = fn(ctx)
		return fnErr
	})
	if ran {
		return fnErr
	}

	if errors.Is(err, lock.ErrNotAcquired) {
		logger.Warn().Str("key", key).Msg("lock busy")
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	logger.Error().Err(err).Str("key", key).Msg("failed to acquire lock")
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}
