package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/tokenward/core"
	"github.com/sethvargo/go-retry"
)

// withStore runs fn under the store timeout. Unavailability, including a
// timed out call, is retried once after the configured backoff. Conflicts
// and missing records are returned as they are.
func (s *AuthService) withStore(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(1, retry.NewConstant(s.opts.RetryBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, core.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
		}
		if !errors.Is(err, core.ErrStoreUnavailable) {
			return err
		}

		s.log.Warn(ctx, "store call failed", "op", op, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}
