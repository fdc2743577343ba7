package upstream

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/laneboard/laneboard/server/internal/errors"
)

const (
	retryMaxAttempts  = 3
	retryInitialDelay = 2 * time.Second
	retryMaxDelay     = 10 * time.Second
)

// Do runs op with bounded exponential backoff. Configuration errors are
// never retried; rate-limited errors wait the upstream Retry-After hint
// instead of the backoff delay.
func Do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	delay := retryInitialDelay
	var err error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !apperrors.Retryable(err) {
			return err
		}
		if attempt == retryMaxAttempts {
			break
		}

		wait := delay
		if retryAfter, ok := apperrors.RetryAfterOf(err); ok {
			wait = retryAfter
		}
		logger.Warn("upstream call failed, retrying",
			"op", op, "attempt", attempt, "wait", wait.String(), "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = min(delay*2, retryMaxDelay)
	}
	logger.Error("upstream call failed after all attempts", "op", op, "attempts", retryMaxAttempts, "error", err)
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var value T
	err := Do(ctx, logger, op, func(ctx context.Context) error {
		var fnErr error
		value, fnErr = fn(ctx)
		return fnErr
	})
	return value, err
}
