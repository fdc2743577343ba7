package upstream

import (
	"context"
	"log/slog"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/laneboard/laneboard/server/internal/errors"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	value, err := DoValue(context.Background(), slog.Default(), "test", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", apperrors.Unavailable("flaky", nil)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), slog.Default(), "test", func(ctx context.Context) error {
		calls++
		return apperrors.Unavailable("still down", nil)
	})
	require.Error(t, err)
	assert.Equal(t, retryMaxAttempts, calls)
}

func TestRetryNeverRetriesConfigurationErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), slog.Default(), "test", func(ctx context.Context) error {
		calls++
		return apperrors.Unauthorized("bad key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, slog.Default(), "test", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
