package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastConfig(), func(ctx context.Context) (interface{}, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastConfig(), func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("still broken")
	_, err := Retry(context.Background(), fastConfig(), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryableChecker = func(err error) bool { return false }

	calls := 0
	_, err := Retry(context.Background(), cfg, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Retry(ctx, fastConfig(), func(ctx context.Context) (interface{}, error) {
		calls++
		cancel()
		return nil, errors.New("transient")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryDoesNotRetryContextErrorsByDefault(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastConfig(), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, context.DeadlineExceeded
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCalculateBackoffDoubles(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, calculateBackoff(1, cfg))
	assert.Equal(t, 200*time.Millisecond, calculateBackoff(2, cfg))
	assert.Equal(t, 400*time.Millisecond, calculateBackoff(3, cfg))
}

func TestCalculateBackoffCapped(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff:    time.Second,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, 2*time.Second, calculateBackoff(5, cfg))
}

func TestJitterStaysWithinBounds(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
	}

	for i := 0; i < 100; i++ {
		d := calculateBackoff(2, cfg)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
}
