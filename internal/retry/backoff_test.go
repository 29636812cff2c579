package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chatstream/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	b := NewBackoff(fastConfig())

	attempts := 0
	err := b.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	b := NewBackoff(fastConfig())

	attempts := 0
	err := b.Retry(context.Background(), func() error {
		attempts++
		return fmt.Errorf("always failing")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "always failing")
}

func TestRetryWithPredicateStopsOnPermanentError(t *testing.T) {
	b := NewBackoff(fastConfig())
	permanent := fmt.Errorf("permanent")

	attempts := 0
	err := b.RetryWithPredicate(context.Background(), func() error {
		attempts++
		return permanent
	}, func(err error) bool { return false })

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour
	b := NewBackoff(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := b.Retry(ctx, func() error { return fmt.Errorf("failing") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelayGrowsAndCaps(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       false,
	})

	assert.Equal(t, 100*time.Millisecond, b.GetNextDelay(1))
	assert.Equal(t, 200*time.Millisecond, b.GetNextDelay(2))
	assert.Equal(t, 400*time.Millisecond, b.GetNextDelay(3))
	assert.Equal(t, time.Second, b.GetNextDelay(10))
}

func TestCalculateDelayJitterStaysBounded(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	})

	for i := 0; i < 50; i++ {
		d := b.GetNextDelay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(models.RetryConfig{
		InitialBackoffMs: 250,
		MaxBackoffMs:     10000,
		MaxAttempts:      7,
	})

	assert.Equal(t, 250*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 10*time.Second, cfg.MaxDelay)
	assert.Equal(t, 7, cfg.MaxAttempts)

	// Zero values fall back to defaults.
	cfg = FromRetryConfig(models.RetryConfig{})
	def := DefaultBackoffConfig()
	assert.Equal(t, def.InitialDelay, cfg.InitialDelay)
	assert.Equal(t, def.MaxAttempts, cfg.MaxAttempts)
}
