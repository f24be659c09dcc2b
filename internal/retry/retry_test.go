package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferro-labs/videoforge/contract"
)

func cfg() contract.RetryConfig {
	return contract.RetryConfig{MaxRetries: 3, BaseDelayMs: 1000}
}

func TestNext_NonRetryableErrorNeverRetries(t *testing.T) {
	err := &contract.ErrorDetails{Code: contract.ErrInvalidRequest}
	d := Next(cfg(), 0, err, time.Hour)
	assert.False(t, d.Retry)
}

func TestNext_ExhaustedAttemptsStopRetrying(t *testing.T) {
	err := &contract.ErrorDetails{Code: contract.ErrProviderError}
	d := Next(cfg(), 3, err, time.Hour)
	assert.False(t, d.Retry)
}

func TestNext_RetryableErrorBacksOffExponentially(t *testing.T) {
	err := &contract.ErrorDetails{Code: contract.ErrProviderError}
	d0 := Next(cfg(), 0, err, time.Hour)
	d1 := Next(cfg(), 1, err, time.Hour)
	require.True(t, d0.Retry)
	require.True(t, d1.Retry)
	// attempt 1's base delay (2000ms) exceeds even attempt 0's worst-case
	// jittered delay (1000ms * 1.3 = 1300ms).
	assert.Greater(t, d1.Delay, d0.Delay)
}

func TestNext_RateLimitExceededFloorsAtSixtySeconds(t *testing.T) {
	err := &contract.ErrorDetails{Code: contract.ErrRateLimitExceeded}
	d := Next(cfg(), 0, err, time.Hour)
	require.True(t, d.Retry)
	assert.GreaterOrEqual(t, d.Delay, minRateLimitDelay)
}

func TestNext_RateLimitExceededHonorsLongerHint(t *testing.T) {
	hint := int64(120000)
	err := &contract.ErrorDetails{Code: contract.ErrRateLimitExceeded, RetryAfterMs: &hint}
	d := Next(cfg(), 0, err, time.Hour)
	require.True(t, d.Retry)
	assert.Equal(t, 120*time.Second, d.Delay)
}

func TestNext_RetryAfterHintExtendsNonRateLimitDelay(t *testing.T) {
	hint := int64(5000)
	err := &contract.ErrorDetails{Code: contract.ErrProviderError, RetryAfterMs: &hint}
	d := Next(contract.RetryConfig{MaxRetries: 3, BaseDelayMs: 10}, 0, err, time.Hour)
	require.True(t, d.Retry)
	assert.GreaterOrEqual(t, d.Delay, 5*time.Second)
}

func TestNext_DelayExceedingBudgetStopsRetrying(t *testing.T) {
	err := &contract.ErrorDetails{Code: contract.ErrProviderError}
	d := Next(cfg(), 0, err, 10*time.Millisecond)
	assert.False(t, d.Retry)
}

func TestSleep_ReturnsPromptlyForZeroDelay(t *testing.T) {
	err := Sleep(context.Background(), 0)
	assert.NoError(t, err)
}

func TestSleep_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	err := Sleep(ctx, time.Second)
	assert.Error(t, err)
}
