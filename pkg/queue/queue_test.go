package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelaySchedule(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2000 * time.Millisecond},
		{2, 4000 * time.Millisecond},
		{3, 8000 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.RetryDelay(tt.attempt),
			"delay after attempt %d", tt.attempt)
	}
}

func TestRetryDelayEdgeCases(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BackoffBase: time.Second}

	// Attempt numbers below 1 clamp to the base delay
	assert.Equal(t, time.Second, cfg.RetryDelay(0))
	assert.Equal(t, time.Second, cfg.RetryDelay(-5))

	// Large attempt numbers must not overflow
	assert.True(t, cfg.RetryDelay(100) > 0)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2000*time.Millisecond, cfg.BackoffBase)
}

func TestJobEncodeDecode(t *testing.T) {
	job := &Job{
		Payload: Payload{
			OrderID:  "order-1",
			TokenIn:  "SOL",
			TokenOut: "USDC",
			AmountIn: "10",
		},
		Attempt:     2,
		MaxAttempts: 3,
		EnqueuedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}

	data, err := job.Encode()
	assert.NoError(t, err)

	decoded, err := DecodeJob(data)
	assert.NoError(t, err)
	assert.Equal(t, job.Payload, decoded.Payload)
	assert.Equal(t, job.Attempt, decoded.Attempt)
	assert.Equal(t, job.MaxAttempts, decoded.MaxAttempts)
}
