package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{12, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestRetryPolicy_JitterStaysInRange(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.5}
	for range 50 {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	assert.False(t, p.Exhausted(1))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
}
