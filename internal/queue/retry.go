package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether a failed job goes back on the queue and when.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	// Jitter is the randomization factor, 0 for a deterministic schedule.
	Jitter float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Initial:     time.Second,
		Max:         time.Minute,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// Exhausted reports whether a job that has now failed attempts times must be
// buried instead of retried.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Delay returns the wait before the next try after the given number of
// failed attempts, counting from 1.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
