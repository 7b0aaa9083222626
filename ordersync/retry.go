package ordersync

import (
	"math"
	"time"
)

// RetryDecision is the outcome of the retry policy for one failed attempt.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// NextRetryState decides retry-vs-failed from the attempt count. Backoff is
// attempt-indexed exponential in minutes (base 2: 2, 4, 8, ...). Pure
// function, no clock reads.
func NextRetryState(attemptCount int, maxAttempts int, backoffBase int) RetryDecision {
	if attemptCount >= maxAttempts {
		return RetryDecision{Retry: false}
	}
	if backoffBase < 2 {
		backoffBase = 2
	}
	minutes := math.Pow(float64(backoffBase), float64(attemptCount))
	return RetryDecision{
		Retry: true,
		Delay: time.Duration(minutes) * time.Minute,
	}
}
