package panel

import (
	"time"
)

// RetryPolicy controls how the client retries transient failures. Injecting
// it keeps retry behavior deterministic under test.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the delay before the given 1-based attempt is retried.
	Backoff func(attempt int) time.Duration
	// Sleep is time.Sleep in production and a no-op in tests.
	Sleep func(d time.Duration)
}

// DefaultRetryPolicy retries with linear backoff: base, 2*base, 3*base, ...
func DefaultRetryPolicy(maxAttempts int, base time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * base
		},
		Sleep: time.Sleep,
	}
}

func (p RetryPolicy) wait(attempt int) {
	if p.Backoff == nil || p.Sleep == nil {
		return
	}
	p.Sleep(p.Backoff(attempt))
}
