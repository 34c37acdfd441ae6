package classifier

import "time"

// RetryPolicy decides whether and when a failed sub-batch is sent again.
type RetryPolicy struct {
	// MaxAttempts counts the first call.
	MaxAttempts int
	// Backoff returns the wait after the given zero-based failed attempt
	// when the provider supplied no hint.
	Backoff func(attempt int) time.Duration
	// Retryable returns the provider hint and whether err may be retried.
	Retryable func(err error) (time.Duration, bool)
}

const DefaultRetryBase = 2 * time.Second

// DefaultRetryPolicy retries rate-limit faults only, 3 attempts, 2s base doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicyWithBase(DefaultRetryBase)
}

// RetryPolicyWithBase is the default policy with another backoff base.
// A non-positive base falls back to DefaultRetryBase.
func RetryPolicyWithBase(base time.Duration) RetryPolicy {
	if base <= 0 {
		base = DefaultRetryBase
	}
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff(base),
		Retryable:   IsRateLimited,
	}
}

// ExponentialBackoff returns base, 2*base, 4*base, ...
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		if attempt > 16 {
			attempt = 16
		}
		return base << uint(attempt)
	}
}

// ShouldRetry reports whether another attempt follows the failed attempt
// (zero-based) and how long to wait before it.
func (p RetryPolicy) ShouldRetry(attempt int, err error) (time.Duration, bool) {
	if attempt+1 >= p.maxAttempts() || p.Retryable == nil {
		return 0, false
	}
	hint, ok := p.Retryable(err)
	if !ok {
		return 0, false
	}
	return p.Delay(attempt, hint), true
}

// Delay prefers the provider hint over the backoff function.
func (p RetryPolicy) Delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
