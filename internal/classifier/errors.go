package classifier

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedResponse wraps any provider reply that does not decode into a result list.
var ErrMalformedResponse = errors.New("malformed classifier response")

// RateLimitError is returned by providers when the upstream service throttles.
// RetryAfter is zero when the provider gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RateLimited marks the error for util.IsRetryableError.
func (e *RateLimitError) RateLimited() bool { return true }

// IsRateLimited reports whether err carries a rate-limit signal and its hint.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
