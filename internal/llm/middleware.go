package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"jobinbox/internal/classifier"
	"jobinbox/pkg/circuitbreaker"
	"jobinbox/pkg/metrics"
)

// RateLimited paces calls to the wrapped provider with a token bucket.
type RateLimited struct {
	next    classifier.Provider
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with a burst of one.
func NewRateLimited(next classifier.Provider, perMinute int) *RateLimited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, 1)}
}

func (r *RateLimited) Complete(ctx context.Context, prompt classifier.Prompt) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}
	return r.next.Complete(ctx, prompt)
}

// Breaker guards the wrapped provider with a circuit breaker and records
// call latency. Rate-limit faults do not trip the breaker.
type Breaker struct {
	next classifier.Provider
	name string
	cb   *circuitbreaker.CircuitBreaker
}

func NewBreaker(next classifier.Provider, name string) *Breaker {
	cfg := circuitbreaker.Config{
		Name:                "llm",
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
		IsFailure: func(err error) bool {
			_, limited := classifier.IsRateLimited(err)
			return !limited && !errors.Is(err, context.Canceled)
		},
	}
	return &Breaker{next: next, name: name, cb: circuitbreaker.NewCircuitBreaker(cfg)}
}

func (b *Breaker) Complete(ctx context.Context, prompt classifier.Prompt) (string, error) {
	var out string
	start := time.Now()
	err := b.cb.Execute(func() error {
		var callErr error
		out, callErr = b.next.Complete(ctx, prompt)
		return callErr
	})
	metrics.RecordProviderCall(b.name, callStatus(err), time.Since(start))
	return out, err
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		return "circuit_open"
	default:
		if _, ok := classifier.IsRateLimited(err); ok {
			return "rate_limited"
		}
		return "error"
	}
}
