package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"jobinbox/pkg/circuitbreaker"
)

// rateLimited is implemented by provider errors that carry a rate-limit signal.
type rateLimited interface {
	RateLimited() bool
}

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var rl rateLimited
	if errors.As(err, &rl) && rl.RateLimited() {
		return true, "rate_limited"
	}

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return false, "circuit_open"
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "json:"):
		return false, "json_decode_error"
	case strings.Contains(errStr, "duplicate key"):
		return false, "duplicate_key"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout"):
		return true, "db_connection_error"
	case strings.Contains(errStr, "provider returned status"):
		return false, "provider_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}
