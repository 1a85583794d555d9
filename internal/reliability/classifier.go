// Package reliability classifies upstream failures and paces retries.
package reliability

import (
	"strings"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableStreamCode classifies the error codes streaming speech sessions
// report. Transport drops and the gRPC codes for deadline, exhaustion and
// unavailability are transient; anything else needs a config fix.
func IsRetryableStreamCode(code string) bool {
	switch code {
	case "read", "recv", "grpc_4", "grpc_8", "grpc_10", "grpc_14":
		return true
	}
	return strings.HasPrefix(code, "http_") && httpCodeRetryable(strings.TrimPrefix(code, "http_"))
}

func httpCodeRetryable(code string) bool {
	switch code {
	case "429", "500", "502", "503", "504":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
