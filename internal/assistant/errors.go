package assistant

import "errors"

// Sentinel errors for service operations.
var (
	// ErrRateLimit indicates the service returned a rate limit response.
	ErrRateLimit = errors.New("assistant service rate limited")

	// ErrContextLength indicates a request exceeded the model's context window.
	ErrContextLength = errors.New("context length exceeded")

	// ErrProviderDown indicates the service is temporarily unavailable.
	ErrProviderDown = errors.New("assistant service unavailable")

	// ErrNotFound indicates the thread or run does not exist.
	ErrNotFound = errors.New("assistant resource not found")
)

// IsRetryable reports whether the error is transient and the call can be
// repeated after a delay.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown)
}
