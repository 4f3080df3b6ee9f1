package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/flemzord/convoq/internal/assistant"
)

// errAuth is a non-retryable authentication error.
var errAuth = errors.New("openai: authentication failed")

// mapHTTPError maps a status code and body to an assistant sentinel error.
// Returns nil for 2xx.
func mapHTTPError(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var msg, code string
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
		code = apiErr.Error.Code
	} else {
		msg = string(body)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", assistant.ErrRateLimit, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", errAuth, msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", assistant.ErrNotFound, msg)
	case statusCode == http.StatusBadRequest && isContextLength(code, msg):
		return fmt.Errorf("%w: %s", assistant.ErrContextLength, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", assistant.ErrProviderDown, msg)
	default:
		return fmt.Errorf("openai: HTTP %d: %s", statusCode, msg)
	}
}

func isContextLength(code, msg string) bool {
	return strings.Contains(code, "context_length") ||
		strings.Contains(strings.ToLower(msg), "context_length") ||
		strings.Contains(strings.ToLower(msg), "maximum context length")
}

// mapConnectionError maps network errors to ErrProviderDown. Context errors
// pass through unchanged.
func mapConnectionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", assistant.ErrProviderDown, err)
	}
	return fmt.Errorf("openai: %w", err)
}
