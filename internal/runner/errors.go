package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/flemzord/convoq/internal/assistant"
)

var (
	// ErrRunFailed matches every RunError.
	ErrRunFailed = errors.New("run failed")

	// ErrContextOverflow matches a RunError whose cause is an exhausted
	// context window.
	ErrContextOverflow = errors.New("context overflow")
)

// Error codes reported for failures detected locally.
const (
	CodeTimeout       = "run_timeout"
	CodeCancelled     = "run_cancelled"
	CodeNoResponse    = "no_response"
	CodeServiceError  = "service_error"
	CodeRateLimited   = "rate_limit_exceeded"
	CodeUnavailable   = "service_unavailable"
	CodeContextLength = "context_length_exceeded"
)

// overflowCodes are the error codes that signal an exhausted context.
var overflowCodes = []string{
	"context_length_exceeded",
	"string_above_max_length",
	"token_limit_exceeded",
}

// overflowPhrases are matched case-insensitively in error messages.
var overflowPhrases = []string{"token limit", "context length"}

// RunError describes a run that did not complete.
type RunError struct {
	Status  assistant.RunStatus
	Code    string
	Message string

	// Err is the local cause, when the failure did not come from the
	// service's run status.
	Err error
}

func (e *RunError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("run %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("run %s (%s): %s", e.Status, e.Code, e.Message)
}

func (e *RunError) Unwrap() error { return e.Err }

// Is makes errors.Is match ErrRunFailed always and ErrContextOverflow when
// the failure is an overflow.
func (e *RunError) Is(target error) bool {
	switch target {
	case ErrRunFailed:
		return true
	case ErrContextOverflow:
		return e.IsContextOverflow()
	}
	return false
}

// IsContextOverflow reports whether the failure was caused by the model's
// context window being exhausted.
func (e *RunError) IsContextOverflow() bool {
	if e == nil {
		return false
	}
	if slices.Contains(overflowCodes, strings.ToLower(e.Code)) {
		return true
	}
	msg := strings.ToLower(e.Message)
	for _, phrase := range overflowPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return errors.Is(e.Err, assistant.ErrContextLength)
}

// terminalError builds the RunError for a run that ended in a failed state.
func terminalError(run assistant.Run) *RunError {
	e := &RunError{Status: run.Status}
	if run.LastError != nil {
		e.Code = run.LastError.Code
		e.Message = run.LastError.Message
	}
	if e.Code == "" {
		if run.Status == assistant.StatusIncomplete && run.Incomplete != "" {
			e.Code = run.Incomplete
		} else {
			e.Code = "run_" + string(run.Status)
		}
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("run ended with status %s", run.Status)
		if run.Incomplete != "" {
			e.Message += ": " + run.Incomplete
		}
	}
	return e
}

// serviceError classifies an error returned by a service call.
func serviceError(op string, status assistant.RunStatus, err error) *RunError {
	code := CodeServiceError
	switch {
	case errors.Is(err, context.Canceled):
		code = CodeCancelled
		status = assistant.StatusCancelled
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
		status = assistant.StatusExpired
	case errors.Is(err, assistant.ErrContextLength):
		code = CodeContextLength
	case errors.Is(err, assistant.ErrRateLimit):
		code = CodeRateLimited
	case errors.Is(err, assistant.ErrProviderDown):
		code = CodeUnavailable
	}
	if status == "" {
		status = assistant.StatusFailed
	}
	return &RunError{
		Status:  status,
		Code:    code,
		Message: fmt.Sprintf("%s: %v", op, err),
		Err:     err,
	}
}
