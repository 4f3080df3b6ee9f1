package tool

import "errors"

var (
	// ErrToolNotFound is reported when no tool is registered under a name.
	ErrToolNotFound = errors.New("tool not found")

	// ErrValidation is reported when the input does not match the definition.
	ErrValidation = errors.New("invalid tool input")

	// ErrExecution wraps failures raised inside a tool body.
	ErrExecution = errors.New("tool execution failed")

	// ErrEmptyToolName is returned when registering a tool without a name.
	ErrEmptyToolName = errors.New("tool name must not be empty")

	// ErrDuplicateTool is returned by a strict registry on re-registration.
	ErrDuplicateTool = errors.New("tool already registered")
)
