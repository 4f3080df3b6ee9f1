// Package tool defines the capability contract for everything the model can
// call and the registry that validates, times and wraps those calls.
// Dispatch never fails loudly: every problem comes back as an Output with
// Success=false so the run can report it to the model and carry on.
package tool

import (
	"context"
	"time"
)

// ParamType is the semantic type of a tool parameter.
type ParamType string

// Parameter types understood by the validator.
const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
	TypeAny     ParamType = "any"
)

// Param declares one named parameter.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`
	Enum        []any     `json:"enum,omitempty"`
}

// Definition is the static description of a tool. It is registered once at
// startup and never mutated afterwards.
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`

	// Returns describes the shape of a successful result, for humans and
	// for the model.
	Returns string `json:"returns,omitempty"`
}

// Param returns the declared parameter with the given name.
func (d Definition) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Tool is a callable capability.
type Tool interface {
	Definition() Definition

	// Execute runs the tool with already-validated input. The returned value
	// must be JSON-serialisable.
	Execute(ctx context.Context, in Input) (any, error)
}

// Input is constructed for a single dispatch.
type Input struct {
	Tool           string         `json:"tool"`
	Params         map[string]any `json:"params"`
	ConversationID string         `json:"conversation_id,omitempty"`

	// InvocationID correlates the call with the remote tool-call ID.
	InvocationID string    `json:"invocation_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// String returns a string parameter, "" when absent.
func (in Input) String(name string) string {
	s, _ := in.Params[name].(string)
	return s
}

// Bool returns a boolean parameter, false when absent.
func (in Input) Bool(name string) bool {
	b, _ := in.Params[name].(bool)
	return b
}

// Object returns an object parameter, nil when absent.
func (in Input) Object(name string) map[string]any {
	m, _ := in.Params[name].(map[string]any)
	return m
}

// Output is the immutable record of one dispatch.
type Output struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`

	// Trace carries diagnostic detail (stack or error chain) for failures
	// raised inside the tool body.
	Trace        string        `json:"trace,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	InvocationID string        `json:"invocation_id,omitempty"`
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	Def Definition
	Fn  func(ctx context.Context, in Input) (any, error)
}

// Definition implements Tool.
func (f Func) Definition() Definition { return f.Def }

// Execute implements Tool.
func (f Func) Execute(ctx context.Context, in Input) (any, error) { return f.Fn(ctx, in) }
