// Package tooltest provides test helpers and mocks for the tool package.
package tooltest

import (
	"context"
	"sync"

	"github.com/flemzord/convoq/internal/tool"
)

// MockTool is a configurable mock implementation of tool.Tool.
type MockTool struct {
	Def         tool.Definition
	ExecuteFunc func(ctx context.Context, in tool.Input) (any, error)

	mu    sync.Mutex
	calls []tool.Input
}

// Definition implements tool.Tool.
func (m *MockTool) Definition() tool.Definition {
	if m.Def.Name == "" {
		return tool.Definition{Name: "mock-tool", Description: "a mock tool"}
	}
	return m.Def
}

// Execute implements tool.Tool.
func (m *MockTool) Execute(ctx context.Context, in tool.Input) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, in)
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, in)
	}
	return "ok", nil
}

// Calls returns a copy of every input the tool has been executed with.
func (m *MockTool) Calls() []tool.Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tool.Input(nil), m.calls...)
}

// CallCount returns how many times Execute ran.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Echo returns a tool named "echo" that requires a string parameter
// "text" and returns it unchanged.
func Echo() *MockTool {
	return &MockTool{
		Def: tool.Definition{
			Name:        "echo",
			Description: "Returns its input text.",
			Params: []tool.Param{
				{Name: "text", Type: tool.TypeString, Required: true},
			},
			Returns: "the text parameter",
		},
		ExecuteFunc: func(_ context.Context, in tool.Input) (any, error) {
			return in.String("text"), nil
		},
	}
}
