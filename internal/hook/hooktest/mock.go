// Package hooktest provides test doubles for the hook package.
package hooktest

import (
	"context"
	"sync"

	"github.com/flemzord/convoq/internal/hook"
)

// MockHook is a configurable test double for hook.Hook.
type MockHook struct {
	PositionVal hook.Position
	PriorityVal int
	ExecuteFunc func(ctx context.Context, hctx *hook.Context) (hook.Action, error)

	mu    sync.Mutex
	calls []hook.Context
}

var _ hook.Hook = (*MockHook)(nil)

// Position returns the configured position.
func (m *MockHook) Position() hook.Position { return m.PositionVal }

// Priority returns the configured priority.
func (m *MockHook) Priority() int { return m.PriorityVal }

// Execute records a copy of hctx and delegates to ExecuteFunc.
func (m *MockHook) Execute(ctx context.Context, hctx *hook.Context) (hook.Action, error) {
	m.mu.Lock()
	cp := *hctx
	if hctx.Reply != nil {
		r := *hctx.Reply
		cp.Reply = &r
	}
	m.calls = append(m.calls, cp)
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, hctx)
	}
	return hook.ActionContinue, nil
}

// Calls returns the contexts Execute was called with.
func (m *MockHook) Calls() []hook.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]hook.Context, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of times Execute was called.
func (m *MockHook) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
