package tool_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/convoq/internal/tool"
	"github.com/flemzord/convoq/internal/tool/tooltest"
)

func TestRegistryRegister_EmptyName(t *testing.T) {
	t.Parallel()

	r := tool.NewRegistry()
	err := r.Register(&tooltest.MockTool{Def: tool.Definition{Name: "   "}})
	if !errors.Is(err, tool.ErrEmptyToolName) {
		t.Fatalf("expected ErrEmptyToolName, got %v", err)
	}
}

func TestRegistryRegister_LastWriterWins(t *testing.T) {
	t.Parallel()

	r := tool.NewRegistry()
	first := &tooltest.MockTool{Def: tool.Definition{Name: "dup"}}
	second := &tooltest.MockTool{
		Def: tool.Definition{Name: "dup"},
		ExecuteFunc: func(context.Context, tool.Input) (any, error) {
			return "second", nil
		},
	}
	if err := r.Register(first); err != nil {
		t.Fatalf("Register(first): %v", err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("Register(second): %v", err)
	}

	out := r.Dispatch(context.Background(), tool.Input{Tool: "dup"})
	if !out.Success || out.Result != "second" {
		t.Fatalf("expected the second registration to win, got %+v", out)
	}
	if first.CallCount() != 0 {
		t.Fatalf("replaced tool was executed %d times", first.CallCount())
	}
}

func TestRegistryRegister_StrictDuplicate(t *testing.T) {
	t.Parallel()

	r := tool.NewRegistry(tool.WithStrict())
	if err := r.Register(tooltest.Echo()); err != nil {
		t.Fatalf("unexpected first register error: %v", err)
	}
	err := r.Register(tooltest.Echo())
	if !errors.Is(err, tool.ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestRegistryDispatch_Echo(t *testing.T) {
	t.Parallel()

	r := tool.NewRegistry()
	if err := r.Register(tooltest.Echo()); err != nil {
		t.Fatal(err)
	}

	out := r.Dispatch(context.Background(), tool.Input{
		Tool:         "echo",
		Params:       map[string]any{"text": "hi"},
		InvocationID: "call_1",
	})
	if !out.Success {
		t.Fatalf("expected success, got error %q", out.Error)
	}
	if out.Result != "hi" {
		t.Errorf("Result = %v, want hi", out.Result)
	}
	if out.InvocationID != "call_1" {
		t.Errorf("InvocationID = %q, want call_1", out.InvocationID)
	}

	out = r.Dispatch(context.Background(), tool.Input{Tool: "echo", Params: map[string]any{}})
	if out.Success {
		t.Fatal("expected failure for missing text")
	}
	if !strings.Contains(out.Error, "text") {
		t.Errorf("error %q does not mention the text parameter", out.Error)
	}
}

func TestRegistryDispatch_NeverPanics(t *testing.T) {
	t.Parallel()

	r := tool.NewRegistry()
	if err := r.Register(&tooltest.MockTool{
		Def: tool.Definition{
			Name: "search",
			Params: []tool.Param{
				{Name: "query", Type: tool.TypeString, Required: true},
				{Name: "limit", Type: tool.TypeInteger},
				{Name: "mode", Type: tool.TypeString, Enum: []any{"fast", "exact"}},
				{Name: "filters", Type: tool.TypeObject},
			},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&tooltest.MockTool{
		Def: tool.Definition{Name: "boom"},
		ExecuteFunc: func(context.Context, tool.Input) (any, error) {
			panic("kaboom")
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&tooltest.MockTool{
		Def: tool.Definition{Name: "fails"},
		ExecuteFunc: func(context.Context, tool.Input) (any, error) {
			return nil, errors.New("database unreachable")
		},
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		in        tool.Input
		wantInErr string
		wantIs    error
	}{
		{
			name:      "unknown tool",
			in:        tool.Input{Tool: "nope"},
			wantInErr: "nope",
			wantIs:    tool.ErrToolNotFound,
		},
		{
			name:      "missing required",
			in:        tool.Input{Tool: "search", Params: map[string]any{"limit": 3.0}},
			wantInErr: "query",
			wantIs:    tool.ErrValidation,
		},
		{
			name:      "unknown param",
			in:        tool.Input{Tool: "search", Params: map[string]any{"query": "x", "color": "red"}},
			wantInErr: "color",
			wantIs:    tool.ErrValidation,
		},
		{
			name:      "wrong type",
			in:        tool.Input{Tool: "search", Params: map[string]any{"query": 42}},
			wantInErr: "query",
			wantIs:    tool.ErrValidation,
		},
		{
			name:      "fractional integer",
			in:        tool.Input{Tool: "search", Params: map[string]any{"query": "x", "limit": 2.5}},
			wantInErr: "limit",
			wantIs:    tool.ErrValidation,
		},
		{
			name:      "invalid enum",
			in:        tool.Input{Tool: "search", Params: map[string]any{"query": "x", "mode": "slow"}},
			wantInErr: "mode",
			wantIs:    tool.ErrValidation,
		},
		{
			name:      "object expected",
			in:        tool.Input{Tool: "search", Params: map[string]any{"query": "x", "filters": []any{1}}},
			wantInErr: "filters",
			wantIs:    tool.ErrValidation,
		},
		{
			name:      "panic in body",
			in:        tool.Input{Tool: "boom"},
			wantInErr: "kaboom",
			wantIs:    tool.ErrExecution,
		},
		{
			name:      "error in body",
			in:        tool.Input{Tool: "fails"},
			wantInErr: "database unreachable",
			wantIs:    tool.ErrExecution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out := r.Dispatch(context.Background(), tt.in)
			if out.Success {
				t.Fatal("expected Success=false")
			}
			if out.Error == "" {
				t.Fatal("expected a non-empty error")
			}
			if !strings.Contains(out.Error, tt.wantInErr) {
				t.Errorf("error %q does not contain %q", out.Error, tt.wantInErr)
			}
			if !strings.Contains(out.Error, tt.wantIs.Error()) {
				t.Errorf("error %q does not carry %q", out.Error, tt.wantIs)
			}
			if out.Elapsed < 0 {
				t.Errorf("Elapsed = %v, want >= 0", out.Elapsed)
			}
		})
	}
}

func TestRegistryDispatch_PanicTrace(t *testing.T) {
	t.Parallel()

	r := tool.NewRegistry()
	_ = r.Register(&tooltest.MockTool{
		Def: tool.Definition{Name: "boom"},
		ExecuteFunc: func(context.Context, tool.Input) (any, error) {
			var m map[string]int
			m["x"] = 1
			return nil, nil
		},
	})

	out := r.Dispatch(context.Background(), tool.Input{Tool: "boom"})
	if out.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(out.Trace, "goroutine") {
		t.Errorf("expected a stack trace, got %q", out.Trace)
	}
}

func TestRegistryDispatch_AppliesDefaults(t *testing.T) {
	t.Parallel()

	mock := &tooltest.MockTool{
		Def: tool.Definition{
			Name: "list",
			Params: []tool.Param{
				{Name: "limit", Type: tool.TypeInteger, Default: 20},
				{Name: "verbose", Type: tool.TypeBoolean},
			},
		},
	}
	r := tool.NewRegistry()
	_ = r.Register(mock)

	out := r.Dispatch(context.Background(), tool.Input{Tool: "list"})
	if !out.Success {
		t.Fatalf("unexpected failure: %s", out.Error)
	}
	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Params["limit"] != 20 {
		t.Errorf("limit = %v, want default 20", calls[0].Params["limit"])
	}
	if _, ok := calls[0].Params["verbose"]; ok {
		t.Error("verbose has no default and should stay absent")
	}
	if calls[0].Timestamp.IsZero() {
		t.Error("expected the dispatch to stamp the input")
	}
}

func TestRegistryDispatch_Observer(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []string
	)
	r := tool.NewRegistry(tool.WithObserver(func(name string, success bool, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if success {
			seen = append(seen, name+":ok")
		} else {
			seen = append(seen, name+":fail")
		}
	}))
	_ = r.Register(tooltest.Echo())

	r.Dispatch(context.Background(), tool.Input{Tool: "echo", Params: map[string]any{"text": "a"}})
	r.Dispatch(context.Background(), tool.Input{Tool: "missing"})

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(seen, ",") != "echo:ok,missing:fail" {
		t.Fatalf("observer saw %v", seen)
	}
}

func TestRegistryDefinitions_Sorted(t *testing.T) {
	t.Parallel()

	r := tool.NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_ = r.Register(&tooltest.MockTool{Def: tool.Definition{Name: name}})
	}

	defs := r.Definitions()
	got := make([]string, 0, len(defs))
	for _, d := range defs {
		got = append(got, d.Name)
	}
	if strings.Join(got, ",") != "alpha,mid,zeta" {
		t.Fatalf("Definitions order = %v", got)
	}
	if strings.Join(r.Names(), ",") != "alpha,mid,zeta" {
		t.Fatalf("Names order = %v", r.Names())
	}
}

func TestRegistryDispatch_Concurrent(t *testing.T) {
	t.Parallel()

	r := tool.NewRegistry()
	_ = r.Register(tooltest.Echo())

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = r.Register(&tooltest.MockTool{Def: tool.Definition{Name: "other"}})
			}
			out := r.Dispatch(context.Background(), tool.Input{Tool: "echo", Params: map[string]any{"text": "x"}})
			if !out.Success {
				t.Errorf("dispatch failed: %s", out.Error)
			}
		}()
	}
	wg.Wait()
}
