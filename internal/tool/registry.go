package tool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/flemzord/convoq/internal/tool")

// Observer is notified once per dispatch, after the output is built.
type Observer func(name string, success bool, elapsed time.Duration)

// Option configures a Registry.
type Option func(*Registry)

// WithStrict makes Register reject a name that is already taken.
func WithStrict() Option {
	return func(r *Registry) { r.strict = true }
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver registers a dispatch observer, typically a metrics sink.
func WithObserver(obs Observer) Option {
	return func(r *Registry) {
		if obs != nil {
			r.observers = append(r.observers, obs)
		}
	}
}

// Registry maps tool names to tools. Tools are registered at startup;
// Dispatch is safe for concurrent use afterwards.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	strict    bool
	logger    *slog.Logger
	observers []Observer
	now       func() time.Time
}

// NewRegistry creates an empty tool registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "tool-registry")
	return r
}

// Register adds t under its definition name. A previous tool with the same
// name is replaced unless the registry is strict, in which case
// ErrDuplicateTool is returned.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return ErrEmptyToolName
	}
	name := strings.TrimSpace(t.Definition().Name)
	if name == "" {
		return ErrEmptyToolName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		if r.strict {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		r.logger.Warn("tool replaced", "tool", name)
	}
	r.tools[name] = t
	return nil
}

// Get returns the tool with the given name, or ErrToolNotFound.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Names returns all registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Definitions returns every registered definition sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	slices.SortFunc(defs, func(a, b Definition) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Validate checks in against the named tool's definition without executing
// it and returns the parameters with defaults applied.
func (r *Registry) Validate(in Input) (map[string]any, error) {
	t, err := r.Get(in.Tool)
	if err != nil {
		return nil, err
	}
	return validate(t.Definition(), in.Params)
}

// Dispatch validates in against the tool's definition and executes it.
// It never panics and never returns an error: lookup failures, validation
// failures, returned errors and panics all become an Output with
// Success=false. Elapsed is always set.
func (r *Registry) Dispatch(ctx context.Context, in Input) (out Output) {
	start := r.now()
	if in.Timestamp.IsZero() {
		in.Timestamp = start
	}

	ctx, span := tracer.Start(ctx, "tool.dispatch")
	span.SetAttributes(
		attribute.String("tool.name", in.Tool),
		attribute.String("tool.invocation_id", in.InvocationID),
	)

	out = Output{Tool: in.Tool, InvocationID: in.InvocationID}

	defer func() {
		out.Elapsed = r.now().Sub(start)
		if !out.Success {
			span.SetStatus(codes.Error, out.Error)
		}
		span.End()

		r.logger.Debug("tool dispatched",
			"tool", in.Tool,
			"invocation_id", in.InvocationID,
			"success", out.Success,
			"elapsed", out.Elapsed,
		)
		for _, obs := range r.observers {
			obs(in.Tool, out.Success, out.Elapsed)
		}
	}()

	t, err := r.Get(in.Tool)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	params, err := validate(t.Definition(), in.Params)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	in.Params = params

	result, err := r.execute(ctx, t, in)
	if err != nil {
		out.Error = err.Error()
		var pe *panicError
		if errors.As(err, &pe) {
			out.Trace = pe.stack
		} else {
			out.Trace = errorChain(err)
		}
		return out
	}

	out.Success = true
	out.Result = result
	return out
}

// panicError carries a recovered panic value and the stack it was raised on.
type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func (r *Registry) execute(ctx context.Context, t Tool, in Input) (result any, err error) {
	defer func() {
		if v := recover(); v != nil {
			result = nil
			err = fmt.Errorf("%w: %s: %w", ErrExecution, in.Tool, &panicError{value: v, stack: string(debug.Stack())})
			r.logger.Error("tool panicked", "tool", in.Tool, "panic", v)
		}
	}()

	result, err = t.Execute(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExecution, in.Tool, err)
	}
	return result, nil
}

// errorChain renders every wrapped layer of err, outermost first.
func errorChain(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%T: %s", err, err.Error())
		if multi, ok := err.(interface{ Unwrap() []error }); ok {
			// Sentinel first, cause last: follow the cause.
			errs := multi.Unwrap()
			if len(errs) == 0 {
				break
			}
			err = errs[len(errs)-1]
			continue
		}
		err = errors.Unwrap(err)
	}
	return b.String()
}
