package hook

import (
	"context"
	"slices"
	"sync"
)

// Pipeline manages hook registration and execution.
// Hooks are grouped by position and sorted by (priority, registration order).
// Registrations use a write lock, executions a read lock.
type Pipeline struct {
	mu    sync.RWMutex
	hooks map[Position][]Hook
	// order tracks registration sequence for stable sorting.
	order map[Hook]int
	seq   int
}

// NewPipeline creates a new empty hook pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		hooks: make(map[Position][]Hook),
		order: make(map[Hook]int),
	}
}

// Register adds a hook to the pipeline.
func (p *Pipeline) Register(h Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := h.Position()
	p.order[h] = p.seq
	p.seq++

	p.hooks[pos] = append(p.hooks[pos], h)
	slices.SortStableFunc(p.hooks[pos], func(a, b Hook) int {
		if a.Priority() != b.Priority() {
			return a.Priority() - b.Priority()
		}
		return p.order[a] - p.order[b]
	})
}

// Len returns the number of registered hooks.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

func (p *Pipeline) at(pos Position) []Hook {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hooks[pos]
}

// RunBeforeProcess executes the BeforeProcess hooks in order and stops at
// the first ActionDrop. Errors are logged and do not stop execution.
func (p *Pipeline) RunBeforeProcess(ctx context.Context, hctx *Context) Action {
	hctx.Position = BeforeProcess
	for _, h := range p.at(BeforeProcess) {
		action, err := h.Execute(ctx, hctx)
		if err != nil {
			warn(hctx, h, err)
		}
		if action == ActionDrop {
			return ActionDrop
		}
	}
	return ActionContinue
}

// RunBeforeReply executes the BeforeReply hooks and reports ActionModify
// if any of them changed the reply.
func (p *Pipeline) RunBeforeReply(ctx context.Context, hctx *Context) Action {
	hctx.Position = BeforeReply
	modified := false
	for _, h := range p.at(BeforeReply) {
		action, err := h.Execute(ctx, hctx)
		if err != nil {
			warn(hctx, h, err)
		}
		if action == ActionModify {
			modified = true
		}
	}
	if modified {
		return ActionModify
	}
	return ActionContinue
}

// RunAfterReply executes the AfterReply hooks.
func (p *Pipeline) RunAfterReply(ctx context.Context, hctx *Context) {
	hctx.Position = AfterReply
	for _, h := range p.at(AfterReply) {
		if _, err := h.Execute(ctx, hctx); err != nil {
			warn(hctx, h, err)
		}
	}
}

func warn(hctx *Context, h Hook, err error) {
	if hctx.Logger == nil {
		return
	}
	hctx.Logger.Warn("hook error",
		"position", string(hctx.Position),
		"priority", h.Priority(),
		"error", err,
	)
}
