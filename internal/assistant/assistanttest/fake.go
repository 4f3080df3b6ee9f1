// Package assistanttest provides an in-memory, scripted assistant.Service
// for tests.
package assistanttest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/convoq/internal/assistant"
)

// Step is one observable state of a scripted run. Each GetRun call moves
// the run to the next step, except that a requires_action step holds until
// SubmitToolOutputs answers every call.
type Step struct {
	Status    assistant.RunStatus
	ToolCalls []assistant.ToolCall
	Error     *assistant.LastError

	// Reply is posted as an assistant message when Status is completed.
	Reply string
}

// Script is the sequence of steps one run goes through. A run whose script
// is exhausted before a terminal step stays in_progress forever.
type Script []Step

// Reply is a one-step script that completes with text.
func Reply(text string) Script {
	return Script{{Status: assistant.StatusCompleted, Reply: text}}
}

// Fail is a one-step script that fails with code and message.
func Fail(code, message string) Script {
	return Script{{Status: assistant.StatusFailed, Error: &assistant.LastError{Code: code, Message: message}}}
}

// ToolThenReply requests calls, then completes with text once answered.
func ToolThenReply(text string, calls ...assistant.ToolCall) Script {
	return Script{
		{Status: assistant.StatusInProgress},
		{Status: assistant.StatusRequiresAction, ToolCalls: calls},
		{Status: assistant.StatusInProgress},
		{Status: assistant.StatusCompleted, Reply: text},
	}
}

// Submission records one SubmitToolOutputs call.
type Submission struct {
	ThreadID string
	RunID    string
	Outputs  []assistant.ToolOutput
}

// CreatedRun records one CreateRun call.
type CreatedRun struct {
	ThreadID string
	Request  assistant.RunRequest
}

type fakeRun struct {
	run      assistant.Run
	script   Script
	pos      int
	awaiting bool
}

// Fake is a scripted assistant.Service and assistant.Canceler. Runs consume
// scripts in the order they were enqueued; when the queue is empty the
// Default script is used. All methods are safe for concurrent use.
type Fake struct {
	// Default is used when no script is queued. Nil means Reply("ok").
	Default Script

	// Error injection, consulted before the corresponding operation.
	CreateThreadErr error
	PostMessageErr  error
	CreateRunErr    error
	GetRunErr       error
	SubmitErr       error
	ListErr         error

	mu          sync.Mutex
	seq         int
	base        time.Time
	scripts     []Script
	threads     map[string][]assistant.Message
	runs        map[string]*fakeRun
	submissions []Submission
	createdRuns []CreatedRun
	cancelled   []string
	polls       int
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		base:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		threads: make(map[string][]assistant.Message),
		runs:    make(map[string]*fakeRun),
	}
}

// Enqueue appends scripts for the next runs.
func (f *Fake) Enqueue(scripts ...Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, scripts...)
}

// next returns a fresh id and a strictly increasing timestamp.
func (f *Fake) next(prefix string) (string, time.Time) {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq), f.base.Add(time.Duration(f.seq) * time.Second)
}

// CreateThread implements assistant.Service.
func (f *Fake) CreateThread(ctx context.Context) (assistant.Thread, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Thread{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateThreadErr != nil {
		return assistant.Thread{}, f.CreateThreadErr
	}
	id, at := f.next("thread")
	f.threads[id] = nil
	return assistant.Thread{ID: id, CreatedAt: at}, nil
}

// PostMessage implements assistant.Service.
func (f *Fake) PostMessage(ctx context.Context, threadID string, role assistant.Role, content string) (assistant.Message, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PostMessageErr != nil {
		return assistant.Message{}, f.PostMessageErr
	}
	if _, ok := f.threads[threadID]; !ok {
		return assistant.Message{}, fmt.Errorf("%w: thread %s", assistant.ErrNotFound, threadID)
	}
	return f.appendMessage(threadID, role, content, ""), nil
}

func (f *Fake) appendMessage(threadID string, role assistant.Role, content, runID string) assistant.Message {
	id, at := f.next("msg")
	m := assistant.Message{ID: id, ThreadID: threadID, Role: role, Content: content, RunID: runID, CreatedAt: at}
	f.threads[threadID] = append(f.threads[threadID], m)
	return m
}

// CreateRun implements assistant.Service.
func (f *Fake) CreateRun(ctx context.Context, threadID string, req assistant.RunRequest) (assistant.Run, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Run{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateRunErr != nil {
		return assistant.Run{}, f.CreateRunErr
	}
	if _, ok := f.threads[threadID]; !ok {
		return assistant.Run{}, fmt.Errorf("%w: thread %s", assistant.ErrNotFound, threadID)
	}

	script := f.Default
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	if script == nil {
		script = Reply("ok")
	}

	id, at := f.next("run")
	fr := &fakeRun{
		run: assistant.Run{
			ID:          id,
			ThreadID:    threadID,
			AssistantID: req.AssistantID,
			Status:      assistant.StatusQueued,
			CreatedAt:   at,
		},
		script: script,
	}
	f.runs[id] = fr
	f.createdRuns = append(f.createdRuns, CreatedRun{ThreadID: threadID, Request: req})
	return fr.run, nil
}

// GetRun implements assistant.Service.
func (f *Fake) GetRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Run{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.GetRunErr != nil {
		return assistant.Run{}, f.GetRunErr
	}
	fr, ok := f.runs[runID]
	if !ok || fr.run.ThreadID != threadID {
		return assistant.Run{}, fmt.Errorf("%w: run %s", assistant.ErrNotFound, runID)
	}
	if fr.awaiting || fr.run.Status.Terminal() || fr.pos >= len(fr.script) {
		return fr.run, nil
	}

	step := fr.script[fr.pos]
	fr.pos++
	fr.run.Status = step.Status
	fr.run.LastError = step.Error
	fr.run.RequiredAction = nil
	switch step.Status {
	case assistant.StatusRequiresAction:
		fr.run.RequiredAction = slices.Clone(step.ToolCalls)
		fr.awaiting = true
	case assistant.StatusCompleted:
		if step.Reply != "" {
			f.appendMessage(threadID, assistant.RoleAssistant, step.Reply, runID)
		}
	case assistant.StatusIncomplete:
		fr.run.Incomplete = "max_prompt_tokens"
	}
	return fr.run, nil
}

// SubmitToolOutputs implements assistant.Service. It rejects a batch that
// does not answer every pending call.
func (f *Fake) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) (assistant.Run, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Run{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return assistant.Run{}, f.SubmitErr
	}
	fr, ok := f.runs[runID]
	if !ok || fr.run.ThreadID != threadID {
		return assistant.Run{}, fmt.Errorf("%w: run %s", assistant.ErrNotFound, runID)
	}
	if !fr.awaiting {
		return assistant.Run{}, fmt.Errorf("run %s is not waiting for tool outputs", runID)
	}
	for _, call := range fr.run.RequiredAction {
		if !slices.ContainsFunc(outputs, func(o assistant.ToolOutput) bool { return o.ToolCallID == call.ID }) {
			return assistant.Run{}, fmt.Errorf("missing output for tool call %s", call.ID)
		}
	}

	f.submissions = append(f.submissions, Submission{ThreadID: threadID, RunID: runID, Outputs: slices.Clone(outputs)})
	fr.awaiting = false
	fr.run.RequiredAction = nil
	fr.run.Status = assistant.StatusQueued
	return fr.run, nil
}

// ListMessages implements assistant.Service.
func (f *Fake) ListMessages(ctx context.Context, threadID string, opts assistant.ListOptions) ([]assistant.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	msgs, ok := f.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: thread %s", assistant.ErrNotFound, threadID)
	}

	out := make([]assistant.Message, 0, len(msgs))
	for _, m := range msgs {
		if opts.RunID == "" || m.RunID == opts.RunID {
			out = append(out, m)
		}
	}
	if opts.Order != "asc" {
		slices.Reverse(out)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// CancelRun implements assistant.Canceler.
func (f *Fake) CancelRun(_ context.Context, threadID, runID string) (assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.runs[runID]
	if !ok || fr.run.ThreadID != threadID {
		return assistant.Run{}, fmt.Errorf("%w: run %s", assistant.ErrNotFound, runID)
	}
	fr.run.Status = assistant.StatusCancelled
	fr.awaiting = false
	f.cancelled = append(f.cancelled, runID)
	return fr.run, nil
}

// Messages returns the messages of a thread, oldest first.
func (f *Fake) Messages(threadID string) []assistant.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.threads[threadID])
}

// Threads returns the number of threads created.
func (f *Fake) Threads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.threads)
}

// Submissions returns every SubmitToolOutputs call.
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.submissions)
}

// CreatedRuns returns every CreateRun call.
func (f *Fake) CreatedRuns() []CreatedRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.createdRuns)
}

// Cancelled returns the ids of cancelled runs.
func (f *Fake) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.cancelled)
}

// Polls returns how many times GetRun was called.
func (f *Fake) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}
