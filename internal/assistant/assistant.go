// Package assistant describes the remote thread/run conversation service the
// orchestrator drives. Concrete clients live in separate packages (e.g.
// assistant.openai) and typically also implement core.Module.
package assistant

import (
	"context"
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a remote run.
type RunStatus string

// Run statuses as reported by the service.
const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCancelling     RunStatus = "cancelling"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusCancelled      RunStatus = "cancelled"
	StatusExpired        RunStatus = "expired"
	StatusIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether no further transition can happen.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusIncomplete:
		return true
	}
	return false
}

// Failed reports whether s is a terminal state other than completed.
func (s RunStatus) Failed() bool {
	return s.Terminal() && s != StatusCompleted
}

// Role is the author of a thread message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Thread is a remote message history.
type Thread struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Message is one message of a thread.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolCall is a function invocation requested by the model mid-run.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Arguments is the raw JSON object emitted by the model.
	Arguments string `json:"arguments"`
}

// ToolOutput answers one ToolCall.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// FunctionDef declares a callable function to the model.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// LastError is the failure reported by the service for a run.
type LastError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is a snapshot of a remote run.
type Run struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	AssistantID string    `json:"assistant_id"`
	Status      RunStatus `json:"status"`

	// RequiredAction lists the pending tool calls when Status is
	// requires_action.
	RequiredAction []ToolCall `json:"required_action,omitempty"`
	LastError      *LastError `json:"last_error,omitempty"`
	Incomplete     string     `json:"incomplete_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RunRequest parameterises CreateRun.
type RunRequest struct {
	AssistantID  string        `json:"assistant_id"`
	Model        string        `json:"model,omitempty"`
	Instructions string        `json:"instructions,omitempty"`
	Tools        []FunctionDef `json:"tools,omitempty"`
}

// ListOptions filters ListMessages.
type ListOptions struct {
	Limit int
	// Order is "asc" or "desc"; services default to newest first.
	Order string
	RunID string
}

// Service is the remote conversation service.
type Service interface {
	CreateThread(ctx context.Context) (Thread, error)
	PostMessage(ctx context.Context, threadID string, role Role, content string) (Message, error)
	CreateRun(ctx context.Context, threadID string, req RunRequest) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error)
	ListMessages(ctx context.Context, threadID string, opts ListOptions) ([]Message, error)
}

// Canceler is implemented by services that can abort a run.
type Canceler interface {
	CancelRun(ctx context.Context, threadID, runID string) (Run, error)
}
