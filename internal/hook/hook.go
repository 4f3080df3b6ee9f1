// Package hook lets components observe and intercept conversation
// messages. Hooks run at three positions: before a user message is
// processed, before the reply is recorded, and after it has been saved.
package hook

import (
	"context"
	"log/slog"
)

// Position identifies where in the exchange a hook executes.
type Position string

const (
	// BeforeProcess runs once the conversation is loaded, before the user
	// message is recorded. Hooks here can drop the message.
	BeforeProcess Position = "before_process"

	// BeforeReply runs after the run, before the reply is recorded.
	// Hooks here can rewrite the reply text.
	BeforeReply Position = "before_reply"

	// AfterReply runs once the conversation is saved. Errors are logged,
	// never propagated.
	AfterReply Position = "after_reply"
)

// Action signals the pipeline what to do after a hook executes.
type Action int

const (
	// ActionContinue tells the pipeline to proceed normally.
	ActionContinue Action = iota

	// ActionDrop rejects the user message. Only valid for BeforeProcess.
	ActionDrop

	// ActionModify signals that the hook changed Reply.Text. Only
	// meaningful for BeforeReply.
	ActionModify
)

// Reply is the outcome of the run as seen by hooks.
type Reply struct {
	Text      string
	Action    string
	ErrorCode string
	MessageID string
}

// Context carries one exchange through the three positions.
type Context struct {
	Position       Position
	ConversationID string
	ThreadID       string

	// Text is the user message.
	Text string

	// Reply is nil for BeforeProcess.
	Reply *Reply

	// RejectReason is reported to the caller when a hook drops the message.
	RejectReason string

	// Metadata is shared across positions.
	Metadata map[string]any

	Logger *slog.Logger
}

// Hook is the extension point interface for message interception.
type Hook interface {
	Position() Position

	// Priority determines execution order within a position.
	// Lower values run first.
	Priority() int

	Execute(ctx context.Context, hctx *Context) (Action, error)
}
