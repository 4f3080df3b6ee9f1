package hook

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// LengthLimit drops user messages longer than Max characters.
type LengthLimit struct {
	Max int
}

var _ Hook = (*LengthLimit)(nil)

// Position implements Hook.
func (LengthLimit) Position() Position { return BeforeProcess }

// Priority implements Hook.
func (LengthLimit) Priority() int { return 0 }

// Execute implements Hook.
func (l LengthLimit) Execute(_ context.Context, hctx *Context) (Action, error) {
	if n := utf8.RuneCountInString(hctx.Text); l.Max > 0 && n > l.Max {
		hctx.RejectReason = fmt.Sprintf("message is %d characters, the limit is %d", n, l.Max)
		return ActionDrop, nil
	}
	return ActionContinue, nil
}

// Redactor masks secrets in text.
type Redactor interface {
	Redact(s string) string
}

// RedactReply masks secrets in assistant replies before they are stored
// or returned.
type RedactReply struct {
	Redactor Redactor
}

var _ Hook = (*RedactReply)(nil)

// Position implements Hook.
func (RedactReply) Position() Position { return BeforeReply }

// Priority implements Hook.
func (RedactReply) Priority() int { return 0 }

// Execute implements Hook.
func (h RedactReply) Execute(_ context.Context, hctx *Context) (Action, error) {
	if hctx.Reply == nil || h.Redactor == nil {
		return ActionContinue, nil
	}
	redacted := h.Redactor.Redact(hctx.Reply.Text)
	if redacted == hctx.Reply.Text {
		return ActionContinue, nil
	}
	hctx.Reply.Text = redacted
	return ActionModify, nil
}
