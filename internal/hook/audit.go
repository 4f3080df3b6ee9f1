package hook

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"sync"
	"time"
)

// AuditRecord is one JSON Lines entry written by AuditHook.
type AuditRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	ThreadID       string    `json:"thread_id"`
	UserText       string    `json:"user_text"`
	ReplyText      string    `json:"reply_text"`
	Action         string    `json:"action"`
	ErrorCode      string    `json:"error_code,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
}

// AuditHook writes a JSON Lines record for every completed exchange.
// It runs last among AfterReply hooks.
type AuditHook struct {
	writer io.Writer
	mu     sync.Mutex
	now    func() time.Time
}

// NewAuditHook creates an audit hook that writes JSON Lines to w.
func NewAuditHook(w io.Writer) *AuditHook {
	return &AuditHook{writer: w, now: time.Now}
}

var _ Hook = (*AuditHook)(nil)

// Position implements Hook.
func (a *AuditHook) Position() Position { return AfterReply }

// Priority implements Hook.
func (a *AuditHook) Priority() int { return math.MaxInt }

// Execute implements Hook.
func (a *AuditHook) Execute(_ context.Context, hctx *Context) (Action, error) {
	record := AuditRecord{
		Timestamp:      a.now(),
		ConversationID: hctx.ConversationID,
		ThreadID:       hctx.ThreadID,
		UserText:       hctx.Text,
	}
	if r := hctx.Reply; r != nil {
		record.ReplyText = r.Text
		record.Action = r.Action
		record.ErrorCode = r.ErrorCode
		record.MessageID = r.MessageID
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return ActionContinue, json.NewEncoder(a.writer).Encode(record)
}
