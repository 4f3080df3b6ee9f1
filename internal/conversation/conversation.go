// Package conversation owns per-user conversation state and drives each user
// message through the runner, recovering from context overflow by moving the
// conversation to a fresh thread.
package conversation

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// ErrConversationNotFound is returned for unknown conversation ids.
var ErrConversationNotFound = errors.New("conversation not found")

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Context keys maintained by the manager.
const (
	ContextThreadID         = "thread_id"
	ContextPreviousThreadID = "previous_thread_id"
)

// Message is one entry of a conversation's append-only history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// Conversation is the locally held state of one user conversation.
type Conversation struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Messages  []Message         `json:"messages"`
	Context   map[string]string `json:"context"`
	Entities  []string          `json:"entities,omitempty"`
	Insights  []string          `json:"insights,omitempty"`
}

// ThreadID returns the remote thread the conversation is bound to.
func (c *Conversation) ThreadID() string {
	return c.Context[ContextThreadID]
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = slices.Clone(c.Messages)
	cp.Context = maps.Clone(c.Context)
	cp.Entities = slices.Clone(c.Entities)
	cp.Insights = slices.Clone(c.Insights)
	return &cp
}

func (c *Conversation) setContext(key, value string) {
	if c.Context == nil {
		c.Context = make(map[string]string)
	}
	c.Context[key] = value
}

func (c *Conversation) append(m Message) Message {
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = m.CreatedAt
	return m
}

// Actions reported in a Response.
const (
	ActionText  = "text"
	ActionError = "error"
)

// Response is the outcome of processing one user message.
type Response struct {
	ConversationID string    `json:"conversation_id"`
	Response       string    `json:"response"`
	Action         string    `json:"action"`
	MessageID      string    `json:"message_id,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Refresh statuses.
const (
	RefreshSuccess = "success"
	RefreshError   = "error"
)

// RefreshResult reports a manual context refresh.
type RefreshResult struct {
	ConversationID string `json:"conversation_id"`
	NewThreadID    string `json:"new_thread_id,omitempty"`
	OldThreadID    string `json:"old_thread_id"`
	Summary        string `json:"summary,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}
