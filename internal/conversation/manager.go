package conversation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/flemzord/convoq/internal/assistant"
	"github.com/flemzord/convoq/internal/hook"
	"github.com/flemzord/convoq/internal/metrics"
	"github.com/flemzord/convoq/internal/recovery"
	"github.com/flemzord/convoq/internal/runner"
)

var tracer = otel.Tracer("github.com/flemzord/convoq/internal/conversation")

// CodeRecoveryFailed is reported when an overflowing conversation could not
// be moved to a new thread.
const CodeRecoveryFailed = "context_recovery_failed"

// CodeRejected is reported when a hook drops the user message.
const CodeRejected = "message_rejected"

// Config controls overflow handling.
type Config struct {
	// AutoRecover moves a conversation whose run overflowed the context
	// window to a new thread and retries the message there.
	AutoRecover bool `yaml:"auto_recover"`

	// MaxRecoveries bounds recoveries per message. Zero means 1.
	MaxRecoveries int `yaml:"max_recoveries"`
}

// DefaultConfig enables recovery with a single attempt per message.
func DefaultConfig() Config {
	return Config{AutoRecover: true, MaxRecoveries: 1}
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore replaces the default in-memory store.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithConfig sets the overflow handling policy.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records processed messages and recoveries.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithHooks runs p around every processed message.
func WithHooks(p *hook.Pipeline) Option {
	return func(m *Manager) { m.hooks = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns conversations. Messages of one conversation are processed
// one at a time; different conversations run concurrently.
type Manager struct {
	svc       assistant.Service
	runner    *runner.Runner
	recoverer *recovery.Recoverer
	store     Store
	lanes     *laneLock
	cfgMu     sync.RWMutex
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	hooks     *hook.Pipeline
	now       func() time.Time
}

// NewManager creates a manager driving runs through r on svc.
func NewManager(svc assistant.Service, r *runner.Runner, opts ...Option) *Manager {
	m := &Manager{
		svc:    svc,
		runner: r,
		store:  NewMemoryStore(),
		lanes:  newLaneLock(),
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg = normalize(m.cfg)
	m.recoverer = recovery.New(svc, r, m.logger, m.metrics)
	m.logger = m.logger.With("component", "conversation")
	return m
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// SetConfig replaces the overflow policy. Messages already running keep
// the policy they started with.
func (m *Manager) SetConfig(cfg Config) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.cfg = normalize(cfg)
}

// Config returns the current overflow policy.
func (m *Manager) Config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

func normalize(cfg Config) Config {
	if cfg.MaxRecoveries <= 0 {
		cfg.MaxRecoveries = 1
	}
	return cfg
}

// CreateConversation opens a remote thread and registers a new, empty
// conversation bound to it.
func (m *Manager) CreateConversation(ctx context.Context) (*Conversation, error) {
	ctx, span := tracer.Start(ctx, "conversation.create")
	defer span.End()

	th, err := m.svc.CreateThread(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create thread: %w", err)
	}

	now := m.now()
	c := &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Context:   map[string]string{ContextThreadID: th.ID},
	}
	if err := m.store.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	span.SetAttributes(attribute.String("conversation.id", c.ID))
	m.logger.Info("conversation created", "conversation_id", c.ID, "thread_id", th.ID)
	return c, nil
}

// ProcessMessage records text as a user message, runs it and records the
// reply. Run failures are reported in the Response with action "error" and
// appended to the history as a system message. The returned error is
// ErrConversationNotFound, a store failure, or the context's error when ctx
// ends before the run does.
func (m *Manager) ProcessMessage(ctx context.Context, id, text string) (resp Response, err error) {
	ctx, span := tracer.Start(ctx, "conversation.process_message")
	span.SetAttributes(attribute.String("conversation.id", id))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("response.action", resp.Action))
		}
		span.End()
	}()

	m.lanes.acquire(id)
	defer m.lanes.release(id)

	c, err := m.store.Load(ctx, id)
	if err != nil {
		return Response{}, err
	}

	hctx := &hook.Context{
		ConversationID: c.ID,
		ThreadID:       c.ThreadID(),
		Text:           text,
		Metadata:       make(map[string]any),
		Logger:         m.logger,
	}
	if m.hooks.RunBeforeProcess(ctx, hctx) == hook.ActionDrop {
		reason := cmp.Or(hctx.RejectReason, "message rejected")
		m.logger.Info("message rejected by hook", "conversation_id", c.ID, "reason", reason)
		m.metrics.ObserveMessage("rejected")
		return Response{
			ConversationID: c.ID,
			Response:       reason,
			Action:         ActionError,
			ErrorCode:      CodeRejected,
			Timestamp:      m.now(),
		}, nil
	}

	c.append(Message{ID: uuid.NewString(), Role: RoleUser, Content: text, CreatedAt: m.now()})

	res := m.runWithRecovery(ctx, c, text)

	if ctxErr := ctx.Err(); ctxErr != nil {
		// Keep the user message; the caller went away before a reply.
		if err := m.store.Save(context.WithoutCancel(ctx), c); err != nil {
			return Response{}, errors.Join(ctxErr, err)
		}
		return Response{}, ctxErr
	}

	now := m.now()
	reply := &hook.Reply{Action: ActionText, Text: res.Response, MessageID: res.MessageID}
	if res.Err != nil {
		reply = &hook.Reply{Action: ActionError, Text: res.Err.Message, ErrorCode: res.Err.Code}
	} else if reply.MessageID == "" {
		reply.MessageID = uuid.NewString()
	}
	hctx.ThreadID = c.ThreadID()
	hctx.Reply = reply
	m.hooks.RunBeforeReply(ctx, hctx)

	if reply.Action == ActionError {
		c.append(Message{ID: uuid.NewString(), Role: RoleSystem, Content: reply.Text, CreatedAt: now})
	} else {
		c.append(Message{ID: reply.MessageID, Role: RoleAssistant, Content: reply.Text, CreatedAt: now})
	}
	resp = Response{
		ConversationID: c.ID,
		Response:       reply.Text,
		Action:         reply.Action,
		MessageID:      reply.MessageID,
		ErrorCode:      reply.ErrorCode,
		Timestamp:      now,
	}

	if err := m.store.Save(ctx, c); err != nil {
		return Response{}, fmt.Errorf("save conversation: %w", err)
	}
	m.metrics.ObserveMessage(resp.Action)
	m.hooks.RunAfterReply(ctx, hctx)
	return resp, nil
}

// runWithRecovery runs text on the conversation's thread. When the run
// overflows the context window and recovery is enabled, the conversation
// moves to a fresh thread and the same text is retried.
func (m *Manager) runWithRecovery(ctx context.Context, c *Conversation, text string) runner.Result {
	threadID := c.ThreadID()
	if threadID == "" {
		th, err := m.svc.CreateThread(ctx)
		if err != nil {
			return runner.Result{
				Status: assistant.StatusFailed,
				Err: &runner.RunError{
					Status:  assistant.StatusFailed,
					Code:    runner.CodeServiceError,
					Message: fmt.Sprintf("create thread: %v", err),
					Err:     err,
				},
			}
		}
		threadID = th.ID
		c.setContext(ContextThreadID, threadID)
	}

	cfg := m.Config()
	res := m.runner.Run(ctx, runner.Request{ConversationID: c.ID, ThreadID: threadID, Text: text})
	for attempt := 0; res.Overflow() && cfg.AutoRecover && attempt < cfg.MaxRecoveries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		m.logger.Warn("context window exhausted, moving to a new thread",
			"conversation_id", c.ID,
			"thread_id", threadID,
			"attempt", attempt+1,
		)

		out, err := m.rotate(ctx, c)
		if err != nil {
			return runner.Result{
				Status: res.Status,
				Err: &runner.RunError{
					Status:  res.Status,
					Code:    CodeRecoveryFailed,
					Message: err.Error(),
					Err:     err,
				},
			}
		}
		threadID = out.NewThreadID
		res = m.runner.Run(ctx, runner.Request{ConversationID: c.ID, ThreadID: threadID, Text: text})
	}
	return res
}

// rotate moves c to a new thread. The thread switch is applied as soon as
// the replacement exists, even if seeding it failed.
func (m *Manager) rotate(ctx context.Context, c *Conversation) (recovery.Outcome, error) {
	msgs := make([]recovery.Message, len(c.Messages))
	for i, msg := range c.Messages {
		msgs[i] = recovery.Message{Role: string(msg.Role), Content: msg.Content, CreatedAt: msg.CreatedAt}
	}

	out, err := m.recoverer.Recover(ctx, recovery.Input{
		ConversationID: c.ID,
		ThreadID:       c.ThreadID(),
		Messages:       msgs,
	})
	if out.NewThreadID != "" {
		c.setContext(ContextPreviousThreadID, out.OldThreadID)
		c.setContext(ContextThreadID, out.NewThreadID)
		c.UpdatedAt = m.now()
	}
	return out, err
}

// RefreshContext moves a conversation to a new thread seeded with a summary
// of its history, without waiting for an overflow. Recovery failures are
// reported in the result; the error is ErrConversationNotFound or a store
// failure.
func (m *Manager) RefreshContext(ctx context.Context, id string) (RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "conversation.refresh_context")
	span.SetAttributes(attribute.String("conversation.id", id))
	defer span.End()

	m.lanes.acquire(id)
	defer m.lanes.release(id)

	c, err := m.store.Load(ctx, id)
	if err != nil {
		return RefreshResult{}, err
	}

	out, recErr := m.rotate(ctx, c)
	result := RefreshResult{
		ConversationID: id,
		OldThreadID:    out.OldThreadID,
		NewThreadID:    out.NewThreadID,
		Summary:        out.Summary.Text,
		Status:         RefreshSuccess,
	}
	if recErr != nil {
		span.SetStatus(codes.Error, recErr.Error())
		result.Status = RefreshError
		result.Error = recErr.Error()
	}
	if out.NewThreadID != "" {
		if err := m.store.Save(ctx, c); err != nil {
			return RefreshResult{}, fmt.Errorf("save conversation: %w", err)
		}
	}
	return result, nil
}

// Get returns a copy of the conversation.
func (m *Manager) Get(ctx context.Context, id string) (*Conversation, error) {
	return m.store.Load(ctx, id)
}

// List returns every conversation, oldest first.
func (m *Manager) List(ctx context.Context) ([]*Conversation, error) {
	return m.store.List(ctx)
}

// Delete forgets a conversation. The remote thread is left as is.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.lanes.acquire(id)
	defer m.lanes.release(id)

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("conversation deleted", "conversation_id", id)
	return nil
}

// Prune deletes conversations idle for longer than maxIdle.
func (m *Manager) Prune(ctx context.Context, maxIdle time.Duration) (int, error) {
	n, err := m.store.Prune(ctx, m.now().Add(-maxIdle))
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	if n > 0 {
		m.logger.Info("idle conversations pruned", "count", n, "max_idle", maxIdle)
	}
	return n, nil
}
