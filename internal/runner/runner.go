// Package runner drives one remote run to a terminal state. It answers tool
// calls through the tool registry, short-circuits repeated queries through
// the query cache and keeps every tool output under the token budget.
package runner

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/convoq/internal/assistant"
	"github.com/flemzord/convoq/internal/budget"
	"github.com/flemzord/convoq/internal/metrics"
	"github.com/flemzord/convoq/internal/querycache"
	"github.com/flemzord/convoq/internal/tool"
)

var tracer = otel.Tracer("github.com/flemzord/convoq/internal/runner")

// Default settings.
const (
	DefaultPollInterval = time.Second
	DefaultMaxWait      = 10 * time.Minute
	DefaultQueryTool    = "execute_query"
	DefaultParserTool   = "parse_question"
	DefaultMaxParallel  = 4

	// cancelTimeout bounds the best-effort cancel sent after a local
	// timeout or cancellation.
	cancelTimeout = 10 * time.Second
)

// Config controls how runs are created and awaited.
type Config struct {
	AssistantID  string
	Model        string
	Instructions string

	// PollInterval is the delay between run status polls.
	PollInterval time.Duration

	// MaxWait bounds the time spent waiting for one run. Negative disables
	// the bound.
	MaxWait time.Duration

	// QueryTool names the query executor tool, the only one whose results
	// go through the cache and the interaction recorder.
	QueryTool string

	// ParserTools name the tools whose output is compressed as parser
	// results. Nil means DefaultParserTool; an empty slice disables the
	// parser policy.
	ParserTools []string

	// PushTools sends the registry definitions with every run, overriding
	// the tools configured on the remote assistant.
	PushTools bool

	// ParallelTools dispatches the calls of one batch concurrently, at most
	// MaxParallel at a time. Outputs are still submitted together.
	ParallelTools bool
	MaxParallel   int
}

func (c Config) withDefaults() Config {
	c.PollInterval = cmp.Or(c.PollInterval, DefaultPollInterval)
	if c.MaxWait == 0 {
		c.MaxWait = DefaultMaxWait
	}
	c.QueryTool = cmp.Or(c.QueryTool, DefaultQueryTool)
	if c.ParserTools == nil {
		c.ParserTools = []string{DefaultParserTool}
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = DefaultMaxParallel
	}
	return c
}

// Option configures a Runner.
type Option func(*Runner)

// WithCache enables the query cache for the query executor tool.
func WithCache(c *querycache.Cache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithCompressor replaces the default budget compressor.
func WithCompressor(c *budget.Compressor) Option {
	return func(r *Runner) {
		if c != nil {
			r.compressor = c
		}
	}
}

// WithRecorder records query executor interactions.
func WithRecorder(rec InteractionRecorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner drives runs against one assistant service. It keeps no state
// between runs and may be shared by many conversations.
type Runner struct {
	svc        assistant.Service
	registry   *tool.Registry
	cfg        Config
	cache      *querycache.Cache
	compressor *budget.Compressor
	recorder   InteractionRecorder
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New creates a Runner.
func New(svc assistant.Service, registry *tool.Registry, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		svc:        svc,
		registry:   registry,
		cfg:        cfg.withDefaults(),
		compressor: budget.New(budget.DefaultLimits()),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "runner")
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// Request is one user turn to run on a thread.
type Request struct {
	ConversationID string
	ThreadID       string
	Text           string
}

// Result is the outcome of one run. Err is nil exactly when the run
// completed with an assistant response.
type Result struct {
	RunID     string
	Status    assistant.RunStatus
	Response  string
	MessageID string
	ToolCalls int
	Elapsed   time.Duration
	Err       *RunError
}

// Overflow reports whether the run failed because the context window was
// exhausted.
func (res Result) Overflow() bool {
	return res.Err != nil && res.Err.IsContextOverflow()
}

// Run posts req.Text to the thread, creates a run and waits for it to reach
// a terminal state. Failures are reported in Result.Err, never as a panic
// or an error return. Run blocks until then, or until ctx is done.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	ctx, span := tracer.Start(ctx, "runner.run", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("conversation.id", req.ConversationID),
		attribute.String("thread.id", req.ThreadID),
	)
	defer span.End()

	start := r.now()
	res := r.run(ctx, req)
	res.Elapsed = r.now().Sub(start)

	span.SetAttributes(
		attribute.String("run.id", res.RunID),
		attribute.String("run.status", string(res.Status)),
		attribute.Int("run.tool_calls", res.ToolCalls),
	)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
		r.logger.Warn("run failed",
			"conversation_id", req.ConversationID,
			"thread_id", req.ThreadID,
			"run_id", res.RunID,
			"status", res.Status,
			"code", res.Err.Code,
			"error", res.Err.Message,
		)
	} else {
		r.logger.Info("run completed",
			"conversation_id", req.ConversationID,
			"run_id", res.RunID,
			"tool_calls", res.ToolCalls,
			"elapsed", res.Elapsed,
		)
	}
	r.metrics.ObserveRun(string(res.Status), res.Elapsed)
	return res
}

func (r *Runner) run(ctx context.Context, req Request) Result {
	if _, err := r.svc.PostMessage(ctx, req.ThreadID, assistant.RoleUser, req.Text); err != nil {
		e := serviceError("post message", "", err)
		return Result{Status: e.Status, Err: e}
	}

	run, err := r.svc.CreateRun(ctx, req.ThreadID, r.runRequest())
	if err != nil {
		e := serviceError("create run", "", err)
		return Result{Status: e.Status, Err: e}
	}
	r.logger.Debug("run created", "thread_id", req.ThreadID, "run_id", run.ID)

	return r.await(ctx, req, run)
}

func (r *Runner) runRequest() assistant.RunRequest {
	rr := assistant.RunRequest{
		AssistantID:  r.cfg.AssistantID,
		Model:        r.cfg.Model,
		Instructions: r.cfg.Instructions,
	}
	if r.cfg.PushTools && r.registry != nil {
		for _, def := range r.registry.Definitions() {
			params, err := tool.RawSchema(def)
			if err != nil {
				r.logger.Warn("skipping tool definition", "tool", def.Name, "error", err)
				continue
			}
			rr.Tools = append(rr.Tools, assistant.FunctionDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			})
		}
	}
	return rr
}

// await polls run until it reaches a terminal state, answering every
// requires_action batch on the way.
func (r *Runner) await(ctx context.Context, req Request, run assistant.Run) Result {
	res := Result{RunID: run.ID}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if r.cfg.MaxWait > 0 {
		timer := time.NewTimer(r.cfg.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	answered := make(map[string]bool)
	for {
		res.Status = run.Status

		switch {
		case run.Status == assistant.StatusCompleted:
			return r.completed(ctx, req, run, res)

		case run.Status.Failed():
			res.Err = terminalError(run)
			return res

		case run.Status == assistant.StatusRequiresAction && !allAnswered(run.RequiredAction, answered):
			updated, n, err := r.answer(ctx, req, run)
			res.ToolCalls += n
			if err != nil {
				res.Err = serviceError("submit tool outputs", run.Status, err)
				res.Status = res.Err.Status
				return res
			}
			for _, call := range run.RequiredAction {
				answered[call.ID] = true
			}
			run = updated
			if run.ID == "" {
				run.ID = res.RunID
			}
			continue
		}

		select {
		case <-ctx.Done():
			r.cancel(req.ThreadID, run.ID)
			res.Err = serviceError("await run", "", ctx.Err())
			res.Status = res.Err.Status
			return res

		case <-deadline:
			r.cancel(req.ThreadID, run.ID)
			res.Status = assistant.StatusExpired
			res.Err = &RunError{
				Status:  assistant.StatusExpired,
				Code:    CodeTimeout,
				Message: "run did not finish within " + r.cfg.MaxWait.String(),
			}
			return res

		case <-ticker.C:
		}

		r.metrics.ObservePoll()
		next, err := r.svc.GetRun(ctx, req.ThreadID, run.ID)
		if err != nil {
			if assistant.IsRetryable(err) {
				r.logger.Warn("transient error polling run, retrying", "run_id", run.ID, "error", err)
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			res.Err = serviceError("get run", run.Status, err)
			res.Status = res.Err.Status
			return res
		}
		run = next
	}
}

// newestReply returns the newest assistant message belonging to run. An
// untagged message belongs to it when it is not older than the run.
func newestReply(msgs []assistant.Message, run assistant.Run) *assistant.Message {
	var newest *assistant.Message
	for i := range msgs {
		m := &msgs[i]
		if m.Role != assistant.RoleAssistant {
			continue
		}
		switch {
		case m.RunID == run.ID:
		case m.RunID == "" && !m.CreatedAt.Before(run.CreatedAt):
		default:
			continue
		}
		if newest == nil || m.CreatedAt.After(newest.CreatedAt) {
			newest = m
		}
	}
	return newest
}

func allAnswered(calls []assistant.ToolCall, answered map[string]bool) bool {
	for _, c := range calls {
		if !answered[c.ID] {
			return false
		}
	}
	return true
}

// completed extracts the reply the run wrote. Messages are looked up by run
// first; services that do not tag messages with their run fall back to the
// newest untagged assistant message posted after the run was created.
func (r *Runner) completed(ctx context.Context, req Request, run assistant.Run, res Result) Result {
	msgs, err := r.svc.ListMessages(ctx, req.ThreadID, assistant.ListOptions{Limit: 20, Order: "desc", RunID: run.ID})
	if err != nil {
		res.Err = serviceError("list messages", assistant.StatusCompleted, err)
		return res
	}
	newest := newestReply(msgs, run)
	if newest == nil {
		msgs, err = r.svc.ListMessages(ctx, req.ThreadID, assistant.ListOptions{Limit: 20, Order: "desc"})
		if err != nil {
			res.Err = serviceError("list messages", assistant.StatusCompleted, err)
			return res
		}
		newest = newestReply(msgs, run)
	}
	if newest == nil {
		res.Err = &RunError{
			Status:  assistant.StatusCompleted,
			Code:    CodeNoResponse,
			Message: "run completed without an assistant message",
		}
		return res
	}

	res.Response = newest.Content
	res.MessageID = newest.ID
	return res
}

// cancel asks the service to abort the run, if it can. It runs detached
// from the caller's context, which may already be done.
func (r *Runner) cancel(threadID, runID string) {
	c, ok := r.svc.(assistant.Canceler)
	if !ok || runID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if _, err := c.CancelRun(ctx, threadID, runID); err != nil && !errors.Is(err, assistant.ErrNotFound) {
		r.logger.Warn("failed to cancel run", "run_id", runID, "error", err)
	}
}
