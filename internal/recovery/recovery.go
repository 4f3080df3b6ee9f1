// Package recovery moves a conversation whose thread exhausted the model's
// context window onto a fresh thread seeded with a summary.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/flemzord/convoq/internal/assistant"
	"github.com/flemzord/convoq/internal/metrics"
	"github.com/flemzord/convoq/internal/runner"
)

var tracer = otel.Tracer("github.com/flemzord/convoq/internal/recovery")

// ErrRecoveryFailed is returned when no usable replacement thread could be
// prepared.
var ErrRecoveryFailed = errors.New("context recovery failed")

// Input is the conversation state recovery works from.
type Input struct {
	ConversationID string
	ThreadID       string
	Messages       []Message
}

// Outcome describes the thread switch. NewThreadID is set as soon as the
// replacement thread exists, even when a later step fails.
type Outcome struct {
	OldThreadID  string
	NewThreadID  string
	Summary      Summary
	Acknowledged bool
}

// Recoverer opens replacement threads.
type Recoverer struct {
	svc     assistant.Service
	runner  *runner.Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Recoverer. The runner drives the acknowledgement run.
func New(svc assistant.Service, r *runner.Runner, logger *slog.Logger, m *metrics.Metrics) *Recoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recoverer{
		svc:     svc,
		runner:  r,
		logger:  logger.With("component", "recovery"),
		metrics: m,
	}
}

// Recover summarises in.Messages, opens a new thread, posts the summary on
// it and lets the model acknowledge it. The acknowledgement itself is
// discarded. A failed acknowledgement run is logged but not fatal: the
// summary is already on the thread.
func (rc *Recoverer) Recover(ctx context.Context, in Input) (out Outcome, err error) {
	ctx, span := tracer.Start(ctx, "recovery.recover")
	span.SetAttributes(
		attribute.String("conversation.id", in.ConversationID),
		attribute.String("thread.old_id", in.ThreadID),
	)
	defer func() {
		span.SetAttributes(attribute.String("thread.new_id", out.NewThreadID))
		span.End()
		rc.metrics.ObserveRecovery(err == nil)
	}()

	out = Outcome{OldThreadID: in.ThreadID, Summary: Summarize(in.Messages)}

	th, err := rc.svc.CreateThread(ctx)
	if err != nil {
		return out, fmt.Errorf("%w: create thread: %w", ErrRecoveryFailed, err)
	}
	out.NewThreadID = th.ID

	res := rc.runner.Run(ctx, runner.Request{
		ConversationID: in.ConversationID,
		ThreadID:       th.ID,
		Text:           out.Summary.Text,
	})
	switch {
	case res.Err == nil:
		out.Acknowledged = true
	case res.RunID == "":
		// The summary never reached the thread.
		return out, fmt.Errorf("%w: seed thread: %w", ErrRecoveryFailed, res.Err)
	default:
		rc.logger.Warn("summary acknowledgement failed",
			"conversation_id", in.ConversationID,
			"thread_id", th.ID,
			"error", res.Err,
		)
	}

	rc.logger.Info("conversation moved to a new thread",
		"conversation_id", in.ConversationID,
		"old_thread_id", in.ThreadID,
		"new_thread_id", th.ID,
		"exchanges", len(out.Summary.Exchanges),
		"topics", len(out.Summary.Topics),
	)
	return out, nil
}
