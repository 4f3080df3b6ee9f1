package runner

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/convoq/internal/budget"
	"github.com/flemzord/convoq/internal/tool"
)

// Recording limits. Results estimated above RecordCeilingTokens (about
// 1 MB of JSON) are stored as a sample of RecordSampleSize rows.
const (
	RecordCeilingTokens = (1 << 20) / 4
	RecordSampleSize    = 10
)

// Interaction is one query executor call kept for history and reuse.
type Interaction struct {
	ConversationID string         `json:"conversation_id"`
	InvocationID   string         `json:"invocation_id"`
	Query          string         `json:"query"`
	BindVars       map[string]any `json:"bind_vars,omitempty"`
	Explain        bool           `json:"explain,omitempty"`
	Success        bool           `json:"success"`
	FromCache      bool           `json:"from_cache"`
	Error          string         `json:"error,omitempty"`

	// Result is the full tool result, or a sample when Truncated is set.
	Result          any           `json:"result,omitempty"`
	Truncated       bool          `json:"truncated,omitempty"`
	EstimatedTokens int           `json:"estimated_tokens"`
	Elapsed         time.Duration `json:"elapsed"`
	RecordedAt      time.Time     `json:"recorded_at"`
}

// InteractionRecorder persists query executor interactions.
type InteractionRecorder interface {
	Record(ctx context.Context, in Interaction) error
}

// InteractionHistory reads recorded interactions back. n <= 0 returns
// everything kept.
type InteractionHistory interface {
	Recent(ctx context.Context, n int) ([]Interaction, error)
}

// record builds the interaction for a query executor call and hands it to
// the recorder. Recorder failures are logged and otherwise ignored.
func (r *Runner) record(ctx context.Context, in tool.Input, out tool.Output, fromCache bool) {
	if r.recorder == nil {
		return
	}

	it := Interaction{
		ConversationID: in.ConversationID,
		InvocationID:   in.InvocationID,
		Query:          in.String("query"),
		BindVars:       in.Object("bind_vars"),
		Explain:        in.Bool("explain"),
		Success:        out.Success,
		FromCache:      fromCache,
		Error:          out.Error,
		Elapsed:        out.Elapsed,
		RecordedAt:     r.now(),
	}
	if out.Success {
		it.EstimatedTokens = budget.Estimate(out.Result)
		it.Result = out.Result
		if it.EstimatedTokens > RecordCeilingTokens {
			it.Result = sample(out.Result)
			it.Truncated = true
		}
	}

	if err := r.recorder.Record(ctx, it); err != nil {
		r.logger.Warn("failed to record query interaction", "invocation_id", in.InvocationID, "error", err)
	}
}

// sample keeps the first rows of an oversized result and its metadata.
func sample(result any) any {
	switch v := result.(type) {
	case map[string]any:
		meta := maps.Clone(v)
		rows, _ := v["results"].([]any)
		delete(meta, "results")
		delete(meta, "execution_plan")
		return map[string]any{
			"sample":        rows[:min(RecordSampleSize, len(rows))],
			"total_results": len(rows),
			"metadata":      meta,
		}
	case []any:
		return map[string]any{
			"sample":        v[:min(RecordSampleSize, len(v))],
			"total_results": len(v),
		}
	default:
		return map[string]any{"note": "result above recording ceiling"}
	}
}

// MemoryRecorder keeps the most recent interactions in memory.
type MemoryRecorder struct {
	mu    sync.Mutex
	limit int
	items []Interaction
}

// NewMemoryRecorder keeps at most limit interactions; limit <= 0 means 100.
func NewMemoryRecorder(limit int) *MemoryRecorder {
	if limit <= 0 {
		limit = 100
	}
	return &MemoryRecorder{limit: limit}
}

// Record implements InteractionRecorder.
func (m *MemoryRecorder) Record(_ context.Context, in Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, in)
	if over := len(m.items) - m.limit; over > 0 {
		m.items = slices.Delete(m.items, 0, over)
	}
	return nil
}

// Recent implements InteractionHistory, newest first.
func (m *MemoryRecorder) Recent(_ context.Context, n int) ([]Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.items)
	slices.Reverse(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
