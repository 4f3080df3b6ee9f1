package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flemzord/convoq/internal/runner"
)

// Record implements runner.InteractionRecorder. Results are stored
// zstd-compressed.
func (s *Store) Record(ctx context.Context, in runner.Interaction) error {
	bindVars, err := json.Marshal(in.BindVars)
	if err != nil {
		return fmt.Errorf("sqlite: marshal bind vars: %w", err)
	}
	result, err := s.codec.marshal(in.Result)
	if err != nil {
		return fmt.Errorf("sqlite: encode result: %w", err)
	}
	recorded := in.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions (conversation_id, invocation_id, query_text, bind_vars, explained,
			success, from_cache, error, result, truncated, estimated_tokens, elapsed_ns, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ConversationID, in.InvocationID, in.Query, string(bindVars), in.Explain,
		in.Success, in.FromCache, in.Error, result, in.Truncated, in.EstimatedTokens,
		int64(in.Elapsed), recorded.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record interaction: %w", err)
	}
	return nil
}

// Recent implements runner.InteractionHistory, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]runner.Interaction, error) {
	return s.recent(ctx, "", n)
}

// ConversationInteractions returns up to n interactions of one
// conversation, newest first.
func (s *Store) ConversationInteractions(ctx context.Context, conversationID string, n int) ([]runner.Interaction, error) {
	return s.recent(ctx, conversationID, n)
}

// recent selects every conversation when conversationID is empty.
func (s *Store) recent(ctx context.Context, conversationID string, n int) ([]runner.Interaction, error) {
	if n <= 0 {
		n = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, invocation_id, query_text, bind_vars, explained, success, from_cache,
			error, result, truncated, estimated_tokens, elapsed_ns, recorded_at
		FROM interactions
		WHERE ? = '' OR conversation_id = ?
		ORDER BY id DESC LIMIT ?`, conversationID, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []runner.Interaction
	for rows.Next() {
		var (
			it       runner.Interaction
			bindVars string
			result   []byte
			elapsed  int64
			recorded int64
		)
		if err := rows.Scan(&it.ConversationID, &it.InvocationID, &it.Query, &bindVars, &it.Explain,
			&it.Success, &it.FromCache, &it.Error, &result, &it.Truncated, &it.EstimatedTokens,
			&elapsed, &recorded); err != nil {
			return nil, fmt.Errorf("sqlite: scan interaction: %w", err)
		}
		_ = json.Unmarshal([]byte(bindVars), &it.BindVars)
		if it.Result, err = s.codec.unmarshal(result); err != nil {
			return nil, fmt.Errorf("sqlite: decode result: %w", err)
		}
		it.Elapsed = time.Duration(elapsed)
		it.RecordedAt = fromNanos(recorded)
		out = append(out, it)
	}
	return out, rows.Err()
}
