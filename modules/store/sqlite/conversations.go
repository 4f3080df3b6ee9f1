package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/convoq/internal/conversation"
)

// Store implements conversation.Store and runner.InteractionRecorder.
type Store struct {
	db    *sql.DB
	codec *codec
}

// Close releases the database.
func (s *Store) Close() error {
	s.codec.close()
	return s.db.Close()
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Save replaces the stored conversation and its history.
func (s *Store) Save(ctx context.Context, c *conversation.Conversation) error {
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return fmt.Errorf("sqlite: marshal context: %w", err)
	}
	entities, _ := json.Marshal(c.Entities)
	insights, _ := json.Marshal(c.Insights)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, created_at, updated_at, context, entities, insights)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			context    = excluded.context,
			entities   = excluded.entities,
			insights   = excluded.insights`,
		c.ID, nanos(c.CreatedAt), nanos(c.UpdatedAt), string(ctxJSON), string(entities), string(insights),
	); err != nil {
		return fmt.Errorf("sqlite: save conversation: %w", err)
	}

	// History is append-only: only rows past the stored length are new.
	var stored int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE conversation_id = ?", c.ID).Scan(&stored); err != nil {
		return fmt.Errorf("sqlite: count messages: %w", err)
	}
	if stored > len(c.Messages) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ? AND seq >= ?", c.ID, len(c.Messages)); err != nil {
			return fmt.Errorf("sqlite: trim messages: %w", err)
		}
		stored = len(c.Messages)
	}
	if stored < len(c.Messages) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (conversation_id, seq, id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("sqlite: prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()
		for i := stored; i < len(c.Messages); i++ {
			m := c.Messages[i]
			if _, err := stmt.ExecContext(ctx, c.ID, i, m.ID, string(m.Role), m.Content, nanos(m.CreatedAt)); err != nil {
				return fmt.Errorf("sqlite: insert message: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Load implements conversation.Store.
func (s *Store) Load(ctx context.Context, id string) (*conversation.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, context, entities, insights
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversation.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadMessages(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*conversation.Conversation, error) {
	var (
		c                      conversation.Conversation
		created, updated       int64
		ctxJSON, ents, insghts string
	)
	if err := row.Scan(&c.ID, &created, &updated, &ctxJSON, &ents, &insghts); err != nil {
		return nil, err
	}
	c.CreatedAt, c.UpdatedAt = fromNanos(created), fromNanos(updated)
	if err := json.Unmarshal([]byte(ctxJSON), &c.Context); err != nil {
		return nil, fmt.Errorf("sqlite: decode context of %s: %w", c.ID, err)
	}
	_ = json.Unmarshal([]byte(ents), &c.Entities)
	_ = json.Unmarshal([]byte(insghts), &c.Insights)
	return &c, nil
}

func (s *Store) loadMessages(ctx context.Context, c *conversation.Conversation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY seq`, c.ID)
	if err != nil {
		return fmt.Errorf("sqlite: load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			m       conversation.Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &created); err != nil {
			return fmt.Errorf("sqlite: scan message: %w", err)
		}
		m.Role = conversation.Role(role)
		m.CreatedAt = fromNanos(created)
		c.Messages = append(c.Messages, m)
	}
	return rows.Err()
}

// Delete implements conversation.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("sqlite: delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conversation.ErrConversationNotFound
	}
	return tx.Commit()
}

// List implements conversation.Store.
func (s *Store) List(ctx context.Context) ([]*conversation.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at, context, entities, insights
		FROM conversations ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list conversations: %w", err)
	}
	var out []*conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Messages are read after the cursor closes: the pool has one connection.
	for _, c := range out {
		if err := s.loadMessages(ctx, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Prune implements conversation.Store.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := before.UnixNano()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE conversation_id IN
			(SELECT id FROM conversations WHERE updated_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("sqlite: prune messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}
