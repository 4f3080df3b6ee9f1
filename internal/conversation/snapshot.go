package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Snapshot maps conversation ids to conversation documents.
type Snapshot map[string]*Conversation

// Snapshot copies every conversation.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	convs, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	snap := make(Snapshot, len(convs))
	for _, c := range convs {
		snap[c.ID] = c
	}
	return snap, nil
}

// Restore saves every conversation of snap, replacing conversations with
// the same id, and returns how many were restored.
func (m *Manager) Restore(ctx context.Context, snap Snapshot) (int, error) {
	n := 0
	for id, c := range snap {
		if c == nil {
			continue
		}
		c = c.Clone()
		if c.ID == "" {
			c.ID = id
		}
		if c.Context == nil {
			c.Context = make(map[string]string)
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = c.CreatedAt
		}
		if err := m.store.Save(ctx, c); err != nil {
			return n, fmt.Errorf("restore %s: %w", id, err)
		}
		n++
	}
	m.logger.Info("conversations restored", "count", n)
	return n, nil
}

// WriteTo encodes the snapshot as indented JSON.
func (s Snapshot) WriteTo(w io.Writer) (int64, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	n, err := w.Write(append(data, '\n'))
	return int64(n), err
}

// ReadSnapshot decodes a snapshot written by WriteTo.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// SaveSnapshotFile writes the current snapshot to path atomically.
func (m *Manager) SaveSnapshotFile(ctx context.Context, path string) (int, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.json")
	if err != nil {
		return 0, fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := snap.WriteTo(tmp); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("rename snapshot: %w", err)
	}
	return len(snap), nil
}

// LoadSnapshotFile restores the snapshot at path. A missing file restores
// nothing.
func (m *Manager) LoadSnapshotFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := ReadSnapshot(f)
	if err != nil {
		return 0, err
	}
	return m.Restore(ctx, snap)
}
