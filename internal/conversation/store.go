package conversation

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Store persists conversations. Implementations must not retain the
// pointers they are given or return shared state: the manager mutates the
// values it loads.
type Store interface {
	Save(ctx context.Context, c *Conversation) error
	// Load returns ErrConversationNotFound for unknown ids.
	Load(ctx context.Context, id string) (*Conversation, error)
	Delete(ctx context.Context, id string) error
	// List returns every conversation ordered by creation time.
	List(ctx context.Context) ([]*Conversation, error)
	// Prune deletes conversations last updated before the cutoff and
	// reports how many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*Conversation)}
}

// Save stores a copy of c.
func (s *MemoryStore) Save(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = c.Clone()
	return nil
}

// Load returns a copy of the stored conversation.
func (s *MemoryStore) Load(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c.Clone(), nil
}

// Delete removes a conversation. Unknown ids yield ErrConversationNotFound.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.convs, id)
	return nil
}

// List returns copies of every conversation, oldest first.
func (s *MemoryStore) List(_ context.Context) ([]*Conversation, error) {
	s.mu.RLock()
	out := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Conversation) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Prune removes conversations idle since before the cutoff.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, c := range s.convs {
		if c.UpdatedAt.Before(before) {
			delete(s.convs, id)
			pruned++
		}
	}
	return pruned, nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}
