// Package querycache memoises query executor results keyed by a fingerprint
// of the normalised query text and its bind variables.
//
// Entries expire lazily: a lookup that finds an entry at or past its TTL
// deletes it and reports a miss. Nothing sweeps in the background.
package querycache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultTTL is used when New is given a non-positive TTL.
const DefaultTTL = time.Hour

// Entry is one cached result.
type Entry struct {
	Fingerprint   string        `json:"fingerprint"`
	Result        any           `json:"result"`
	StoredAt      time.Time     `json:"stored_at"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
}

// Stats reports cache activity since creation.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

// Observer receives cache events; "hit", "miss" or "eviction".
type Observer func(event string)

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithObserver registers a cache event observer.
func WithObserver(obs Observer) Option {
	return func(c *Cache) { c.observe = obs }
}

// Cache is a mutex-guarded map of fingerprints to entries. Concurrent Put
// calls for the same key are last-writer-wins.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
	observe Observer
	stats   Stats
}

// New creates an empty cache.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time to live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Key returns the fingerprint of query and bindVars. Runs of whitespace in
// the query collapse to a single space and bind variables are encoded with
// sorted keys, so formatting and map order do not change the key.
func Key(query string, bindVars map[string]any) string {
	h := blake3.New()
	_, _ = h.Write([]byte(normalize(query)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(canonical(bindVars))
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// canonical encodes bind variables with sorted map keys at every level.
// encoding/json already sorts map keys; nil and empty maps encode the same.
func canonical(bindVars map[string]any) []byte {
	if len(bindVars) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(bindVars)
	if err != nil {
		return fmt.Appendf(nil, "%v", bindVars)
	}
	return data
}

// Get returns the cached entry for the query, if present and fresh.
func (c *Cache) Get(query string, bindVars map[string]any) (Entry, bool) {
	return c.GetKey(Key(query, bindVars))
}

// GetKey is Get with a precomputed fingerprint.
func (c *Cache) GetKey(key string) (Entry, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	event := "miss"
	switch {
	case !ok:
		c.stats.Misses++
	case c.now().Sub(e.StoredAt) >= c.ttl:
		delete(c.entries, key)
		c.stats.Evictions++
		c.stats.Misses++
		event = "eviction"
		ok = false
	default:
		c.stats.Hits++
		event = "hit"
	}
	obs := c.observe
	c.mu.Unlock()

	if obs != nil {
		obs(event)
		if event == "eviction" {
			obs("miss")
		}
	}
	if !ok {
		return Entry{}, false
	}
	return e, true
}

// Put stores result for the query, replacing any previous entry.
func (c *Cache) Put(query string, bindVars map[string]any, result any, executionTime time.Duration) Entry {
	key := Key(query, bindVars)
	c.mu.Lock()
	defer c.mu.Unlock()

	e := Entry{
		Fingerprint:   key,
		Result:        result,
		StoredAt:      c.now(),
		ExecutionTime: executionTime,
	}
	c.entries[key] = e
	return e
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge removes every entry and returns how many were dropped.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	clear(c.entries)
	return n
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}
