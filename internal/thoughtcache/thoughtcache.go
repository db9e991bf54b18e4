// Package thoughtcache is the in-process store of Gemini-family thought
// signatures (opaque reasoning artifacts keyed by tool_call id) that the
// thought-signature middleware consults on every request targeting a
// Gemini-family model, so the model's reasoning continuity survives a
// client that strips unknown tool_call fields when echoing them back.
// Grounded on the teacher's thoughtSigCache (internal/server/server.go),
// generalized from a single sync.Map keyed by tool-call id into a
// dual-indexed store (by tool-call id and by conversation id) with
// greatest-overlap retrieval, per spec §4.8.
package thoughtcache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultTTL is how long a stored entry remains retrievable.
const DefaultTTL = time.Hour

// DefaultMaxEntries bounds the cache before the overflow eviction kicks in.
const DefaultMaxEntries = 10_000

// Entry is one stored set of reasoning artifacts, immutable once created.
type Entry struct {
	id             string
	ToolCallIDs    []string
	Artifacts      map[string]string // tool_call_id -> opaque signature
	ConversationID string
	Timestamp      time.Time
}

// Cache is the thread-safe, TTL-bounded, dual-indexed store. All mutators
// and readers hold a single lock, per spec §4.8; entry sets are small so
// this stays O(|ids|) in practice.
type Cache struct {
	mu sync.Mutex

	entries        map[string]*Entry
	byToolCallID   map[string]map[string]struct{} // tool_call_id -> entry ids
	byConversation map[string]map[string]struct{} // conversation_id -> entry ids

	ttl        time.Duration
	maxEntries int
}

// New creates a Cache. ttl and maxEntries fall back to DefaultTTL /
// DefaultMaxEntries when zero.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:        make(map[string]*Entry),
		byToolCallID:   make(map[string]map[string]struct{}),
		byConversation: make(map[string]map[string]struct{}),
		ttl:            ttl,
		maxEntries:     maxEntries,
	}
}

// Store records artifacts (tool_call_id -> signature) under toolCallIDs and,
// when non-empty, conversationID. Entries with no artifacts are ignored.
func (c *Cache) Store(artifacts map[string]string, toolCallIDs []string, conversationID string) {
	if len(artifacts) == 0 || len(toolCallIDs) == 0 {
		return
	}

	entry := &Entry{
		id:             ulid.Make().String(),
		ToolCallIDs:    append([]string(nil), toolCallIDs...),
		Artifacts:      artifacts,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[entry.id] = entry
	for _, id := range toolCallIDs {
		if c.byToolCallID[id] == nil {
			c.byToolCallID[id] = make(map[string]struct{})
		}
		c.byToolCallID[id][entry.id] = struct{}{}
	}
	if conversationID != "" {
		if c.byConversation[conversationID] == nil {
			c.byConversation[conversationID] = make(map[string]struct{})
		}
		c.byConversation[conversationID][entry.id] = struct{}{}
	}

	if len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

// Retrieve returns the artifacts of the best-matching entry for
// toolCallIDs, optionally scoped by conversationID. The candidate set is
// the union over toolCallIDs of index[id], intersected with
// index_by_conversation[conversationID] when conversationID is non-empty.
// Among candidates, the one with the greatest overlap with toolCallIDs
// wins; ties break by most recent timestamp (spec §4.8, P10).
func (c *Cache) Retrieve(toolCallIDs []string, conversationID string) (map[string]string, bool) {
	if len(toolCallIDs) == 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	candidates := make(map[string]struct{})
	for _, id := range toolCallIDs {
		for entryID := range c.byToolCallID[id] {
			candidates[entryID] = struct{}{}
		}
	}

	if conversationID != "" {
		scoped := c.byConversation[conversationID]
		for entryID := range candidates {
			if _, ok := scoped[entryID]; !ok {
				delete(candidates, entryID)
			}
		}
	}

	want := make(map[string]struct{}, len(toolCallIDs))
	for _, id := range toolCallIDs {
		want[id] = struct{}{}
	}

	var best *Entry
	var bestOverlap int
	for entryID := range candidates {
		entry, ok := c.entries[entryID]
		if !ok {
			continue
		}
		if now.After(entry.Timestamp.Add(c.ttl)) {
			continue // expired; left for the sweeper to clean up
		}

		overlap := 0
		for _, id := range entry.ToolCallIDs {
			if _, ok := want[id]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}

		switch {
		case best == nil:
			best, bestOverlap = entry, overlap
		case overlap > bestOverlap:
			best, bestOverlap = entry, overlap
		case overlap == bestOverlap && entry.Timestamp.After(best.Timestamp):
			best, bestOverlap = entry, overlap
		}
	}

	if best == nil {
		return nil, false
	}
	return best.Artifacts, true
}

// Sweep removes every entry past its TTL. Called periodically by
// StartSweeper, and safe to call directly (e.g. from tests).
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, entry := range c.entries {
		if now.After(entry.Timestamp.Add(c.ttl)) {
			c.removeLocked(id)
		}
	}
}

// StartSweeper runs Sweep on interval until ctx is cancelled. Intended to be
// launched once, in a goroutine, at startup.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// evictOldestLocked drops the oldest ~10% of entries by timestamp. Callers
// must hold c.mu.
func (c *Cache) evictOldestLocked() {
	n := len(c.entries) / 10
	if n == 0 {
		n = 1
	}

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return c.entries[ids[i]].Timestamp.Before(c.entries[ids[j]].Timestamp)
	})

	for _, id := range ids[:n] {
		c.removeLocked(id)
	}
}

// removeLocked deletes an entry and its index references. Callers must
// hold c.mu.
func (c *Cache) removeLocked(id string) {
	entry, ok := c.entries[id]
	if !ok {
		return
	}
	delete(c.entries, id)
	for _, tcID := range entry.ToolCallIDs {
		delete(c.byToolCallID[tcID], id)
		if len(c.byToolCallID[tcID]) == 0 {
			delete(c.byToolCallID, tcID)
		}
	}
	if entry.ConversationID != "" {
		delete(c.byConversation[entry.ConversationID], id)
		if len(c.byConversation[entry.ConversationID]) == 0 {
			delete(c.byConversation, entry.ConversationID)
		}
	}
}
