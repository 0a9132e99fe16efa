package backend

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rewritecache/core/pkg/models"
	"github.com/rewritecache/core/pkg/utils"
)

// lruEntry is the internal ring-list node; Memory wraps a *models.Entry with
// the bookkeeping needed for O(1) LRU eviction.
type lruEntry struct {
	entry   *models.Entry
	element *list.Element
}

// Memory is a thread-safe in-process LRU+TTL backend, adapted from the
// teacher's cache-manager.L1Cache: a global RWMutex is preferred over
// sync.Map here because LRU ordering needs an ordered structure and atomic
// eviction across a sync.Map is awkward. Acceptable below roughly 100K
// ops/sec; shard across multiple Memory instances for higher loads.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]*lruEntry
	lru        *list.List
	maxEntries int
}

// NewMemory creates an in-process backend capped at maxEntries.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		entries:    make(map[string]*lruEntry, maxEntries),
		lru:        list.New(),
		maxEntries: maxEntries,
	}
}

func (m *Memory) Name() string { return "memory" }

// Get looks up key, evicting it lazily first if it has expired. The
// callback is always invoked before Get returns: Memory never blocks on I/O,
// so there's no reason to defer delivery to another goroutine.
func (m *Memory) Get(_ context.Context, key string, cb Callback) {
	m.mu.RLock()
	le, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		cb(Result{Found: false})
		return
	}

	if le.entry.IsExpired(time.Now()) {
		m.mu.Lock()
		m.deleteLocked(key)
		m.mu.Unlock()
		cb(Result{Found: false})
		return
	}

	m.mu.Lock()
	m.lru.MoveToFront(le.element)
	m.mu.Unlock()

	le.entry.Touch()
	cb(Result{Entry: le.entry, Found: true})
}

// Put stores entry, evicting the least-recently-used entry if at capacity.
func (m *Memory) Put(_ context.Context, entry *models.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if le, exists := m.entries[entry.Key]; exists {
		le.entry = entry
		m.lru.MoveToFront(le.element)
		return nil
	}

	if m.maxEntries > 0 && m.lru.Len() >= m.maxEntries {
		m.evictOldestLocked()
	}

	le := &lruEntry{entry: entry}
	le.element = m.lru.PushFront(le)
	m.entries[entry.Key] = le
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(key)
	return nil
}

// DeletePattern removes every key matching pattern (exact, "prefix*"
// wildcard, or regex fallback via utils.MatchPattern), implementing the
// optional PatternDeleter capability. This is the backend the invalidation
// service's RegisterLocalBackend wires up, so explicit key/pattern
// invalidations evict from this process's L1 synchronously rather than
// waiting on the shared L2 to age the entry out.
func (m *Memory) DeletePattern(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	toDelete, err := utils.FilterKeys(pattern, keys)
	if err != nil {
		return 0, err
	}
	for _, key := range toDelete {
		m.deleteLocked(key)
	}
	return len(toDelete), nil
}

// CleanupExpired sweeps expired entries. Nothing in this module calls it on
// a schedule; the owner of the Memory decides when to run it.
func (m *Memory) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var expired []string
	for key, le := range m.entries {
		if le.entry.IsExpired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		m.deleteLocked(key)
	}
	return len(expired)
}

func (m *Memory) deleteLocked(key string) bool {
	le, ok := m.entries[key]
	if !ok {
		return false
	}
	m.lru.Remove(le.element)
	delete(m.entries, key)
	return true
}

func (m *Memory) evictOldestLocked() {
	oldest := m.lru.Back()
	if oldest == nil {
		return
	}
	le := oldest.Value.(*lruEntry)
	m.lru.Remove(oldest)
	delete(m.entries, le.entry.Key)
}

// Size returns the current entry count.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear empties the backend.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*lruEntry, m.maxEntries)
	m.lru = list.New()
}
