// Package models provides the data types shared across the cache backends,
// the HTTP/metadata caches, and resource/fetch classification, so a value
// written by one package decodes identically when read back by another.
package models

import (
	"sync/atomic"
	"time"
)

// Entry is one stored cache value plus the bookkeeping the backends and
// eviction policies need: when it was written, when it was last read, its
// absolute expiry, and an atomic access counter for LRU/LFU-style backends.
// ExpiresAt is stored absolute (rather than a relative TTL) so it survives a
// round trip through backend/file.go's and backend/remote.go's wire
// encoding without needing CreatedAt re-derived on read.
type Entry struct {
	Key   string
	Value []byte

	CreatedAt  time.Time
	LastAccess time.Time
	ExpiresAt  time.Time // zero means the entry never expires

	AccessCount uint64 // atomic; use Touch/GetAccessCount
}

// NewEntry creates an entry stamped with the current time. A zero ttl means
// the entry never expires.
func NewEntry(key string, value []byte, ttl time.Duration) *Entry {
	now := time.Now()
	e := &Entry{
		Key:        key,
		Value:      value,
		CreatedAt:  now,
		LastAccess: now,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

// IsExpired reports whether the entry's ExpiresAt has passed as of now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Touch records an access: bumps LastAccess and atomically increments
// AccessCount. Safe for concurrent use alongside GetAccessCount.
func (e *Entry) Touch() {
	e.LastAccess = time.Now()
	atomic.AddUint64(&e.AccessCount, 1)
}

// GetAccessCount returns the current access count.
func (e *Entry) GetAccessCount() uint64 {
	return atomic.LoadUint64(&e.AccessCount)
}
