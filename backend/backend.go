// Package backend defines the cache backend abstraction (spec.md C1): a
// single async contract implementations must honor so that the layers above
// (twolevel, httpcache, metadatacache) never need to know whether they're
// talking to an in-process LRU, a file cache, or a network store.
package backend

import (
	"context"

	"github.com/rewritecache/core/pkg/models"
)

// Result is delivered to a Get callback exactly once.
type Result struct {
	Entry *models.Entry
	Found bool
	Err   error
}

// Callback receives the result of an asynchronous Get. Implementations must
// invoke it exactly once, even on error, even if the context is canceled.
type Callback func(Result)

// Backend is the uniform async get/put/delete contract over heterogeneous
// stores (spec.md §4.1). Implementations must tolerate concurrent calls from
// arbitrary goroutines; no HTTP semantics live at this layer.
type Backend interface {
	// Get looks up key and invokes cb with the result. Get may invoke cb
	// synchronously (same goroutine) or asynchronously; callers must not
	// assume either.
	Get(ctx context.Context, key string, cb Callback)

	// Put stores entry under its own Key, overwriting any existing value.
	Put(ctx context.Context, entry *models.Entry) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the backend for logging and metrics labels.
	Name() string
}

// DeletePattern is an optional capability: backends that can enumerate their
// keyspace efficiently (e.g. an in-process map) may implement it so callers
// can invalidate by wildcard pattern without a full external scan. Backends
// that can't support it cheaply (most network caches) simply don't
// implement this interface; callers type-assert for it.
type PatternDeleter interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}
