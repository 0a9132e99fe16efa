// Package twolevel composes an L1 (small, fast, per-process) backend with an
// L2 (larger, shared) backend, promoting L2 hits into L1 on read and
// fanning writes out to both layers (spec.md C2).
//
// Grounded on the teacher's cache-manager.Service.fetchWithFallback /
// Service.Get, generalized from a single hardcoded L1+L2+origin chain into a
// reusable two-level composition any caller (httpcache, metadatacache) can
// wrap around its own pair of backend.Backend implementations.
package twolevel

import (
	"context"
	"fmt"
	"time"

	"github.com/rewritecache/core/backend"
	"github.com/rewritecache/core/namedlock"
	"github.com/rewritecache/core/pkg/models"
)

// ValidateCandidate lets a caller reject an L1 hit — typically because it
// fails a staleness check the backend itself doesn't know about — forcing a
// fall-through to L2. This is required for S4: a peer server's L2 refresh
// must be observable locally even while the local L1 still holds the old
// value (spec.md §4.2).
type ValidateCandidate func(entry *models.Entry) bool

// TwoLevel is the L1/L2 composition. L2 may be nil, in which case TwoLevel
// degrades to a thin pass-through over L1 (used for unit tests and for
// single-process deployments that opt out of an L2).
type TwoLevel struct {
	L1 backend.Backend
	L2 backend.Backend

	// Validate is consulted on every L1 hit before it is returned to the
	// caller. A nil Validate accepts every L1 hit unconditionally.
	Validate ValidateCandidate

	// promote serializes L1 promotion per key: spec.md §5 requires that
	// "the promoting caller is the one whose Get missed L1", i.e. at most
	// one promotion write per concurrent miss storm on the same key.
	promote *namedlock.Registry
}

// New composes l1 and l2. l2 may be nil.
func New(l1, l2 backend.Backend) *TwoLevel {
	return &TwoLevel{L1: l1, L2: l2, promote: namedlock.NewRegistry()}
}

// Get tries L1 first; on an L1 miss, or an L1 hit that Validate rejects, it
// falls through to L2 and promotes the result back into L1.
func (t *TwoLevel) Get(ctx context.Context, key string, cb backend.Callback) {
	t.L1.Get(ctx, key, func(res backend.Result) {
		if res.Found && (t.Validate == nil || t.Validate(res.Entry)) {
			cb(res)
			return
		}
		if t.L2 == nil {
			cb(backend.Result{Found: false})
			return
		}
		t.getFromL2AndPromote(ctx, key, cb)
	})
}

func (t *TwoLevel) getFromL2AndPromote(ctx context.Context, key string, cb backend.Callback) {
	t.L2.Get(ctx, key, func(res backend.Result) {
		if !res.Found || res.Err != nil {
			cb(res)
			return
		}

		// Only the caller that actually misses L1 performs the promotion
		// write; concurrent misses for the same key serialize on the lock
		// and the losers simply skip the redundant L1 write.
		if t.promote.TryLockStealOld(key, 5*time.Second) {
			_ = t.L1.Put(ctx, res.Entry)
			t.promote.Unlock(key)
		}
		cb(res)
	})
}

// Put writes synchronously into L1, then asynchronously into L2 (spec.md
// §4.2 "Writes: synchronously into L1, then asynchronously into L2").
func (t *TwoLevel) Put(ctx context.Context, entry *models.Entry) error {
	if err := t.L1.Put(ctx, entry); err != nil {
		return fmt.Errorf("twolevel: l1 put: %w", err)
	}
	if t.L2 != nil {
		go func() {
			_ = t.L2.Put(context.Background(), entry)
		}()
	}
	return nil
}

// Delete removes the key from both layers.
func (t *TwoLevel) Delete(ctx context.Context, key string) error {
	err1 := t.L1.Delete(ctx, key)
	var err2 error
	if t.L2 != nil {
		err2 = t.L2.Delete(ctx, key)
	}
	if err1 != nil {
		return fmt.Errorf("twolevel: l1 delete: %w", err1)
	}
	if err2 != nil {
		return fmt.Errorf("twolevel: l2 delete: %w", err2)
	}
	return nil
}
