package backend

import (
	"context"
	"fmt"

	"github.com/rewritecache/core/pkg/codec"
	"github.com/rewritecache/core/pkg/models"
)

// RemoteStore is the minimal synchronous contract a shared/network store
// (Redis, memcached, a shared-memory segment cache) must satisfy to be
// wrapped as a Backend. spec.md treats the concrete network client as an
// external collaborator; only the adapter boundary is implemented here, the
// same way C8/C3 are specified against C1 without naming a transport.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int64) error
	Delete(ctx context.Context, key string) error
}

// Remote adapts a RemoteStore to the Backend contract, handling the
// Entry<->[]byte envelope so callers above this layer never see the wire
// format. Get calls cb exactly once, synchronously, after RemoteStore.Get
// has returned.
type Remote struct {
	store RemoteStore
	name  string
}

// NewRemote wraps store, labeling it name for metrics/logging.
func NewRemote(name string, store RemoteStore) *Remote {
	return &Remote{store: store, name: name}
}

func (r *Remote) Name() string { return r.name }

func (r *Remote) Get(ctx context.Context, key string, cb Callback) {
	raw, found, err := r.store.Get(ctx, key)
	if err != nil {
		cb(Result{Err: fmt.Errorf("backend/remote(%s): get: %w", r.name, err)})
		return
	}
	if !found {
		cb(Result{Found: false})
		return
	}

	var entry models.Entry
	if err := codec.Unmarshal(raw, &entry); err != nil {
		// Corrupted remote entry: degrade to a silent miss, per spec.md §7.
		cb(Result{Found: false})
		return
	}
	cb(Result{Entry: &entry, Found: true})
}

func (r *Remote) Put(ctx context.Context, entry *models.Entry) error {
	raw, err := codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("backend/remote(%s): encode: %w", r.name, err)
	}

	var ttlSec int64
	if !entry.ExpiresAt.IsZero() {
		if d := entry.ExpiresAt.Sub(entry.CreatedAt); d > 0 {
			ttlSec = int64(d.Seconds())
		}
	}
	if err := r.store.Set(ctx, entry.Key, raw, ttlSec); err != nil {
		return fmt.Errorf("backend/remote(%s): set: %w", r.name, err)
	}
	return nil
}

func (r *Remote) Delete(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("backend/remote(%s): delete: %w", r.name, err)
	}
	return nil
}
