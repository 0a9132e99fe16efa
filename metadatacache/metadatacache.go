// Package metadatacache implements the rewrite-result memoization layer
// (spec.md C8): partitions keyed by a fingerprint of (inputs, options),
// validated against the HTTP cache before being served as a hit.
//
// Grounded on original_source/net/instaweb/rewriter/cached_result.proto's
// field shape (described in spec.md §6) and two_level_cache_test.cc for the
// staleness/fallthrough semantics, wired onto this module's own
// twolevel.TwoLevel and httpcache.HTTPCache rather than reimplementing
// either.
package metadatacache

import (
	"context"
	"fmt"
	"time"

	"github.com/rewritecache/core/backend"
	"github.com/rewritecache/core/httpcache"
	"github.com/rewritecache/core/namedlock"
	"github.com/rewritecache/core/pkg/codec"
	"github.com/rewritecache/core/pkg/hashing"
	"github.com/rewritecache/core/pkg/models"
	"github.com/rewritecache/core/resource"
	"github.com/rewritecache/core/twolevel"
)

// Partition is one fingerprint's recorded rewrite outcome (spec.md §3).
type Partition struct {
	Inputs      []resource.InputDescriptor `json:"inputs"`
	Outputs     []string                   `json:"outputs"`
	Optimizable bool                       `json:"optimizable"`
	// FilterSideData carries per-filter extensions the optimizer attaches;
	// opaque to this package (spec.md §6 "filter-specific extensions").
	FilterSideData map[string]string `json:"filter_side_data,omitempty"`
}

// Fingerprint computes the metadata-cache key for a rewrite: an ordered
// list of input URLs, the transformation id, the serialized options
// signature, and an optional user-agent bucket (spec.md §3).
func Fingerprint(hasher *hashing.Hasher, inputURLs []string, transformID, optionsSignature, uaBucket string) string {
	parts := make([]string, 0, len(inputURLs)+3)
	parts = append(parts, inputURLs...)
	parts = append(parts, transformID, optionsSignature, uaBucket)
	return hasher.Fingerprint(parts...)
}

// Config holds the metadata cache's own tunables, distinct from C3's.
type Config struct {
	StalenessThreshold time.Duration
	LockBlockFor       time.Duration
	LockBreakAfter     time.Duration
}

// DefaultConfig matches spec.md §4.4's "typical settings".
func DefaultConfig() Config {
	return Config{
		StalenessThreshold: 0,
		LockBlockFor:       5 * time.Second,
		LockBreakAfter:     30 * time.Second,
	}
}

// ValidateHash checks whether url's currently cached content still matches
// want (nil means the partition recorded no hash for this input, under the
// mixed-mode behavior spec.md §9's Open Question permits). Callers
// typically implement this against their own C3/C6 wiring.
type ValidateHash func(url string, want *string) (bool, error)

// BuildFunc performs the actual rewrite on a metadata-cache miss: load
// inputs, invoke the external optimizer, write outputs via C7, and return
// the resulting Partition.
type BuildFunc func(ctx context.Context) (*Partition, error)

// Cache is the metadata cache: a partition store backed by its own
// twolevel.TwoLevel (distinct from C3 — it stores structured records, not
// HTTP responses) plus the HTTP cache used to validate candidate hits.
type Cache struct {
	records *twolevel.TwoLevel
	c3      *httpcache.HTTPCache
	locks   *namedlock.Registry
	cfg     Config
}

// New constructs a metadata cache. records backs the partition store; c3 is
// retained for callers that want it (validation itself is delegated to the
// caller-supplied ValidateHash so this package doesn't need to know C6's
// shape).
func New(records *twolevel.TwoLevel, c3 *httpcache.HTTPCache, cfg Config) *Cache {
	return &Cache{records: records, c3: c3, locks: namedlock.NewRegistry(), cfg: cfg}
}

// LookupResult is returned by Lookup.
type LookupResult struct {
	Found     bool
	Stale     bool
	Partition *Partition
}

// Lookup resolves fingerprint to a partition (spec.md §4.8 read path):
// on hit, every input is validated via validateHash and its recorded
// expiration; if any input fails validation, the hit degrades to a miss
// unless StalenessThreshold is positive, in which case it is served stale.
// How long ago the partition went stale is not compared against
// StalenessThreshold, and no refresh is queued.
func (c *Cache) Lookup(ctx context.Context, fingerprint string, validateHash ValidateHash) (LookupResult, error) {
	outcome, err := c.get(ctx, fingerprint)
	if err != nil {
		return LookupResult{}, err
	}
	if !outcome.found {
		return LookupResult{Found: false}, nil
	}

	var p Partition
	if err := codec.Unmarshal(outcome.entry.Value, &p); err != nil {
		// Corrupted record degrades to a miss (spec.md §7).
		return LookupResult{Found: false}, nil
	}

	if c.validPartition(&p, validateHash) {
		return LookupResult{Found: true, Partition: &p}, nil
	}
	if c.cfg.StalenessThreshold > 0 {
		return LookupResult{Found: true, Stale: true, Partition: &p}, nil
	}
	return LookupResult{Found: false}, nil
}

func (c *Cache) validPartition(p *Partition, validateHash ValidateHash) bool {
	now := time.Now()
	for _, in := range p.Inputs {
		if in.URL == "" {
			continue
		}
		ok, err := validateHash(in.URL, in.ContentHash)
		if err != nil || !ok {
			return false
		}
		if in.ExpirationMs != 0 && now.After(time.UnixMilli(in.ExpirationMs)) {
			return false
		}
	}
	return true
}

type getOutcome struct {
	entry *models.Entry
	found bool
	err   error
}

func (c *Cache) get(ctx context.Context, fingerprint string) (getOutcome, error) {
	ch := make(chan getOutcome, 1)
	c.records.Get(ctx, fingerprint, func(res backend.Result) {
		ch <- getOutcome{entry: res.Entry, found: res.Found, err: res.Err}
	})
	outcome := <-ch
	if outcome.err != nil {
		return getOutcome{}, fmt.Errorf("metadatacache: lookup %s: %w", fingerprint, outcome.err)
	}
	return outcome, nil
}

// GetOrCreate resolves fingerprint, validating any hit, and on a full miss
// serializes builders via the creation lock before calling build exactly
// once per miss storm (spec.md §4.8 step 4, §4.4). A stale hit is returned
// immediately while a refresh runs in the background.
func (c *Cache) GetOrCreate(ctx context.Context, fingerprint string, validateHash ValidateHash, build BuildFunc) (*Partition, error) {
	res, err := c.Lookup(ctx, fingerprint, validateHash)
	if err != nil {
		return nil, err
	}
	if res.Found {
		if res.Stale {
			go c.refreshInBackground(fingerprint, validateHash, build)
		}
		return res.Partition, nil
	}

	var built *Partition
	var buildErr error
	acquired := c.locks.LockTimedWaitStealOld(fingerprint, c.cfg.LockBlockFor, c.cfg.LockBreakAfter, func() {
		// Re-check under lock: a racing builder may have already written
		// this fingerprint while we waited (spec.md invariant 5).
		if res, err := c.Lookup(ctx, fingerprint, validateHash); err == nil && res.Found && !res.Stale {
			built = res.Partition
			return
		}
		built, buildErr = build(ctx)
		if buildErr == nil && built != nil {
			buildErr = c.putPartition(ctx, fingerprint, built)
		}
	})
	if !acquired {
		return nil, fmt.Errorf("metadatacache: could not acquire creation lock for %s", fingerprint)
	}
	if buildErr != nil {
		return nil, buildErr
	}
	return built, nil
}

func (c *Cache) refreshInBackground(fingerprint string, validateHash ValidateHash, build BuildFunc) {
	ctx := context.Background()
	if !c.locks.TryLockStealOld(fingerprint, c.cfg.LockBreakAfter) {
		return // another refresh already in flight
	}
	defer c.locks.Unlock(fingerprint)

	p, err := build(ctx)
	if err != nil || p == nil {
		return
	}
	_ = c.putPartition(ctx, fingerprint, p)
}

func (c *Cache) putPartition(ctx context.Context, fingerprint string, p *Partition) error {
	raw, err := codec.Marshal(p)
	if err != nil {
		return fmt.Errorf("metadatacache: encode %s: %w", fingerprint, err)
	}

	// A not-optimizable memo lives as long as its inputs' own expiration,
	// not a fixed short TTL (spec.md §4.8 "Outcome encoding"); lacking a
	// per-input expiration at this layer, a generous backstop is used and
	// real expiration is enforced by validPartition on every read.
	ttl := 30 * 24 * time.Hour
	entry := models.NewEntry(fingerprint, raw, ttl)
	if err := c.records.Put(ctx, entry); err != nil {
		return fmt.Errorf("metadatacache: put %s: %w", fingerprint, err)
	}
	return nil
}
