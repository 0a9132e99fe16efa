// Package servercontext implements the process-wide registry of C1-C8 plus
// the option baseline and hasher (spec.md C10). Grounded on the
// teacher's cache-manager.Service constructor (which wires an L1Cache, the
// remote tier, and the pub/sub subscriber into one struct) and on
// original_source/net/instaweb/rewriter/server_context.h's shutdown
// sequence (mark draining, bounded wait, forcible reclaim).
package servercontext

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewritecache/core/backend"
	"github.com/rewritecache/core/httpcache"
	"github.com/rewritecache/core/metadatacache"
	"github.com/rewritecache/core/namedlock"
	"github.com/rewritecache/core/pkg/hashing"
	"github.com/rewritecache/core/pkg/middleware"
	"github.com/rewritecache/core/resource"
	"github.com/rewritecache/core/rewritesession"
	"github.com/rewritecache/core/twolevel"
	"github.com/rewritecache/core/pkg/urlcodec"
)

// WorkerPoolName identifies one of the three scheduling lanes spec.md §5
// requires: "html", "rewrite", "low-priority rewrite".
type WorkerPoolName string

const (
	PoolHTML             WorkerPoolName = "html"
	PoolRewrite           WorkerPoolName = "rewrite"
	PoolLowPriorityRewrite WorkerPoolName = "low-priority-rewrite"
)

// laneQueue is a minimal bounded work queue for one scheduling lane. It is
// deliberately simpler than warming.WorkerPool (no retry/backoff — a
// rewrite that fails is memoized by C3/C8, never retried by the scheduler
// itself, per spec.md §7).
type laneQueue struct {
	tasks chan func(context.Context)
	stop  chan struct{}
	wg    sync.WaitGroup
}

func newLaneQueue(workers, queueDepth int) *laneQueue {
	lq := &laneQueue{tasks: make(chan func(context.Context), queueDepth), stop: make(chan struct{})}
	for i := 0; i < workers; i++ {
		lq.wg.Add(1)
		go lq.run()
	}
	return lq
}

func (lq *laneQueue) run() {
	defer lq.wg.Done()
	for {
		select {
		case <-lq.stop:
			// Run whatever was queued before the stop, then exit.
			for {
				select {
				case task := <-lq.tasks:
					task(context.Background())
				default:
					return
				}
			}
		case task := <-lq.tasks:
			task(context.Background())
		}
	}
}

// Submit enqueues task, returning false if the lane's queue is full
// (load-shedding point; callers map this to fetch-dropped where
// applicable).
func (lq *laneQueue) Submit(task func(context.Context)) bool {
	select {
	case lq.tasks <- task:
		return true
	default:
		return false
	}
}

func (lq *laneQueue) drain(timeout time.Duration) {
	close(lq.stop)
	done := make(chan struct{})
	go func() { lq.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Context is the process-wide registry (spec.md C10). It owns no
// request-scoped state; every field here is shared, internally
// thread-safe, and lives for the process's duration.
type Context struct {
	Baseline *rewritesession.Options
	Hasher   *hashing.Hasher
	Locks    *namedlock.Registry
	Codec    *urlcodec.Codec
	HTTPCache *httpcache.HTTPCache
	Metadata  *metadatacache.Cache
	Pool      *rewritesession.Pool

	Fetcher resource.Fetcher

	httpL1 backend.Backend
	metaL1 backend.Backend

	lanes map[WorkerPoolName]*laneQueue

	shuttingDown atomic.Bool
}

// Config bundles the construction-time knobs for New.
type Config struct {
	HTTPCacheConfig     httpcache.Config
	MetadataCacheConfig metadatacache.Config

	HTMLWorkers             int
	RewriteWorkers          int
	LowPriorityRewriteWorkers int
	LaneQueueDepth          int

	SessionPoolMaxPerSignature int

	// OriginFetchesPerSec/OriginFetchBurst bound how fast this process will
	// fetch from any single origin host (spec.md §4.3's origin-protection
	// requirement), enforced by middleware.RateLimitedFetcher ahead of the
	// coalescing layer.
	OriginFetchesPerSec float64
	OriginFetchBurst    int
}

// DefaultConfig returns sane defaults for a single-process deployment.
func DefaultConfig() Config {
	return Config{
		HTTPCacheConfig:            httpcache.DefaultConfig(),
		MetadataCacheConfig:        metadatacache.DefaultConfig(),
		HTMLWorkers:                4,
		RewriteWorkers:             8,
		LowPriorityRewriteWorkers:  2,
		LaneQueueDepth:             1000,
		SessionPoolMaxPerSignature: 32,
		OriginFetchesPerSec:        10,
		OriginFetchBurst:           20,
	}
}

// New assembles a Context over l1/l2 backends for the HTTP cache and
// l1/l2 backends for the metadata cache (kept separate per spec.md §4.8:
// "this cache is distinct from C3 — it stores structured records, not HTTP
// responses").
func New(cfg Config, httpL1, httpL2 backend.Backend, metaL1, metaL2 backend.Backend, fetcher resource.Fetcher, baseline *rewritesession.Options) *Context {
	httpC2 := twolevel.New(httpL1, httpL2)
	c3 := httpcache.New(httpC2, cfg.HTTPCacheConfig)

	metaC2 := twolevel.New(metaL1, metaL2)
	meta := metadatacache.New(metaC2, c3, cfg.MetadataCacheConfig)

	return &Context{
		Baseline:  baseline,
		Hasher:    hashing.NewHasher(),
		Locks:     namedlock.NewRegistry(),
		Codec:     urlcodec.New(),
		HTTPCache: c3,
		Metadata:  meta,
		Pool:      rewritesession.NewPool(cfg.SessionPoolMaxPerSignature),
		Fetcher:   resource.NewCoalescingFetcher(middleware.NewRateLimitedFetcher(fetcher, cfg.OriginFetchesPerSec, cfg.OriginFetchBurst)),
		httpL1:    httpL1,
		metaL1:    metaL1,
		lanes: map[WorkerPoolName]*laneQueue{
			PoolHTML:               newLaneQueue(cfg.HTMLWorkers, cfg.LaneQueueDepth),
			PoolRewrite:            newLaneQueue(cfg.RewriteWorkers, cfg.LaneQueueDepth),
			PoolLowPriorityRewrite: newLaneQueue(cfg.LowPriorityRewriteWorkers, cfg.LaneQueueDepth),
		},
	}
}

// localPatternDeleter is satisfied by backend.Memory; it is an alias of
// backend.PatternDeleter, so invalidation.Service.RegisterLocalBackend can be
// passed to WireInvalidation as is, without importing invalidation here
// (which would create an import cycle, since invalidation depends on
// backend, not servercontext).
type localPatternDeleter = backend.PatternDeleter

// WireInvalidation registers this context's L1 backends with register, so
// explicit key/pattern invalidations evict locally as well as broadcasting
// (spec.md §1: multi-node coherence is the shared L2's job; this only
// keeps each process's own L1 from serving something it was just told to
// forget). Backends that don't support pattern deletion are skipped.
func (c *Context) WireInvalidation(register func(localPatternDeleter)) {
	if pd, ok := c.httpL1.(localPatternDeleter); ok {
		register(pd)
	}
	if pd, ok := c.metaL1.(localPatternDeleter); ok {
		register(pd)
	}
}

// Submit enqueues task onto the named lane. Returns an error (rather than
// panicking) if the server is shutting down or the lane is at capacity —
// callers treat either as a load-shedding signal, never as a 5xx (spec.md
// §7 "no 5xx is synthesized").
func (c *Context) Submit(lane WorkerPoolName, task func(context.Context)) error {
	if c.shuttingDown.Load() {
		return fmt.Errorf("servercontext: shutting down, rejecting work on lane %s", lane)
	}
	lq, ok := c.lanes[lane]
	if !ok {
		return fmt.Errorf("servercontext: unknown lane %s", lane)
	}
	if !lq.Submit(task) {
		return fmt.Errorf("servercontext: lane %s queue is full", lane)
	}
	return nil
}

// Shutdown marks the context as draining, so Submit rejects new work, and
// waits up to drainTimeout for the lanes to finish the tasks already queued
// (spec.md §4.10 "Shutdown"). It then returns; lane work still running or
// queued at that point is not interrupted or reclaimed. It is safe to call
// at most once.
func (c *Context) Shutdown(drainTimeout time.Duration) {
	c.shuttingDown.Store(true)

	var wg sync.WaitGroup
	for _, lq := range c.lanes {
		wg.Add(1)
		go func(lq *laneQueue) {
			defer wg.Done()
			lq.drain(drainTimeout)
		}(lq)
	}
	wg.Wait()
}

// IsShuttingDown reports whether Shutdown has been called.
func (c *Context) IsShuttingDown() bool {
	return c.shuttingDown.Load()
}
