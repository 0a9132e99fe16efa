package rewritesession

import (
	"net/url"
	"sync"
	"time"
)

// Pool is the free-list of pooled sessions, keyed by options-signature
// (spec.md §4.9 "Pooled reuse. When a session finishes, it is offered back
// to a free-list keyed by its options-signature. The next request wanting
// the same signature reuses it without rebuilding filter chains.").
//
// Grounded on the teacher's warming.WorkerPool, adapted from a fixed-size
// worker slice into a signature-bucketed free-list since sessions, unlike
// warming workers, are not interchangeable — only same-signature sessions
// may be reused for each other.
type Pool struct {
	mu      sync.Mutex
	buckets map[string][]*Session
	maxPerBucket int
}

// NewPool creates a pool that retains at most maxPerBucket idle sessions
// per distinct options-signature.
func NewPool(maxPerBucket int) *Pool {
	if maxPerBucket <= 0 {
		maxPerBucket = 32
	}
	return &Pool{buckets: make(map[string][]*Session), maxPerBucket: maxPerBucket}
}

// Acquire draws a session for opts/requestURL/deadline, reusing an idle one
// from the matching signature bucket if available.
func (p *Pool) Acquire(opts *Options, requestURL *url.URL, deadline time.Duration) *Session {
	sig := opts.Signature()

	p.mu.Lock()
	bucket := p.buckets[sig]
	var s *Session
	if len(bucket) > 0 {
		s = bucket[len(bucket)-1]
		p.buckets[sig] = bucket[:len(bucket)-1]
	}
	p.mu.Unlock()

	if s != nil {
		s.reset(opts, requestURL, deadline)
		return s
	}

	s = New(requestURL, opts, deadline)
	s.pooled = true
	return s
}

// Release returns s to its signature bucket for reuse by the next request
// with the same options-signature. Unmanaged sessions (pooled=false) are
// silently dropped rather than pooled, matching the teacher's
// distinction between managed workers and one-off callers.
func (p *Pool) Release(s *Session) {
	if !s.pooled {
		return
	}
	sig := s.Options.Signature()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buckets[sig]) >= p.maxPerBucket {
		return // drop; the GC reclaims it
	}
	p.buckets[sig] = append(p.buckets[sig], s)
}

// Size reports how many idle sessions are currently pooled across all
// buckets, for monitoring.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, b := range p.buckets {
		total += len(b)
	}
	return total
}
