package rewritesession

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rewritecache/core/resource"
)

var tracer = otel.Tracer("github.com/rewritecache/core/rewritesession")

// Session is one inbound HTML request's rewrite context (spec.md §4.9). It
// carries a cloned Options, the request's parsed URL, and a refcounted map
// of Resource objects already created while parsing this request; the
// process-wide caches, fetchers, and option baseline are reached through
// the owning servercontext, never copied per session.
type Session struct {
	Options   *Options
	URL       *url.URL
	Deadline  time.Time

	mu        sync.Mutex
	resources map[string]*resource.Resource

	pooled bool // true if this session came from / returns to a free-list
}

// New creates an unmanaged session over requestURL with opts already
// derived (spec.md "Unmanaged. Tests and custom flows can create unpooled
// sessions that are explicitly released.").
func New(requestURL *url.URL, opts *Options, deadline time.Duration) *Session {
	return &Session{
		Options:   opts,
		URL:       requestURL,
		Deadline:  time.Now().Add(deadline),
		resources: make(map[string]*resource.Resource),
	}
}

// ResourceFor returns the Resource for rawURL, creating it the first time
// it's referenced during this session's parse (spec.md §4.9 "a refcounted
// map of Resource objects already created during this parse").
func (s *Session) ResourceFor(rawURL string) *resource.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.resources[rawURL]; ok {
		return r
	}
	r := resource.New(rawURL)
	s.resources[rawURL] = r
	return r
}

// DeadlineExceeded reports whether the session's rewrite deadline has
// already passed (spec.md §5 "Cancellation & timeouts").
func (s *Session) DeadlineExceeded() bool {
	return !s.Deadline.IsZero() && time.Now().After(s.Deadline)
}

// Context derives a context.Context bound to the session's deadline, for
// passing to blocking calls (cache gets, fetches, lock acquisition). The
// returned context carries an open "rewrite.session" span for the life of
// the request, so cache/fetch latency within one rewrite shows up as a
// single trace instead of being attributed only at the HTTP-server layer.
func (s *Session) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, span := tracer.Start(parent, "rewrite.session", trace.WithAttributes())

	var cancel context.CancelFunc
	if s.Deadline.IsZero() {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithDeadline(ctx, s.Deadline)
	}

	return ctx, func() {
		span.End()
		cancel()
	}
}

// reset clears per-request state so a pooled session can be reused without
// rebuilding its Options' filter chain (the Options themselves are
// replaced, not mutated, since a reused session may serve a different
// options-signature bucket on its next draw only if free-listed correctly
// by Pool).
func (s *Session) reset(opts *Options, requestURL *url.URL, deadline time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Options = opts
	s.URL = requestURL
	s.Deadline = time.Now().Add(deadline)
	for k := range s.resources {
		delete(s.resources, k)
	}
}
