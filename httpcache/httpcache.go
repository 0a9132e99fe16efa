// Package httpcache layers HTTP semantics on top of the two-level cache
// (spec.md C3): freshness, validators, failure memoization, ETag synthesis,
// and the global version-prefix invalidation epoch. No conditional refresh
// is performed: refetches carry no stored validators, and the
// conditionalRefresh counter is never incremented.
//
// Grounded on original_source/net/instaweb/http/public/http_cache.h's
// HTTPCache class (FindResultClassification, CompositeKey, FormatEtag, the
// failure_caching_ttl_sec table) and on the teacher's cache-manager.Service
// for the Prometheus counter wiring and structured-logging idiom.
package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rewritecache/core/backend"
	"github.com/rewritecache/core/pkg/codec"
	"github.com/rewritecache/core/pkg/models"
	"github.com/rewritecache/core/twolevel"
)

// Classification is the outcome of a Find call (spec.md §4.3).
type Classification int

const (
	NotFound Classification = iota
	Found
	RecentFailure
)

// FindResult is delivered to a Find callback exactly once.
type FindResult struct {
	Classification Classification
	Value          *models.HTTPValue
	FailureKind    models.FailureKind
	// Stale is true when the entry is returned as a fallback per the
	// staleness-threshold rule (spec.md §4.3 step 5): NotFound is still
	// reported as the Classification so a refresh is triggered, but Value
	// carries the stale body for the caller that opts to use it anyway.
	Stale bool
}

// FindOptions lets a caller veto or override freshness handling.
type FindOptions struct {
	// IsCacheValid checks a cache-invalidation timestamp against the
	// entry's creation time; returning false treats the entry as absent.
	IsCacheValid func(createdAt time.Time) bool
	// IsFresh allows proactive freshening independent of the stored
	// Expires; returning false treats an otherwise-fresh entry as expired.
	IsFresh func(expiresAt time.Time) bool
	// OverrideTTL, if set, replaces the entry's computed freshness window.
	OverrideTTL *time.Duration
}

// record is the wire envelope actually stored in C2: response headers,
// body, and the freshness metadata the HTTP layer needs but the generic
// backend doesn't know about.
type record struct {
	StatusCode   int         `json:"status_code"`
	Header       http.Header `json:"header"`
	Body         []byte      `json:"body"`
	FreshUntilMs int64       `json:"fresh_until_ms"`
	CreatedAtMs  int64       `json:"created_at_ms"`
}

// Config holds the runtime-tunable knobs spec.md §6 lists under
// "Configuration surface".
type Config struct {
	MaxCacheableResponseContentLength int64 // -1 = unlimited
	StalenessThreshold                time.Duration
	RespectVary                       bool
	ForceCaching                      bool
	DisableHTMLCachingOnHTTPS         bool
	RememberFailurePolicy             models.RememberFailurePolicy
	// BackendTTLPad is added on top of freshness when writing through to
	// C2, so a stale-but-within-threshold entry survives in the backend
	// long enough for the staleness-threshold fallback to find it.
	BackendTTLPad time.Duration
}

// DefaultConfig matches the defaults named throughout spec.md §4.3/§6.
func DefaultConfig() Config {
	return Config{
		MaxCacheableResponseContentLength: -1,
		StalenessThreshold:                0,
		RespectVary:                       true,
		RememberFailurePolicy:             models.DefaultRememberFailurePolicy(),
		BackendTTLPad:                     24 * time.Hour,
	}
}

// hopByHopPrefixes and hopByHopExact name the headers stripped on both the
// read and write paths; any such
// header present on a stored entry causes a synthetic MISS so a polluted
// entry self-heals (spec.md §4.3 step 3).
var hopByHopPrefixes = []string{"Set-Cookie"}
var hopByHopExact = map[string]bool{
	"Connection":        true,
	"Transfer-Encoding":  true,
	"Set-Cookie2":        true,
}

// HTTPCache is the process-wide HTTP-semantic cache.
type HTTPCache struct {
	c2  *twolevel.TwoLevel
	cfg Config

	versionPrefix atomic.Value // string

	mu sync.Mutex // guards nothing but documents counters are otherwise lock-free

	hits               atomic.Uint64
	misses             atomic.Uint64
	fallbacks          atomic.Uint64
	recentFailures     atomic.Uint64
	conditionalRefresh atomic.Uint64

	hitCounter  prometheus.Counter
	missCounter prometheus.Counter
}

// New constructs an HTTPCache over c2 with an initial version prefix of "0".
func New(c2 *twolevel.TwoLevel, cfg Config) *HTTPCache {
	h := &HTTPCache{c2: c2, cfg: cfg}
	h.versionPrefix.Store("0")
	h.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rewritecache_http_cache_hits_total",
		Help: "Total HTTP cache hits.",
	})
	h.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rewritecache_http_cache_misses_total",
		Help: "Total HTTP cache misses.",
	})
	return h
}

// SetVersionPrefix changes the global epoch; every prior entry becomes
// unreachable via Find (spec.md invariant 6), since the composite key is
// prefixed by it.
func (h *HTTPCache) SetVersionPrefix(prefix string) {
	h.versionPrefix.Store(prefix)
}

func (h *HTTPCache) versionPrefixString() string {
	return h.versionPrefix.Load().(string)
}

// compositeKey builds "version-prefix/fragment/origin-url" (spec.md §3).
// fragment defaults to "default" when empty, matching a caller that didn't
// supply a Host header.
func (h *HTTPCache) compositeKey(fragment, key string) string {
	if fragment == "" {
		fragment = "default"
	}
	return h.versionPrefixString() + "/" + fragment + "/" + key
}

// Find looks up key under fragment and invokes cb exactly once (spec.md
// §4.3 "Find").
func (h *HTTPCache) Find(ctx context.Context, key, fragment string, opts *FindOptions, cb func(FindResult)) {
	composite := h.compositeKey(fragment, key)

	h.c2.Get(ctx, composite, func(res backend.Result) {
		if res.Err != nil || !res.Found {
			h.recordMiss()
			cb(FindResult{Classification: NotFound})
			return
		}

		var rec record
		if err := codec.Unmarshal(res.Entry.Value, &rec); err != nil {
			// Corrupt entry degrades to a silent MISS (spec.md §7); the
			// next Put overwrites it.
			h.recordMiss()
			cb(FindResult{Classification: NotFound})
			return
		}

		clean, polluted := sanitizeHeader(rec.Header)
		if polluted {
			h.recordMiss()
			cb(FindResult{Classification: NotFound})
			return
		}

		if kind, ok := models.FailureForStatus(rec.StatusCode); ok {
			h.recentFailures.Add(1)
			cb(FindResult{Classification: RecentFailure, FailureKind: kind})
			return
		}

		now := time.Now()
		createdAt := time.UnixMilli(rec.CreatedAtMs)
		freshUntil := time.UnixMilli(rec.FreshUntilMs)

		if opts != nil && opts.IsCacheValid != nil && !opts.IsCacheValid(createdAt) {
			h.recordMiss()
			cb(FindResult{Classification: NotFound})
			return
		}
		if opts != nil && opts.OverrideTTL != nil {
			freshUntil = createdAt.Add(*opts.OverrideTTL)
		}
		if opts != nil && opts.IsFresh != nil && !opts.IsFresh(freshUntil) {
			h.recordMiss()
			cb(FindResult{Classification: NotFound})
			return
		}

		value := models.NewHTTPValue(rec.StatusCode, clean, rec.Body)

		if now.After(freshUntil) {
			age := now.Sub(freshUntil)
			if h.cfg.StalenessThreshold > 0 && age <= h.cfg.StalenessThreshold {
				h.fallbacks.Add(1)
				cb(FindResult{Classification: NotFound, Value: value, Stale: true})
				return
			}
			h.recordMiss()
			cb(FindResult{Classification: NotFound})
			return
		}

		h.recordHit()
		cb(FindResult{Classification: Found, Value: value})
	})
}

func (h *HTTPCache) recordMiss() {
	h.misses.Add(1)
	h.missCounter.Inc()
}

func (h *HTTPCache) recordHit() {
	h.hits.Add(1)
	h.hitCounter.Inc()
}

// MayCacheUrl rejects bad URL schemes, and rejects HTML-over-HTTPS when
// disabled by config (spec.md §4.3 "Put").
func (h *HTTPCache) MayCacheUrl(rawURL, contentType string) bool {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return false
	}
	if h.cfg.DisableHTMLCachingOnHTTPS && strings.HasPrefix(rawURL, "https://") && strings.Contains(strings.ToLower(contentType), "text/html") {
		return false
	}
	return true
}

// sanitizeHeader returns a copy of h without hop-by-hop and cookie headers
// and reports whether anything was stripped (spec.md §4.3 step 3 / "Put" sanitizer).
func sanitizeHeader(h http.Header) (clean http.Header, polluted bool) {
	out := make(http.Header, len(h))
	for k, v := range h {
		canon := http.CanonicalHeaderKey(k)
		if hopByHopExact[canon] {
			polluted = true
			continue
		}
		stripped := false
		for _, p := range hopByHopPrefixes {
			if strings.HasPrefix(canon, p) {
				stripped = true
				break
			}
		}
		if stripped {
			polluted = true
			continue
		}
		out[canon] = append([]string(nil), v...)
	}
	return out, polluted
}

// synthesizeETag implements spec.md §4.3: `W/"PSA-" + content-hash + "\""`.
func synthesizeETag(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf(`W/"PSA-%s"`, hex.EncodeToString(sum[:8]))
}

// Put writes value through to the cache under key/fragment, applying the
// rejection rules and header sanitization of spec.md §4.3.
func (h *HTTPCache) Put(ctx context.Context, key, fragment string, statusCode int, header http.Header, body []byte) error {
	contentType := header.Get("Content-Type")
	if !h.MayCacheUrl(key, contentType) && !h.cfg.ForceCaching {
		return fmt.Errorf("httpcache: %s is not cacheable per MayCacheUrl", key)
	}
	if h.cfg.MaxCacheableResponseContentLength >= 0 && int64(len(body)) > h.cfg.MaxCacheableResponseContentLength {
		return fmt.Errorf("httpcache: %s body %d bytes exceeds max_cacheable_response_content_length %d", key, len(body), h.cfg.MaxCacheableResponseContentLength)
	}

	clean, _ := sanitizeHeader(header)
	if clean.Get("ETag") == "" {
		clean.Set("ETag", synthesizeETag(body))
	}

	now := time.Now()
	freshFor := computeFreshness(clean, now)

	rec := record{
		StatusCode:   statusCode,
		Header:       clean,
		Body:         body,
		FreshUntilMs: now.Add(freshFor).UnixMilli(),
		CreatedAtMs:  now.UnixMilli(),
	}
	raw, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("httpcache: encode %s: %w", key, err)
	}

	backendTTL := freshFor + h.cfg.StalenessThreshold + h.cfg.BackendTTLPad
	entry := models.NewEntry(h.compositeKey(fragment, key), raw, backendTTL)
	if err := h.c2.Put(ctx, entry); err != nil {
		return fmt.Errorf("httpcache: put %s: %w", key, err)
	}
	return nil
}

// computeFreshness derives the max-age-equivalent duration from Cache-Control
// / Expires, defaulting to zero (must-revalidate) when neither is present.
func computeFreshness(h http.Header, now time.Time) time.Duration {
	if cc := h.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.TrimSpace(directive)
			if strings.HasPrefix(directive, "max-age=") {
				if secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil {
					return time.Duration(secs) * time.Second
				}
			}
			if directive == "no-cache" || directive == "no-store" {
				return 0
			}
		}
	}
	if exp := h.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}

// RememberFailure writes a sentinel entry with a kind-dependent TTL so
// subsequent Finds return RecentFailure until the window elapses (spec.md
// §4.3 "Remember-failure").
func (h *HTTPCache) RememberFailure(key, fragment string, kind models.FailureKind) {
	ttl := h.cfg.RememberFailurePolicy.TTLFor(kind)
	rec := record{
		StatusCode:  models.StatusForFailure(kind),
		Header:      make(http.Header),
		CreatedAtMs: time.Now().UnixMilli(),
	}
	raw, err := codec.Marshal(rec)
	if err != nil {
		return
	}
	entry := models.NewEntry(h.compositeKey(fragment, key), raw, ttl)
	_ = h.c2.Put(context.Background(), entry)
}
