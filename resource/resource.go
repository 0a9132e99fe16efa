// Package resource implements the in-memory handle for one input URL
// (spec.md C6): fetch, validate, hash, expire. Grounded on
// original_source/net/instaweb/rewriter/resource.{h,cc} and
// original_source/net/instaweb/http/public/http_cache.h for the fetch
// outcome taxonomy, adapted into the teacher's callback-and-context idiom.
package resource

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rewritecache/core/httpcache"
	"github.com/rewritecache/core/pkg/models"
)

// LoadPolicy governs whether a load that turns out to be non-cacheable is
// still delivered to the caller (spec.md §4.6).
type LoadPolicy int

const (
	// ReportFailureIfNotCacheable surfaces a non-cacheable fetch as a
	// failure outcome rather than delivering the bytes.
	ReportFailureIfNotCacheable LoadPolicy = iota
	// LoadEvenIfNotCacheable delivers the bytes regardless of cacheability;
	// used for inputs that will be rewritten but never themselves cached.
	LoadEvenIfNotCacheable
)

// Fetcher is the external collaborator that performs a real HTTP fetch. The
// resource package never speaks HTTP itself (spec.md §1 Out of scope).
type Fetcher interface {
	Fetch(ctx context.Context, url string, conditional *ConditionalHeaders) (*FetchResult, error)
}

// ConditionalHeaders carries validators for a conditional refetch (spec.md
// §4.3 "Conditional refresh").
type ConditionalHeaders struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// FetchResult is what a Fetcher returns for one completed fetch attempt.
type FetchResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	NotModified bool // true on a 304 to a conditional request
}

// Resource is one input URL's in-memory handle, owned by a single rewrite
// session for the session's lifetime (spec.md §3 "Resource (C6)").
type Resource struct {
	URL string

	IsBackgroundFetch           bool
	RespectVary                 bool
	DisableRewriteOnNoTransform bool
	IsAuthorizedDomain          bool

	mu         sync.RWMutex
	loaded     bool
	outcome    models.FailureKind // FailureNone once loaded ok
	statusCode int
	header     http.Header
	rawBody    []byte
	uncompressed []byte
	uncompressedValid bool

	refs int32
}

// New creates an unloaded Resource for url.
func New(url string) *Resource {
	return &Resource{URL: url, header: make(http.Header)}
}

// LoadAsync fetches the resource (consulting cache via c3 first, falling
// back to fetcher) and invokes cb exactly once with the outcome. Once
// loaded, headers and bytes are immutable for the resource's lifetime
// (spec.md §3 invariant).
func (r *Resource) LoadAsync(ctx context.Context, c3 *httpcache.HTTPCache, fetcher Fetcher, fragment string, policy LoadPolicy, cb func(error)) {
	r.mu.RLock()
	alreadyLoaded := r.loaded
	r.mu.RUnlock()
	if alreadyLoaded {
		cb(nil)
		return
	}

	if isLocalFile(r.URL) {
		r.loadFromFileSystem(cb)
		return
	}

	c3.Find(ctx, r.URL, fragment, nil, func(res httpcache.FindResult) {
		switch res.Classification {
		case httpcache.Found:
			r.applyValue(res.Value.StatusCode, res.Value.Header, res.Value.Body, models.FailureNone)
			cb(nil)
		case httpcache.RecentFailure:
			r.applyFailure(res.FailureKind)
			if policy == LoadEvenIfNotCacheable {
				cb(nil)
				return
			}
			cb(fmt.Errorf("resource: %s: %w", r.URL, errRecentFailure(res.FailureKind)))
		default:
			r.fetchAndCache(ctx, c3, fetcher, fragment, policy, cb)
		}
	})
}

func (r *Resource) fetchAndCache(ctx context.Context, c3 *httpcache.HTTPCache, fetcher Fetcher, fragment string, policy LoadPolicy, cb func(error)) {
	fr, err := fetcher.Fetch(ctx, r.URL, nil)
	if err != nil {
		kind := models.FailureFetchOtherError
		var classified interface{ Kind() models.FailureKind }
		if errors.As(err, &classified) {
			kind = classified.Kind()
		}
		r.applyFailure(kind)
		c3.RememberFailure(r.URL, fragment, kind)
		if policy == LoadEvenIfNotCacheable {
			cb(nil)
			return
		}
		cb(fmt.Errorf("resource: fetch %s: %w", r.URL, err))
		return
	}

	kind, ok := classifyFetch(fr)
	if !ok {
		r.applyValue(fr.StatusCode, fr.Header, fr.Body, models.FailureNone)
		_ = c3.Put(ctx, r.URL, fragment, fr.StatusCode, fr.Header, fr.Body)
		cb(nil)
		return
	}

	c3.RememberFailure(r.URL, fragment, kind)
	if policy == LoadEvenIfNotCacheable {
		r.applyValue(fr.StatusCode, fr.Header, fr.Body, kind)
		cb(nil)
		return
	}
	r.applyFailure(kind)
	cb(fmt.Errorf("resource: %s: %w", r.URL, errRecentFailure(kind)))
}

// classifyFetch maps a raw fetch result onto the error-kind taxonomy of
// spec.md §7. ok=false means the fetch is a normal cacheable success.
func classifyFetch(fr *FetchResult) (models.FailureKind, bool) {
	if fr.StatusCode >= 400 && fr.StatusCode < 500 {
		return models.FailureFetch4xx, true
	}
	if fr.StatusCode >= 200 && fr.StatusCode < 300 {
		if len(fr.Body) == 0 {
			return models.FailureFetchEmpty, true
		}
		if cc := fr.Header.Get("Cache-Control"); isUncacheableControl(cc) {
			return models.FailureFetchUncacheable200, true
		}
		return models.FailureNone, false
	}
	if cc := fr.Header.Get("Cache-Control"); isUncacheableControl(cc) {
		return models.FailureFetchUncacheableErr, true
	}
	return models.FailureFetchOtherError, true
}

func isUncacheableControl(cc string) bool {
	cc = strings.ToLower(cc)
	return strings.Contains(cc, "no-store") || strings.Contains(cc, "private")
}

func errRecentFailure(kind models.FailureKind) error {
	return fmt.Errorf("recent failure: %d", models.StatusForFailure(kind))
}

func (r *Resource) applyValue(status int, header http.Header, body []byte, outcome models.FailureKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return
	}
	r.statusCode = status
	r.header = header.Clone()
	r.rawBody = body
	r.outcome = outcome
	r.loaded = true
}

func (r *Resource) applyFailure(kind models.FailureKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return
	}
	r.outcome = kind
	r.statusCode = models.StatusForFailure(kind)
	r.loaded = true
}

// IsValidAndCacheable holds iff status is 2xx AND not expired AND
// proxy-cacheable under the configured vary policy (spec.md §3).
func (r *Resource) IsValidAndCacheable(now time.Time, expiresAt time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded || r.outcome != models.FailureNone {
		return false
	}
	if r.statusCode < 200 || r.statusCode >= 300 {
		return false
	}
	if !expiresAt.IsZero() && now.After(expiresAt) {
		return false
	}
	if r.RespectVary && r.header.Get("Vary") != "" && r.header.Get("Vary") != "Accept-Encoding" {
		return false
	}
	return true
}

// IsSafeToRewrite returns true iff status is OK AND (cacheable OR
// rewriteUncacheable) AND no Cache-Control: no-transform AND no
// X-Sendfile/X-Accel-Redirect AND body non-empty. The reason accumulates a
// human-readable explanation (spec.md §4.6, §9 "Failure taxonomy over
// Booleans" — do not reduce to a bool).
func (r *Resource) IsSafeToRewrite(rewriteUncacheable bool, cacheable bool) (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var reasons []string
	safe := true

	if !r.loaded || r.statusCode < 200 || r.statusCode >= 300 {
		reasons = append(reasons, fmt.Sprintf("status %d is not OK", r.statusCode))
		safe = false
	}
	if !cacheable && !rewriteUncacheable {
		reasons = append(reasons, "not cacheable and rewrite_uncacheable_resources is false")
		safe = false
	}
	if cc := r.header.Get("Cache-Control"); strings.Contains(strings.ToLower(cc), "no-transform") {
		reasons = append(reasons, "Cache-Control: no-transform")
		safe = false
	}
	if r.header.Get("X-Sendfile") != "" || r.header.Get("X-Accel-Redirect") != "" {
		reasons = append(reasons, "delegated to X-Sendfile/X-Accel-Redirect")
		safe = false
	}
	if len(r.rawBody) == 0 {
		reasons = append(reasons, "empty body")
		safe = false
	}

	if safe {
		return true, ""
	}
	return false, strings.Join(reasons, "; ")
}

// ExtractUncompressedContents lazily gunzips the body if it's gzip-encoded,
// caching the result (spec.md §4.6). Non-gzipped bodies are returned as-is.
func (r *Resource) ExtractUncompressedContents() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.uncompressedValid {
		return r.uncompressed, nil
	}

	if !strings.Contains(strings.ToLower(r.header.Get("Content-Encoding")), "gzip") {
		r.uncompressed = r.rawBody
		r.uncompressedValid = true
		return r.uncompressed, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(r.rawBody))
	if err != nil {
		return nil, fmt.Errorf("resource: gunzip %s: %w", r.URL, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("resource: gunzip read %s: %w", r.URL, err)
	}
	r.uncompressed = out
	r.uncompressedValid = true
	return out, nil
}

// InputDescriptor is one entry of a partition's input list (spec.md §3).
type InputDescriptor struct {
	URL            string
	LastModifiedMs int64
	ExpirationMs   int64
	DateMs         int64
	ContentHash    *string // nil under the mixed-mode Open Question decision
}

// FillInPartitionInputInfo populates an InputDescriptor for C8, optionally
// recording a content hash (spec.md §4.6).
func (r *Resource) FillInPartitionInputInfo(includeHash bool, hashFn func([]byte) string) InputDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc := InputDescriptor{
		URL:            r.URL,
		LastModifiedMs: parseHTTPDateMs(r.header.Get("Last-Modified")),
		ExpirationMs:   parseHTTPDateMs(r.header.Get("Expires")),
		DateMs:         parseHTTPDateMs(r.header.Get("Date")),
	}
	if includeHash && hashFn != nil {
		h := hashFn(r.rawBody)
		desc.ContentHash = &h
	}
	return desc
}

func parseHTTPDateMs(v string) int64 {
	if v == "" {
		return 0
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// StatusCode, Header, and Body expose the loaded fields read-only.
func (r *Resource) StatusCode() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusCode
}

func (r *Resource) Header() http.Header {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.header.Clone()
}

func (r *Resource) Body() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rawBody
}

func isLocalFile(url string) bool {
	return strings.HasPrefix(url, "file://")
}

// loadFromFileSystem bypasses C3 entirely; local-file resources are
// revalidated by mtime on every use (spec.md §4.6).
func (r *Resource) loadFromFileSystem(cb func(error)) {
	path := strings.TrimPrefix(r.URL, "file://")
	info, err := os.Stat(path)
	if err != nil {
		r.applyFailure(models.FailureFetchOtherError)
		cb(fmt.Errorf("resource: stat %s: %w", path, err))
		return
	}

	body, err := os.ReadFile(path)
	if err != nil {
		r.applyFailure(models.FailureFetchOtherError)
		cb(fmt.Errorf("resource: read %s: %w", path, err))
		return
	}

	header := make(http.Header)
	header.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	r.applyValue(http.StatusOK, header, body, models.FailureNone)
	cb(nil)
}
