// Package models provides canonical data types shared across the cache,
// codec, and session packages.
package models

import (
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPValue is the canonical in-memory form of anything stored through the
// HTTP cache: response headers plus body, sharable by reference count so a
// single fetch can be handed to many waiting rewrites without copying the
// body.
type HTTPValue struct {
	Header http.Header
	Body   []byte

	// StatusCode is either a real HTTP status or one of the reserved
	// sentinel codes in FailureStatus* below.
	StatusCode int

	refs atomic.Int32
}

// NewHTTPValue wraps headers and a body with an initial reference count of 1.
func NewHTTPValue(status int, header http.Header, body []byte) *HTTPValue {
	v := &HTTPValue{StatusCode: status, Header: header, Body: body}
	v.refs.Store(1)
	return v
}

// Retain increments the reference count and returns the same value, for
// handing the same in-memory buffer to multiple concurrent waiters.
func (v *HTTPValue) Retain() *HTTPValue {
	v.refs.Add(1)
	return v
}

// Release decrements the reference count. Returns true if this was the last
// reference. Callers that reach zero may recycle the backing buffer.
func (v *HTTPValue) Release() bool {
	return v.refs.Add(-1) == 0
}

// Clone makes an independent deep copy safe for a caller who intends to
// mutate headers (e.g. to strip hop-by-hop headers before reuse).
func (v *HTTPValue) Clone() *HTTPValue {
	h := make(http.Header, len(v.Header))
	for k, vals := range v.Header {
		cp := make([]string, len(vals))
		copy(cp, vals)
		h[k] = cp
	}
	body := make([]byte, len(v.Body))
	copy(body, v.Body)
	return NewHTTPValue(v.StatusCode, h, body)
}

// Size approximates the in-memory footprint in bytes, used for cache
// accounting and max_cacheable_response_content_length enforcement.
func (v *HTTPValue) Size() int {
	size := len(v.Body)
	for k, vals := range v.Header {
		size += len(k)
		for _, val := range vals {
			size += len(val)
		}
	}
	return size
}

// Reserved status codes used to encode synthetic "remember failure"
// sentinel entries in the HTTP cache wire format. Kept out of the normal
// 1xx-5xx range so a real origin response can never collide with one.
const (
	FailureStatusFetchDropped        = 900
	FailureStatusFetch4xx            = 901
	FailureStatusFetchUncacheable200 = 902
	FailureStatusFetchUncacheableErr = 903
	FailureStatusFetchEmpty          = 904
	FailureStatusFetchOtherError     = 905
	FailureStatusNotCacheable        = 906
)

// FailureKind names the reason a fetch or rewrite did not succeed. These are
// memoized, never propagated as 5xx to the end user (spec.md §7).
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureFetchDropped
	FailureFetch4xx
	FailureFetchUncacheable200
	FailureFetchUncacheableErr
	FailureFetchEmpty
	FailureFetchOtherError
	FailureNotCacheable
)

// statusForFailure and failureForStatus translate between the FailureKind
// enum used by Go callers and the sentinel status codes used on the wire, so
// that callers never have to know the numeric sentinel values directly.
var statusForFailure = map[FailureKind]int{
	FailureFetchDropped:        FailureStatusFetchDropped,
	FailureFetch4xx:            FailureStatusFetch4xx,
	FailureFetchUncacheable200: FailureStatusFetchUncacheable200,
	FailureFetchUncacheableErr: FailureStatusFetchUncacheableErr,
	FailureFetchEmpty:          FailureStatusFetchEmpty,
	FailureFetchOtherError:     FailureStatusFetchOtherError,
	FailureNotCacheable:        FailureStatusNotCacheable,
}

var failureForStatus = func() map[int]FailureKind {
	m := make(map[int]FailureKind, len(statusForFailure))
	for k, v := range statusForFailure {
		m[v] = k
	}
	return m
}()

// StatusForFailure returns the sentinel HTTP status used to encode kind.
func StatusForFailure(kind FailureKind) int { return statusForFailure[kind] }

// FailureForStatus decodes a sentinel status back into a FailureKind. The
// second return is false if status is a normal HTTP status, not a sentinel.
func FailureForStatus(status int) (FailureKind, bool) {
	k, ok := failureForStatus[status]
	return k, ok
}

// RememberFailurePolicy is a table, indexed by FailureKind, of how long a
// remembered failure should suppress further attempts.
type RememberFailurePolicy struct {
	TTL map[FailureKind]time.Duration
}

// DefaultRememberFailurePolicy matches the defaults spec.md §4.3 documents:
// most fetch failures are remembered for five minutes; load-shedding is
// remembered only briefly so recovery testing isn't blocked for long.
func DefaultRememberFailurePolicy() RememberFailurePolicy {
	return RememberFailurePolicy{
		TTL: map[FailureKind]time.Duration{
			FailureFetchDropped:        10 * time.Second,
			FailureFetch4xx:            300 * time.Second,
			FailureFetchUncacheable200: 300 * time.Second,
			FailureFetchUncacheableErr: 300 * time.Second,
			FailureFetchEmpty:          300 * time.Second,
			FailureFetchOtherError:     300 * time.Second,
			FailureNotCacheable:        300 * time.Second,
		},
	}
}

// TTLFor returns the configured TTL for kind, or the fetch-other-error
// default if kind is not present in the table.
func (p RememberFailurePolicy) TTLFor(kind FailureKind) time.Duration {
	if ttl, ok := p.TTL[kind]; ok {
		return ttl
	}
	return 300 * time.Second
}
