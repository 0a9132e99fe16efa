package httpcache

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// GeneratedMaxAge is kGeneratedMaxAgeMs from the original source: the
// starting point for a freshly rewritten artifact's cache lifetime, before
// any input's stricter policy is folded in (spec.md §4.7 step 1).
const GeneratedMaxAge = 365 * 24 * time.Hour

// InputCacheControl describes one input's contribution to the merged
// cache-control computation.
type InputCacheControl struct {
	MaxAge  time.Duration
	Private bool
	NoStore bool
	NoCache bool
}

// ApplyInputCacheControl computes the merged Cache-Control for a rewritten
// output from its inputs (spec.md §4.7 step 1): start from GeneratedMaxAge;
// for each input take the stricter of {max-age, privacy}; private and
// no-store propagate; no-cache forces max-age=0.
func ApplyInputCacheControl(inputs []InputCacheControl) string {
	maxAge := GeneratedMaxAge
	private := false
	noStore := false
	noCache := false

	for _, in := range inputs {
		if in.MaxAge < maxAge {
			maxAge = in.MaxAge
		}
		private = private || in.Private
		noStore = noStore || in.NoStore
		noCache = noCache || in.NoCache
	}

	if noCache {
		maxAge = 0
	}

	var parts []string
	if noStore {
		parts = append(parts, "no-store")
	}
	if private {
		parts = append(parts, "private")
	} else {
		parts = append(parts, "public")
	}
	parts = append(parts, fmt.Sprintf("max-age=%d", int(maxAge.Seconds())))
	return strings.Join(parts, ", ")
}

// ParseInputCacheControl reads a response header into an InputCacheControl
// for use with ApplyInputCacheControl.
func ParseInputCacheControl(h http.Header) InputCacheControl {
	var in InputCacheControl
	in.MaxAge = GeneratedMaxAge
	cc := h.Get("Cache-Control")
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		switch {
		case directive == "private":
			in.Private = true
		case directive == "no-store":
			in.NoStore = true
		case directive == "no-cache":
			in.NoCache = true
		case strings.HasPrefix(directive, "max-age="):
			if secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil {
				in.MaxAge = time.Duration(secs) * time.Second
			}
		}
	}
	return in
}

// nonCachingBlocklist is the set of headers MergeNonCachingResponseHeaders
// must never emit, because the output-resource write path computes its own
// values for them (spec.md §4.7 step 2).
var nonCachingBlocklist = map[string]bool{
	"Cache-Control":     true,
	"Content-Encoding":  true,
	"Content-Length":    true,
	"Content-Type":      true,
	"Date":              true,
	"Etag":              true,
	"Expires":           true,
	"Last-Modified":     true,
	"Set-Cookie":        true,
	"Set-Cookie2":       true,
	"Transfer-Encoding": true,
	"Vary":              true,
}

// MergeNonCachingResponseHeaders copies every header from inputs into dest
// except those in nonCachingBlocklist (spec.md §4.7 step 2). It is
// idempotent: running it twice over the same inputs never changes the
// result (invariant 7), and it never emits a blocklisted header.
func MergeNonCachingResponseHeaders(dest http.Header, inputs []http.Header) {
	for _, in := range inputs {
		for k, values := range in {
			canon := http.CanonicalHeaderKey(k)
			if nonCachingBlocklist[canon] {
				continue
			}
			for _, v := range values {
				hasValue := false
				for _, existing := range dest[canon] {
					if existing == v {
						hasValue = true
						break
					}
				}
				if !hasValue {
					dest.Add(canon, v)
				}
			}
		}
	}
}
