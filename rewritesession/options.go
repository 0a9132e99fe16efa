// Package rewritesession implements the per-request rewrite context
// (spec.md C9): option derivation, pooled reuse, and in-flight resource
// tracking. Grounded on original_source/net/instaweb/rewriter/rewrite_query.cc
// for the query-options scanner and on the teacher's warming.WorkerPool for
// the pooled-reuse idiom (a free-list keyed by signature instead of a plain
// channel of workers).
package rewritesession

import (
	"fmt"
	"sort"
	"strings"
)

// Options is the copy-on-write per-request options object (spec.md §5
// "The options baseline is copy-on-write per session").
type Options struct {
	Flags        map[string]string
	DisabledFilters map[string]bool
}

// Clone makes an independent copy so overlaying per-request values never
// mutates the process-wide baseline.
func (o *Options) Clone() *Options {
	c := &Options{
		Flags:           make(map[string]string, len(o.Flags)),
		DisabledFilters: make(map[string]bool, len(o.DisabledFilters)),
	}
	for k, v := range o.Flags {
		c.Flags[k] = v
	}
	for k, v := range o.DisabledFilters {
		c.DisabledFilters[k] = v
	}
	return c
}

// Signature computes a stable string under which a session may be
// free-listed for pooled reuse: identical signatures imply identical
// filter chains (spec.md §4.9 "Pooled reuse"). Stable under reordering of
// options with identical values (spec.md §8 round-trip law).
func (o *Options) Signature() string {
	keys := make([]string, 0, len(o.Flags))
	for k := range o.Flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s;", k, o.Flags[k])
	}

	disabled := make([]string, 0, len(o.DisabledFilters))
	for k, v := range o.DisabledFilters {
		if v {
			disabled = append(disabled, k)
		}
	}
	sort.Strings(disabled)
	b.WriteString("disabled:")
	b.WriteString(strings.Join(disabled, ","))
	return b.String()
}

// pageSpeedQueryPrefix is the reserved query-parameter prefix the scanner
// recognizes (spec.md §4.9 step 3).
const pageSpeedQueryPrefix = "PageSpeed"

// allowedQueryKeys is the allow-list of recognized PageSpeed* query keys.
// Any key with the prefix that isn't on this list is an error, not
// silently ignored (spec.md §9 "Query-parameter-driven options").
var allowedQueryKeys = map[string]bool{
	"PageSpeedFilters":       true,
	"PageSpeedCssInlineMax":  true,
	"PageSpeedJsInlineMax":   true,
	"PageSpeedImageInlineMax": true,
}

// ErrInvalidRequestOptions is returned when an unrecognized PageSpeed* query
// key is present; per spec.md §7 this fails the whole request with a
// 4xx-class signal rather than silently ignoring the typo.
type ErrInvalidRequestOptions struct {
	Key string
}

func (e *ErrInvalidRequestOptions) Error() string {
	return fmt.Sprintf("rewritesession: unrecognized request option %q", e.Key)
}

// OverlayQueryParams overlays recognized PageSpeed* query parameters onto
// opts, returning an error if any unrecognized key with that prefix is
// present (spec.md §4.9 step 3).
func OverlayQueryParams(opts *Options, query map[string][]string) error {
	for key, values := range query {
		if !strings.HasPrefix(key, pageSpeedQueryPrefix) {
			continue
		}
		if !allowedQueryKeys[key] {
			return &ErrInvalidRequestOptions{Key: key}
		}
		if len(values) > 0 {
			opts.Flags[key] = values[0]
		}
	}
	return nil
}

// xhrFilters are disabled for XMLHttpRequest-flagged requests because
// inserted scripts would duplicate in AJAX responses (spec.md §4.9 step 4).
var xhrFilters = []string{
	"inline_javascript",
	"defer_javascript",
	"add_instrumentation",
}

// DisableXHRFilters disables the filters that insert JavaScript into the
// page, for requests flagged X-Requested-With: XMLHttpRequest.
func DisableXHRFilters(opts *Options) {
	for _, f := range xhrFilters {
		opts.DisabledFilters[f] = true
	}
}

// DeriveOptions runs the per-request option derivation pipeline (spec.md
// §4.9): baseline -> domain overlay -> query overlay -> XHR filter disable.
// Request headers are not overlaid, and no signature is computed here (see
// Options.Signature). domainOverlay may be nil.
func DeriveOptions(baseline *Options, domainOverlay map[string]string, query map[string][]string, isXHR bool) (*Options, error) {
	opts := baseline.Clone()

	for k, v := range domainOverlay {
		opts.Flags[k] = v
	}

	if err := OverlayQueryParams(opts, query); err != nil {
		return nil, err
	}

	if isXHR {
		DisableXHRFilters(opts)
	}

	return opts, nil
}
