// Package urlcodec implements the bidirectional encoding between an origin
// URL plus rewrite metadata and a single, parseable output URL safe to cache
// at arbitrary downstream caches (spec.md C5).
//
// Grounded on original_source/net/instaweb/rewriter/resource_namer.h's
// ResourceNamer and url_namer.h's shard/origin/rewrite-map split; the Go
// shape follows the teacher's pkg/utils encoding helpers for struct<->string
// conversions and pkg/hashing.Ring for shard selection.
package urlcodec

import (
	"fmt"
	"strings"
)

// Separator constants: '.' joins the suffix chain, "pagespeed" is the
// reserved infix that marks a rewritten leaf, and '+' joins the component
// names of a multipart (combined) name.
const (
	pagespeedInfix = "pagespeed"
	extSeparator   = "."
	multipartJoin  = "+"
)

// ResourceNamer is the structured encoding of one optimized-resource leaf
// (spec.md §3): `name.pagespeed[.EXPT][.OPTS].id.hash[.sig].ext`.
type ResourceNamer struct {
	ID      string // 2-letter transformation code, e.g. "ce", "jm", "ii"
	Name    string // original leaf name, possibly a multipart-joined combination
	Hash    string // content hash of the rewritten bytes
	Ext     string // output extension, without the leading dot

	Experiment string // optional A/B experiment tag
	OptionsStub string // optional serialized-options stub (add_options_to_urls)
	Signature   string // optional options signature
}

// Encode renders the leaf string. Encoding is total and deterministic
// (spec.md §4.5): every field combination produces exactly one string.
func (n ResourceNamer) Encode() string {
	var b strings.Builder
	b.WriteString(n.Name)
	b.WriteString(extSeparator)
	b.WriteString(pagespeedInfix)
	if n.Experiment != "" {
		b.WriteString(extSeparator)
		b.WriteString(n.Experiment)
	}
	if n.OptionsStub != "" {
		b.WriteString(extSeparator)
		b.WriteString(n.OptionsStub)
	}
	b.WriteString(extSeparator)
	b.WriteString(n.ID)
	b.WriteString(extSeparator)
	b.WriteString(n.Hash)
	if n.Signature != "" {
		b.WriteString(extSeparator)
		b.WriteString(n.Signature)
	}
	b.WriteString(extSeparator)
	b.WriteString(n.Ext)
	return b.String()
}

// DecodeResourceNamer is the inverse of Encode. Decoding is total: any
// string not matching the grammar returns ok=false rather than an error, so
// callers can cheaply ask "is this even a pagespeed URL" (spec.md §4.5
// "Decoding is total").
//
// The grammar is ambiguous in the general case (optional segments share a
// separator with required ones), so decoding works from the outside in:
// strip `name`, `pagespeed`, `id`, `hash`, `ext` first (always present),
// then attribute leftover middle segments to experiment/options in the
// fixed order they were inserted, and any trailing segment after hash to
// signature.
func DecodeResourceNamer(leaf string) (ResourceNamer, bool) {
	parts := strings.Split(leaf, extSeparator)
	if len(parts) < 4 {
		return ResourceNamer{}, false
	}

	ext := parts[len(parts)-1]
	rest := parts[:len(parts)-1]

	pagespeedIdx := -1
	for i, p := range rest {
		if p == pagespeedInfix {
			pagespeedIdx = i
			break
		}
	}
	if pagespeedIdx < 0 || pagespeedIdx == 0 {
		return ResourceNamer{}, false
	}

	name := strings.Join(rest[:pagespeedIdx], extSeparator)
	after := rest[pagespeedIdx+1:]
	// after must be: [expt] [opts] id hash [sig] — id and hash are mandatory,
	// so after must have at least 2 elements.
	if len(after) < 2 {
		return ResourceNamer{}, false
	}

	n := ResourceNamer{Name: name, Ext: ext}

	// Walk from the end: the last 1-2 elements are hash and optional sig;
	// id is always immediately before hash.
	tail := after
	if len(tail) >= 3 {
		// Optional signature present only if more than the minimal 2
		// (id, hash) remain after consuming leading expt/opts; since we
		// don't know the split a priori, only trailing-signature detection
		// is safe when exactly one extra segment remains at this point.
	}

	// Minimal unambiguous case: id, hash are the last two before any sig.
	// We attribute greedily: everything before the final two-or-three
	// segments is expt/opts, in insertion order (expt first, opts second).
	switch len(tail) {
	case 2:
		n.ID, n.Hash = tail[0], tail[1]
	case 3:
		// Ambiguous between {expt, id, hash} and {id, hash, sig}; resource
		// ids are always exactly two lowercase letters, so use that to
		// disambiguate, matching resource_namer.cc's own id-length check.
		if isTransformID(tail[0]) {
			n.ID, n.Hash, n.Signature = tail[0], tail[1], tail[2]
		} else {
			n.Experiment, n.ID, n.Hash = tail[0], tail[1], tail[2]
		}
	case 4:
		// Ambiguous between {expt, opts, id, hash} and {expt, id, hash, sig};
		// disambiguated by the id shape, as in the 3-segment case.
		if isTransformID(tail[1]) {
			n.Experiment, n.ID, n.Hash, n.Signature = tail[0], tail[1], tail[2], tail[3]
		} else {
			n.Experiment, n.OptionsStub, n.ID, n.Hash = tail[0], tail[1], tail[2], tail[3]
		}
	case 5:
		n.Experiment, n.OptionsStub, n.ID, n.Hash, n.Signature = tail[0], tail[1], tail[2], tail[3], tail[4]
	default:
		return ResourceNamer{}, false
	}

	if !isTransformID(n.ID) {
		return ResourceNamer{}, false
	}
	return n, true
}

func isTransformID(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, c := range s {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

// JoinMultipart escapes and joins N input leaf names into the single
// combined segment a multipart combiner output uses as its Name (spec.md
// §4.5 "A multipart name encoder escapes +-joined component URLs"). Each
// name has any literal '%' or '+' percent-escaped first so the join is
// reversible.
func JoinMultipart(names []string) string {
	escaped := make([]string, len(names))
	for i, n := range names {
		escaped[i] = escapeMultipartComponent(n)
	}
	return strings.Join(escaped, multipartJoin)
}

// SplitMultipart reverses JoinMultipart.
func SplitMultipart(joined string) []string {
	parts := strings.Split(joined, multipartJoin)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = unescapeMultipartComponent(p)
	}
	return out
}

func escapeMultipartComponent(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "+", "%2B")
	return s
}

func unescapeMultipartComponent(s string) string {
	s = strings.ReplaceAll(s, "%2B", "+")
	s = strings.ReplaceAll(s, "%25", "%")
	return s
}

// ValidateLengths enforces spec.md §4.5's length budget: the encoded leaf
// plus the resolved base must not exceed maxURLSize; the leaf alone must
// not exceed maxURLSegmentSize; kURLSlack pads both to reserve room for
// downstream filters.
func ValidateLengths(base, leaf string, maxURLSize, maxURLSegmentSize, urlSlack int) error {
	if maxURLSegmentSize > 0 && len(leaf)+urlSlack > maxURLSegmentSize {
		return fmt.Errorf("urlcodec: leaf %d bytes exceeds max_url_segment_size %d (slack %d)", len(leaf), maxURLSegmentSize, urlSlack)
	}
	if maxURLSize > 0 && len(base)+1+len(leaf)+urlSlack > maxURLSize {
		return fmt.Errorf("urlcodec: url %d bytes exceeds max_url_size %d (slack %d)", len(base)+1+len(leaf), maxURLSize, urlSlack)
	}
	return nil
}
