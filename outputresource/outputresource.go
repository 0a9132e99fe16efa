// Package outputresource implements the handle for one optimized artifact
// (spec.md C7): naming, cache-control merge, write-through to the HTTP
// cache. Grounded on
// original_source/net/instaweb/rewriter/output_resource.cc and
// inline_output_resource.cc for the Write steps and the inline-vs-named
// split.
package outputresource

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rewritecache/core/httpcache"
	"github.com/rewritecache/core/pkg/urlcodec"
)

// Kind classifies how an output is addressed and served (spec.md §3).
type Kind int

const (
	OnTheFly Kind = iota
	Rewritten
	Outlined
	Inline
)

// OutputResource is one optimized artifact's handle.
type OutputResource struct {
	ResolvedBaseURL string
	UnmappedBaseURL string
	OriginalBaseURL string
	Namer           urlcodec.ResourceNamer
	Kind            Kind

	// contentHash is populated on Write and used as the cache key for
	// Inline outputs, which have no URL (spec.md §3).
	contentHash string
	url         string
}

// InputInfo is one contributing input's metadata for the cache-control
// merge and the X-Original-Content-Length computation.
type InputInfo struct {
	Header        http.Header
	ContentLength int
}

// Write computes the merged cache-control, copies non-caching headers,
// sets Content-Type, and puts the result through the HTTP cache under the
// encoded URL (spec.md §4.7). Inline outputs skip steps 4-5 and are keyed
// by content hash only.
func (o *OutputResource) Write(ctx context.Context, c3 *httpcache.HTTPCache, codec *urlcodec.Codec, inputs []InputInfo, body []byte, contentType, charset string, hasher func([]byte) string) error {
	o.contentHash = hasher(body)
	o.Namer.Hash = o.contentHash

	header := make(http.Header)

	ccInputs := make([]httpcache.InputCacheControl, len(inputs))
	var headerList []http.Header
	totalInputLen := 0
	for i, in := range inputs {
		ccInputs[i] = httpcache.ParseInputCacheControl(in.Header)
		headerList = append(headerList, in.Header)
		totalInputLen += in.ContentLength
	}
	header.Set("Cache-Control", httpcache.ApplyInputCacheControl(ccInputs))
	httpcache.MergeNonCachingResponseHeaders(header, headerList)

	ct := contentType
	if charset != "" {
		ct = fmt.Sprintf("%s; charset=%s", contentType, charset)
	}
	header.Set("Content-Type", ct)

	if o.Kind == Inline {
		return nil
	}

	header.Set("X-Original-Content-Length", fmt.Sprintf("%d", totalInputLen))

	encoded, err := codec.Encode(o.ResolvedBaseURL, o.Namer)
	if err != nil {
		return fmt.Errorf("outputresource: encode: %w", err)
	}
	o.url = encoded

	if err := c3.Put(ctx, encoded, "", http.StatusOK, header, body); err != nil {
		return fmt.Errorf("outputresource: put %s: %w", encoded, err)
	}
	return nil
}

// URL returns the encoded output URL, empty for Inline outputs.
func (o *OutputResource) URL() string { return o.url }

// ContentHash returns the content hash computed on the last Write, used as
// the cache key for Inline outputs.
func (o *OutputResource) ContentHash() string { return o.contentHash }

// CacheKey returns the URL for named kinds, or the content hash for Inline.
func (o *OutputResource) CacheKey() string {
	if o.Kind == Inline {
		return o.contentHash
	}
	return o.url
}
