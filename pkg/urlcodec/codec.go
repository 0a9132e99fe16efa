package urlcodec

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rewritecache/core/pkg/hashing"
)

// Record is the fully-decoded form of a rewritten-resource URL: the base it
// is relative to, plus the structured leaf.
type Record struct {
	Base  string
	Namer ResourceNamer
}

// HostMapper rewrites the authority of a URL for one specific purpose.
// An origin map changes where fetches are sent; a rewrite map changes what
// authority appears in output URLs. Codec applies the origin map only in
// ResolveFetchURL and the rewrite map only in Encode; Decode undoes neither.
type HostMapper func(u *url.URL) *url.URL

// Codec holds the sharding ring and host mappers needed to turn a
// (base, ResourceNamer) pair into a concrete output URL, and back.
type Codec struct {
	OriginMap  HostMapper // used only when fetching; never affects cache key or output URL
	RewriteMap HostMapper // used only when producing output URLs

	shards *hashing.Ring
	hasher *hashing.Hasher

	MaxURLSize        int
	MaxURLSegmentSize int
	URLSlack          int
}

// New constructs a Codec with no shards and no host maps configured.
func New() *Codec {
	return &Codec{hasher: hashing.NewHasher()}
}

// AddShard registers shard as an eligible output authority. When at least
// one shard is registered, Encode replaces the base's authority with a
// shard chosen by a stable hash of the leaf (spec.md §4.5 "Sharding").
func (c *Codec) AddShard(shard string) {
	if c.shards == nil {
		c.shards = hashing.NewRing(hashing.DefaultReplicas)
	}
	c.shards.AddShard(shard)
}

// Encode renders base+namer into a full output URL, substituting a shard
// for the authority when shards are registered and otherwise applying the
// rewrite map (never the origin map — that only governs fetches).
// Encoding is total and deterministic: every valid (base, namer) pair
// produces exactly one URL (spec.md §4.5).
func (c *Codec) Encode(base string, namer ResourceNamer) (string, error) {
	leaf := namer.Encode()
	if err := ValidateLengths(base, leaf, c.MaxURLSize, c.MaxURLSegmentSize, c.URLSlack); err != nil {
		return "", err
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("urlcodec: parse base %q: %w", base, err)
	}

	if c.shards != nil {
		if shard := c.shards.Shard(leaf); shard != "" {
			u.Host = shard
		}
	} else if c.RewriteMap != nil {
		if mapped := c.RewriteMap(u); mapped != nil {
			u = mapped
		}
	}

	u.Path = joinPath(u.Path, leaf)
	u.RawQuery = "" // spec.md §4.5: the codec strips query strings for identification
	return u.String(), nil
}

// Decode reverses Encode. It strips any query string before parsing the
// leaf (decoding is query-insensitive) and returns ok=false for any URL
// whose final path segment doesn't match the resource-namer grammar —
// "any URL not matching the grammar is not a pagespeed resource" (§4.5).
//
// The returned Record.Base carries the URL's own authority. For a sharded
// or rewrite-mapped URL that is the shard or mapped host: Decode does not
// map it back to the original base's authority.
func (c *Codec) Decode(rawURL string) (Record, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Record{}, false
	}

	dir, leaf := splitPath(u.Path)
	namer, ok := DecodeResourceNamer(leaf)
	if !ok {
		return Record{}, false
	}

	base := *u
	base.Path = dir
	base.RawQuery = ""
	base.Fragment = ""

	if c.shards != nil && c.isKnownShard(base.Host) {
		// The authority was a shard substitution, not the logical origin;
		// the caller is responsible for supplying the true origin host
		// through context (the shard set alone can't invert to it without
		// an explicit un-sharding map), so Record.Base keeps the shard host
		// and callers needing the logical origin consult their own
		// base->shard table maintained alongside AddShard.
	}

	return Record{Base: base.String(), Namer: namer}, true
}

func (c *Codec) isKnownShard(host string) bool {
	for _, s := range c.shards.Shards() {
		if s == host {
			return true
		}
	}
	return false
}

// ResolveFetchURL applies the origin map to u, used only when dispatching a
// fetch; it never affects the cache key or any output URL.
func (c *Codec) ResolveFetchURL(u *url.URL) *url.URL {
	if c.OriginMap == nil {
		return u
	}
	if mapped := c.OriginMap(u); mapped != nil {
		return mapped
	}
	return u
}

func joinPath(dir, leaf string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + leaf
	}
	return dir + "/" + leaf
}

func splitPath(p string) (dir, leaf string) {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "", p
	}
	return p[:idx+1], p[idx+1:]
}
