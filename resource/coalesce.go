package resource

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// CoalescingFetcher collapses concurrent fetches of the same URL into one
// call to the wrapped Fetcher, so a cache stampede on a single expired or
// never-cached input does not become N identical origin requests. Grounded
// on golang.org/x/sync/singleflight, already used by the teacher's warming
// service for the same purpose; this replaces the hand-rolled coalescer the
// teacher's cache-manager package carried, which duplicated the same
// behavior with a local sync.Map instead of the real library.
type CoalescingFetcher struct {
	next  Fetcher
	group singleflight.Group
}

// NewCoalescingFetcher wraps next so concurrent Fetch calls for the same URL
// share one in-flight request.
func NewCoalescingFetcher(next Fetcher) *CoalescingFetcher {
	return &CoalescingFetcher{next: next}
}

func (f *CoalescingFetcher) Fetch(ctx context.Context, url string, cond *ConditionalHeaders) (*FetchResult, error) {
	v, err, _ := f.group.Do(url, func() (interface{}, error) {
		return f.next.Fetch(ctx, url, cond)
	})
	if err != nil {
		return nil, err
	}
	return v.(*FetchResult), nil
}
