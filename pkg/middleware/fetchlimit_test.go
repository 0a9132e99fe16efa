package middleware

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rewritecache/core/resource"
)

type countingFetcher struct {
	calls int64
}

func (f *countingFetcher) Fetch(ctx context.Context, rawURL string, cond *resource.ConditionalHeaders) (*resource.FetchResult, error) {
	atomic.AddInt64(&f.calls, 1)
	return &resource.FetchResult{StatusCode: 200, Body: []byte("ok")}, nil
}

func TestRateLimitedFetcherAllowsWithinBurst(t *testing.T) {
	next := &countingFetcher{}
	f := NewRateLimitedFetcher(next, 1, 3)

	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background(), "http://origin.example/a.js", nil); err != nil {
			t.Fatalf("fetch %d: unexpected error: %v", i, err)
		}
	}
	if got := atomic.LoadInt64(&next.calls); got != 3 {
		t.Fatalf("next.calls = %d, want 3", got)
	}
}

func TestRateLimitedFetcherDropsOverBurst(t *testing.T) {
	next := &countingFetcher{}
	f := NewRateLimitedFetcher(next, 0, 1)

	if _, err := f.Fetch(context.Background(), "http://origin.example/a.js", nil); err != nil {
		t.Fatalf("first fetch: unexpected error: %v", err)
	}

	_, err := f.Fetch(context.Background(), "http://origin.example/b.js", nil)
	if err == nil {
		t.Fatal("second fetch: expected rate-limit error, got nil")
	}
	if got := atomic.LoadInt64(&next.calls); got != 1 {
		t.Fatalf("next.calls = %d, want 1 (second fetch should not reach next)", got)
	}
}

func TestRateLimitedFetcherTracksOriginsIndependently(t *testing.T) {
	next := &countingFetcher{}
	f := NewRateLimitedFetcher(next, 0, 1)

	if _, err := f.Fetch(context.Background(), "http://a.example/x.js", nil); err != nil {
		t.Fatalf("a.example fetch: unexpected error: %v", err)
	}
	if _, err := f.Fetch(context.Background(), "http://b.example/x.js", nil); err != nil {
		t.Fatalf("b.example fetch (different origin, fresh limiter): unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(&next.calls); got != 2 {
		t.Fatalf("next.calls = %d, want 2", got)
	}
}

func TestHostOfFallsBackToRawURLOnParseFailure(t *testing.T) {
	if got := hostOf("http://example.com/a.js"); got != "example.com" {
		t.Errorf("hostOf(valid) = %q, want %q", got, "example.com")
	}
	if got := hostOf("not a url"); got != "not a url" {
		t.Errorf("hostOf(invalid) = %q, want passthrough", got)
	}
}
