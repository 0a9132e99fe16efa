package metadatacache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewritecache/core/backend"
	"github.com/rewritecache/core/httpcache"
	"github.com/rewritecache/core/resource"
	"github.com/rewritecache/core/twolevel"
)

func newTestCache() *Cache {
	store := twolevel.New(backend.NewMemory(0), backend.NewMemory(0))
	c2 := twolevel.New(backend.NewMemory(0), backend.NewMemory(0))
	c3 := httpcache.New(c2, httpcache.DefaultConfig())
	return New(store, c3, DefaultConfig())
}

func alwaysValid(_ string, _ *string) (bool, error) { return true, nil }

func TestGetOrCreateBuildsOnlyOnce(t *testing.T) {
	c := newTestCache()
	var builds atomic.Int32

	build := func(ctx context.Context) (*Partition, error) {
		builds.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &Partition{Outputs: []string{"http://cdn/out.css"}, Optimizable: true}, nil
	}

	done := make(chan *Partition, 2)
	go func() {
		p, err := c.GetOrCreate(context.Background(), "fp1", alwaysValid, build)
		if err != nil {
			t.Error(err)
		}
		done <- p
	}()
	go func() {
		p, err := c.GetOrCreate(context.Background(), "fp1", alwaysValid, build)
		if err != nil {
			t.Error(err)
		}
		done <- p
	}()

	p1 := <-done
	p2 := <-done

	if p1 == nil || p2 == nil {
		t.Fatal("expected both callers to receive a partition")
	}
	if got := builds.Load(); got != 1 {
		t.Fatalf("builds = %d, want exactly one build invocation", got)
	}
}

func TestOptimizableFalseIsAValidMemo(t *testing.T) {
	c := newTestCache()
	build := func(ctx context.Context) (*Partition, error) {
		return &Partition{Optimizable: false}, nil
	}

	p, err := c.GetOrCreate(context.Background(), "fp-no-op", alwaysValid, build)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if p.Optimizable {
		t.Fatal("expected Optimizable=false to be preserved")
	}

	// A second lookup should hit the memo without rebuilding.
	calledAgain := false
	build2 := func(ctx context.Context) (*Partition, error) {
		calledAgain = true
		return &Partition{Optimizable: true}, nil
	}
	p2, err := c.GetOrCreate(context.Background(), "fp-no-op", alwaysValid, build2)
	if err != nil {
		t.Fatalf("GetOrCreate (second): %v", err)
	}
	if calledAgain {
		t.Fatal("expected second call to hit the memo, not rebuild")
	}
	if p2.Optimizable {
		t.Fatal("expected memoized Optimizable=false to still be reported")
	}
}

func TestLookupInvalidatesOnFailedHashCheck(t *testing.T) {
	c := newTestCache()
	build := func(ctx context.Context) (*Partition, error) {
		hash := "abc"
		return &Partition{
			Inputs:  []resource.InputDescriptor{{URL: "http://example.com/a.css", ContentHash: &hash}},
			Outputs: []string{"http://cdn/out.css"},
		}, nil
	}
	if _, err := c.GetOrCreate(context.Background(), "fp-hash", alwaysValid, build); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	neverValid := func(_ string, _ *string) (bool, error) { return false, nil }
	res, err := c.Lookup(context.Background(), "fp-hash", neverValid)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.Found {
		t.Fatal("expected a failed hash check to degrade to a miss")
	}
}
