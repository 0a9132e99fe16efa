package rewritesession

import (
	"net/url"
	"testing"
	"time"
)

func baseline() *Options {
	return &Options{Flags: map[string]string{"a": "1"}, DisabledFilters: map[string]bool{}}
}

func TestSignatureStableUnderReordering(t *testing.T) {
	o1 := &Options{Flags: map[string]string{"b": "2", "a": "1"}, DisabledFilters: map[string]bool{"x": true, "y": true}}
	o2 := &Options{Flags: map[string]string{"a": "1", "b": "2"}, DisabledFilters: map[string]bool{"y": true, "x": true}}

	if o1.Signature() != o2.Signature() {
		t.Errorf("signatures differ despite identical values: %q vs %q", o1.Signature(), o2.Signature())
	}
}

func TestOverlayQueryParamsRejectsUnknownKey(t *testing.T) {
	opts := baseline()
	err := OverlayQueryParams(opts, map[string][]string{"PageSpeedBogus": {"1"}})
	if err == nil {
		t.Fatal("expected an error for unrecognized PageSpeed* key")
	}
	var target *ErrInvalidRequestOptions
	if !asInvalidRequestOptions(err, &target) {
		t.Errorf("expected ErrInvalidRequestOptions, got %T", err)
	}
}

func asInvalidRequestOptions(err error, target **ErrInvalidRequestOptions) bool {
	e, ok := err.(*ErrInvalidRequestOptions)
	if ok {
		*target = e
	}
	return ok
}

func TestOverlayQueryParamsAcceptsKnownKey(t *testing.T) {
	opts := baseline()
	if err := OverlayQueryParams(opts, map[string][]string{"PageSpeedFilters": {"+inline_css"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Flags["PageSpeedFilters"] != "+inline_css" {
		t.Errorf("flag not set: %v", opts.Flags)
	}
}

func TestDeriveOptionsDisablesXHRFilters(t *testing.T) {
	opts, err := DeriveOptions(baseline(), nil, nil, true)
	if err != nil {
		t.Fatalf("DeriveOptions: %v", err)
	}
	if !opts.DisabledFilters["inline_javascript"] {
		t.Error("expected inline_javascript to be disabled for XHR requests")
	}
}

func TestPoolReusesSameSignature(t *testing.T) {
	p := NewPool(8)
	u, _ := url.Parse("http://example.com/")

	opts := baseline()
	s1 := p.Acquire(opts, u, time.Second)
	p.Release(s1)

	s2 := p.Acquire(opts, u, time.Second)
	if s1 != s2 {
		t.Error("expected the released session to be reused for the same signature")
	}
}
