package utils

import (
	"fmt"
	"testing"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
		wantErr bool
	}{
		{"exact match", "v1/main/https://cdn.example.com/a.js", "v1/main/https://cdn.example.com/a.js", true, false},
		{"exact no match", "v1/main/https://cdn.example.com/a.js", "v1/main/https://cdn.example.com/b.js", false, false},

		{"prefix match", "v1/main/*", "v1/main/https://cdn.example.com/a.js", true, false},
		{"prefix match multiple", "v1/main/*", "v1/main/https://cdn.example.com/a.js:gzip", true, false},
		{"prefix no match", "v1/main/*", "v2/main/https://cdn.example.com/a.js", false, false},
		{"prefix empty key", "v1/main/*", "", false, false},

		{"wildcard all", "*", "any:key:here", true, false},
		{"wildcard all empty", "*", "", true, false},

		{"middle wildcard", "v1/*/a.js", "v1/main/a.js", true, false},
		{"middle wildcard no match", "v1/*/a.js", "v1/main/b.js", false, false},

		{"question mark", "v1/main/a.js?", "v1/main/a.js1", true, false},
		{"question mark no match", "v1/main/a.js?", "v1/main/a.js12", false, false},

		{"multiple wildcards", "v1/*/*", "v1/main/a.js", true, false},
		{"complex pattern", "v1/*/a.js?", "v1/main/a.js1", true, false},

		{"empty pattern", "", "key", false, true},
		{"empty both", "", "", false, true},
		{"pattern longer", "v1/main/a.js/extra", "v1/main/a.js", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchPattern(tt.pattern, tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("MatchPattern() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestMatchPatternRegexPatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
	}{
		{"digits only", "v1/main/[0-9]+", "v1/main/123", true},
		{"digits only no match", "v1/main/[0-9]+", "v1/main/abc", false},
		{"alphanumeric", "v1/main/[a-zA-Z0-9]+", "v1/main/abc123", true},
		{"optional group", "v1/(main|staging)/a.js", "v1/main/a.js", true},
		{"optional group no match", "v1/(main|staging)/a.js", "v1/prod/a.js", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchPattern(tt.pattern, tt.key)
			if err != nil {
				t.Fatalf("MatchPattern() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestFilterKeys(t *testing.T) {
	keys := []string{
		"v1/main/https://cdn.example.com/a.js",
		"v1/main/https://cdn.example.com/b.js",
		"v1/main/https://cdn.example.com/c.js",
		"v1/staging/https://cdn.example.com/a.js",
		"v1/staging/https://cdn.example.com/b.js",
		"v2/main/https://cdn.example.com/a.js",
		"v2/main/https://cdn.example.com/b.js",
	}

	tests := []struct {
		name    string
		pattern string
		want    []string
		wantErr bool
	}{
		{
			name:    "match all",
			pattern: "*",
			want:    keys,
			wantErr: false,
		},
		{
			name:    "prefix v1/main",
			pattern: "v1/main/*",
			want: []string{
				"v1/main/https://cdn.example.com/a.js",
				"v1/main/https://cdn.example.com/b.js",
				"v1/main/https://cdn.example.com/c.js",
			},
			wantErr: false,
		},
		{
			name:    "prefix v1/staging",
			pattern: "v1/staging/*",
			want: []string{
				"v1/staging/https://cdn.example.com/a.js",
				"v1/staging/https://cdn.example.com/b.js",
			},
			wantErr: false,
		},
		{
			name:    "exact match",
			pattern: "v1/main/https://cdn.example.com/a.js",
			want:    []string{"v1/main/https://cdn.example.com/a.js"},
			wantErr: false,
		},
		{
			name:    "no matches",
			pattern: "v3/main/*",
			want:    []string{},
			wantErr: false,
		},
		{
			name:    "empty pattern",
			pattern: "",
			want:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FilterKeys(tt.pattern, keys)
			if (err != nil) != tt.wantErr {
				t.Errorf("FilterKeys() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			if len(got) != len(tt.want) {
				t.Errorf("FilterKeys() returned %d keys, want %d (got %v, want %v)", len(got), len(tt.want), got, tt.want)
				return
			}
			gotSet := make(map[string]bool, len(got))
			for _, k := range got {
				gotSet[k] = true
			}
			for _, wantKey := range tt.want {
				if !gotSet[wantKey] {
					t.Errorf("FilterKeys() missing key %q", wantKey)
				}
			}
		})
	}
}

func TestGlobToRegex(t *testing.T) {
	tests := []struct {
		glob  string
		regex string
	}{
		{"v1/main/*", "v1/main/.*"},
		{"v1/main/?", "v1/main/."},
		{"v1/*/a.js", "v1/.*/a\\.js"},
		{"v1/[main]", "v1/\\[main\\]"},
		{"v1.main", "v1\\.main"},
		{"*", ".*"},
		{"???", "..."},
		{"v1/*/?/*", "v1/.*/./.*"},
	}

	for _, tt := range tests {
		t.Run(tt.glob, func(t *testing.T) {
			got := globToRegex(tt.glob)
			if got != tt.regex {
				t.Errorf("globToRegex(%q) = %q, want %q", tt.glob, got, tt.regex)
			}
		})
	}
}

func TestRegexCaching(t *testing.T) {
	ClearRegexCache()

	pattern := "v1/main/[0-9]+"
	if _, err := MatchPattern(pattern, "v1/main/123"); err != nil {
		t.Fatalf("MatchPattern() error = %v", err)
	}
	if RegexCacheSize() != 1 {
		t.Errorf("RegexCacheSize() = %d, want 1", RegexCacheSize())
	}

	if _, err := MatchPattern(pattern, "v1/main/456"); err != nil {
		t.Fatalf("MatchPattern() error = %v", err)
	}
	if RegexCacheSize() != 1 {
		t.Errorf("RegexCacheSize() = %d, want 1 (should reuse cached regex)", RegexCacheSize())
	}

	if _, err := MatchPattern("v1/staging/[a-z]+", "v1/staging/abc"); err != nil {
		t.Fatalf("MatchPattern() error = %v", err)
	}
	if RegexCacheSize() != 2 {
		t.Errorf("RegexCacheSize() = %d, want 2", RegexCacheSize())
	}

	ClearRegexCache()
	if RegexCacheSize() != 0 {
		t.Errorf("RegexCacheSize() after clear = %d, want 0", RegexCacheSize())
	}
}

func TestMatchPatternConsistency(t *testing.T) {
	pattern := "v1/*/a.js"
	key := "v1/main/a.js"

	for i := 0; i < 100; i++ {
		match, err := MatchPattern(pattern, key)
		if err != nil {
			t.Fatalf("MatchPattern() error = %v", err)
		}
		if !match {
			t.Errorf("MatchPattern() inconsistent result at iteration %d", i)
		}
	}
}

func BenchmarkMatchPatternExact(b *testing.B) {
	pattern := "v1/main/a.js"
	key := "v1/main/a.js"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MatchPattern(pattern, key)
	}
}

func BenchmarkMatchPatternPrefix(b *testing.B) {
	pattern := "v1/main/*"
	key := "v1/main/https://cdn.example.com/a.js"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MatchPattern(pattern, key)
	}
}

func BenchmarkMatchPatternRegex(b *testing.B) {
	pattern := "v1/main/[0-9]+"
	key := "v1/main/12345"

	MatchPattern(pattern, key)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MatchPattern(pattern, key)
	}
}

func BenchmarkFilterKeysPrefix(b *testing.B) {
	keys := make([]string, 1000)
	for i := 0; i < 1000; i++ {
		keys[i] = fmt.Sprintf("v1/main/%d", i)
	}
	pattern := "v1/main/*"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		FilterKeys(pattern, keys)
	}
}

func BenchmarkFilterKeysRegex(b *testing.B) {
	keys := make([]string, 1000)
	for i := 0; i < 1000; i++ {
		keys[i] = fmt.Sprintf("v1/main/%d", i)
	}
	pattern := "v1/main/[0-9]+"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		FilterKeys(pattern, keys)
	}
}
