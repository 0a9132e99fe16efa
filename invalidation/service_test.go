package invalidation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// MockAuditLogger provides a test implementation of audit logging.
type MockAuditLogger struct {
	mu   sync.Mutex
	logs []AuditLog
}

func NewMockAuditLogger() *MockAuditLogger {
	return &MockAuditLogger{
		logs: make([]AuditLog, 0),
	}
}

func (m *MockAuditLogger) Insert(ctx context.Context, log AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, log)
	return nil
}

func (m *MockAuditLogger) GetRecent(ctx context.Context, limit, offset int, patternFilter string) ([]AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]AuditLog, 0)
	for i := len(m.logs) - 1; i >= 0; i-- {
		log := m.logs[i]
		if patternFilter == "" || log.Pattern == patternFilter {
			filtered = append(filtered, log)
		}
	}

	if offset >= len(filtered) {
		return []AuditLog{}, nil
	}

	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return filtered[offset:end], nil
}

func (m *MockAuditLogger) GetCount(ctx context.Context, patternFilter string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if patternFilter == "" {
		return len(m.logs), nil
	}

	count := 0
	for _, log := range m.logs {
		if log.Pattern == patternFilter {
			count++
		}
	}
	return count, nil
}

func (m *MockAuditLogger) GetByRequestID(ctx context.Context, requestID string) ([]AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]AuditLog, 0)
	for _, log := range m.logs {
		if log.RequestID == requestID {
			result = append(result, log)
		}
	}
	return result, nil
}

// setupTestService creates a test service with mocks.
func setupTestService() *Service {
	return &Service{
		patternMatcher: NewPatternMatcher(),
		auditLogger:    NewMockAuditLogger(),
		metrics:        &Metrics{},
	}
}

func TestPatternMatcherExactMatch(t *testing.T) {
	pm := NewPatternMatcher()
	keys := []string{
		"v1/main/https://cdn.example.com/a.js",
		"v1/main/https://cdn.example.com/b.js",
		"v2/main/https://cdn.example.com/c.js",
	}

	matches := pm.Match("v1/main/https://cdn.example.com/a.js", keys)
	if len(matches) != 1 || matches[0] != "v1/main/https://cdn.example.com/a.js" {
		t.Errorf("Expected exact match, got %v", matches)
	}
}

func TestPatternMatcherPrefixWildcard(t *testing.T) {
	pm := NewPatternMatcher()
	keys := []string{
		"v1/main/https://cdn.example.com/a.js",
		"v1/main/https://cdn.example.com/b.js",
		"v1/staging/https://cdn.example.com/a.js",
		"v2/main/https://cdn.example.com/a.js",
	}

	matches := pm.Match("v1/main/*", keys)
	if len(matches) != 2 {
		t.Errorf("Expected 2 matches, got %d: %v", len(matches), matches)
	}

	expectedMatches := map[string]bool{
		"v1/main/https://cdn.example.com/a.js": true,
		"v1/main/https://cdn.example.com/b.js": true,
	}

	for _, match := range matches {
		if !expectedMatches[match] {
			t.Errorf("Unexpected match: %s", match)
		}
	}
}

func TestPatternMatcherSuffixWildcard(t *testing.T) {
	pm := NewPatternMatcher()
	keys := []string{
		"v1/main/a.js",
		"v1/staging/a.js",
		"v2/main/a.js",
		"v1/main/b.js",
	}

	matches := pm.Match("*/a.js", keys)
	if len(matches) != 3 {
		t.Errorf("Expected 3 matches, got %d: %v", len(matches), matches)
	}
}

func TestPatternMatcherContainsWildcard(t *testing.T) {
	pm := NewPatternMatcher()
	keys := []string{
		"v1/main/123/a.js",
		"v1/staging/123/b.js",
		"v2/main/456/c.js",
	}

	matches := pm.Match("*/123/*", keys)
	if len(matches) != 2 {
		t.Errorf("Expected 2 matches, got %d: %v", len(matches), matches)
	}
}

func TestPatternMatcherAllWildcard(t *testing.T) {
	pm := NewPatternMatcher()
	keys := []string{
		"v1/main/a.js",
		"v1/main/b.js",
		"v1/main/c.js",
	}

	matches := pm.Match("*", keys)
	if len(matches) != 3 {
		t.Errorf("Expected all keys to match, got %d", len(matches))
	}
}

func TestPatternMatcherRegexPattern(t *testing.T) {
	pm := NewPatternMatcher()
	keys := []string{
		"v1/main/123",
		"v1/main/456",
		"v1/main/abc",
		"v2/main/789",
	}

	matches := pm.Match("^v1/main/[0-9]+$", keys)
	if len(matches) != 2 {
		t.Errorf("Expected 2 numeric matches, got %d: %v", len(matches), matches)
	}
}

func TestPatternMatcherCacheEfficiency(t *testing.T) {
	pm := NewPatternMatcher()
	keys := []string{"v1/main/123", "v1/main/456"}

	pm.Match("^v1/main/[0-9]+$", keys)
	if pm.CacheSize() != 1 {
		t.Errorf("Expected 1 cached regex, got %d", pm.CacheSize())
	}

	pm.Match("^v1/main/[0-9]+$", keys)
	if pm.CacheSize() != 1 {
		t.Errorf("Cache should not grow on reuse, got %d", pm.CacheSize())
	}
}

func TestPatternMatcherValidatePattern(t *testing.T) {
	pm := NewPatternMatcher()

	tests := []struct {
		pattern string
		valid   bool
	}{
		{"v1/main/*", true},
		{"v1/main/[0-9]+", true},
		{"*/a.js", true},
		{"", true}, // Empty is valid (matches nothing)
		{"v1/main/[", false},
	}

	for _, tt := range tests {
		err := pm.ValidatePattern(tt.pattern)
		if (err == nil) != tt.valid {
			t.Errorf("Pattern %q: expected valid=%v, got error=%v", tt.pattern, tt.valid, err)
		}
	}
}

func TestServiceInvalidateKey(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	req := &InvalidateKeyRequest{
		Keys:        []string{"v1/main/https://cdn.example.com/a.js", "v1/main/https://cdn.example.com/b.js"},
		TriggeredBy: "test",
		RequestID:   "test-req-1",
	}

	resp, err := svc.InvalidateKey(ctx, req)
	if err != nil {
		t.Fatalf("InvalidateKey failed: %v", err)
	}

	if !resp.Success {
		t.Error("Expected success=true")
	}

	if resp.InvalidatedCount != 2 {
		t.Errorf("Expected 2 invalidated, got %d", resp.InvalidatedCount)
	}

	if resp.RequestID != "test-req-1" {
		t.Errorf("Expected request ID test-req-1, got %s", resp.RequestID)
	}

	if svc.metrics.KeyInvalidations.Load() != 1 {
		t.Errorf("Expected 1 key invalidation metric, got %d", svc.metrics.KeyInvalidations.Load())
	}
}

func TestServiceInvalidateKeyDeduplication(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	req := &InvalidateKeyRequest{
		Keys:        []string{"v1/main/a.js", "v1/main/a.js", "v1/main/b.js"},
		TriggeredBy: "test",
	}

	resp, err := svc.InvalidateKey(ctx, req)
	if err != nil {
		t.Fatalf("InvalidateKey failed: %v", err)
	}

	if resp.InvalidatedCount != 2 {
		t.Errorf("Expected 2 unique keys after deduplication, got %d", resp.InvalidatedCount)
	}
}

func TestServiceInvalidateKeyEmptyKeys(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	req := &InvalidateKeyRequest{
		Keys:        []string{},
		TriggeredBy: "test",
	}

	_, err := svc.InvalidateKey(ctx, req)
	if err == nil {
		t.Error("Expected error for empty keys")
	}
}

func TestServiceInvalidatePattern(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	cacheKeys := []string{
		"v1/main/https://cdn.example.com/a.js",
		"v1/main/https://cdn.example.com/b.js",
		"v1/staging/https://cdn.example.com/a.js",
		"v2/main/https://cdn.example.com/a.js",
	}

	req := &InvalidatePatternRequest{
		Pattern:     "v1/main/*",
		TriggeredBy: "test",
		RequestID:   "test-req-2",
		CacheKeys:   cacheKeys,
	}

	resp, err := svc.InvalidatePattern(ctx, req)
	if err != nil {
		t.Fatalf("InvalidatePattern failed: %v", err)
	}

	if !resp.Success {
		t.Error("Expected success=true")
	}

	if resp.Pattern != "v1/main/*" {
		t.Errorf("Expected pattern v1/main/*, got %s", resp.Pattern)
	}

	if resp.InvalidatedCount != 2 {
		t.Errorf("Expected 2 matched keys, got %d", resp.InvalidatedCount)
	}

	if svc.metrics.PatternInvalidations.Load() != 1 {
		t.Errorf("Expected 1 pattern invalidation, got %d", svc.metrics.PatternInvalidations.Load())
	}
}

func TestServiceInvalidatePatternEmptyPattern(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	req := &InvalidatePatternRequest{
		Pattern:     "",
		TriggeredBy: "test",
	}

	_, err := svc.InvalidatePattern(ctx, req)
	if err == nil {
		t.Error("Expected error for empty pattern")
	}
}

func TestServiceInvalidatePatternRejectsUnsafePattern(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	req := &InvalidatePatternRequest{
		Pattern:     "v1/main/[",
		TriggeredBy: "test",
		RequestID:   "test-req-bad-pattern",
	}

	_, err := svc.InvalidatePattern(ctx, req)
	if err == nil {
		t.Fatal("Expected error for unparseable regex pattern")
	}

	if svc.metrics.PatternInvalidations.Load() != 0 {
		t.Errorf("Rejected pattern should not count as a pattern invalidation, got %d", svc.metrics.PatternInvalidations.Load())
	}
}

func TestServiceGetMetrics(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	svc.InvalidateKey(ctx, &InvalidateKeyRequest{
		Keys:        []string{"v1/main/a.js"},
		TriggeredBy: "test",
	})

	svc.InvalidatePattern(ctx, &InvalidatePatternRequest{
		Pattern:     "v1/main/*",
		TriggeredBy: "test",
	})

	metrics, err := svc.GetMetrics(ctx)
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}

	if metrics.TotalInvalidations != 2 {
		t.Errorf("Expected 2 total invalidations, got %d", metrics.TotalInvalidations)
	}

	if metrics.KeyInvalidations != 1 {
		t.Errorf("Expected 1 key invalidation, got %d", metrics.KeyInvalidations)
	}

	if metrics.PatternInvalidations != 1 {
		t.Errorf("Expected 1 pattern invalidation, got %d", metrics.PatternInvalidations)
	}

	expectedRatio := 0.5
	if metrics.PatternInvalidationRatio != expectedRatio {
		t.Errorf("Expected pattern ratio %.2f, got %.2f", expectedRatio, metrics.PatternInvalidationRatio)
	}
}

func TestServiceGetAuditTrace(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	// InvalidateKey/InvalidatePattern write their audit entries asynchronously,
	// so insert directly through the mock to keep this test deterministic.
	logger := svc.auditLogger.(*MockAuditLogger)
	logger.Insert(ctx, AuditLog{
		Pattern:     "",
		Keys:        []string{"v1/main/a.js"},
		TriggeredBy: "test",
		Timestamp:   time.Now(),
		RequestID:   "trace-req-1",
	})
	logger.Insert(ctx, AuditLog{
		Pattern:     "v1/main/*",
		TriggeredBy: "test",
		Timestamp:   time.Now(),
		RequestID:   "trace-req-1",
	})

	resp, err := svc.GetAuditTrace(ctx, &GetAuditTraceRequest{RequestID: "trace-req-1"})
	if err != nil {
		t.Fatalf("GetAuditTrace failed: %v", err)
	}

	if len(resp.Logs) != 2 {
		t.Errorf("Expected 2 audit entries for trace-req-1, got %d", len(resp.Logs))
	}

	for _, log := range resp.Logs {
		if log.RequestID != "trace-req-1" {
			t.Errorf("Expected request ID trace-req-1, got %s", log.RequestID)
		}
	}
}

func TestServiceGetAuditTraceRequiresRequestID(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	_, err := svc.GetAuditTrace(ctx, &GetAuditTraceRequest{RequestID: ""})
	if err == nil {
		t.Error("Expected error for empty request_id")
	}
}

func TestMockAuditLoggerInsert(t *testing.T) {
	logger := NewMockAuditLogger()
	ctx := context.Background()

	log := AuditLog{
		Pattern:     "v1/main/*",
		Keys:        []string{"v1/main/a.js"},
		TriggeredBy: "test",
		Timestamp:   time.Now(),
		RequestID:   "req-1",
	}

	err := logger.Insert(ctx, log)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	logs, err := logger.GetRecent(ctx, 10, 0, "")
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}

	if len(logs) != 1 {
		t.Errorf("Expected 1 log, got %d", len(logs))
	}

	if logs[0].Pattern != "v1/main/*" {
		t.Errorf("Expected pattern v1/main/*, got %s", logs[0].Pattern)
	}
}

func TestMockAuditLoggerGetRecentPagination(t *testing.T) {
	logger := NewMockAuditLogger()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		logger.Insert(ctx, AuditLog{
			Pattern:     fmt.Sprintf("v1/main/%d.js", i),
			Keys:        []string{fmt.Sprintf("v1/main/%d.js", i)},
			TriggeredBy: "test",
			Timestamp:   time.Now(),
			RequestID:   fmt.Sprintf("req-%d", i),
		})
	}

	logs, err := logger.GetRecent(ctx, 5, 0, "")
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}

	if len(logs) != 5 {
		t.Errorf("Expected 5 logs, got %d", len(logs))
	}

	logs, err = logger.GetRecent(ctx, 5, 5, "")
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}

	if len(logs) != 5 {
		t.Errorf("Expected 5 logs on second page, got %d", len(logs))
	}
}

func TestMockAuditLoggerGetByRequestID(t *testing.T) {
	logger := NewMockAuditLogger()
	ctx := context.Background()

	logger.Insert(ctx, AuditLog{
		Pattern:     "v1/main/*",
		RequestID:   "req-1",
		TriggeredBy: "test",
		Timestamp:   time.Now(),
	})

	logger.Insert(ctx, AuditLog{
		Pattern:     "v2/main/*",
		RequestID:   "req-2",
		TriggeredBy: "test",
		Timestamp:   time.Now(),
	})

	logger.Insert(ctx, AuditLog{
		Pattern:     "v1/staging/*",
		RequestID:   "req-1",
		TriggeredBy: "test",
		Timestamp:   time.Now(),
	})

	logs, err := logger.GetByRequestID(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetByRequestID failed: %v", err)
	}

	if len(logs) != 2 {
		t.Errorf("Expected 2 logs for req-1, got %d", len(logs))
	}

	for _, log := range logs {
		if log.RequestID != "req-1" {
			t.Errorf("Expected request ID req-1, got %s", log.RequestID)
		}
	}
}

func TestConcurrentInvalidations(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &InvalidateKeyRequest{
				Keys:        []string{fmt.Sprintf("v1/main/%d.js", i)},
				TriggeredBy: "concurrent-test",
			}
			_, _ = svc.InvalidateKey(ctx, req)
		}(i)
	}

	wg.Wait()

	totalInvalidations := svc.metrics.TotalInvalidations.Load()
	if totalInvalidations != int64(concurrency) {
		t.Errorf("Expected %d invalidations, got %d", concurrency, totalInvalidations)
	}
}

func TestIsWildcard(t *testing.T) {
	tests := []struct {
		pattern  string
		expected bool
	}{
		{"v1/main/*", true},
		{"*/a.js", true},
		{"*", true},
		{"v1/main/a.js", false},
		{"", false},
	}

	for _, tt := range tests {
		result := IsWildcard(tt.pattern)
		if result != tt.expected {
			t.Errorf("IsWildcard(%q) = %v, expected %v", tt.pattern, result, tt.expected)
		}
	}
}

func TestIsRegex(t *testing.T) {
	tests := []struct {
		pattern  string
		expected bool
	}{
		{"v1/main/[0-9]+", true},
		{"v1/(main|staging)/a.js", true},
		{"^v1/main/.*$", true},
		{"v1/main/*", false},
		{"v1/main/a.js", false},
	}

	for _, tt := range tests {
		result := IsRegex(tt.pattern)
		if result != tt.expected {
			t.Errorf("IsRegex(%q) = %v, expected %v", tt.pattern, result, tt.expected)
		}
	}
}

func BenchmarkPatternMatcherPrefixWildcard(b *testing.B) {
	pm := NewPatternMatcher()

	keys := make([]string, 10000)
	for i := 0; i < 10000; i++ {
		keys[i] = fmt.Sprintf("v1/main/%d.js", i)
	}

	pattern := "v1/main/1*"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pm.Match(pattern, keys)
	}
}

func BenchmarkPatternMatcherRegexCached(b *testing.B) {
	pm := NewPatternMatcher()

	keys := make([]string, 1000)
	for i := 0; i < 1000; i++ {
		keys[i] = fmt.Sprintf("v1/main/%d", i)
	}

	pattern := "^v1/main/[0-9]+$"

	pm.Match(pattern, keys)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pm.Match(pattern, keys)
	}
}

func BenchmarkServiceInvalidateKey(b *testing.B) {
	svc := setupTestService()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := &InvalidateKeyRequest{
			Keys:        []string{fmt.Sprintf("v1/main/%d.js", i)},
			TriggeredBy: "benchmark",
		}
		svc.InvalidateKey(ctx, req)
	}
}
