// Package middleware provides HTTP middleware for the distributed caching system.
//
// This file implements structured request logging, generalized from the
// teacher's plain-log RequestLogger into encore.dev/rlog fields, since the
// rest of the module already depends on encore.dev (pubsub, sqldb) and rlog
// is that framework's structured-logging facility.
package middleware

import (
	"context"
	"net/http"
	"time"

	"encore.dev/rlog"
	"github.com/google/uuid"
)

// contextKey avoids collisions with other packages' context keys.
type contextKey string

const requestIDKey contextKey = "request-id"

// RequestLogger logs each request's method, path, status, duration and
// size as structured rlog fields, tagged with a correlation ID.
//
// Example usage:
//
//	mux := http.NewServeMux()
//	logged := RequestLogger(mux)
//	http.ListenAndServe(":8080", logged)
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		logRequest(requestID, r, wrapped.statusCode, wrapped.bytesWritten, time.Since(start))
	})
}

// WithRequestID adds a request ID to the context, for manual propagation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromCtx retrieves the request ID from the context, or "" if absent.
func RequestIDFromCtx(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func generateRequestID() string {
	return uuid.New().String()
}

func logRequest(requestID string, r *http.Request, statusCode int, bytesWritten int, duration time.Duration) {
	fields := []interface{}{
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"query", r.URL.RawQuery,
		"status", statusCode,
		"duration_ms", duration.Milliseconds(),
		"bytes", bytesWritten,
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
	}

	switch {
	case statusCode >= 500:
		rlog.Error("request failed", fields...)
	case statusCode >= 400:
		rlog.Warn("request rejected", fields...)
	default:
		rlog.Info("request served", fields...)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LogWithRequestID logs message at info level with the request ID and any
// extra fields pulled from ctx, for application-level logging that should
// carry the request's correlation ID.
//
// Example:
//
//	LogWithRequestID(ctx, "cache hit", "key", resourceURL)
func LogWithRequestID(ctx context.Context, message string, keysAndValues ...interface{}) {
	fields := append([]interface{}{"request_id", RequestIDFromCtx(ctx)}, keysAndValues...)
	rlog.Info(message, fields...)
}
