package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"seeker/internal"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// withRequestID adds a request ID to the context (wraps internal function)
func withRequestID(ctx context.Context, requestID string) context.Context {
	return internal.WithRequestID(ctx, requestID)
}

// GetRequestID retrieves the request ID from context (wraps internal function)
func GetRequestID(ctx context.Context) string {
	return internal.GetRequestID(ctx)
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	return "req_" + uuid.New().String()[:8]
}

// requestIDMiddleware reuses the caller's request ID or mints one
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), requestID)))
	})
}
