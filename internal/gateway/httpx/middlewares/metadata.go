// Package middlewares holds chi middleware shared by the gateway.
package middlewares

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HeaderXRequestID correlates a request across services.
	HeaderXRequestID = "x-request-id"
	// HeaderXIdempotencyKey lets a caller collapse retried triggers.
	HeaderXIdempotencyKey = "x-idempotency-key"
)

// contextKey is unexported so keys cannot collide with other packages.
type contextKey string

const (
	// ContextKeyRequestID is the context key for the request id.
	ContextKeyRequestID contextKey = HeaderXRequestID
	// ContextKeyIdempotencyKey is the context key for the idempotency key.
	ContextKeyIdempotencyKey contextKey = HeaderXIdempotencyKey
)

// AttachMetadata copies the chi request id and the caller's idempotency
// key into typed context values so handlers and downstream clients can
// read them without touching headers.
func AttachMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		idempotencyKey := r.Header.Get(HeaderXIdempotencyKey)

		ctx := context.WithValue(r.Context(), ContextKeyRequestID, requestID)
		ctx = context.WithValue(ctx, ContextKeyIdempotencyKey, idempotencyKey)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID extracts the request id placed by AttachMetadata.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

// IdempotencyKey extracts the idempotency key placed by AttachMetadata.
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(ContextKeyIdempotencyKey).(string)
	return key
}
