package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request correlation ID on both requests and
// responses.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength caps inbound correlation IDs so a client cannot inject
// arbitrarily large values into logs.
const maxRequestIDLength = 128

type requestIDContextKey struct{}

// RequestID assigns every request a correlation ID. A well-formed inbound
// X-Request-ID is honored so IDs survive proxy hops; anything missing or
// oversized is replaced with a fresh UUID. The ID is echoed on the response
// and stored in the context for the logging middleware and error writer.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDContextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the correlation ID from the context, or an empty
// string outside the middleware.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return id
	}
	return ""
}
