package middleware

import (
	"net/http"
	"strings"

	"github.com/arthahq/artha/internal/auth"
)

// TokenValidator validates a bearer token and returns its claims.
// *auth.JWTService satisfies this interface.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// Auth is a middleware that authenticates requests via a Bearer token in the
// Authorization header. On success the user ID (token subject) is stored in
// the request context; downstream middleware and handlers read it with
// GetUserID. Refresh tokens are rejected for API access.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeJSONError(w, r.Context(), http.StatusUnauthorized, "auth_failed", "Authorization header is required")
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeJSONError(w, r.Context(), http.StatusUnauthorized, "auth_failed", "Authorization header must use the Bearer scheme")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				writeJSONError(w, r.Context(), http.StatusUnauthorized, "auth_failed", "Invalid or expired token")
				return
			}
			if claims.Type != auth.TokenTypeAccess {
				writeJSONError(w, r.Context(), http.StatusUnauthorized, "auth_failed", "Token is not an access token")
				return
			}

			ctx := SetUserID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
