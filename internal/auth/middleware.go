package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/segyhp/microlend-ledger/pkg/response"
)

// Middleware requires a valid bearer token and puts its subject in the request context.
// An empty secret disables authentication.
func Middleware(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(secret) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				response.Unauthorized(w, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				response.Unauthorized(w, "invalid authorization header")
				return
			}

			claims, err := ParseJWT(parts[1], secret)
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				response.Unauthorized(w, "invalid or expired token")
				return
			}

			ctx := WithRole(WithOwner(r.Context(), claims.Subject), claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers without the admin role. It must run after Middleware.
func RequireAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsAdmin(r.Context()) {
				logger.Warn("auth: admin role required",
					zap.String("path", r.URL.Path),
					zap.String("owner_id", OwnerFromContext(r.Context())),
				)
				response.Forbidden(w, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
