package middleware

import (
	"net/http"
	"strings"

	"github.com/josh-kwaku/horse-sheet/internal/auth"
	"github.com/josh-kwaku/horse-sheet/internal/handler"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
)

func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("user_id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers that lack role. Admins pass
// every check.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}
			if claims.Role != role && !claims.IsAdmin() {
				logging.FromContext(r.Context()).Warn("role check failed", "required_role", role, "role", claims.Role)
				handler.RespondAppError(w, handler.ErrForbidden, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
