package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Authentication is handled by an upstream session layer that terminates
// cookies/tokens and forwards verified identity in headers. This middleware
// is the trust boundary: no identity means 401, identity without admin
// verification means 403.

type contextKey string

const userIDKey contextKey = "user_id"

// RequireAdmin rejects requests that lack a verified admin identity and
// stores the caller's user ID on the request context.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if r.Header.Get("X-Admin-Verified") != "true" {
			respondError(w, http.StatusForbidden, "admin access required")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFrom returns the authenticated user ID stored by RequireAdmin.
func UserIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}
