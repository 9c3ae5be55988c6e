package auth

import (
	"net/http"
	"strings"
)

// RequireModerator allows the request only if RequireUser already injected
// role=moderator (or admin, which outranks it) into the context.
func RequireModerator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := RoleFromContext(r.Context())
		switch strings.ToLower(strings.TrimSpace(role)) {
		case "moderator", "admin":
			next.ServeHTTP(w, r)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	})
}
