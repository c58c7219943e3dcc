package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// GetUserID returns the user_id set by Identity, or "" when the request
// carried no identity header.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// Identity reads the X-User-Id header into the request context. The value
// is the caller's claimed identity; handlers that need a real user resolve
// it against the users table.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), UserIDKey, id))
		}
		next.ServeHTTP(w, r)
	})
}
