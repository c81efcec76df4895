package authtest

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyUser stores the authenticated *User
const ContextKeyUser ContextKey = "user"

// UserFromContext returns the user authenticated by the bearer middleware
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ContextKeyUser).(*User)
	return u, ok
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// recordHits keeps every request for later inspection by tests
func (s *Server) recordHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.record(Hit{
			Method:        r.Method,
			Path:          r.URL.Path,
			RequestID:     r.Header.Get("X-Request-Id"),
			Authorization: r.Header.Get("Authorization"),
			Status:        rec.status,
		})
	})
}

// requireBearer validates the Bearer access token and injects the user
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isAlwaysUnauthorized(r.URL.Path) {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeMessage(w, http.StatusUnauthorized, "Missing Authorization header")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			writeMessage(w, http.StatusUnauthorized, "Invalid Authorization header format")
			return
		}

		claims, err := s.tokens.validate(parts[1], s.currentGeneration())
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		user, ok := s.users.getByID(claims.Subject)
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "User not found")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyUser, user)))
	})
}
