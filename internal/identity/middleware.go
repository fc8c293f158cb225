package identity

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/meridian-compliance/meridian/internal/shared"
)

type userContextKey struct{}

// ContextWithUser stores the resolved account in context.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// FromContext extracts the resolved account, nil when anonymous.
func FromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey{}).(*User)
	return user
}

// Middleware resolves the current account from the request session.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Resolve attaches the account to the request context when the session names
// one. Anonymous requests pass through; RequireUser gates them later.
func (m *Middleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(sess.User(), 10, 64)
		if err != nil {
			m.Logger.Warn("session carries malformed user id", "value", sess.User())
			next.ServeHTTP(w, r)
			return
		}
		user, err := m.Service.Resolve(r.Context(), id)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
