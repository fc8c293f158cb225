package authz

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Middleware wires route-level authorization for HTTP handlers.
type Middleware struct {
	Service *Service
	Current func(r *http.Request) (User, bool)
	Logger  *slog.Logger
}

// Require gates a route on (module, action), anchoring the check to the
// processus carried in the URL or query string. Unresolvable inputs are a
// 403, never a 500: the boundary must not leak internal failures.
func (m Middleware) Require(module Module, action ActionCode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := m.Current(r)
			if !ok {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "authentication required")
				return
			}
			processusID := ProcessusFromRequest(r)
			decision := m.Service.CanPerform(r.Context(), user, module, processusID, action, nil)
			if !decision.Allowed {
				if m.Logger != nil {
					m.Logger.Warn("authz: request denied",
						slog.String("module", string(module)),
						slog.String("action", string(action)),
						slog.Int64("user", user.ID),
						slog.String("reason", decision.Reason))
				}
				httpx.Problem(w, http.StatusForbidden, "Forbidden", decision.Reason)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ProcessusFromRequest extracts the processus identifier from the request,
// trying the URL parameter first, then the query string. uuid.Nil means
// unresolved and will be denied downstream.
func ProcessusFromRequest(r *http.Request) uuid.UUID {
	raw := chi.URLParam(r, "processusID")
	if raw == "" {
		raw = r.URL.Query().Get("processus")
	}
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}
