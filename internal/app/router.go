package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-compliance/meridian/internal/activities"
	"github.com/meridian-compliance/meridian/internal/audit"
	"github.com/meridian-compliance/meridian/internal/authz"
	"github.com/meridian-compliance/meridian/internal/identity"
	"github.com/meridian-compliance/meridian/internal/observability"
	"github.com/meridian-compliance/meridian/internal/pac"
	"github.com/meridian-compliance/meridian/internal/processus"
	"github.com/meridian-compliance/meridian/internal/riskmap"
	"github.com/meridian-compliance/meridian/internal/roles"
	"github.com/meridian-compliance/meridian/internal/scorecard"
	"github.com/meridian-compliance/meridian/internal/shared"
	"github.com/meridian-compliance/meridian/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	IdentityMiddleware *identity.Middleware
	AuthzMiddleware    authz.Middleware
	IdentityHandler    *identity.Handler
	PermissionsHandler *authz.Handler
	ProcessusHandler   *processus.Handler
	RolesHandler       *roles.Handler
	AuditHandler       *audit.Handler
	RiskMapHandler     *riskmap.Handler
	PACHandler         *pac.Handler
	ScorecardHandler   *scorecard.Handler
	ActivitiesHandler  *activities.Handler

	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.IdentityMiddleware.Resolve)
		r.Use(identity.RequireUser)

		params.IdentityHandler.Routes(r)
		if params.RolesHandler != nil {
			params.RolesHandler.Routes(r)
		}
		if params.ProcessusHandler != nil {
			params.ProcessusHandler.Routes(r)
		}
		if params.PermissionsHandler != nil {
			params.PermissionsHandler.Routes(r)
		}
		if params.AuditHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.AuthzMiddleware.Require(authz.ModuleAuthz, authz.ActionViewAudit))
				params.AuditHandler.Routes(r)
			})
		}
		params.RiskMapHandler.Routes(r)
		params.PACHandler.Routes(r)
		params.ScorecardHandler.Routes(r)
		params.ActivitiesHandler.Routes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
