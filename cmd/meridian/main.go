package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-compliance/meridian/internal/activities"
	"github.com/meridian-compliance/meridian/internal/app"
	"github.com/meridian-compliance/meridian/internal/audit"
	"github.com/meridian-compliance/meridian/internal/authz"
	"github.com/meridian-compliance/meridian/internal/identity"
	"github.com/meridian-compliance/meridian/internal/lifecycle"
	"github.com/meridian-compliance/meridian/internal/observability"
	"github.com/meridian-compliance/meridian/internal/pac"
	"github.com/meridian-compliance/meridian/internal/platform/cache"
	"github.com/meridian-compliance/meridian/internal/platform/db"
	"github.com/meridian-compliance/meridian/internal/processus"
	"github.com/meridian-compliance/meridian/internal/riskmap"
	"github.com/meridian-compliance/meridian/internal/roles"
	"github.com/meridian-compliance/meridian/internal/scorecard"
	"github.com/meridian-compliance/meridian/internal/shared"
	"github.com/meridian-compliance/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	metrics := observability.NewMetrics()
	recorder := audit.NewRecorder(dbpool, logger)
	timeline := audit.NewTimeline(dbpool)

	chains := lifecycle.NewController(lifecycle.ControllerParams{
		Repo:   lifecycle.NewRepository(dbpool),
		Events: lifecycle.MultiSink(recorder, metrics),
		Logger: logger,
	})

	capabilities, err := authz.NewCapabilityTable(
		riskmap.Grants(),
		pac.Grants(),
		scorecard.Grants(),
		activities.Grants(),
		processus.GrantsForRegistry(),
		authz.GrantsForAdministration(),
	)
	if err != nil {
		logger.Error("build capability table", slog.Any("error", err))
		os.Exit(1)
	}

	predicates := authz.NewPredicateRegistry()
	riskmap.RegisterPredicates(predicates)
	pac.RegisterPredicates(predicates)
	scorecard.RegisterPredicates(predicates)
	activities.RegisterPredicates(predicates)

	resolvers := authz.NewResolverTable()
	riskmap.RegisterResolvers(resolvers, chains)
	pac.RegisterResolvers(resolvers, chains)
	scorecard.RegisterResolvers(resolvers, chains)
	activities.RegisterResolvers(resolvers, chains)

	perms := authz.NewService(authz.ServiceParams{
		Store:        authz.NewRepository(dbpool),
		Capabilities: capabilities,
		Predicates:   predicates,
		Resolvers:    resolvers,
		Cache:        authz.NewDecisionCache(redisClient, authz.DecisionTTL),
		Recorder:     recorder,
		Metrics:      metrics,
		Logger:       logger,
	})

	identityService := identity.NewService(identity.NewRepository(dbpool))
	identityMiddleware := &identity.Middleware{Service: identityService, Logger: logger}
	currentUser := func(r *http.Request) (authz.User, bool) {
		u := identity.FromContext(r.Context())
		if u == nil {
			return authz.User{}, false
		}
		return u.Authz(), true
	}

	processusService := processus.NewService(processus.NewRepository(dbpool))
	rolesService := roles.NewService(roles.NewRepository(dbpool))

	riskMapService := riskmap.NewService(riskmap.NewRepository(dbpool), perms, chains, logger)
	pacService := pac.NewService(pac.NewRepository(dbpool), perms, chains, logger)
	scorecardService := scorecard.NewService(scorecard.NewRepository(dbpool), perms, chains, logger)
	activitiesService := activities.NewService(activities.NewRepository(dbpool), perms, chains, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,

		IdentityMiddleware: identityMiddleware,
		AuthzMiddleware:    authz.Middleware{Service: perms, Current: currentUser, Logger: logger},
		IdentityHandler:    identity.NewHandler(identityService),
		PermissionsHandler: authz.NewHandler(perms, currentUser, logger),
		ProcessusHandler:   processus.NewHandler(processusService, perms, currentUser),
		RolesHandler:       roles.NewHandler(rolesService),
		AuditHandler:       audit.NewHandler(timeline),
		RiskMapHandler:     riskmap.NewHandler(riskMapService, currentUser),
		PACHandler:         pac.NewHandler(pacService, currentUser),
		ScorecardHandler:   scorecard.NewHandler(scorecardService, currentUser),
		ActivitiesHandler:  activities.NewHandler(activitiesService, currentUser),

		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
