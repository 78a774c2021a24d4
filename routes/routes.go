package routes

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/auth0-gateway/app"
	"github.com/upb/auth0-gateway/handlers"
	"github.com/upb/auth0-gateway/middleware"
	"github.com/upb/auth0-gateway/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", cfg.Auth0.SecondaryHeader},
		ExposedHeaders:   []string{"WWW-Authenticate"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	var auditStats handlers.AuditStatsProvider
	if deps.Audit != nil {
		auditStats = deps.Audit
	}
	health := handlers.NewHealthHandler(db, deps.Keys, auditStats, cfg.Environment, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	r.Get("/status", health.HandleStatus)

	if cfg.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	claims := handlers.NewClaimsHandler(deps.Logger)
	userInfo := handlers.NewUserInfoHandler(deps.UserInfo, deps.Logger)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.AuthGateway.RequireAuth)
		r.Get("/hello", claims.HandleHello)
		r.Get("/advanced", userInfo.HandleAdvanced)

		if deps.AuthEvents != nil {
			events := handlers.NewAuditHandler(deps.AuthEvents, deps.Logger)
			r.With(deps.AuthGateway.RequireScope(cfg.Audit.ReadScope)).
				Get("/audit/events", events.HandleListEvents)
		}
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "endpoint not found", nil)
	})

	return r
}
