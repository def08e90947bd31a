package routes

import (
	"context"
	"net/http"
	"time"

	"eddm-registry/internal/config"
	"eddm-registry/internal/handlers"
	"eddm-registry/internal/logger"
	mdlwr "eddm-registry/internal/middleware"
	"eddm-registry/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Dependencies are built in main and handed to the router.
type Dependencies struct {
	Registry      handlers.Registry
	AdminRegistry handlers.AdminRegistry
	AdminAuth     handlers.AdminAuthenticator
	// AuthMW guards the admin views; a nil value leaves them unmounted.
	AuthMW  *mdlwr.AuthMiddleware
	Health  func(ctx context.Context) error
	Metrics http.Handler
}

func NewRouter(cfg *config.Config, logr *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS middleware with config
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	registryHandler := handlers.NewRegistryHandler(deps.Registry, logr.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health(ctx); err != nil {
				logr.Error("health check failed", zap.Error(err))
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	// Opt-out flow
	r.Post("/carrier-route", registryHandler.LookupCarrierRoute)
	r.Get("/route-stats", registryHandler.RouteStats)
	r.Post("/do-not-deliver", registryHandler.DoNotDeliver)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/carrier-route", registryHandler.LookupCarrierRoute)
		r.Get("/route-stats", registryHandler.RouteStats)
		r.Post("/do-not-deliver", registryHandler.DoNotDeliver)

		if deps.AuthMW == nil || deps.AdminAuth == nil || deps.AdminRegistry == nil {
			logr.Warn("admin routes disabled: auth not configured")
			return
		}
		adminHandler := handlers.NewAdminHandler(deps.AdminAuth, deps.AdminRegistry, logr.Logger)

		r.Route("/admin", func(r chi.Router) {
			// Public routes
			r.Post("/login", adminHandler.LoginLocal)
			r.Post("/ldap", adminHandler.LoginLDAP)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMW.JWTAuth)
				r.Use(deps.AuthMW.RequireRole(models.RoleAdmin))
				r.Get("/routes", adminHandler.TopRoutes)
				r.Get("/routes/{zipRoute}/subscribers", adminHandler.Subscribers)
				r.Get("/milestones", adminHandler.Milestones)
			})
		})
	})

	return r
}
