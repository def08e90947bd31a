package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eddm-registry/internal/address"
	"eddm-registry/internal/auth"
	"eddm-registry/internal/cache"
	"eddm-registry/internal/config"
	"eddm-registry/internal/database"
	"eddm-registry/internal/events"
	"eddm-registry/internal/geo"
	"eddm-registry/internal/households"
	"eddm-registry/internal/logger"
	"eddm-registry/internal/metrics"
	mdlwr "eddm-registry/internal/middleware"
	"eddm-registry/internal/routes"
	"eddm-registry/internal/services"
	"eddm-registry/internal/smarty"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logr := logger.New(cfg)
	defer logr.Sync()

	db, err := database.New(cfg.DatabaseURL, cfg)
	if err != nil {
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(ctx, db); err != nil {
		cancel()
		logr.Fatal("failed to migrate database", zap.Error(err))
	}
	cancel()

	var statsCache services.StatsCache
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(context.Background(), cfg.RedisURL)
		if err != nil {
			logr.Warn("redis unavailable, route stats will not be cached", zap.Error(err))
		} else {
			defer rdb.Close()
			statsCache = cache.NewRouteActivity(rdb, cfg.StatsCacheTTL)
		}
	}

	if !cfg.SmartyMock && cfg.SmartyAuthID == "" {
		logr.Warn("SMARTY_AUTH_ID not set; address lookups will fail until it is configured")
	}
	resolver := smarty.New(nil, smarty.Config{
		AuthID:    cfg.SmartyAuthID,
		AuthToken: cfg.SmartyAuthToken,
		Mock:      cfg.SmartyMock,
	})

	m := metrics.New(prometheus.DefaultRegisterer)
	observer := events.NewAsync(events.Multi{m, events.Logging{Logr: logr.Logger}}, logr.Logger)

	registry := services.NewRegistryService(
		services.NewPostgresOptOutStore(db),
		resolver,
		households.NewEstimator(),
		geo.NewClusterer(cfg.ClusterRadiusDegrees),
		address.NewHasher(cfg.AddressHashPepper),
		statsCache,
		observer,
		services.RegistryOptions{
			Thresholds:          cfg.MilestoneThresholds,
			MinClusterSize:      cfg.MinClusterSize,
			CoordinatePrecision: cfg.CoordinatePrecision,
			LookupTimeout:       cfg.LookupTimeout,
		},
		logr,
	)

	deps := routes.Dependencies{
		Registry: registry,
		Health:   db.PingContext,
		Metrics:  promhttp.Handler(),
	}

	jwtManager, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTIssuer)
	if err != nil {
		logr.Warn("jwt keys not loaded, admin views disabled", zap.Error(err))
	} else {
		adminAuth := services.NewAdminAuthService(db, jwtManager, cfg, logr)
		if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := adminAuth.EnsureLocalAdmin(ctx, cfg.AdminEmail, "Administrator", cfg.AdminPassword); err != nil {
				logr.Error("failed to ensure local admin", zap.Error(err))
			}
			cancel()
		}
		deps.AdminRegistry = registry
		deps.AdminAuth = adminAuth
		deps.AuthMW = mdlwr.NewAuthMiddleware(jwtManager, adminAuth, logr.Logger)
	}

	r := routes.NewRouter(cfg, logr, deps)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logr.Info("server started", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down server...")
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logr.Error("server forced to shutdown", zap.Error(err))
	}
	observer.Wait()

	logr.Info("server exited gracefully")
}
