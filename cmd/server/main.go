// Package main is the entrypoint for the Crewboard API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crewboardhq/crewboard/internal/allocation"
	"github.com/crewboardhq/crewboard/internal/api"
	"github.com/crewboardhq/crewboard/internal/api/handler"
	mw "github.com/crewboardhq/crewboard/internal/api/middleware"
	"github.com/crewboardhq/crewboard/internal/api/response"
	"github.com/crewboardhq/crewboard/internal/cache"
	"github.com/crewboardhq/crewboard/internal/config"
	"github.com/crewboardhq/crewboard/internal/event"
	"github.com/crewboardhq/crewboard/internal/expiry"
	"github.com/crewboardhq/crewboard/internal/lifecycle"
	"github.com/crewboardhq/crewboard/internal/recommend"
	"github.com/crewboardhq/crewboard/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "request_ttl", cfg.Engine.RequestTTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Event emitter shares the cache's Redis connection
	emitter := event.NewRedisEmitterFromClient(redisCache.Client())

	// 6. Match score lookups are optional
	var scorer recommend.Scorer = recommend.Disabled{}
	if cfg.Recommend.BaseURL != "" {
		scorer = recommend.NewHTTPScorer(cfg.Recommend.BaseURL, cfg.Recommend.Timeout)
		slog.Info("recommendation scorer enabled", "base_url", cfg.Recommend.BaseURL)
	}

	// 7. Create store and engine services
	pgStore := store.NewPostgresStore(pool)
	alloc := allocation.NewManager(pgStore, emitter)
	lc := lifecycle.NewService(pgStore, alloc, emitter, scorer, cfg.Engine.RequestTTL)

	// 8. Start the expiry scheduler
	scheduler := expiry.New(lc, alloc, cfg.Engine.SweepInterval, cfg.Engine.SweepBatchSize)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start expiry scheduler: %w", err)
	}
	defer scheduler.Stop()

	// 9. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Engine.RateLimitPerMin)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		CreatePostHandler: handler.NewCreatePostHandler(alloc),
		GetPostHandler:    handler.NewGetPostHandler(alloc),
		UpdatePostHandler: handler.NewUpdatePostHandler(alloc),
		DeletePostHandler: handler.NewDeletePostHandler(alloc),

		CreateRequestHandler:   handler.NewCreateRequestHandler(lc),
		GetRequestHandler:      handler.NewGetRequestHandler(lc),
		ListRequestsHandler:    handler.NewListRequestsHandler(lc),
		AcceptRequestHandler:   handler.NewRequestActionHandler(lc, "accept"),
		DenyRequestHandler:     handler.NewRequestActionHandler(lc, "deny"),
		WithdrawRequestHandler: handler.NewRequestActionHandler(lc, "withdraw"),
		MyStatusHandler:        handler.NewMyStatusHandler(lc, redisCache),

		SetJobStatusHandler: handler.NewSetJobStatusHandler(alloc),
		GetJobHandler:       handler.NewGetJobHandler(alloc),
		ListJobsHandler:     handler.NewListJobsHandler(alloc),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
