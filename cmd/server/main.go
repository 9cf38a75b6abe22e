/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rent advance server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, configs/config.yaml, environment)
  2. Build the logger
  3. Initialize SQLite store
  4. Connect the sweep lease (Redis, optional)
  5. Create advance service, scheduler and API handler
  6. Start server with graceful shutdown

CONFIGURATION:
  See config/config.go. Common variables:
    APP_ENV      development | production
    HTTP_PORT    HTTP server port (default: 8080)
    DB_PATH      SQLite database path (default: advances.db)
                 Use ":memory:" for in-memory database
    REDIS_ADDR   Enables the cross-replica sweep lease
    LOG_LEVEL    debug, info, warn, error

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/rent-advance/advance"
	"github.com/warp/rent-advance/api"
	"github.com/warp/rent-advance/config"
	"github.com/warp/rent-advance/generic"
	"github.com/warp/rent-advance/lease"
	"github.com/warp/rent-advance/logger"
	"github.com/warp/rent-advance/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("production")
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Environment)

	// Initialize store
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DB.Path).Msg("failed to initialize database")
	}
	defer store.Close()

	// Sweep lease: Redis when configured, local otherwise
	locker, redisClient, err := lease.Connect(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, sweep lease is local only")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	svc := advance.NewService(store, generic.SystemClock{}, cfg.EngineOptions(), log)

	scheduler := api.NewSweepScheduler(svc.Tracker(), locker, log.With().Str("component", "sweep").Logger())
	scheduler.CheckInterval = cfg.Sweep.Interval
	scheduler.Enabled = cfg.Sweep.Enabled
	scheduler.Start()

	handler := api.NewHandler(store, svc, scheduler, log.With().Str("component", "api").Logger())
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.Environment).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
