/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the civic engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment (CIVIC_ prefix)
  2. Initialize SQLite store
  3. Seed the default achievement catalog (first boot only)
  4. Create API handler with dependencies
  5. Start the achievement sweep scheduler
  6. Start server with graceful shutdown

CONFIGURATION:
  CIVIC_ADDR              Listen address (default: :8080)
  CIVIC_DB_PATH           SQLite database path (default: civic.db)
                          Use ":memory:" for in-memory database
  CIVIC_LOG_LEVEL         logrus level (default: info)
  CIVIC_CORS_ORIGINS      Allowed CORS origins, comma separated
  CIVIC_SWEEP_ENABLED     Run the periodic achievement sweep (default: true)
  CIVIC_SWEEP_SCHEDULE    Cron expression for the sweep (default: @every 5m)
  CIVIC_SEED_ACHIEVEMENTS Install default catalog on first boot (default: true)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler
  4. Close database connection
  5. Exit

SEE ALSO:
  - config/config.go: Configuration definitions
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fixmycity/civic-engine/achievements"
	"github.com/fixmycity/civic-engine/api"
	"github.com/fixmycity/civic-engine/config"
	"github.com/fixmycity/civic-engine/store/sqlite"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Install the default achievement catalog on first boot
	if cfg.SeedAchievements {
		if err := achievements.Seed(context.Background(), store); err != nil {
			log.WithError(err).Warn("failed to seed achievement catalog")
		}
	}

	// Initialize handler and router
	handler := api.NewHandler(store, log)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Background achievement sweep
	sweeper := api.NewAchievementSweeper(store, handler.Engine, log)
	if cfg.SweepEnabled {
		if err := sweeper.Start(cfg.SweepSchedule); err != nil {
			log.WithError(err).Fatal("failed to start achievement sweep")
		}
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", cfg.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}
	if cfg.SweepEnabled {
		sweeper.Stop()
	}

	log.Info("server stopped")
}
