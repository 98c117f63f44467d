/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bulk import server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (with .env supportable via godotenv)
  2. Initialize SQLite record store
  3. Connect the session store (redis, or in-memory when REDIS_ADDR unset)
  4. Register import profiles and build the API handler
  5. Start server with graceful shutdown

CONFIGURATION (environment):
  PORT          HTTP server port (default: 8080)
  DB_PATH       SQLite database path (default: ingest.db, ":memory:" works)
  REDIS_ADDR    Redis address; empty selects the in-memory session store
  SESSION_TTL   In-flight session lifetime (default: 1h)
  SUMMARY_TTL   Stored summary lifetime (default: 5m)
  CHUNK_SIZE    Maximum rows per submitted chunk (default: 50)
  LOG_LEVEL     logrus level (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close session store and database
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment parsing
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/ingest-engine/api"
	"github.com/warp/ingest-engine/config"
	"github.com/warp/ingest-engine/funding"
	"github.com/warp/ingest-engine/ingest"
	memstore "github.com/warp/ingest-engine/ingest/store"
	"github.com/warp/ingest-engine/notify"
	"github.com/warp/ingest-engine/staff"
	redisstore "github.com/warp/ingest-engine/store/redis"
	"github.com/warp/ingest-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := cfg.Logger().WithField("service", "ingest")

	// Record store
	records, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer records.Close()

	// Session store: redis when configured, in-memory otherwise
	var sessions ingest.SessionStore
	if cfg.RedisAddr != "" {
		rs := redisstore.New(cfg.RedisAddr, cfg.SessionTTL, cfg.SummaryTTL)
		if err := rs.Ping(context.Background()); err != nil {
			log.Fatalf("Failed to reach redis at %s: %v", cfg.RedisAddr, err)
		}
		defer rs.Close()
		sessions = rs
		log.WithField("redis", cfg.RedisAddr).Info("using redis session store")
	} else {
		sessions = memstore.NewMemorySessions(cfg.SessionTTL, cfg.SummaryTTL)
		log.Info("using in-memory session store")
	}

	// Import profiles
	profiles := map[string]api.ProfileBuilder{
		staff.ProfileName: func(ctx context.Context, records ingest.RecordStore, actor string) (ingest.Profile, error) {
			return staff.NewImporter(ctx, records, actor)
		},
		funding.ProfileName: func(ctx context.Context, records ingest.RecordStore, actor string) (ingest.Profile, error) {
			return funding.NewImporter(ctx, records, actor)
		},
	}

	notifier := notify.NewLogNotifier(log)
	handler := api.NewHandler(sessions, records, notifier, profiles, cfg.ChunkSize, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Server starting on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
