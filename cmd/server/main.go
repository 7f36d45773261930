/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lecture engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Initialize logger and Sentry
  3. Open SQLite store (migrations run on open)
  4. Build lectures service, payroll engine and rules factory
  5. Apply the latest stored business rules
  6. Configure HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Optional config file (yaml, json or toml)
  -port    HTTP server port, overrides http.addr
  -db      SQLite database path, overrides db.path
           Use ":memory:" for in-memory database

ENVIRONMENT:
  Every setting can be set as TUTOR_<KEY>, e.g. TUTOR_DB_PATH,
  TUTOR_LOG_LEVEL, TUTOR_SENTRY_DSN, TUTOR_RULES_RATE_PER_LECTURE.
  A .env file in the working directory is loaded first.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/lecture-engine/api"
	"github.com/warp/lecture-engine/config"
	"github.com/warp/lecture-engine/factory"
	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/lectures"
	"github.com/warp/lecture-engine/logging"
	"github.com/warp/lecture-engine/observability"
	"github.com/warp/lecture-engine/payroll"
	"github.com/warp/lecture-engine/store/sqlite"
)

func main() {
	// Flags
	configFile := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env, cfg.Release)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, cfg.Release)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	if err := run(cfg, logger); err != nil {
		observability.CaptureErr(err)
		logger.Error("server exited", zap.Error(err))
		flush()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	clock := generic.SystemClock{Location: loc}
	svc := lectures.NewService(store, clock, cfg.Rules.Limits, logger.Named("lectures"))
	engine := payroll.NewEngine(store, clock, cfg.Rules.Rates, logger.Named("payroll"))
	handler := api.NewHandler(store, svc, engine, factory.NewRulesFactory(cfg.Rules), clock, logger.Named("api"))

	// Stored rules win over configured defaults
	if err := handler.LoadRules(context.Background()); err != nil {
		return err
	}

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("db", cfg.DBPath),
			zap.String("env", cfg.Env),
			zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
