/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine HTTP server and the accrual
  scheduler. Handles configuration, dependency injection, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, LEAVE_* environment, then flags)
  2. Open the store (SQLite or Postgres) and the optional Redis run locker
  3. Build the service with metrics and logging attached
  4. Configure HTTP router
  5. Start the scheduler and the server, then wait for a signal

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides LEAVE_SERVER_PORT)
  -db      SQLite database path (overrides LEAVE_DATABASE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (an in-flight run completes)
  2. Stop accepting new connections
  3. Wait for active requests to complete (LEAVE_SERVER_SHUTDOWN_TIMEOUT)
  4. Close database and Redis connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/leave.db"

  # Run against Postgres with shared run locks
  LEAVE_DATABASE_DRIVER=postgres LEAVE_DATABASE_DSN=postgres://... \
  LEAVE_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Automated grant runs
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/metrics"
	"github.com/warp/leave-engine/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	flag.Parse()
	cfg.Server.Port = *port
	cfg.Database.Path = *dbPath

	logger := slog.New(slog.NewJSONHandler(os.Stdout, api.ECSHandlerOptions(cfg.SlogLevel())))
	slog.SetDefault(logger)

	ctx := context.Background()

	// Initialize store
	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	defer backend.Close()

	locker, closeLocker, err := store.Locker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer := metrics.New(reg)

	opts := []leave.Option{leave.WithLogger(logger), leave.WithObserver(observer)}
	if locker != nil {
		opts = append(opts, leave.WithLocker(locker))
	}
	svc := leave.NewService(backend, opts...)

	// Create router
	router := api.NewRouter(api.NewHandler(svc, logger), api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AccessLog:      logger,
		Metrics:        observer.Handler(),
	})

	scheduler := api.NewAccrualScheduler(svc, backend, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"port", cfg.Server.Port, "driver", cfg.Database.Driver, "environment", cfg.Environment,
			"shared_locks", locker != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
