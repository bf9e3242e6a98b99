/*
main.go - Application entry point

PURPOSE:
  Starts the commission engine server: configuration, dependency wiring and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the SQLite store
  4. Choose the balance cache (Redis when REDIS_ADDR is set)
  5. Start the platform mirror worker (when PLATFORM_URL is set)
  6. Build the engine, router and completion scheduler
  7. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: commissions.db, env DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the completion scheduler
  2. Stop accepting new connections, wait for active requests (30s timeout)
  3. Drain the platform mirror queue
  4. Close the cache and database

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
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

	"go.uber.org/zap"

	"github.com/warp/commission-engine/api"
	rediscache "github.com/warp/commission-engine/cache/redis"
	"github.com/warp/commission-engine/config"
	"github.com/warp/commission-engine/logging"
	"github.com/warp/commission-engine/platform"
	"github.com/warp/commission-engine/referral"
	"github.com/warp/commission-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	var cache referral.BalanceCache = referral.NewMemoryCache(cfg.BalanceCacheTTL)
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := rediscache.New(ctx, cfg.RedisAddr, cfg.BalanceCacheTTL)
		cancel()
		if err != nil {
			// Dashboards still work from the local cache.
			log.Warn("redis unavailable, using in-process balance cache", zap.Error(err))
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	opts := referral.Options{
		Schedule:      cfg.Schedule,
		Cache:         cache,
		Logger:        log,
		MinWithdrawal: cfg.MinWithdrawal,
	}
	if cfg.PlatformURL != "" {
		mirror := referral.NewAsyncMirror(platform.NewClient(cfg.PlatformURL, cfg.PlatformAPIKey), log, 256)
		defer mirror.Close()
		opts.Mirror = mirror
	}

	engine, err := referral.New(store, opts)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	handler := api.NewHandler(engine, store, log)
	router := api.NewRouter(handler)

	scheduler := api.NewCompletionScheduler(engine.Withdrawals, cfg.AutoCompleteAfter, log)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
