/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the economy engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse environment config, then command-line flag overrides
  2. Initialize the store backend (sqlite, memory, or redis)
  3. Wire the service, handler, and router
  4. Start the order sweeper
  5. Start the server with graceful shutdown

CONFIGURATION:
  Environment first, flags override:
    PORT / -port                    HTTP server port (default: 8080)
    STORE_BACKEND / -backend        sqlite | memory | redis (default: sqlite)
    DB_PATH / -db                   SQLite database path (default: economy.db)
                                    Use ":memory:" for an in-memory database
    REDIS_ADDR / -redis             Redis address (default: localhost:6379)
    LOCK_TIMEOUT                    Lock acquisition timeout (default: 10s)
    SWEEP_INTERVAL                  Order sweeper interval (default: 30s)
    DEV                             Development logger output (default: false)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper, close the store
  4. Exit

EXAMPLES:
  # Run with a file database
  ./server -db="./data/economy.db"

  # Run purely in memory
  ./server -backend=memory

  # Run against redis
  ./server -backend=redis -redis=localhost:6379

SEE ALSO:
  - api/server.go: Router configuration
  - shop/service.go: Service wiring
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/warp/economy-engine/api"
	"github.com/warp/economy-engine/economy"
	"github.com/warp/economy-engine/shop"
	"github.com/warp/economy-engine/store/redis"
	"github.com/warp/economy-engine/store/sqlite"

	memstore "github.com/warp/economy-engine/economy/store"
)

type config struct {
	Port          int           `env:"PORT" envDefault:"8080"`
	Backend       string        `env:"STORE_BACKEND" envDefault:"sqlite"`
	DBPath        string        `env:"DB_PATH" envDefault:"economy.db"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	LockTimeout   time.Duration `env:"LOCK_TIMEOUT" envDefault:"10s"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	Dev           bool          `env:"DEV" envDefault:"false"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Failed to parse environment: %v", err)
	}

	// Flags override environment.
	port := flag.Int("port", cfg.Port, "HTTP server port")
	backend := flag.String("backend", cfg.Backend, "store backend: sqlite, memory, or redis")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	redisAddr := flag.String("redis", cfg.RedisAddr, "Redis address")
	flag.Parse()

	logger, err := newLogger(cfg.Dev)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	store, closeStore, err := openStore(*backend, *dbPath, *redisAddr)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.String("backend", *backend), zap.Error(err))
	}
	defer closeStore()

	locks := economy.NewLockManager(cfg.LockTimeout)
	// Headless server: no chat surface is attached, so outward
	// notifications are dropped rather than accumulated.
	svc := shop.New(store, locks, economy.NopSink{}, logger)

	sweeper := shop.NewOrderSweeper(svc, logger)
	sweeper.CheckInterval = cfg.SweepInterval
	sweeper.Start()
	defer sweeper.Stop()

	handler := api.NewHandler(svc, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", *port),
			zap.String("backend", *backend))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStore builds the configured backend. The returned closer is a no-op
// for the memory store.
func openStore(backend, dbPath, redisAddr string) (economy.AtomicStore, func(), error) {
	switch backend {
	case "sqlite":
		s, err := sqlite.New(dbPath)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s), nil
	case "memory":
		return memstore.NewMemory(), func() {}, nil
	case "redis":
		s, err := redis.New(context.Background(), redisAddr)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s), nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func closer(c io.Closer) func() {
	return func() { c.Close() }
}
