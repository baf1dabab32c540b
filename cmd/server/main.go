/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the allocation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, ALLOC_* env, defaults)
  2. Build the zap logger
  3. Open the SQLite store (ledger, claims and directory share it)
  4. Pick the lock backend (in-process or Redis)
  5. Pick the document backend (memory or S3)
  6. Wire ledger, approval pipeline, handler and router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a TOML config file. Optional; config.toml is looked up
           in the working directory and /etc/allocation-engine.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http.shutdown_timeout)
  3. Close Redis and database connections
  4. Exit

EXAMPLES:
  # Defaults: :8080, ./allocations.db, local locks, in-memory documents
  ./server

  # Multiple replicas sharing a Redis lock and an S3 bucket
  ALLOC_LOCK_BACKEND=redis ALLOC_REDIS_ADDR=redis:6379 \
  ALLOC_STORAGE_BACKEND=s3 ALLOC_STORAGE_BUCKET=po-uploads ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/approval"
	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/documents"
	"github.com/warp/allocation-engine/ledger"
	"github.com/warp/allocation-engine/lock"
	"github.com/warp/allocation-engine/logging"
	"github.com/warp/allocation-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	locker, closeLocker, err := newLocker(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	ctx := context.Background()
	docs, err := newDocumentStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	ldg := ledger.NewLedger(store, store,
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithLocker(locker),
		ledger.WithMaxRetries(cfg.Ledger.MaxRetries),
	)
	pipeline := approval.NewPipeline(store, store,
		approval.WithLogger(logger.Named("approval")),
		approval.WithDocuments(docs),
	)

	handler := api.NewHandler(store, ldg, pipeline, logger.Named("http"))
	router := api.NewRouter(handler, cfg.HTTP.CORSOrigins)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path),
			zap.String("lock", cfg.Lock.Backend),
			zap.String("storage", cfg.Storage.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newLocker returns the serializing boundary for allocations and a func
// releasing its resources.
func newLocker(cfg *config.Config, logger *zap.Logger) (core.Locker, func(), error) {
	if cfg.Lock.Backend != "redis" {
		return lock.NewLocal(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	locker := lock.NewRedis(client,
		lock.WithTTL(cfg.Lock.TTL),
		lock.WithBackoff(cfg.Lock.Backoff, cfg.Lock.Retries),
		lock.WithRedisLogger(logger.Named("lock")),
	)
	return locker, func() { client.Close() }, nil
}

func newDocumentStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (documents.Store, error) {
	if cfg.Backend != "s3" {
		return documents.NewMemory(), nil
	}
	s3Store, err := documents.NewS3Store(ctx, documents.S3Config{
		Bucket:       cfg.Bucket,
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		UsePathStyle: cfg.UsePathStyle,
	}, logger.Named("documents"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document storage: %w", err)
	}
	return s3Store, nil
}
