package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/josh-kwaku/horse-sheet/internal/config"
	"github.com/josh-kwaku/horse-sheet/internal/ledger"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
	"github.com/josh-kwaku/horse-sheet/internal/queue"
	"github.com/josh-kwaku/horse-sheet/internal/repository"
)

const idempotencyCleanupInterval = time.Hour

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("horse-sheet-worker", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolFromConfig(cfg))
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	backend, err := queue.Open(ctx, cfg, db)
	if err != nil {
		slog.Error("failed to open delta queue", "error", err, "driver", cfg.QueueDriver)
		os.Exit(1)
	}
	defer backend.Close()

	// Jobs left in the Redis processing list by a crashed worker are only
	// safe to move back before any dispatcher claims again.
	if rq, ok := backend.Queue.(*queue.RedisQueue); ok {
		n, err := rq.Recover(ctx)
		if err != nil {
			slog.Error("failed to recover in-flight jobs", "error", err)
			os.Exit(1)
		}
		if n > 0 {
			slog.Warn("recovered in-flight jobs", "count", n)
		}
	}

	ldg := ledger.New(db, repository.NewBalanceRepository(db), repository.NewBalanceEntryRepository(db))
	dispatcher := queue.NewDispatcher(backend.Queue, ldg, queue.DispatcherConfigFromConfig(cfg), logging.Component(logger, "dispatcher"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanIdempotency(ctx, repository.NewIdempotencyRepository(db), logging.Component(logger, "idempotency"))
	}()

	slog.Info("worker started", "queue_driver", cfg.QueueDriver, "partitions", cfg.DispatchPartitions)
	wg.Wait()
	slog.Info("worker stopped")
}

type expiredCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

func cleanIdempotency(ctx context.Context, repo expiredCleaner, logger *slog.Logger) {
	ticker := time.NewTicker(idempotencyCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanExpired(ctx)
			if err != nil {
				logger.Error("idempotency cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired idempotency entries removed", "count", n)
			}
		}
	}
}
