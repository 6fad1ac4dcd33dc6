package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/josh-kwaku/horse-sheet/internal/config"
	"github.com/josh-kwaku/horse-sheet/internal/ledger"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
	"github.com/josh-kwaku/horse-sheet/internal/queue"
	"github.com/josh-kwaku/horse-sheet/internal/repository"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	apply := flag.Bool("apply", cfg.ReconcileApply, "correct balances that drifted from their payments")
	flag.Parse()

	logger := logging.Init("horse-sheet-reconcile", cfg.LogLevel, cfg.AppEnv)

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

	balances := repository.NewBalanceRepository(db)
	ldg := ledger.New(db, balances, repository.NewBalanceEntryRepository(db))
	reconciler := ledger.NewReconciler(balances, backend.Queue, ldg, logging.Component(logger, "reconciler"))

	report, err := reconciler.Run(ctx, *apply)
	if err != nil {
		slog.Error("reconciliation failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		slog.Error("failed to write report", "error", err)
		os.Exit(1)
	}

	if report.Outstanding() > 0 {
		os.Exit(2)
	}
}
