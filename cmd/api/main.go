package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/josh-kwaku/horse-sheet/internal/billing"
	"github.com/josh-kwaku/horse-sheet/internal/catalog"
	"github.com/josh-kwaku/horse-sheet/internal/config"
	"github.com/josh-kwaku/horse-sheet/internal/handler"
	"github.com/josh-kwaku/horse-sheet/internal/ledger"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
	"github.com/josh-kwaku/horse-sheet/internal/pricing"
	"github.com/josh-kwaku/horse-sheet/internal/queue"
	"github.com/josh-kwaku/horse-sheet/internal/repository"
	"github.com/josh-kwaku/horse-sheet/internal/service/payment"
	"github.com/josh-kwaku/horse-sheet/internal/storage"
)

const exportLinkTTL = time.Hour

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("horse-sheet-api", cfg.LogLevel, cfg.AppEnv)

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

	checks := map[string]handler.Pinger{
		"database": handler.PingFunc(db.PingContext),
	}
	if backend.Redis != nil {
		checks["redis"] = backend
	}

	refs := repository.NewReferenceRepository(db)
	prices := repository.NewPriceListRepository(db)
	history := repository.NewPriceHistoryRepository(db)
	schedule := repository.NewScheduleEntryRepository(db)
	balances := repository.NewBalanceRepository(db)
	clock := pricing.SystemClock{}

	resolver := pricing.NewResolver(prices, history, clock)
	catalogSvc := catalog.NewService(db, refs, prices, history, clock)
	ldg := ledger.New(db, balances, repository.NewBalanceEntryRepository(db))
	reconciler := ledger.NewReconciler(balances, backend.Queue, ldg, logging.Component(logger, "reconciler"))
	paymentSvc := payment.NewService(db,
		repository.NewPaymentRepository(db),
		repository.NewPaymentEventRepository(db),
		refs,
		backend.Queue,
	)

	builder := billing.NewBuilder(schedule, resolver, refs)
	exporter := billing.NewExporter(builder, nil, exportLinkTTL)
	if cfg.ExportsEnabled() {
		store, err := storage.NewObjectStore(ctx, storage.OptionsFromConfig(cfg), logging.Component(logger, "storage"))
		if err != nil {
			slog.Error("failed to connect to object storage", "error", err, "endpoint", cfg.MinIOEndpoint)
			os.Exit(1)
		}
		exporter = billing.NewExporter(builder, store, exportLinkTTL)
		checks["storage"] = store
	}

	router := newRouter(handlers{
		health:     handler.NewHealthHandler(checks),
		payments:   handler.NewPaymentHandler(paymentSvc),
		balances:   handler.NewBalanceHandler(ldg, backend.Queue),
		priceLists: handler.NewPriceListHandler(catalogSvc),
		schedule:   handler.NewScheduleHandler(schedule, resolver),
		billing:    handler.NewBillingHandler(exporter),
		admin:      handler.NewAdminHandler(backend.Queue, reconciler),
	}, routerConfig{
		jwtSecret:      cfg.JWTSecret,
		allowedOrigins: cfg.CORSAllowedOrigins,
		idempotency:    repository.NewIdempotencyRepository(db),
	})

	if cfg.RunDispatcher {
		dispatcher := queue.NewDispatcher(backend.Queue, ldg, queue.DispatcherConfigFromConfig(cfg), logging.Component(logger, "dispatcher"))
		go dispatcher.Start(ctx)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr, "queue_driver", cfg.QueueDriver, "run_dispatcher", cfg.RunDispatcher)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
