package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/distrochain/distrochain/internal/app"
	"github.com/distrochain/distrochain/internal/catalog"
	"github.com/distrochain/distrochain/internal/inbound"
	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/invoicing"
	"github.com/distrochain/distrochain/internal/ledger"
	"github.com/distrochain/distrochain/internal/observability"
	"github.com/distrochain/distrochain/internal/orders"
	"github.com/distrochain/distrochain/internal/platform/cache"
	"github.com/distrochain/distrochain/internal/platform/db"
	"github.com/distrochain/distrochain/internal/shared"
	"github.com/distrochain/distrochain/internal/stockaudit"
	"github.com/distrochain/distrochain/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Without Redis the ledger summary is read straight from Postgres.
	var redisClient *redis.Client
	if client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr}); err != nil {
		logger.Warn("redis unavailable, ledger cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	retailers := shared.NewRetailerDirectory(dbpool)

	ledgerCache := ledger.NewCache(redisClient, cfg.LedgerCacheTTL, logger)
	ledgerService := ledger.NewService(ledger.NewRepository(dbpool), retailers, ledgerCache, auditLogger, logger)

	orderService := orders.NewService(orders.NewRepository(dbpool), retailers, auditLogger, logger).WithMetrics(metrics)
	invoiceService := invoicing.NewService(invoicing.NewRepository(dbpool), ledgerService, auditLogger, logger).
		WithMetrics(metrics).
		WithCatalog(catalog.NewDirectory(dbpool, logger))
	inboundService := inbound.NewService(inbound.NewRepository(dbpool), auditLogger, logger).WithMetrics(metrics)
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), logger)
	auditService := stockaudit.NewService(stockaudit.NewRepository(dbpool), retailers, approvalRecorder, auditLogger, logger).WithMetrics(metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		OrdersHandler:     orders.NewHandler(logger, orderService),
		InvoicingHandler:  invoicing.NewHandler(logger, invoiceService),
		LedgerHandler:     ledger.NewHandler(logger, ledgerService),
		InventoryHandler:  inventory.NewHandler(logger, inventoryService),
		InboundHandler:    inbound.NewHandler(logger, inboundService),
		StockAuditHandler: stockaudit.NewHandler(logger, auditService),
		JobHandler:        jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
