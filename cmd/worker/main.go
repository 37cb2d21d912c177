package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/distrochain/distrochain/cmd/worker/cli"
	"github.com/distrochain/distrochain/internal/app"
	"github.com/distrochain/distrochain/internal/inventory"
	jobmetrics "github.com/distrochain/distrochain/internal/jobs"
	"github.com/distrochain/distrochain/internal/platform/db"
	"github.com/distrochain/distrochain/jobs"
)

func main() {
	trigger := flag.String("trigger", "", "enqueue one job by name and exit")
	distributor := flag.Int64("distributor", 0, "distributor scope for a triggered consistency scan (0 = all)")
	withinDays := flag.Int("within-days", 0, "look-ahead window for a triggered expiry scan")
	stats := flag.Bool("stats", false, "print default queue stats and exit")
	flag.Parse()

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	if *trigger != "" || *stats {
		if err := runCLI(ctx, cfg.RedisAddr, *trigger, *stats, cli.TriggerOptions{DistributorID: *distributor, WithinDays: *withinDays}); err != nil {
			logger.Error("jobs cli", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	inventoryService := inventory.NewService(inventory.NewRepository(pool), logger)
	metrics := jobmetrics.NewMetrics(nil)

	consistencyJob := jobs.NewConsistencyJob(inventoryService, logger, metrics)
	expiryJob := jobs.NewExpiryScanJob(inventoryService, cfg.ExpiryWindow, logger, metrics)

	consistencyTask, err := jobs.NewConsistencyTask(0)
	if err != nil {
		logger.Error("build consistency task", slog.Any("error", err))
		os.Exit(1)
	}
	expiryTask, err := jobs.NewExpiryScanTask(0)
	if err != nil {
		logger.Error("build expiry task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInventoryConsistency, Handler: consistencyJob.Handle},
			{Type: jobs.TaskInventoryExpiryScan, Handler: expiryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: consistencyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 5 * * *", Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		_ = metricsServer.Close()
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func runCLI(ctx context.Context, redisAddr, trigger string, stats bool, opts cli.TriggerOptions) error {
	c := cli.NewJobsCLI(redisAddr)
	defer c.Close()

	if trigger != "" {
		info, err := c.Trigger(ctx, trigger, opts)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	}
	if stats {
		s, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
	}
	return nil
}
