package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/distrochain/distrochain/internal/jobs"
	"github.com/distrochain/distrochain/internal/inventory"
)

// ExpiryScanner lists stocked batches expiring inside a window.
type ExpiryScanner interface {
	ExpiringBatches(ctx context.Context, within time.Duration) ([]inventory.Batch, error)
}

// ExpiryScanJob warns about stocked batches nearing expiry.
type ExpiryScanJob struct {
	Scanner     ExpiryScanner
	DefaultDays int
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewExpiryScanJob wires the expiry scan handler. defaultWindow applies when the
// task payload carries no window.
func NewExpiryScanJob(scanner ExpiryScanner, defaultWindow time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanJob {
	days := int(defaultWindow / (24 * time.Hour))
	if days <= 0 {
		days = 30
	}
	return &ExpiryScanJob{Scanner: scanner, DefaultDays: days, Logger: logger, Metrics: metrics}
}

// Handle processes TaskInventoryExpiryScan tasks.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("expiry scan: handler not configured")
	}
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WithinDays <= 0 {
		payload.WithinDays = j.DefaultDays
	}

	tracker := j.metrics().Track(TaskInventoryExpiryScan)
	logger := j.logger().With(slog.Int("within_days", payload.WithinDays))

	batches, err := j.Scanner.ExpiringBatches(ctx, time.Duration(payload.WithinDays)*24*time.Hour)
	if err != nil {
		logger.Error("expiry scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, b := range batches {
		logger.Warn("batch nearing expiry",
			slog.Int64("distributor_id", b.DistributorID),
			slog.String("product", b.ProductName),
			slog.String("batch_no", b.BatchNo),
			slog.Time("expiry_date", b.ExpiryDate),
			slog.Int64("qty", b.Qty),
		)
	}
	j.metrics().SetExpiring(len(batches))
	logger.Info("completed expiry scan", slog.Int("batches", len(batches)))
	return tracker.End(nil)
}

func (j *ExpiryScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryExpiryScan))
	}
	return slog.Default().With(slog.String("job", TaskInventoryExpiryScan))
}

func (j *ExpiryScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
