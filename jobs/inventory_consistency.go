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

// ConsistencyChecker compares inventory aggregates with their batches.
type ConsistencyChecker interface {
	CheckConsistency(ctx context.Context, distributorID int64) ([]inventory.Drift, error)
}

// ConsistencyJob reports drift between aggregates and batch totals. Drift is
// logged and counted; it is never corrected automatically.
type ConsistencyJob struct {
	Checker ConsistencyChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewConsistencyJob wires dependencies for the consistency handler.
func NewConsistencyJob(checker ConsistencyChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsistencyJob {
	return &ConsistencyJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle processes TaskInventoryConsistency tasks.
func (j *ConsistencyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("inventory consistency: handler not configured")
	}
	var payload ConsistencyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskInventoryConsistency)
	logger := j.logger().With(slog.Int64("distributor_id", payload.DistributorID))

	drifts, err := j.Checker.CheckConsistency(ctx, payload.DistributorID)
	if err != nil {
		logger.Error("consistency scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	perDistributor := make(map[int64]int)
	for _, d := range drifts {
		perDistributor[d.DistributorID]++
	}
	for id, n := range perDistributor {
		j.metrics().AddDrifts(id, n)
	}
	logger.Info("completed consistency scan",
		slog.Int("drifts", len(drifts)),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *ConsistencyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryConsistency))
	}
	return slog.Default().With(slog.String("job", TaskInventoryConsistency))
}

func (j *ConsistencyJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
