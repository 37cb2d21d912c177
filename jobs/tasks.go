package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/distrochain/distrochain/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryConsistency verifies aggregates against batch totals.
	TaskInventoryConsistency = "inventory:consistency"
	// TaskInventoryExpiryScan reports batches close to expiry.
	TaskInventoryExpiryScan = "inventory:expiry-scan"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ConsistencyPayload scopes a consistency scan. DistributorID 0 scans everyone.
type ConsistencyPayload struct {
	DistributorID int64     `json:"distributor_id"`
	ScheduledFor  time.Time `json:"scheduled_for"`
}

// ExpiryScanPayload sets the look-ahead window in days.
type ExpiryScanPayload struct {
	WithinDays int `json:"within_days"`
}

// NewConsistencyTask constructs an Asynq task for the consistency scan.
func NewConsistencyTask(distributorID int64) (*asynq.Task, error) {
	if distributorID < 0 {
		return nil, fmt.Errorf("jobs: invalid distributor %d", distributorID)
	}
	body, err := json.Marshal(ConsistencyPayload{DistributorID: distributorID, ScheduledFor: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryConsistency, body, asynq.Queue(QueueDefault)), nil
}

// NewExpiryScanTask constructs an Asynq task for the expiry scan.
func NewExpiryScanTask(withinDays int) (*asynq.Task, error) {
	body, err := json.Marshal(ExpiryScanPayload{WithinDays: withinDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryExpiryScan, body, asynq.Queue(QueueDefault)), nil
}
