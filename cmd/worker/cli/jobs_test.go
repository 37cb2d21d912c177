package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distrochain/distrochain/jobs"
)

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskInventoryConsistency, TriggerOptions{DistributorID: 4})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskInventoryConsistency, task.Type())
	var consistency jobs.ConsistencyPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &consistency))
	require.EqualValues(t, 4, consistency.DistributorID)

	task, err = BuildTask(jobs.TaskInventoryExpiryScan, TriggerOptions{WithinDays: 14})
	require.NoError(t, err)
	var expiry jobs.ExpiryScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &expiry))
	require.Equal(t, 14, expiry.WithinDays)

	_, err = BuildTask("inventory:unknown", TriggerOptions{})
	require.Error(t, err)
	_, err = BuildTask(jobs.TaskInventoryConsistency, TriggerOptions{DistributorID: -1})
	require.Error(t, err)
}

func TestNilCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskInventoryExpiryScan, TriggerOptions{})
	require.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)
}
