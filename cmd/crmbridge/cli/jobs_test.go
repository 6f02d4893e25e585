package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fencecraft/crmbridge/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func (f *fakeInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s-1", Type: jobs.TaskCatalogRefresh, NextProcessAt: time.Date(2026, 10, 14, 12, 30, 0, 0, time.UTC)}}, nil
}

func (f *fakeInspector) Close() error { return nil }

func TestTriggerCatalogRefresh(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := NewJobsCLIWith(enq, &fakeInspector{})

	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), &out, []string{"trigger", jobs.TaskCatalogRefresh}))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, jobs.TaskCatalogRefresh, enq.tasks[0].Type())
	assert.Contains(t, out.String(), "enqueued catalog:refresh id=t-1")
}

func TestTriggerDealEstimate(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := NewJobsCLIWith(enq, &fakeInspector{})

	_, err := c.Trigger(context.Background(), jobs.TaskDealEstimate, "42")
	assert.Error(t, err)
	_, err = c.Trigger(context.Background(), jobs.TaskDealEstimate, "x", "10")
	assert.Error(t, err)

	_, err = c.Trigger(context.Background(), jobs.TaskDealEstimate, "42", "1999.5")
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	var payload jobs.DealEstimatePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, int64(42), payload.DealID)
	assert.Equal(t, 1999.5, payload.Total)
}

func TestTriggerUnknown(t *testing.T) {
	c := NewJobsCLIWith(&fakeEnqueuer{}, &fakeInspector{})
	_, err := c.Trigger(context.Background(), "nope")
	assert.Error(t, err)
	assert.Error(t, c.Run(context.Background(), &bytes.Buffer{}, nil))
	assert.Error(t, c.Run(context.Background(), &bytes.Buffer{}, []string{"purge"}))
}

func TestStatsAndScheduled(t *testing.T) {
	c := NewJobsCLIWith(&fakeEnqueuer{}, &fakeInspector{info: &asynq.QueueInfo{Pending: 3, Retry: 1}})

	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), &out, []string{"stats"}))
	assert.Equal(t, "default pending=3 active=0 scheduled=0 retry=1\n", out.String())

	out.Reset()
	require.NoError(t, c.Run(context.Background(), &out, []string{"scheduled"}))
	assert.Equal(t, "s-1 catalog:refresh 2026-10-14 12:30:00\n", out.String())

	failing := NewJobsCLIWith(&fakeEnqueuer{}, &fakeInspector{err: errors.New("redis down")})
	_, err := failing.InspectQueue(context.Background())
	assert.Error(t, err)
}
