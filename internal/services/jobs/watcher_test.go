package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthpulse/pulse/internal/models"
)

func finishedJob() *models.ETLJob {
	return &models.ETLJob{
		TenantID:      1,
		JobID:         "job-1",
		JobName:       "nightly-sync",
		IntegrationID: 1,
		Overall:       models.JobFinished,
		Token:         "tok-1",
		Steps: map[string]models.StepState{
			"step_a": {Order: 1, Extraction: models.StageFinished, Transform: models.StageFinished, Embedding: models.StageFinished},
			"step_b": {Order: 2, Extraction: models.StageIdle, Transform: models.StageIdle, Embedding: models.StageIdle},
		},
	}
}

func TestWatcherResetsCleanJob(t *testing.T) {
	_, watcher, jobStorage, _, _ := newController(t)
	require.NoError(t, jobStorage.CreateJob(context.Background(), finishedJob()))

	watcher.Schedule(1, "job-1", "nightly-sync", "tok-1", time.Now())

	assert.Eventually(t, func() bool {
		snap := jobStorage.snapshot("job-1")
		return snap.Overall == models.JobReady
	}, 3*time.Second, 20*time.Millisecond)

	snap := jobStorage.snapshot("job-1")
	for _, step := range snap.Steps {
		assert.Equal(t, models.StageIdle, step.Extraction)
		assert.Equal(t, models.StageIdle, step.Transform)
		assert.Equal(t, models.StageIdle, step.Embedding)
	}
	assert.Nil(t, snap.ResetDeadline)
}

func TestWatcherDefersWhenTokenRemains(t *testing.T) {
	_, watcher, jobStorage, queue, _ := newController(t)
	require.NoError(t, jobStorage.CreateJob(context.Background(), finishedJob()))

	// One message with the job's token still sits on the embedding queue.
	queue.setToken("tok-1", true)

	before := time.Now()
	watcher.Schedule(1, "job-1", "nightly-sync", "tok-1", time.Now())

	assert.Eventually(t, func() bool {
		snap := jobStorage.snapshot("job-1")
		return snap.ResetAttempt == 1
	}, 3*time.Second, 20*time.Millisecond)

	snap := jobStorage.snapshot("job-1")
	assert.Equal(t, models.JobFinished, snap.Overall)
	require.NotNil(t, snap.ResetDeadline)

	// First deferral extends the deadline by 60s.
	assert.WithinDuration(t, before.Add(60*time.Second), *snap.ResetDeadline, 2*time.Second)
}

func TestWatcherDefersWhenStageUnsettled(t *testing.T) {
	_, watcher, jobStorage, _, _ := newController(t)
	job := finishedJob()
	step := job.Steps["step_b"]
	step.Embedding = models.StageRunning
	job.Steps["step_b"] = step
	require.NoError(t, jobStorage.CreateJob(context.Background(), job))

	watcher.Schedule(1, "job-1", "nightly-sync", "tok-1", time.Now())

	assert.Eventually(t, func() bool {
		return jobStorage.snapshot("job-1").ResetAttempt == 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, models.JobFinished, jobStorage.snapshot("job-1").Overall)
}

func TestWatcherBackoffProgression(t *testing.T) {
	_, watcher, jobStorage, _, _ := newController(t)

	for _, tc := range []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 60 * time.Second},
		{1, 180 * time.Second},
		{2, 300 * time.Second},
		{7, 300 * time.Second},
	} {
		job := finishedJob()
		job.ResetAttempt = tc.attempt
		require.NoError(t, jobStorage.CreateJob(context.Background(), job))

		before := time.Now()
		watcher.backoff(context.Background(), job, "tok-1")

		snap := jobStorage.snapshot("job-1")
		require.NotNil(t, snap.ResetDeadline)
		assert.WithinDuration(t, before.Add(tc.expected), *snap.ResetDeadline, 2*time.Second)
		assert.Equal(t, tc.attempt+1, snap.ResetAttempt)
	}
}

func TestWatcherSkipsNonFinishedJob(t *testing.T) {
	_, watcher, jobStorage, _, _ := newController(t)
	job := finishedJob()
	job.Overall = models.JobRunning
	require.NoError(t, jobStorage.CreateJob(context.Background(), job))

	watcher.Schedule(1, "job-1", "nightly-sync", "tok-1", time.Now())

	// The settle check observes a non-FINISHED job and leaves it alone.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, models.JobRunning, jobStorage.snapshot("job-1").Overall)
	assert.Equal(t, 0, jobStorage.snapshot("job-1").ResetAttempt)
}
