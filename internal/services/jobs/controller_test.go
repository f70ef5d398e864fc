package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
	"github.com/healthpulse/pulse/internal/services/events"
)

// Fakes

type fakeQueue struct {
	mu        sync.Mutex
	published []models.PipelineMessage
	tokens    map[string]bool
	tokenErr  error
}

func (q *fakeQueue) DeclareTenantQueues(ctx context.Context, tenantID int) error { return nil }
func (q *fakeQueue) Publish(ctx context.Context, qt models.QueueType, tenantID int, msg *models.PipelineMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, *msg)
	return nil
}
func (q *fakeQueue) Consume(ctx context.Context, qt models.QueueType, tenantID int, consumer string) (*models.PipelineMessage, interfaces.AckHandle, error) {
	return nil, nil, models.ErrNoMessage
}
func (q *fakeQueue) Depth(ctx context.Context, qt models.QueueType, tenantID int) (int64, error) {
	return 0, nil
}
func (q *fakeQueue) DLQDepth(ctx context.Context, tenantID int) (int64, error) { return 0, nil }
func (q *fakeQueue) HasToken(ctx context.Context, qt models.QueueType, tenantID int, token string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tokenErr != nil {
		return false, q.tokenErr
	}
	return q.tokens[token], nil
}
func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) setToken(token string, present bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tokens == nil {
		q.tokens = map[string]bool{}
	}
	q.tokens[token] = present
}

type fakeJobStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.ETLJob
}

func newFakeJobStorage() *fakeJobStorage {
	return &fakeJobStorage{jobs: map[string]*models.ETLJob{}}
}

func (s *fakeJobStorage) GetJob(ctx context.Context, tenantID int, jobID string) (*models.ETLJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.Errorf(models.ErrKindPermanent, "job %s not found", jobID)
	}
	clone := *job
	clone.Steps = map[string]models.StepState{}
	for k, v := range job.Steps {
		clone.Steps[k] = v
	}
	return &clone, nil
}
func (s *fakeJobStorage) ListJobsByStatus(ctx context.Context, tenantID int, status models.JobStatus) ([]*models.ETLJob, error) {
	return nil, nil
}
func (s *fakeJobStorage) CreateJob(ctx context.Context, job *models.ETLJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
	return nil
}
func (s *fakeJobStorage) SetStageStatus(ctx context.Context, tenantID int, jobID, stepName string, stage models.Stage, status models.StageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	step, ok := job.Steps[stepName]
	if !ok {
		return nil
	}
	// Finished stages never regress to running.
	if status == models.StageRunning && step.Get(stage) == models.StageFinished {
		return nil
	}
	step.Set(stage, status)
	job.Steps[stepName] = step
	return nil
}
func (s *fakeJobStorage) SetOverall(ctx context.Context, tenantID int, jobID string, overall models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.Overall = overall
	}
	return nil
}
func (s *fakeJobStorage) SetToken(ctx context.Context, tenantID int, jobID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.Token = token
	}
	return nil
}
func (s *fakeJobStorage) SetResetState(ctx context.Context, tenantID int, jobID string, deadline *time.Time, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.ResetDeadline = deadline
		job.ResetAttempt = attempt
	}
	return nil
}
func (s *fakeJobStorage) ResetStages(ctx context.Context, tenantID int, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		for name, step := range job.Steps {
			step.Extraction = models.StageIdle
			step.Transform = models.StageIdle
			step.Embedding = models.StageIdle
			job.Steps[name] = step
		}
		job.Overall = models.JobReady
		job.ResetDeadline = nil
		job.ResetAttempt = 0
	}
	return nil
}

func (s *fakeJobStorage) snapshot(jobID string) models.ETLJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[jobID]
}

type fakeIntegrations struct {
	mu       sync.Mutex
	lastSync *time.Time
}

func (s *fakeIntegrations) GetIntegration(ctx context.Context, tenantID, integrationID int) (*models.Integration, error) {
	return &models.Integration{TenantID: tenantID, IntegrationID: integrationID, Provider: models.ProviderJira, Active: true}, nil
}
func (s *fakeIntegrations) ListActiveIntegrations(ctx context.Context, tenantID int) ([]*models.Integration, error) {
	return nil, nil
}
func (s *fakeIntegrations) SetLastSyncDate(ctx context.Context, tenantID, integrationID int, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = &ts
	return nil
}
func (s *fakeIntegrations) GetCustomFieldMap(ctx context.Context, tenantID, integrationID int) (models.CustomFieldMap, error) {
	return models.CustomFieldMap{}, nil
}

// Harness

func newController(t *testing.T) (*Controller, *Watcher, *fakeJobStorage, *fakeQueue, *fakeIntegrations) {
	t.Helper()

	logger := arbor.NewLogger()
	queue := &fakeQueue{tokens: map[string]bool{}}
	jobStorage := newFakeJobStorage()
	integs := &fakeIntegrations{}
	eventService := events.NewService(logger)

	watcher := NewWatcher(jobStorage, queue, eventService, logger)
	t.Cleanup(func() { watcher.Close() })

	controller := NewController(jobStorage, integs, queue, eventService, watcher, time.UTC, logger)
	return controller, watcher, jobStorage, queue, integs
}

func readyJob() *models.ETLJob {
	return &models.ETLJob{
		TenantID:      1,
		JobID:         "job-1",
		JobName:       "nightly-sync",
		IntegrationID: 1,
		Overall:       models.JobReady,
		Steps: map[string]models.StepState{
			"step_a": {Order: 1, Extraction: models.StageIdle, Transform: models.StageIdle, Embedding: models.StageIdle},
			"step_b": {Order: 2, Extraction: models.StageIdle, Transform: models.StageIdle, Embedding: models.StageIdle},
		},
	}
}

// Tests

func TestStartJobThreadsToken(t *testing.T) {
	controller, _, jobStorage, queue, _ := newController(t)
	require.NoError(t, jobStorage.CreateJob(context.Background(), readyJob()))

	err := controller.StartJob(context.Background(), 1, "job-1", "step_a")
	require.NoError(t, err)

	queue.mu.Lock()
	defer queue.mu.Unlock()
	require.Len(t, queue.published, 1)

	seed := queue.published[0]
	assert.Equal(t, "step_a", seed.StepName)
	assert.True(t, seed.FirstItem)
	assert.True(t, seed.LastItem)
	assert.NotEmpty(t, seed.Token)
	assert.NotNil(t, seed.NewLastSyncDate)

	// The token on the wire is the token persisted on the job document.
	job := jobStorage.snapshot("job-1")
	assert.Equal(t, job.Token, seed.Token)
}

func TestStartJobRejectsNonReadyJob(t *testing.T) {
	controller, _, jobStorage, _, _ := newController(t)
	job := readyJob()
	job.Overall = models.JobRunning
	require.NoError(t, jobStorage.CreateJob(context.Background(), job))

	err := controller.StartJob(context.Background(), 1, "job-1", "step_a")
	assert.Error(t, err)
}

func TestStageMarkersDriveStateMachine(t *testing.T) {
	controller, _, jobStorage, _, _ := newController(t)
	require.NoError(t, jobStorage.CreateJob(context.Background(), readyJob()))

	msg := &models.PipelineMessage{
		TenantID: 1, IntegrationID: 1, JobID: "job-1", StepName: "step_a",
		Token: "tok", FirstItem: true,
	}

	controller.StageRunning(context.Background(), msg, models.StageExtraction)
	job := jobStorage.snapshot("job-1")
	assert.Equal(t, models.StageRunning, job.Steps["step_a"].Extraction)
	assert.Equal(t, models.JobRunning, job.Overall)

	msg.LastItem = true
	controller.StageFinished(context.Background(), msg, models.StageExtraction)
	job = jobStorage.snapshot("job-1")
	assert.Equal(t, models.StageFinished, job.Steps["step_a"].Extraction)
}

func TestLateMessageDoesNotRegressFinishedStage(t *testing.T) {
	controller, _, jobStorage, _, _ := newController(t)
	job := readyJob()
	job.Overall = models.JobRunning
	step := job.Steps["step_a"]
	step.Extraction = models.StageFinished
	job.Steps["step_a"] = step
	require.NoError(t, jobStorage.CreateJob(context.Background(), job))

	late := &models.PipelineMessage{
		TenantID: 1, JobID: "job-1", StepName: "step_a", FirstItem: true,
	}
	controller.StageRunning(context.Background(), late, models.StageExtraction)

	assert.Equal(t, models.StageFinished, jobStorage.snapshot("job-1").Steps["step_a"].Extraction)
}

func TestCompleteJobSetsWatermarkAndDeadline(t *testing.T) {
	controller, _, jobStorage, _, integs := newController(t)
	job := readyJob()
	job.Overall = models.JobRunning
	require.NoError(t, jobStorage.CreateJob(context.Background(), job))

	newSync := time.Now().UTC().Truncate(time.Second)
	msg := &models.PipelineMessage{
		TenantID: 1, IntegrationID: 1, JobID: "job-1", StepName: "step_b",
		Token: "tok", LastItem: true, LastJobItem: true, NewLastSyncDate: &newSync,
	}

	before := time.Now()
	require.NoError(t, controller.CompleteJob(context.Background(), msg))

	snap := jobStorage.snapshot("job-1")
	assert.Equal(t, models.JobFinished, snap.Overall)
	assert.Equal(t, 0, snap.ResetAttempt)
	require.NotNil(t, snap.ResetDeadline)
	assert.WithinDuration(t, before.Add(models.InitialResetDelay), *snap.ResetDeadline, 2*time.Second)

	integs.mu.Lock()
	defer integs.mu.Unlock()
	require.NotNil(t, integs.lastSync)
	assert.Equal(t, newSync, integs.lastSync.UTC())
}
