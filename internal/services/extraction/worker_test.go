package extraction

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
	"github.com/healthpulse/pulse/internal/services/jobs"
)

// Fakes

type published struct {
	qt  models.QueueType
	msg models.PipelineMessage
}

type fakeQueue struct {
	mu        sync.Mutex
	published []published
}

func (q *fakeQueue) DeclareTenantQueues(ctx context.Context, tenantID int) error { return nil }

func (q *fakeQueue) Publish(ctx context.Context, qt models.QueueType, tenantID int, msg *models.PipelineMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, published{qt: qt, msg: *msg})
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
	return false, nil
}
func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) byQueue(qt models.QueueType) []models.PipelineMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	var result []models.PipelineMessage
	for _, p := range q.published {
		if p.qt == qt {
			result = append(result, p.msg)
		}
	}
	return result
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
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.ETLJob
	for _, job := range s.jobs {
		if job.Overall == status {
			result = append(result, job)
		}
	}
	return result, nil
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
	}
	return nil
}

func (s *fakeJobStorage) stage(jobID, stepName string, stage models.Stage) models.StageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].Steps[stepName].Get(stage)
}

type fakeIntegrations struct {
	integration *models.Integration
	fields      models.CustomFieldMap
	lastSync    *time.Time
}

func (s *fakeIntegrations) GetIntegration(ctx context.Context, tenantID, integrationID int) (*models.Integration, error) {
	return s.integration, nil
}
func (s *fakeIntegrations) ListActiveIntegrations(ctx context.Context, tenantID int) ([]*models.Integration, error) {
	return []*models.Integration{s.integration}, nil
}
func (s *fakeIntegrations) SetLastSyncDate(ctx context.Context, tenantID, integrationID int, ts time.Time) error {
	s.lastSync = &ts
	return nil
}
func (s *fakeIntegrations) GetCustomFieldMap(ctx context.Context, tenantID, integrationID int) (models.CustomFieldMap, error) {
	if s.fields == nil {
		return models.CustomFieldMap{}, nil
	}
	return s.fields, nil
}

type fakeRaw struct {
	mu      sync.Mutex
	records map[string]*models.RawExtractionRecord
}

func newFakeRaw() *fakeRaw {
	return &fakeRaw{records: map[string]*models.RawExtractionRecord{}}
}

func (s *fakeRaw) UpsertRaw(ctx context.Context, rec *models.RawExtractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.RawID] = rec
	return nil
}
func (s *fakeRaw) GetRaw(ctx context.Context, tenantID int, rawID string) (*models.RawExtractionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[rawID]
	if !ok {
		return nil, models.Errorf(models.ErrKindPermanent, "raw %s not found", rawID)
	}
	return rec, nil
}
func (s *fakeRaw) SetRawStatus(ctx context.Context, tenantID int, rawID string, status models.RawStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[rawID]; ok {
		rec.Status = status
	}
	return nil
}

type fakeEntities struct {
	sprints []*models.Sprint
	prRefs  []string
}

func (s *fakeEntities) Begin(ctx context.Context) (interfaces.EntityTx, error) {
	return nil, models.Errorf(models.ErrKindPermanent, "not supported in extraction tests")
}
func (s *fakeEntities) FetchForEmbedding(ctx context.Context, tenantID int, table, recordID string) (map[string]string, string, error) {
	return nil, "", nil
}
func (s *fakeEntities) SetEntityActive(ctx context.Context, tenantID int, table, recordID string, active bool) error {
	return nil
}
func (s *fakeEntities) ListSprintRefs(ctx context.Context, tenantID, integrationID int, since *time.Time) ([]*models.Sprint, error) {
	return s.sprints, nil
}
func (s *fakeEntities) ListPullRequestRefs(ctx context.Context, tenantID, integrationID int, since *time.Time) ([]string, error) {
	return s.prRefs, nil
}

type fakeClient struct {
	provider models.Provider
	pages    map[string][]*interfaces.ExtractionPage
	errs     map[string]error
	calls    int
}

func (c *fakeClient) Provider() models.Provider { return c.provider }

func (c *fakeClient) Fetch(ctx context.Context, integration *models.Integration, fields models.CustomFieldMap, req interfaces.ExtractionRequest) (*interfaces.ExtractionPage, error) {
	c.calls++
	if err, ok := c.errs[req.Step]; ok {
		return nil, err
	}
	pages := c.pages[req.Step]
	if len(pages) == 0 {
		return &interfaces.ExtractionPage{PayloadType: models.PayloadType(req.Step)}, nil
	}
	page := pages[0]
	c.pages[req.Step] = pages[1:]
	return page, nil
}

// Harness

type harness struct {
	queue    *fakeQueue
	jobs     *fakeJobStorage
	integs   *fakeIntegrations
	raw      *fakeRaw
	entities *fakeEntities
	client   *fakeClient
	worker   *Worker
}

func newHarness(t *testing.T, client *fakeClient) *harness {
	t.Helper()

	logger := arbor.NewLogger()
	queue := &fakeQueue{}
	jobStorage := newFakeJobStorage()
	integs := &fakeIntegrations{
		integration: &models.Integration{
			TenantID:      1,
			IntegrationID: 1,
			Provider:      client.provider,
			Projects:      []string{"BDP"},
			BatchSize:     50,
			RateLimit:     100,
			RateWindowSec: 1,
			Active:        true,
		},
	}
	raw := newFakeRaw()
	entities := &fakeEntities{}

	eventService := events.NewService(logger)
	watcher := jobs.NewWatcher(jobStorage, queue, eventService, logger)
	t.Cleanup(func() { watcher.Close() })
	controller := jobs.NewController(jobStorage, integs, queue, eventService, watcher, time.UTC, logger)

	steps := map[string]models.StepState{}
	for i, name := range StepNames(client.provider) {
		steps[name] = models.StepState{Order: i + 1, Extraction: models.StageIdle, Transform: models.StageIdle, Embedding: models.StageIdle}
	}
	require.NoError(t, jobStorage.CreateJob(context.Background(), &models.ETLJob{
		TenantID:      1,
		JobID:         "job-1",
		JobName:       "nightly-sync",
		IntegrationID: 1,
		Overall:       models.JobReady,
		Steps:         steps,
	}))

	worker := NewWorker("extraction-test", 1, queue, integs, raw, entities, map[models.Provider]interfaces.SourceClient{client.provider: client}, NewLimiterRegistry(), controller, 2, logger)

	return &harness{queue: queue, jobs: jobStorage, integs: integs, raw: raw, entities: entities, client: client, worker: worker}
}

func seedMessage(step string) *models.PipelineMessage {
	now := time.Now().UTC()
	return &models.PipelineMessage{
		TenantID:        1,
		IntegrationID:   1,
		JobID:           "job-1",
		StepName:        step,
		Token:           "tok-job-1",
		FirstItem:       true,
		LastItem:        true,
		NewLastSyncDate: &now,
	}
}

// Tests

func TestSeedStepPublishesTransformAndSchedulesNext(t *testing.T) {
	client := &fakeClient{
		provider: models.ProviderJira,
		pages: map[string][]*interfaces.ExtractionPage{
			"jira_projects_and_issue_types": {{
				PayloadType: models.PayloadJiraProjectsAndTypes,
				ProviderID:  "projects",
				Payload:     []byte(`[]`),
				Items:       []interfaces.ExtractedItem{{ExternalID: "1", Key: "BDP"}},
				Total:       1,
			}},
		},
	}
	h := newHarness(t, client)

	err := h.worker.handle(context.Background(), seedMessage("jira_projects_and_issue_types"))
	require.NoError(t, err)

	transform := h.queue.byQueue(models.QueueTransform)
	require.Len(t, transform, 1)
	assert.True(t, transform[0].FirstItem)
	assert.True(t, transform[0].LastItem)
	assert.False(t, transform[0].LastJobItem)
	assert.NotEmpty(t, transform[0].RawID)
	assert.Equal(t, "tok-job-1", transform[0].Token)

	// Raw payload is staged before the transform message references it.
	_, err = h.raw.GetRaw(context.Background(), 1, transform[0].RawID)
	assert.NoError(t, err)

	// Extraction stage ran and finished.
	assert.Equal(t, models.StageFinished, h.jobs.stage("job-1", "jira_projects_and_issue_types", models.StageExtraction))

	// Next step seed scheduled on the extraction queue.
	extractionMsgs := h.queue.byQueue(models.QueueExtraction)
	require.Len(t, extractionMsgs, 1)
	assert.Equal(t, "jira_statuses_and_relationships", extractionMsgs[0].StepName)
	assert.True(t, extractionMsgs[0].FirstItem)
	assert.True(t, extractionMsgs[0].LastItem)
	assert.Equal(t, "tok-job-1", extractionMsgs[0].Token)
}

func TestZeroItemStepEmitsSingleTerminalMessage(t *testing.T) {
	client := &fakeClient{
		provider: models.ProviderJira,
		pages: map[string][]*interfaces.ExtractionPage{
			"jira_issues_with_changelogs": {{
				PayloadType: models.PayloadJiraIssues,
				ProviderID:  "issues_0",
				Payload:     []byte(`{"issues":[]}`),
				Total:       0,
			}},
		},
	}
	h := newHarness(t, client)

	err := h.worker.handle(context.Background(), seedMessage("jira_issues_with_changelogs"))
	require.NoError(t, err)

	transform := h.queue.byQueue(models.QueueTransform)
	require.Len(t, transform, 1)
	assert.True(t, transform[0].FirstItem)
	assert.True(t, transform[0].LastItem)
	assert.False(t, transform[0].LastJobItem)
	assert.Empty(t, transform[0].RawID)
}

func TestMultiPageStepMarkers(t *testing.T) {
	pageOf := func(start int, hasMore bool) *interfaces.ExtractionPage {
		return &interfaces.ExtractionPage{
			PayloadType: models.PayloadJiraIssues,
			ProviderID:  "issues",
			Payload:     []byte(`{}`),
			Items:       []interfaces.ExtractedItem{{ExternalID: "x", Key: "BDP-1"}},
			Total:       3,
			NextStartAt: start + 1,
			HasMore:     hasMore,
		}
	}
	client := &fakeClient{
		provider: models.ProviderJira,
		pages: map[string][]*interfaces.ExtractionPage{
			"jira_issues_with_changelogs": {pageOf(0, true), pageOf(1, true), pageOf(2, false)},
		},
	}
	h := newHarness(t, client)

	err := h.worker.handle(context.Background(), seedMessage("jira_issues_with_changelogs"))
	require.NoError(t, err)

	transform := h.queue.byQueue(models.QueueTransform)
	require.Len(t, transform, 3)

	firsts, lasts := 0, 0
	for _, m := range transform {
		if m.FirstItem {
			firsts++
		}
		if m.LastItem {
			lasts++
		}
	}
	assert.Equal(t, 1, firsts)
	assert.Equal(t, 1, lasts)
	assert.True(t, transform[0].FirstItem)
	assert.True(t, transform[2].LastItem)
}

func TestFanOutSchedulingForDevStatus(t *testing.T) {
	client := &fakeClient{
		provider: models.ProviderJira,
		pages: map[string][]*interfaces.ExtractionPage{
			"jira_issues_with_changelogs": {{
				PayloadType: models.PayloadJiraIssues,
				ProviderID:  "issues_0",
				Payload:     []byte(`{}`),
				Items: []interfaces.ExtractedItem{
					{ExternalID: "1", Key: "BDP-1", HasDevChanges: true},
					{ExternalID: "2", Key: "BDP-2"},
					{ExternalID: "3", Key: "BDP-3", HasDevChanges: true},
				},
				Total: 3,
			}},
		},
	}
	h := newHarness(t, client)

	err := h.worker.handle(context.Background(), seedMessage("jira_issues_with_changelogs"))
	require.NoError(t, err)

	extractionMsgs := h.queue.byQueue(models.QueueExtraction)
	require.Len(t, extractionMsgs, 2)

	assert.Equal(t, "jira_dev_status", extractionMsgs[0].StepName)
	assert.Equal(t, "BDP-1", extractionMsgs[0].EntityRef.RecordID)
	assert.True(t, extractionMsgs[0].FirstItem)
	assert.False(t, extractionMsgs[0].LastItem)

	assert.Equal(t, "BDP-3", extractionMsgs[1].EntityRef.RecordID)
	assert.False(t, extractionMsgs[1].FirstItem)
	assert.True(t, extractionMsgs[1].LastItem)
}

func TestEmptyFanOutPublishesSyntheticMessage(t *testing.T) {
	client := &fakeClient{
		provider: models.ProviderJira,
		pages: map[string][]*interfaces.ExtractionPage{
			"jira_issues_with_changelogs": {{
				PayloadType: models.PayloadJiraIssues,
				ProviderID:  "issues_0",
				Payload:     []byte(`{}`),
				Items:       []interfaces.ExtractedItem{{ExternalID: "1", Key: "BDP-1"}},
				Total:       1,
			}},
		},
	}
	h := newHarness(t, client)

	err := h.worker.handle(context.Background(), seedMessage("jira_issues_with_changelogs"))
	require.NoError(t, err)

	extractionMsgs := h.queue.byQueue(models.QueueExtraction)
	require.Len(t, extractionMsgs, 1)
	assert.Equal(t, "jira_dev_status", extractionMsgs[0].StepName)
	assert.Nil(t, extractionMsgs[0].EntityRef)
	assert.True(t, extractionMsgs[0].FirstItem)
	assert.True(t, extractionMsgs[0].LastItem)
}

func TestTerminalSyntheticCarriesLastJobItem(t *testing.T) {
	client := &fakeClient{provider: models.ProviderJira}
	h := newHarness(t, client)

	// Synthetic sprint-report message: fan-out step, no entity ref.
	msg := seedMessage("jira_sprint_reports")
	err := h.worker.handle(context.Background(), msg)
	require.NoError(t, err)

	transform := h.queue.byQueue(models.QueueTransform)
	require.Len(t, transform, 1)
	assert.True(t, transform[0].FirstItem)
	assert.True(t, transform[0].LastItem)
	assert.True(t, transform[0].LastJobItem)
	assert.Equal(t, 0, h.client.calls)
}

func TestAuthFailureFailsStageAndEmitsTerminal(t *testing.T) {
	client := &fakeClient{
		provider: models.ProviderJira,
		errs: map[string]error{
			"jira_projects_and_issue_types": models.Errorf(models.ErrKindAuth, "token expired"),
		},
	}
	h := newHarness(t, client)

	err := h.worker.handle(context.Background(), seedMessage("jira_projects_and_issue_types"))
	require.NoError(t, err)

	assert.Equal(t, models.StageFailed, h.jobs.stage("job-1", "jira_projects_and_issue_types", models.StageExtraction))

	// Auth errors fail fast: one call, no retry loop.
	assert.Equal(t, 1, h.client.calls)

	transform := h.queue.byQueue(models.QueueTransform)
	require.Len(t, transform, 1)
	assert.True(t, transform[0].FirstItem)
	assert.True(t, transform[0].LastItem)
}

func TestTransientFailureRetriesThenFails(t *testing.T) {
	client := &fakeClient{
		provider: models.ProviderJira,
		errs: map[string]error{
			"jira_projects_and_issue_types": models.Errorf(models.ErrKindTransient, "upstream 503"),
		},
	}
	h := newHarness(t, client)

	err := h.worker.handle(context.Background(), seedMessage("jira_projects_and_issue_types"))
	require.NoError(t, err)

	// Retry budget is 2 in the harness.
	assert.Equal(t, 2, h.client.calls)
	assert.Equal(t, models.StageFailed, h.jobs.stage("job-1", "jira_projects_and_issue_types", models.StageExtraction))
}
