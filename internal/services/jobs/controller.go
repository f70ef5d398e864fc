package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/common"
	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
)

// Controller owns the per-job state document. Workers report stage
// transitions through it; it translates marker flags into stage status and
// fans progress out through the event service.
type Controller struct {
	jobs         interfaces.JobStorage
	integrations interfaces.IntegrationStorage
	queue        interfaces.QueueService
	events       interfaces.EventService
	watcher      *Watcher
	location     *time.Location
	logger       arbor.ILogger
}

// NewController creates the job controller.
func NewController(
	jobs interfaces.JobStorage,
	integrations interfaces.IntegrationStorage,
	queue interfaces.QueueService,
	events interfaces.EventService,
	watcher *Watcher,
	location *time.Location,
	logger arbor.ILogger,
) *Controller {
	if location == nil {
		location = time.UTC
	}
	return &Controller{
		jobs:         jobs,
		integrations: integrations,
		queue:        queue,
		events:       events,
		watcher:      watcher,
		location:     location,
		logger:       logger,
	}
}

// StartJob threads a fresh token through a READY job and publishes the seed
// extraction message for its first step. Watermarks are stamped here: the old
// one from the job document, the new one from the clock in the configured
// timezone. Both travel in every message of the job.
func (c *Controller) StartJob(ctx context.Context, tenantID int, jobID string, firstStep string) error {
	job, err := c.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Overall != models.JobReady {
		return models.Errorf(models.ErrKindPermanent, "job %s is %s, not READY", jobID, job.Overall)
	}

	token := common.NewJobToken()
	if err := c.jobs.SetToken(ctx, tenantID, jobID, token); err != nil {
		return err
	}

	now := time.Now().In(c.location)
	msg := &models.PipelineMessage{
		TenantID:        tenantID,
		IntegrationID:   job.IntegrationID,
		JobID:           jobID,
		StepName:        firstStep,
		Token:           token,
		FirstItem:       true,
		LastItem:        true,
		OldLastSyncDate: job.LastSyncDate,
		NewLastSyncDate: &now,
	}

	if err := c.queue.Publish(ctx, models.QueueExtraction, tenantID, msg); err != nil {
		return err
	}

	c.logger.Info().
		Int("tenant_id", tenantID).
		Str("job_id", jobID).
		Str("step", firstStep).
		Str("token", token).
		Msg("Job started")

	return nil
}

// StageRunning moves a stage to running on a first_item marker (and the job
// to RUNNING when still READY). Callers invoke it before doing the work.
func (c *Controller) StageRunning(ctx context.Context, msg *models.PipelineMessage, stage models.Stage) {
	if !msg.FirstItem {
		return
	}
	c.setStage(ctx, msg, stage, models.StageRunning)
	c.promoteRunning(ctx, msg)
}

// StageFinished moves a stage to finished on a last_item marker. Callers
// invoke it after the work for the marker-bearing message succeeded.
func (c *Controller) StageFinished(ctx context.Context, msg *models.PipelineMessage, stage models.Stage) {
	if !msg.LastItem {
		return
	}
	c.setStage(ctx, msg, stage, models.StageFinished)
}

// FailStage marks a stage failed and broadcasts the failure with a short
// reason and an opaque correlation id; details stay in the log stream.
func (c *Controller) FailStage(ctx context.Context, msg *models.PipelineMessage, stage models.Stage, reason string) {
	if err := c.jobs.SetStageStatus(ctx, msg.TenantID, msg.JobID, msg.StepName, stage, models.StageFailed); err != nil {
		c.logger.Error().
			Err(err).
			Str("job_id", msg.JobID).
			Str("step", msg.StepName).
			Msg("Failed to persist stage failure")
	}

	correlationID := uuid.New().String()
	c.logger.Error().
		Str("job_id", msg.JobID).
		Str("step", msg.StepName).
		Str("stage", string(stage)).
		Str("reason", reason).
		Str("correlation_id", correlationID).
		Msg("Stage failed")

	c.publishStepEvent(ctx, msg, stage, models.StageFailed, map[string]any{
		"reason":         reason,
		"correlation_id": correlationID,
	})

	c.maybeFailJob(ctx, msg)
}

// maybeFailJob flips the job to FAILED when no path to completion remains:
// the terminal marker arrives through the last step's embedding stage, so a
// failure there blocks completion outright.
func (c *Controller) maybeFailJob(ctx context.Context, msg *models.PipelineMessage) {
	job, err := c.jobs.GetJob(ctx, msg.TenantID, msg.JobID)
	if err != nil || job.Overall != models.JobRunning {
		return
	}

	names := job.OrderedStepNames()
	if len(names) == 0 {
		return
	}
	terminal := job.Steps[names[len(names)-1]]
	if terminal.Embedding != models.StageFailed {
		return
	}

	if err := c.jobs.SetOverall(ctx, msg.TenantID, msg.JobID, models.JobFailed); err != nil {
		c.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("Failed to mark job FAILED")
		return
	}

	c.events.Publish(ctx, interfaces.Event{
		Type:      interfaces.EventJobFailed,
		TenantID:  msg.TenantID,
		JobName:   job.JobName,
		Timestamp: time.Now(),
	})

	c.logger.Error().
		Str("job_id", msg.JobID).
		Str("job_name", job.JobName).
		Msg("Job failed - completion path blocked")
}

func (c *Controller) setStage(ctx context.Context, msg *models.PipelineMessage, stage models.Stage, status models.StageStatus) {
	if err := c.jobs.SetStageStatus(ctx, msg.TenantID, msg.JobID, msg.StepName, stage, status); err != nil {
		c.logger.Error().
			Err(err).
			Str("job_id", msg.JobID).
			Str("step", msg.StepName).
			Str("stage", string(stage)).
			Msg("Failed to update stage status")
		return
	}
	c.publishStepEvent(ctx, msg, stage, status, nil)
}

// promoteRunning flips a READY job to RUNNING on its first observed message.
func (c *Controller) promoteRunning(ctx context.Context, msg *models.PipelineMessage) {
	job, err := c.jobs.GetJob(ctx, msg.TenantID, msg.JobID)
	if err != nil {
		return
	}
	if job.Overall != models.JobReady {
		return
	}

	if err := c.jobs.SetOverall(ctx, msg.TenantID, msg.JobID, models.JobRunning); err != nil {
		c.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("Failed to promote job to RUNNING")
		return
	}

	c.events.Publish(ctx, interfaces.Event{
		Type:      interfaces.EventJobStarted,
		TenantID:  msg.TenantID,
		JobName:   job.JobName,
		Timestamp: time.Now(),
	})
}

func (c *Controller) publishStepEvent(ctx context.Context, msg *models.PipelineMessage, stage models.Stage, status models.StageStatus, extra map[string]any) {
	job, err := c.jobs.GetJob(ctx, msg.TenantID, msg.JobID)
	if err != nil {
		return
	}

	payload := map[string]any{
		"step":   msg.StepName,
		"stage":  string(stage),
		"status": string(status),
	}
	for k, v := range extra {
		payload[k] = v
	}

	c.events.Publish(ctx, interfaces.Event{
		Type:      interfaces.EventStepStatusChanged,
		TenantID:  msg.TenantID,
		JobName:   job.JobName,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// CompleteJob runs the completion procedure on the last_job_item marker:
// persist the new watermark, flip overall to FINISHED, arm the reset deadline
// and hand the job to the completion watcher.
func (c *Controller) CompleteJob(ctx context.Context, msg *models.PipelineMessage) error {
	job, err := c.jobs.GetJob(ctx, msg.TenantID, msg.JobID)
	if err != nil {
		return err
	}

	if msg.NewLastSyncDate != nil {
		if err := c.integrations.SetLastSyncDate(ctx, msg.TenantID, msg.IntegrationID, *msg.NewLastSyncDate); err != nil {
			return err
		}
	}

	if err := c.jobs.SetOverall(ctx, msg.TenantID, msg.JobID, models.JobFinished); err != nil {
		return err
	}

	deadline := time.Now().Add(models.InitialResetDelay)
	if err := c.jobs.SetResetState(ctx, msg.TenantID, msg.JobID, &deadline, 0); err != nil {
		return err
	}

	c.events.Publish(ctx, interfaces.Event{
		Type:      interfaces.EventJobFinished,
		TenantID:  msg.TenantID,
		JobName:   job.JobName,
		Timestamp: time.Now(),
	})
	c.events.Publish(ctx, interfaces.Event{
		Type:      interfaces.EventJobResetScheduled,
		TenantID:  msg.TenantID,
		JobName:   job.JobName,
		Timestamp: time.Now(),
		Payload:   interfaces.ResetDeadlinePayload(deadline, 0),
	})

	c.watcher.Schedule(msg.TenantID, msg.JobID, job.JobName, msg.Token, deadline)

	c.logger.Info().
		Str("job_id", msg.JobID).
		Str("job_name", job.JobName).
		Time("reset_deadline", deadline).
		Msg("Job finished - settle-and-reset scheduled")

	return nil
}
