package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
)

// Watcher runs the deferred settle-and-reset after a job's terminal marker.
// The reset deadline is a tenant-visible absolute timestamp: subscribers all
// count down to the same instant, there are no per-subscriber timers.
type Watcher struct {
	jobs   interfaces.JobStorage
	queue  interfaces.QueueService
	events interfaces.EventService
	logger arbor.ILogger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewWatcher creates the completion watcher.
func NewWatcher(jobs interfaces.JobStorage, queue interfaces.QueueService, events interfaces.EventService, logger arbor.ILogger) *Watcher {
	return &Watcher{
		jobs:   jobs,
		queue:  queue,
		events: events,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

func watchKey(tenantID int, jobID string) string {
	return fmt.Sprintf("%d/%s", tenantID, jobID)
}

// Schedule arms (or re-arms) the settle attempt for a finished job at the
// given absolute deadline.
func (w *Watcher) Schedule(tenantID int, jobID, jobName, token string, deadline time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	key := watchKey(tenantID, jobID)
	if timer, ok := w.timers[key]; ok {
		timer.Stop()
	}

	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}

	w.timers[key] = time.AfterFunc(delay, func() {
		w.settle(tenantID, jobID, jobName, token)
	})
}

// settle re-checks the job and either resets it to READY or backs off.
func (w *Watcher) settle(tenantID int, jobID, jobName, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w.mu.Lock()
	delete(w.timers, watchKey(tenantID, jobID))
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	job, err := w.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("Settle check failed to load job")
		return
	}
	if job.Overall != models.JobFinished {
		w.logger.Debug().
			Str("job_id", jobID).
			Str("overall", string(job.Overall)).
			Msg("Settle check skipped - job no longer FINISHED")
		return
	}

	residue := !job.Settled()
	if !residue {
		// Peek the embedding queue for messages still carrying this job's
		// token - concurrent jobs on the same tenant queues are invisible
		// here because their tokens differ.
		hasToken, err := w.queue.HasToken(ctx, models.QueueEmbedding, tenantID, token)
		if err != nil {
			w.logger.Warn().Err(err).Str("job_id", jobID).Msg("Settle check failed to peek embedding queue")
			hasToken = true // treat an unreadable queue as residue
		}
		residue = hasToken
	}

	if residue {
		w.backoff(ctx, job, token)
		return
	}

	if err := w.jobs.ResetStages(ctx, tenantID, jobID); err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to reset job stages")
		return
	}

	w.events.Publish(ctx, interfaces.Event{
		Type:      interfaces.EventJobResetCompleted,
		TenantID:  tenantID,
		JobName:   jobName,
		Timestamp: time.Now(),
	})

	w.logger.Info().
		Str("job_id", jobID).
		Str("job_name", jobName).
		Msg("Job reset to READY")
}

// backoff extends the reset deadline along the {60s, 180s, 300s} schedule and
// re-arms the settle timer.
func (w *Watcher) backoff(ctx context.Context, job *models.ETLJob, token string) {
	deadline := time.Now().Add(models.ResetBackoff(job.ResetAttempt))
	attempt := job.ResetAttempt + 1

	if err := w.jobs.SetResetState(ctx, job.TenantID, job.JobID, &deadline, attempt); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to persist reset backoff")
		return
	}

	w.events.Publish(ctx, interfaces.Event{
		Type:      interfaces.EventJobResetScheduled,
		TenantID:  job.TenantID,
		JobName:   job.JobName,
		Timestamp: time.Now(),
		Payload:   interfaces.ResetDeadlinePayload(deadline, attempt),
	})

	w.logger.Info().
		Str("job_id", job.JobID).
		Int("reset_attempt", attempt).
		Time("reset_deadline", deadline).
		Msg("Residual work found - reset deferred")

	w.Schedule(job.TenantID, job.JobID, job.JobName, token, deadline)
}

// Close cancels all pending settle timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for key, timer := range w.timers {
		timer.Stop()
		delete(w.timers, key)
	}
	w.logger.Info().Msg("Completion watcher stopped")
	return nil
}
