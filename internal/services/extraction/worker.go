package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/common"
	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
	"github.com/healthpulse/pulse/internal/services/jobs"
)

// Worker executes provider step sequences for one tenant. It pulls step
// messages from the extraction queue, calls the source provider, stages raw
// payloads, emits transform messages with the first/last marker protocol, and
// schedules the next step once the current one is fully published.
type Worker struct {
	id            string
	tenantID      int
	queue         interfaces.QueueService
	integrations  interfaces.IntegrationStorage
	raw           interfaces.RawStorage
	entities      interfaces.EntityStorage
	clients       map[models.Provider]interfaces.SourceClient
	limiters      *LimiterRegistry
	controller    *jobs.Controller
	retryAttempts int
	logger        arbor.ILogger
}

// NewWorker creates one extraction worker.
func NewWorker(
	id string,
	tenantID int,
	queue interfaces.QueueService,
	integrations interfaces.IntegrationStorage,
	raw interfaces.RawStorage,
	entities interfaces.EntityStorage,
	clients map[models.Provider]interfaces.SourceClient,
	limiters *LimiterRegistry,
	controller *jobs.Controller,
	retryAttempts int,
	logger arbor.ILogger,
) *Worker {
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	return &Worker{
		id:            id,
		tenantID:      tenantID,
		queue:         queue,
		integrations:  integrations,
		raw:           raw,
		entities:      entities,
		clients:       clients,
		limiters:      limiters,
		controller:    controller,
		retryAttempts: retryAttempts,
		logger:        logger,
	}
}

// Run is the consume loop. It exits when the context is cancelled; the
// in-flight message is nacked so it redelivers after restart.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug().Str("worker_id", w.id).Msg("Extraction worker started")

	for {
		msg, ack, err := w.queue.Consume(ctx, models.QueueExtraction, w.tenantID, w.id)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Debug().Str("worker_id", w.id).Msg("Extraction worker stopped")
				return
			}
			w.logger.Warn().Err(err).Str("worker_id", w.id).Msg("Extraction consume failed")
			continue
		}

		if err := w.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				// Shutdown in progress: leave the message for redelivery.
				_ = ack.Nack(context.Background())
				return
			}
			if models.Retryable(err) {
				_ = ack.Nack(ctx)
				continue
			}
		}
		_ = ack.Ack(ctx)
	}
}

// handle processes one extraction message inside a single cooperative scope:
// provider interaction, raw staging, transform publication, marker updates
// and next-step scheduling all complete before the message settles.
func (w *Worker) handle(ctx context.Context, msg *models.PipelineMessage) error {
	integ, err := w.integrations.GetIntegration(ctx, msg.TenantID, msg.IntegrationID)
	if err != nil {
		w.controller.FailStage(ctx, msg, models.StageExtraction, "integration not found")
		return nil
	}

	step, ok := StepByName(integ.Provider, msg.StepName)
	if !ok {
		w.controller.FailStage(ctx, msg, models.StageExtraction, fmt.Sprintf("unknown step %s", msg.StepName))
		return nil
	}

	client, ok := w.clients[integ.Provider]
	if !ok {
		w.controller.FailStage(ctx, msg, models.StageExtraction, fmt.Sprintf("no client for provider %s", integ.Provider))
		return nil
	}

	w.controller.StageRunning(ctx, msg, models.StageExtraction)

	fields, err := w.integrations.GetCustomFieldMap(ctx, msg.TenantID, msg.IntegrationID)
	if err != nil {
		w.logger.Warn().Err(err).Int("integration_id", msg.IntegrationID).Msg("Custom field map unavailable - proceeding without it")
		fields = models.CustomFieldMap{}
	}

	var collected []interfaces.ExtractedItem
	if step.Fanout == FanoutNone {
		collected, err = w.runSeedStep(ctx, msg, integ, fields, client, step)
	} else {
		err = w.runFanoutItem(ctx, msg, integ, fields, client, step)
	}

	if err != nil {
		return w.failStep(ctx, msg, integ, step, err)
	}

	w.controller.StageFinished(ctx, msg, models.StageExtraction)

	if msg.LastItem {
		if err := w.scheduleNextStep(ctx, msg, integ, step, collected); err != nil {
			w.logger.Error().
				Err(err).
				Str("job_id", msg.JobID).
				Str("step", msg.StepName).
				Msg("Failed to schedule next step")
			return err
		}
	}

	return nil
}

// runSeedStep drives a single-seed step, paging through the provider and
// emitting one transform message per staged page. Fan-out item summaries are
// collected for next-step scheduling.
func (w *Worker) runSeedStep(ctx context.Context, msg *models.PipelineMessage, integ *models.Integration, fields models.CustomFieldMap, client interfaces.SourceClient, step StepDef) ([]interfaces.ExtractedItem, error) {
	var collected []interfaces.ExtractedItem

	startAt := 0
	page := 0
	for {
		req := interfaces.ExtractionRequest{
			Step:         msg.StepName,
			Projects:     integ.Projects,
			BaseSearch:   integ.BaseSearch,
			UpdatedSince: msg.OldLastSyncDate,
			BatchSize:    integ.BatchSize,
			StartAt:      startAt,
		}

		result, err := w.fetchWithRetry(ctx, integ, fields, client, req)
		if err != nil {
			return collected, err
		}

		collected = append(collected, result.Items...)

		first := page == 0
		last := !result.HasMore
		if result.Total == 0 && page == 0 {
			// Zero-item step: a single synthetic terminal message keeps the
			// downstream stages moving.
			w.publishTerminalTransform(ctx, msg, integ, result.PayloadType)
			return collected, nil
		}

		if err := w.stageAndPublish(ctx, msg, integ, result, first, last); err != nil {
			return collected, err
		}

		if !result.HasMore {
			return collected, nil
		}
		startAt = result.NextStartAt
		page++
	}
}

// runFanoutItem handles one per-item extraction message. A message without an
// entity ref is the synthetic zero-item placeholder for the step.
func (w *Worker) runFanoutItem(ctx context.Context, msg *models.PipelineMessage, integ *models.Integration, fields models.CustomFieldMap, client interfaces.SourceClient, step StepDef) error {
	if msg.EntityRef == nil {
		w.publishTerminalTransform(ctx, msg, integ, models.PayloadType(msg.StepName))
		return nil
	}

	req := interfaces.ExtractionRequest{
		Step:         msg.StepName,
		BatchSize:    integ.BatchSize,
		UpdatedSince: msg.OldLastSyncDate,
		IssueKey:     msg.EntityRef.RecordID,
	}
	if step.Fanout == FanoutSprints {
		fmt.Sscanf(msg.EntityRef.RecordID, "%d:%s", &req.BoardID, &req.SprintID)
	}

	startAt := 0
	page := 0
	for {
		req.StartAt = startAt

		result, err := w.fetchWithRetry(ctx, integ, fields, client, req)
		if err != nil {
			return err
		}

		first := msg.FirstItem && page == 0
		last := msg.LastItem && !result.HasMore
		if err := w.stageAndPublish(ctx, msg, integ, result, first, last); err != nil {
			return err
		}

		if !result.HasMore {
			return nil
		}
		startAt = result.NextStartAt
		page++
	}
}

// fetchWithRetry calls the provider under the tenant's token bucket with
// exponential backoff on transient and rate-limited errors.
func (w *Worker) fetchWithRetry(ctx context.Context, integ *models.Integration, fields models.CustomFieldMap, client interfaces.SourceClient, req interfaces.ExtractionRequest) (*interfaces.ExtractionPage, error) {
	delay := time.Second

	var lastErr error
	for attempt := 1; attempt <= w.retryAttempts; attempt++ {
		if err := w.limiters.Wait(ctx, integ); err != nil {
			return nil, err
		}

		result, err := client.Fetch(ctx, integ, fields, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !models.Retryable(err) {
			return nil, err
		}

		if attempt < w.retryAttempts {
			w.logger.Warn().
				Err(err).
				Str("step", req.Step).
				Int("attempt", attempt).
				Msg("Provider request failed, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return nil, lastErr
}

// stageAndPublish upserts the raw payload and, only once it is durable,
// publishes the transform message pointing at it.
func (w *Worker) stageAndPublish(ctx context.Context, msg *models.PipelineMessage, integ *models.Integration, result *interfaces.ExtractionPage, first, last bool) error {
	rec := &models.RawExtractionRecord{
		TenantID:      msg.TenantID,
		RawID:         common.NewRawID(),
		IntegrationID: msg.IntegrationID,
		PayloadType:   result.PayloadType,
		ProviderID:    result.ProviderID,
		Payload:       result.Payload,
		Status:        models.RawPending,
	}
	if err := w.raw.UpsertRaw(ctx, rec); err != nil {
		return err
	}

	next := msg.Forward()
	next.RawID = rec.RawID
	next.PayloadType = result.PayloadType
	next.FirstItem = first
	next.LastItem = last
	next.LastJobItem = last && IsTerminalStep(integ.Provider, msg.StepName)

	if err := w.queue.Publish(ctx, models.QueueTransform, msg.TenantID, &next); err != nil {
		w.controller.FailStage(ctx, msg, models.StageTransform, "transform publish dead-lettered")
		return err
	}
	return nil
}

// publishTerminalTransform emits the synthetic terminal message for a step
// that produced nothing, carrying last_job_item on the terminal step.
func (w *Worker) publishTerminalTransform(ctx context.Context, msg *models.PipelineMessage, integ *models.Integration, payloadType models.PayloadType) {
	next := msg.Forward()
	next.PayloadType = payloadType
	next.FirstItem = true
	next.LastItem = true
	next.LastJobItem = IsTerminalStep(integ.Provider, msg.StepName)

	if err := w.queue.Publish(ctx, models.QueueTransform, msg.TenantID, &next); err != nil {
		w.controller.FailStage(ctx, msg, models.StageTransform, "terminal transform publish dead-lettered")
	}
}

// failStep applies the error taxonomy: the stage goes failed, a terminal
// message keeps downstream stages from hanging, and every error kind still
// advances the sequence.
func (w *Worker) failStep(ctx context.Context, msg *models.PipelineMessage, integ *models.Integration, step StepDef, err error) error {
	kind := models.KindOf(err)

	switch kind {
	case models.ErrKindAuth:
		w.controller.FailStage(ctx, msg, models.StageExtraction, "authentication failed for integration")
	case models.ErrKindPermanent:
		w.controller.FailStage(ctx, msg, models.StageExtraction, "provider rejected request")
	default:
		w.controller.FailStage(ctx, msg, models.StageExtraction, "provider unavailable after retries")
	}

	w.logger.Error().
		Err(err).
		Str("kind", string(kind)).
		Str("job_id", msg.JobID).
		Str("step", msg.StepName).
		Msg("Extraction step failed")

	if msg.LastItem {
		w.publishTerminalTransform(ctx, msg, integ, models.PayloadType(msg.StepName))
		if scheduleErr := w.scheduleNextStep(ctx, msg, integ, step, nil); scheduleErr != nil {
			w.logger.Error().Err(scheduleErr).Str("job_id", msg.JobID).Msg("Failed to advance after step failure")
		}
	}

	// The failure is resolved by the terminal marker; the message itself is
	// settled, not redelivered.
	return nil
}

// scheduleNextStep publishes the next step's extraction work after the
// current step's transform publications are in flight. Fan-out steps get one
// message per item; an empty fan-out still publishes one synthetic message so
// the step completes.
func (w *Worker) scheduleNextStep(ctx context.Context, msg *models.PipelineMessage, integ *models.Integration, current StepDef, collected []interfaces.ExtractedItem) error {
	next, ok := NextStep(integ.Provider, msg.StepName)
	if !ok {
		return nil
	}

	refs, err := w.fanoutRefs(ctx, msg, integ, next, collected)
	if err != nil {
		return err
	}

	if next.Fanout == FanoutNone {
		seed := msg.Forward()
		seed.StepName = next.Name
		seed.FirstItem = true
		seed.LastItem = true
		return w.queue.Publish(ctx, models.QueueExtraction, msg.TenantID, &seed)
	}

	if len(refs) == 0 {
		synthetic := msg.Forward()
		synthetic.StepName = next.Name
		synthetic.FirstItem = true
		synthetic.LastItem = true
		return w.queue.Publish(ctx, models.QueueExtraction, msg.TenantID, &synthetic)
	}

	for i, ref := range refs {
		item := msg.Forward()
		item.StepName = next.Name
		item.EntityRef = &models.EntityRef{RecordID: ref}
		item.FirstItem = i == 0
		item.LastItem = i == len(refs)-1
		if err := w.queue.Publish(ctx, models.QueueExtraction, msg.TenantID, &item); err != nil {
			return err
		}
	}

	w.logger.Info().
		Str("job_id", msg.JobID).
		Str("next_step", next.Name).
		Int("items", len(refs)).
		Msg("Next step scheduled")

	return nil
}

// fanoutRefs resolves the per-item identifiers for a fan-out step: collected
// in-memory by the preceding seed step where possible, from the store
// otherwise.
func (w *Worker) fanoutRefs(ctx context.Context, msg *models.PipelineMessage, integ *models.Integration, next StepDef, collected []interfaces.ExtractedItem) ([]string, error) {
	switch next.Fanout {
	case FanoutNone:
		return nil, nil

	case FanoutWorkItems:
		refs := make([]string, 0)
		for _, item := range collected {
			if item.HasDevChanges {
				refs = append(refs, item.Key)
			}
		}
		return refs, nil

	case FanoutRepositories:
		refs := make([]string, 0, len(collected))
		for _, item := range collected {
			refs = append(refs, item.Key)
		}
		return refs, nil

	case FanoutSprints:
		sprints, err := w.entities.ListSprintRefs(ctx, msg.TenantID, msg.IntegrationID, msg.OldLastSyncDate)
		if err != nil {
			return nil, err
		}
		refs := make([]string, 0, len(sprints))
		for _, sp := range sprints {
			refs = append(refs, fmt.Sprintf("%d:%s", sp.BoardID, sp.ExternalID))
		}
		return refs, nil

	case FanoutPullRequests:
		return w.entities.ListPullRequestRefs(ctx, msg.TenantID, msg.IntegrationID, msg.OldLastSyncDate)
	}

	return nil, models.Errorf(models.ErrKindPermanent, "unknown fanout kind %q", next.Fanout)
}
