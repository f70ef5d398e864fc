package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
	"github.com/healthpulse/pulse/internal/services/jobs"
)

// Result is the normalized output of one raw payload: entity sets to upsert
// and the references the embedding worker will fetch by. Link rows resolve
// their internal ids during the upsert, so their refs are appended after.
type Result struct {
	Projects      []*models.Project
	WorkItemTypes []*models.WorkItemType
	Statuses      []*models.Status
	WorkItems     []*models.WorkItem
	Changelogs    []*models.Changelog
	Repositories  []*models.Repository
	PullRequests  []*models.PullRequest
	PRCommits     []*models.PRCommit
	PRReviews     []*models.PRReview
	PRComments    []*models.PRComment
	Links         []*models.WorkItemPRLink
	Sprints       []*models.Sprint
	Memberships   []*models.WorkItemSprint

	// EmbeddingRefs carries the per-entity lookup keys, in the order the
	// vectors should be produced. Sprint vectors are only ever added by the
	// sprint-report payload, never by issue payloads.
	EmbeddingRefs []models.EntityRef

	// SkipEmbeddings suppresses vector work entirely (custom-field sync
	// upserts entities but must not vectorize).
	SkipEmbeddings bool
}

// Worker normalizes raw payloads into the relational schema. The ordering
// contract is absolute: upserts, raw-status flip and commit all precede the
// first embedding publish, so the embedding worker always observes the row.
type Worker struct {
	id         string
	tenantID   int
	queue      interfaces.QueueService
	raw        interfaces.RawStorage
	entities   interfaces.EntityStorage
	mappings   interfaces.MappingStorage
	fields     interfaces.IntegrationStorage
	controller *jobs.Controller
	logger     arbor.ILogger
}

// NewWorker creates one transform worker.
func NewWorker(
	id string,
	tenantID int,
	queue interfaces.QueueService,
	raw interfaces.RawStorage,
	entities interfaces.EntityStorage,
	mappings interfaces.MappingStorage,
	fields interfaces.IntegrationStorage,
	controller *jobs.Controller,
	logger arbor.ILogger,
) *Worker {
	return &Worker{
		id:         id,
		tenantID:   tenantID,
		queue:      queue,
		raw:        raw,
		entities:   entities,
		mappings:   mappings,
		fields:     fields,
		controller: controller,
		logger:     logger,
	}
}

// Run is the consume loop.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug().Str("worker_id", w.id).Msg("Transform worker started")

	for {
		msg, ack, err := w.queue.Consume(ctx, models.QueueTransform, w.tenantID, w.id)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Debug().Str("worker_id", w.id).Msg("Transform worker stopped")
				return
			}
			w.logger.Warn().Err(err).Str("worker_id", w.id).Msg("Transform consume failed")
			continue
		}

		if err := w.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				_ = ack.Nack(context.Background())
				return
			}
			if models.Retryable(err) || models.KindOf(err) == models.ErrKindConflict {
				_ = ack.Nack(ctx)
				continue
			}
			w.controller.FailStage(ctx, msg, models.StageTransform, "payload could not be normalized")
		}
		_ = ack.Ack(ctx)
	}
}

// handle processes one transform message: normalize, commit, then publish.
func (w *Worker) handle(ctx context.Context, msg *models.PipelineMessage) error {
	w.controller.StageRunning(ctx, msg, models.StageTransform)

	// Synthetic terminal message from a zero-item or failed step: no raw
	// payload, only markers to propagate.
	if msg.RawID == "" {
		w.publishMarkers(ctx, msg, nil)
		w.controller.StageFinished(ctx, msg, models.StageTransform)
		return nil
	}

	rec, err := w.raw.GetRaw(ctx, msg.TenantID, msg.RawID)
	if err != nil {
		if models.KindOf(err) == models.ErrKindPermanent {
			// The raw row is gone; treat the message as a marker carrier so
			// the step still completes.
			w.logger.Warn().Str("raw_id", msg.RawID).Msg("Raw record missing - propagating markers only")
			w.publishMarkers(ctx, msg, nil)
			w.controller.StageFinished(ctx, msg, models.StageTransform)
			return nil
		}
		return err
	}

	fieldMap, err := w.fields.GetCustomFieldMap(ctx, msg.TenantID, msg.IntegrationID)
	if err != nil {
		fieldMap = models.CustomFieldMap{}
	}

	result, err := w.normalize(ctx, msg, rec, fieldMap)
	if err != nil {
		return err
	}

	refs, err := w.persist(ctx, msg, result)
	if err != nil {
		return err
	}

	// Only after commit: the embedding worker must observe the rows.
	if result.SkipEmbeddings {
		refs = nil
	}
	w.publishMarkers(ctx, msg, refs)
	w.controller.StageFinished(ctx, msg, models.StageTransform)

	w.logger.Debug().
		Str("raw_id", msg.RawID).
		Str("payload_type", string(msg.PayloadType)).
		Int("embedding_refs", len(refs)).
		Msg("Raw payload normalized")

	return nil
}

// normalize routes a raw payload to its provider normalizer.
func (w *Worker) normalize(ctx context.Context, msg *models.PipelineMessage, rec *models.RawExtractionRecord, fieldMap models.CustomFieldMap) (*Result, error) {
	switch rec.PayloadType {
	case models.PayloadJiraProjectsAndTypes:
		return w.normalizeJiraProjects(ctx, msg, rec.Payload)
	case models.PayloadJiraStatuses:
		return w.normalizeJiraStatuses(ctx, msg, rec.Payload)
	case models.PayloadJiraIssues:
		return w.normalizeJiraIssues(ctx, msg, rec.Payload, fieldMap)
	case models.PayloadJiraDevStatus:
		return w.normalizeJiraDevStatus(ctx, msg, rec.Payload)
	case models.PayloadJiraSprintReports:
		return w.normalizeJiraSprintReport(ctx, msg, rec.Payload)
	case models.PayloadJiraCustomFields:
		return w.normalizeJiraCustomFields(ctx, msg, rec.Payload)
	case models.PayloadGithubRepositories:
		return w.normalizeGithubRepositories(ctx, msg, rec.Payload)
	case models.PayloadGithubPullRequests:
		return w.normalizeGithubPullRequests(ctx, msg, rec.Payload)
	case models.PayloadGithubPRDetails:
		return w.normalizeGithubPRDetails(ctx, msg, rec.Payload)
	}
	return nil, models.Errorf(models.ErrKindPermanent, "unknown payload type %q", rec.PayloadType)
}

// persist executes the ordering contract: one transaction wrapping all bulk
// upserts and the raw-status flip, committed before the caller publishes.
func (w *Worker) persist(ctx context.Context, msg *models.PipelineMessage, result *Result) ([]models.EntityRef, error) {
	tx, err := w.entities.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.UpsertProjects(ctx, result.Projects); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertWorkItemTypes(ctx, result.WorkItemTypes); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertStatuses(ctx, result.Statuses); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertWorkItems(ctx, result.WorkItems); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertChangelogs(ctx, result.Changelogs); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertRepositories(ctx, result.Repositories); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertPullRequests(ctx, result.PullRequests); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertPRCommits(ctx, result.PRCommits); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertPRReviews(ctx, result.PRReviews); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertPRComments(ctx, result.PRComments); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertSprints(ctx, result.Sprints); err != nil {
		return nil, err
	}
	if _, err := tx.UpsertWorkItemSprints(ctx, result.Memberships); err != nil {
		return nil, err
	}

	refs := result.EmbeddingRefs
	if len(result.Links) > 0 {
		linkIDs, err := tx.UpsertWorkItemPRLinks(ctx, result.Links)
		if err != nil {
			return nil, err
		}
		for _, id := range linkIDs {
			refs = append(refs, models.EntityRef{
				TableName:  models.TableWorkItemsPRsLinks,
				RecordID:   fmt.Sprintf("%d", id),
				VectorType: models.VectorTypeSemantic,
			})
		}
	}

	if err := tx.SetRawStatus(ctx, msg.TenantID, msg.RawID, models.RawCompleted); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return refs, nil
}

// publishMarkers emits one embedding message per entity ref, spreading the
// transform message's markers across the batch: first ref carries first_item,
// last ref carries last_item (and last_job_item on the terminal message). A
// batch with no refs still propagates the markers on a synthetic message.
func (w *Worker) publishMarkers(ctx context.Context, msg *models.PipelineMessage, refs []models.EntityRef) {
	if len(refs) == 0 {
		if !msg.FirstItem && !msg.LastItem {
			return
		}
		synthetic := msg.Forward()
		synthetic.FirstItem = msg.FirstItem
		synthetic.LastItem = msg.LastItem
		synthetic.LastJobItem = msg.LastJobItem
		if err := w.queue.Publish(ctx, models.QueueEmbedding, msg.TenantID, &synthetic); err != nil {
			w.controller.FailStage(ctx, msg, models.StageEmbedding, "embedding publish dead-lettered")
		}
		return
	}

	for i := range refs {
		ref := refs[i]
		next := msg.Forward()
		next.EntityRef = &ref
		next.FirstItem = msg.FirstItem && i == 0
		next.LastItem = msg.LastItem && i == len(refs)-1
		next.LastJobItem = msg.LastJobItem && i == len(refs)-1

		if err := w.queue.Publish(ctx, models.QueueEmbedding, msg.TenantID, &next); err != nil {
			w.controller.FailStage(ctx, msg, models.StageEmbedding, "embedding publish dead-lettered")
			return
		}
	}
}
