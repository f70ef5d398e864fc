package embedding

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/common"
	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
	"github.com/healthpulse/pulse/internal/services/jobs"
)

// Worker materializes entity vectors into the vector index with
// deterministic identity and keeps the bridge table in sync. It also carries
// the job completion trigger: the last_job_item marker arrives here because
// embedding is the final stage.
type Worker struct {
	id         string
	tenantID   int
	queue      interfaces.QueueService
	entities   interfaces.EntityStorage
	bridge     interfaces.VectorBridgeStorage
	index      interfaces.VectorIndex
	provider   interfaces.EmbeddingProvider
	controller *jobs.Controller
	logger     arbor.ILogger
}

// NewWorker creates one embedding worker.
func NewWorker(
	id string,
	tenantID int,
	queue interfaces.QueueService,
	entities interfaces.EntityStorage,
	bridge interfaces.VectorBridgeStorage,
	index interfaces.VectorIndex,
	provider interfaces.EmbeddingProvider,
	controller *jobs.Controller,
	logger arbor.ILogger,
) *Worker {
	return &Worker{
		id:         id,
		tenantID:   tenantID,
		queue:      queue,
		entities:   entities,
		bridge:     bridge,
		index:      index,
		provider:   provider,
		controller: controller,
		logger:     logger,
	}
}

// Run is the consume loop.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug().Str("worker_id", w.id).Msg("Embedding worker started")

	for {
		msg, ack, err := w.queue.Consume(ctx, models.QueueEmbedding, w.tenantID, w.id)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Debug().Str("worker_id", w.id).Msg("Embedding worker stopped")
				return
			}
			w.logger.Warn().Err(err).Str("worker_id", w.id).Msg("Embedding consume failed")
			continue
		}

		if err := w.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				_ = ack.Nack(context.Background())
				return
			}
			if models.Retryable(err) {
				// Vector index or provider unavailable: backoff per message
				// without blocking transform.
				_ = ack.Nack(ctx)
				continue
			}
			w.controller.FailStage(ctx, msg, models.StageEmbedding, "vectorization failed")
		}
		_ = ack.Ack(ctx)
	}
}

// handle vectorizes one entity and applies the message's markers. Marker
// handling is unconditional: a missing row must not stall step completion.
func (w *Worker) handle(ctx context.Context, msg *models.PipelineMessage) error {
	w.controller.StageRunning(ctx, msg, models.StageEmbedding)

	if msg.EntityRef != nil {
		if err := w.vectorize(ctx, msg); err != nil {
			return err
		}
	}

	w.controller.StageFinished(ctx, msg, models.StageEmbedding)

	if msg.LastJobItem {
		if err := w.controller.CompleteJob(ctx, msg); err != nil {
			w.logger.Error().
				Err(err).
				Str("job_id", msg.JobID).
				Msg("Job completion failed")
			return err
		}
	}

	return nil
}

// vectorize runs the full per-entity scope: fetch, compose, provider
// initialize/generate/cleanup, index upsert, bridge upsert. Provider cleanup
// is guaranteed on all exit paths.
func (w *Worker) vectorize(ctx context.Context, msg *models.PipelineMessage) error {
	ref := msg.EntityRef

	fields, name, err := w.entities.FetchForEmbedding(ctx, msg.TenantID, ref.TableName, ref.RecordID)
	if err != nil {
		return err
	}
	if fields == nil {
		// Publish-after-commit makes this rare; the common cause is a row
		// deleted between enqueue and fetch, so the message is settled, not
		// retried.
		w.logger.Info().
			Str("table", ref.TableName).
			Str("record_id", ref.RecordID).
			Msg("Entity not found for vectorization - skipping")
		return nil
	}

	text := ComposeText(ref.TableName, fields, name)
	if text == "" {
		w.logger.Debug().
			Str("table", ref.TableName).
			Str("record_id", ref.RecordID).
			Msg("Entity has no textual content - skipping")
		return nil
	}

	vector, err := w.generate(ctx, msg.TenantID, text)
	if err != nil {
		return err
	}

	collection := common.CollectionName(msg.TenantID, ref.TableName)
	if err := w.index.EnsureCollection(ctx, collection, w.provider.Dimension()); err != nil {
		return err
	}

	pointID := common.PointID(msg.TenantID, ref.TableName, ref.RecordID)
	point := interfaces.VectorPoint{
		ID:     pointID,
		Vector: vector,
		Payload: map[string]string{
			"table_name": ref.TableName,
			"record_id":  ref.RecordID,
			"name":       name,
		},
	}
	if err := w.index.Upsert(ctx, collection, []interfaces.VectorPoint{point}); err != nil {
		return err
	}

	if err := w.bridge.UpsertBridge(ctx, &models.VectorBridgeRecord{
		TenantID:      msg.TenantID,
		IntegrationID: msg.IntegrationID,
		TableName:     ref.TableName,
		RecordID:      ref.RecordID,
		VectorType:    ref.VectorType,
		Collection:    collection,
		PointID:       pointID,
		Active:        true,
	}); err != nil {
		return err
	}

	w.logger.Debug().
		Str("table", ref.TableName).
		Str("record_id", ref.RecordID).
		Str("point_id", pointID).
		Msg("Entity vectorized")

	return nil
}

// generate wraps provider initialization, a single generate call and cleanup
// in one cooperative scope so provider-internal resources are released before
// the scope exits.
func (w *Worker) generate(ctx context.Context, tenantID int, text string) ([]float32, error) {
	if err := w.provider.Initialize(ctx, tenantID); err != nil {
		return nil, err
	}
	defer func() {
		if err := w.provider.Cleanup(); err != nil {
			w.logger.Warn().Err(err).Msg("Embedding provider cleanup failed")
		}
	}()

	vectors, err := w.provider.Generate(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, models.Errorf(models.ErrKindTransient, "expected 1 vector, got %d", len(vectors))
	}
	return vectors[0], nil
}
