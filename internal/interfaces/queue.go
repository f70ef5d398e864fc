package interfaces

import (
	"context"

	"github.com/healthpulse/pulse/internal/models"
)

// AckHandle settles one delivered message. Ack removes it; Nack schedules
// redelivery (or dead-letters it once the receive budget is exhausted).
type AckHandle interface {
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// QueueService is the durable, tenant-partitioned message fabric connecting
// the three stages. Delivery is at-least-once with per-queue FIFO.
type QueueService interface {
	// DeclareTenantQueues idempotently creates the stage queues and the
	// dead-letter queue for a tenant.
	DeclareTenantQueues(ctx context.Context, tenantID int) error

	// Publish appends a message to a stage queue. Failed publishes are
	// retried with exponential backoff; after the configured attempts the
	// message is diverted to the tenant's dead-letter queue and an error is
	// returned so the caller can mark the stage failed.
	Publish(ctx context.Context, qt models.QueueType, tenantID int, msg *models.PipelineMessage) error

	// Consume blocks until a message is available on the queue or the
	// context is cancelled. Redelivery happens on nack or consumer loss.
	Consume(ctx context.Context, qt models.QueueType, tenantID int, consumer string) (*models.PipelineMessage, AckHandle, error)

	// Depth returns the number of undelivered plus pending messages.
	Depth(ctx context.Context, qt models.QueueType, tenantID int) (int64, error)

	// DLQDepth returns the tenant's dead-letter backlog.
	DLQDepth(ctx context.Context, tenantID int) (int64, error)

	// HasToken reports whether any backlog or in-flight message on the
	// queue carries the given job token. The completion watcher uses it to
	// decide whether a job may reset.
	HasToken(ctx context.Context, qt models.QueueType, tenantID int, token string) (bool, error)

	Close() error
}
