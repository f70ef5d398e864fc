package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
)

const (
	consumerGroup = "workers"
	bodyField     = "body"
)

// Config tunes the queue fabric.
type Config struct {
	PublishAttempts   int           // failed publishes before dead-letter
	VisibilityTimeout time.Duration // pending-entry reclaim window
	MaxReceive        int           // deliveries before dead-letter
	BlockInterval     time.Duration // consumer block duration per read
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PublishAttempts:   5,
		VisibilityTimeout: 5 * time.Minute,
		MaxReceive:        3,
		BlockInterval:     2 * time.Second,
	}
}

// Service is the durable queue fabric over Redis streams. Each tenant/stage
// pair is one stream with a single consumer group; entries stay in the stream
// until acked, which is what makes HasToken a plain range scan.
type Service struct {
	rdb    *redis.Client
	config Config
	logger arbor.ILogger
}

// NewService creates the queue fabric.
func NewService(rdb *redis.Client, config Config, logger arbor.ILogger) *Service {
	if config.PublishAttempts <= 0 {
		config.PublishAttempts = 5
	}
	if config.MaxReceive <= 0 {
		config.MaxReceive = 3
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 5 * time.Minute
	}
	if config.BlockInterval <= 0 {
		config.BlockInterval = 2 * time.Second
	}
	return &Service{rdb: rdb, config: config, logger: logger}
}

// DeclareTenantQueues idempotently creates the stage streams, their consumer
// groups and the tenant dead-letter stream. Consistent naming through
// models.QueueName keeps the "queue not found" error class out of the system.
func (s *Service) DeclareTenantQueues(ctx context.Context, tenantID int) error {
	for _, qt := range []models.QueueType{models.QueueExtraction, models.QueueTransform, models.QueueEmbedding} {
		stream := models.QueueName(qt, tenantID)
		if err := s.rdb.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err(); err != nil {
			if !strings.Contains(err.Error(), "BUSYGROUP") {
				return models.NewError(models.ErrKindUnavailable, err)
			}
		}
	}

	s.logger.Debug().
		Int("tenant_id", tenantID).
		Msg("Tenant queues declared")

	return nil
}

// Publish appends a message to a stage queue with at-least-once semantics.
// Unroutable publishes are retried with exponential backoff; after the
// configured attempts the message is diverted to the tenant dead-letter queue
// and the error is surfaced so the caller can mark the stage failed.
func (s *Service) Publish(ctx context.Context, qt models.QueueType, tenantID int, msg *models.PipelineMessage) error {
	if !models.ValidQueueType(qt) {
		return models.Errorf(models.ErrKindPermanent, "unknown queue type %q", qt)
	}

	body, err := msg.ToJSON()
	if err != nil {
		return models.NewError(models.ErrKindPermanent, err)
	}

	stream := models.QueueName(qt, tenantID)
	delay := 200 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= s.config.PublishAttempts; attempt++ {
		lastErr = s.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{bodyField: string(body)},
		}).Err()
		if lastErr == nil {
			return nil
		}

		if attempt < s.config.PublishAttempts {
			s.logger.Warn().
				Err(lastErr).
				Str("queue", stream).
				Int("attempt", attempt).
				Msg("Publish failed, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	s.divertToDLQ(ctx, tenantID, string(body), stream)
	return models.NewError(models.ErrKindUnavailable, lastErr)
}

// divertToDLQ appends an undeliverable message to the tenant dead-letter
// stream. Best effort: a broker that cannot accept the DLQ write either has
// already logged the original failure.
func (s *Service) divertToDLQ(ctx context.Context, tenantID int, body, origin string) {
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: models.DLQName(tenantID),
		Values: map[string]any{bodyField: body, "origin": origin},
	}).Err()
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("origin", origin).
			Msg("Failed to divert message to dead-letter queue")
		return
	}

	s.logger.Warn().
		Str("origin", origin).
		Int("tenant_id", tenantID).
		Msg("Message diverted to dead-letter queue")
}

// ackHandle settles one delivered stream entry.
type ackHandle struct {
	svc      *Service
	stream   string
	tenantID int
	entryID  string
	msg      *models.PipelineMessage
}

// Ack removes the entry from the stream.
func (h *ackHandle) Ack(ctx context.Context) error {
	if err := h.svc.rdb.XAck(ctx, h.stream, consumerGroup, h.entryID).Err(); err != nil {
		return models.NewError(models.ErrKindUnavailable, err)
	}
	return h.svc.rdb.XDel(ctx, h.stream, h.entryID).Err()
}

// Nack re-enqueues the message at the stream tail with an incremented attempt
// counter, or dead-letters it once the receive budget is exhausted.
func (h *ackHandle) Nack(ctx context.Context) error {
	next := *h.msg
	next.Attempt = h.msg.Attempt + 1

	if next.Attempt >= h.svc.config.MaxReceive {
		body, _ := next.ToJSON()
		h.svc.divertToDLQ(ctx, h.tenantID, string(body), h.stream)
	} else {
		body, err := next.ToJSON()
		if err != nil {
			return models.NewError(models.ErrKindPermanent, err)
		}
		if err := h.svc.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: h.stream,
			Values: map[string]any{bodyField: string(body)},
		}).Err(); err != nil {
			// Leave the entry pending; the visibility reclaim will redeliver.
			return models.NewError(models.ErrKindUnavailable, err)
		}
	}

	if err := h.svc.rdb.XAck(ctx, h.stream, consumerGroup, h.entryID).Err(); err != nil {
		return models.NewError(models.ErrKindUnavailable, err)
	}
	return h.svc.rdb.XDel(ctx, h.stream, h.entryID).Err()
}

// Consume blocks until a message is available or the context is cancelled.
// Entries abandoned by a dead consumer are reclaimed once their visibility
// timeout lapses, preserving at-least-once delivery.
func (s *Service) Consume(ctx context.Context, qt models.QueueType, tenantID int, consumer string) (*models.PipelineMessage, interfaces.AckHandle, error) {
	if !models.ValidQueueType(qt) {
		return nil, nil, models.Errorf(models.ErrKindPermanent, "unknown queue type %q", qt)
	}
	stream := models.QueueName(qt, tenantID)

	for {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		// Reclaim abandoned pending entries first so redelivery is not
		// starved by fresh traffic.
		claimed, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    consumerGroup,
			Consumer: consumer,
			MinIdle:  s.config.VisibilityTimeout,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err == nil && len(claimed) > 0 {
			if msg, handle, ok := s.decodeEntry(ctx, stream, tenantID, claimed[0]); ok {
				return msg, handle, nil
			}
			continue
		}

		res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    s.config.BlockInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, err
			}
			return nil, nil, models.NewError(models.ErrKindUnavailable, err)
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			continue
		}

		if msg, handle, ok := s.decodeEntry(ctx, stream, tenantID, res[0].Messages[0]); ok {
			return msg, handle, nil
		}
	}
}

// decodeEntry parses a stream entry; undecodable entries are acked away so
// they cannot wedge the consumer.
func (s *Service) decodeEntry(ctx context.Context, stream string, tenantID int, entry redis.XMessage) (*models.PipelineMessage, interfaces.AckHandle, bool) {
	raw, _ := entry.Values[bodyField].(string)
	msg, err := models.MessageFromJSON([]byte(raw))
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("queue", stream).
			Str("entry_id", entry.ID).
			Msg("Dropping undecodable queue entry")
		_ = s.rdb.XAck(ctx, stream, consumerGroup, entry.ID).Err()
		_ = s.rdb.XDel(ctx, stream, entry.ID).Err()
		return nil, nil, false
	}

	return msg, &ackHandle{svc: s, stream: stream, tenantID: tenantID, entryID: entry.ID, msg: msg}, true
}

// Depth returns the number of entries currently in the stream (backlog plus
// in-flight, since entries are deleted only on ack).
func (s *Service) Depth(ctx context.Context, qt models.QueueType, tenantID int) (int64, error) {
	n, err := s.rdb.XLen(ctx, models.QueueName(qt, tenantID)).Result()
	if err != nil {
		return 0, models.NewError(models.ErrKindUnavailable, err)
	}
	return n, nil
}

// DLQDepth returns the tenant's dead-letter backlog.
func (s *Service) DLQDepth(ctx context.Context, tenantID int) (int64, error) {
	n, err := s.rdb.XLen(ctx, models.DLQName(tenantID)).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return 0, nil
		}
		return 0, models.NewError(models.ErrKindUnavailable, err)
	}
	return n, nil
}

// HasToken scans the stream for any message carrying the job token. Because
// acked entries are deleted, a hit means work for that job is still backlogged
// or in flight.
func (s *Service) HasToken(ctx context.Context, qt models.QueueType, tenantID int, token string) (bool, error) {
	stream := models.QueueName(qt, tenantID)

	start := "-"
	for {
		entries, err := s.rdb.XRangeN(ctx, stream, start, "+", 100).Result()
		if err != nil {
			return false, models.NewError(models.ErrKindUnavailable, err)
		}
		if len(entries) == 0 {
			return false, nil
		}

		for _, entry := range entries {
			raw, _ := entry.Values[bodyField].(string)
			msg, err := models.MessageFromJSON([]byte(raw))
			if err != nil {
				continue
			}
			if msg.Token == token {
				return true, nil
			}
		}

		if len(entries) < 100 {
			return false, nil
		}
		start = "(" + entries[len(entries)-1].ID
	}
}

// Close is a no-op; the redis client is owned by the app manager.
func (s *Service) Close() error {
	return nil
}
