package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
)

// Service implements VectorIndex over the Qdrant gRPC client. Point identity
// is deterministic upstream, so every write here is an in-place replace.
type Service struct {
	client *qdrant.Client
	logger arbor.ILogger
}

// Config for the Qdrant connection.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewService connects the Qdrant client.
func NewService(cfg Config, logger arbor.ILogger) (*Service, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Msg("Vector index client initialized")

	return &Service{client: client, logger: logger}, nil
}

// EnsureCollection creates a collection if it does not exist. Cosine distance
// matches the embedding provider's normalized output.
func (s *Service) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return models.NewError(models.ErrKindUnavailable, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return models.NewError(models.ErrKindUnavailable, err)
	}

	s.logger.Info().
		Str("collection", name).
		Int("dimension", dim).
		Msg("Vector collection created")

	return nil
}

// Upsert writes points; existing ids are replaced in place.
func (s *Service) Upsert(ctx context.Context, collection string, points []interfaces.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = v
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         structs,
	})
	if err != nil {
		return models.NewError(models.ErrKindUnavailable, err)
	}
	return nil
}

// DeletePoints removes points by id.
func (s *Service) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return models.NewError(models.ErrKindUnavailable, err)
	}
	return nil
}

// Scroll pages through a collection. Administrative inspection only.
func (s *Service) Scroll(ctx context.Context, collection string, limit int) ([]interfaces.VectorPoint, error) {
	if limit <= 0 {
		limit = 100
	}

	res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(limit)),
	})
	if err != nil {
		return nil, models.NewError(models.ErrKindUnavailable, err)
	}

	points := make([]interfaces.VectorPoint, 0, len(res))
	for _, p := range res {
		point := interfaces.VectorPoint{Payload: map[string]string{}}
		if id := p.GetId(); id != nil {
			point.ID = id.GetUuid()
		}
		for k, v := range p.GetPayload() {
			point.Payload[k] = v.GetStringValue()
		}
		points = append(points, point)
	}
	return points, nil
}

// Close tears down the gRPC connection.
func (s *Service) Close() error {
	return s.client.Close()
}
