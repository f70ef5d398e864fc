package interfaces

import "context"

// VectorPoint is one upsert unit for the vector index.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// VectorIndex is the consumed vector-store surface. Point identity is
// deterministic (UUIDv5 over tenant/table/record), so upserts replace in
// place and re-runs never grow a collection.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, points []VectorPoint) error
	DeletePoints(ctx context.Context, collection string, ids []string) error
	// Scroll is only used by administrative inspection.
	Scroll(ctx context.Context, collection string, limit int) ([]VectorPoint, error)
	Close() error
}

// EmbeddingProvider is the consumed dense-vector generator. Initialize,
// one Generate, and Cleanup are wrapped in a single cooperative scope per
// unit of work; Cleanup must be idempotent and runs on every exit path.
type EmbeddingProvider interface {
	Initialize(ctx context.Context, tenantID int) error
	Generate(ctx context.Context, texts []string) ([][]float32, error)
	Cleanup() error
	Dimension() int
}
