package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthpulse/pulse/internal/models"
)

// VectorBridgeStore maintains qdrant_vectors, the bridge between normalized
// rows and their vector-index points.
type VectorBridgeStore struct {
	pool *pgxpool.Pool
}

func (s *VectorBridgeStore) UpsertBridge(ctx context.Context, rec *models.VectorBridgeRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qdrant_vectors (tenant_id, integration_id, table_name, record_id, vector_type, collection_name, point_id, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, table_name, record_id, vector_type) DO UPDATE SET
		    integration_id = EXCLUDED.integration_id,
		    collection_name = EXCLUDED.collection_name,
		    point_id = EXCLUDED.point_id,
		    active = EXCLUDED.active,
		    last_updated_at = now()`,
		rec.TenantID, rec.IntegrationID, rec.TableName, rec.RecordID,
		rec.VectorType, rec.Collection, rec.PointID, rec.Active)
	return err
}

func (s *VectorBridgeStore) GetBridge(ctx context.Context, tenantID int, table, recordID, vectorType string) (*models.VectorBridgeRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, integration_id, table_name, record_id, vector_type, collection_name, point_id, active, last_updated_at
		FROM qdrant_vectors
		WHERE tenant_id = $1 AND table_name = $2 AND record_id = $3 AND vector_type = $4`,
		tenantID, table, recordID, vectorType)

	var rec models.VectorBridgeRecord
	err := row.Scan(&rec.TenantID, &rec.IntegrationID, &rec.TableName, &rec.RecordID,
		&rec.VectorType, &rec.Collection, &rec.PointID, &rec.Active, &rec.LastUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *VectorBridgeStore) SetBridgeActive(ctx context.Context, tenantID int, table, recordID string, active bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE qdrant_vectors SET active = $4, last_updated_at = now()
		WHERE tenant_id = $1 AND table_name = $2 AND record_id = $3`,
		tenantID, table, recordID, active)
	return err
}

func (s *VectorBridgeStore) CountByCollection(ctx context.Context, tenantID int, collection string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM qdrant_vectors
		WHERE tenant_id = $1 AND collection_name = $2`, tenantID, collection).Scan(&n)
	return n, err
}
