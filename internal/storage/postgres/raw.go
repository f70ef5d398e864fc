package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthpulse/pulse/internal/models"
)

// RawStore is the raw_extraction_data staging table between extraction and
// transform.
type RawStore struct {
	pool *pgxpool.Pool
}

// UpsertRaw writes a raw payload. The conflict target (tenant, integration,
// payload_type, provider_id) makes redelivered extraction messages re-issue
// the same row instead of duplicating it.
func (s *RawStore) UpsertRaw(ctx context.Context, rec *models.RawExtractionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO raw_extraction_data (tenant_id, raw_id, integration_id, payload_type, provider_id, payload_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, integration_id, payload_type, provider_id)
		DO UPDATE SET payload_bytes = EXCLUDED.payload_bytes,
		              status = EXCLUDED.status,
		              raw_id = EXCLUDED.raw_id`,
		rec.TenantID, rec.RawID, rec.IntegrationID, rec.PayloadType,
		rec.ProviderID, rec.Payload, rec.Status)
	return err
}

func (s *RawStore) GetRaw(ctx context.Context, tenantID int, rawID string) (*models.RawExtractionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, raw_id, integration_id, payload_type, provider_id, payload_bytes, status, created_at
		FROM raw_extraction_data WHERE tenant_id = $1 AND raw_id = $2`, tenantID, rawID)

	var rec models.RawExtractionRecord
	err := row.Scan(&rec.TenantID, &rec.RawID, &rec.IntegrationID, &rec.PayloadType,
		&rec.ProviderID, &rec.Payload, &rec.Status, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.Errorf(models.ErrKindPermanent, "raw record %s not found for tenant %d", rawID, tenantID)
		}
		return nil, err
	}
	return &rec, nil
}

func (s *RawStore) SetRawStatus(ctx context.Context, tenantID int, rawID string, status models.RawStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE raw_extraction_data SET status = $3
		WHERE tenant_id = $1 AND raw_id = $2`, tenantID, rawID, status)
	return err
}
