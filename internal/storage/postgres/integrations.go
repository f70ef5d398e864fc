package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthpulse/pulse/internal/models"
)

// IntegrationStore reads integration settings. External CRUD owns the rows;
// the core only ever writes last_sync_date at job completion.
type IntegrationStore struct {
	pool *pgxpool.Pool
}

func (s *IntegrationStore) GetIntegration(ctx context.Context, tenantID, integrationID int) (*models.Integration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, integration_id, provider, base_url, projects, base_search,
		       batch_size, rate_limit, rate_window_sec, boards, last_sync_date, active
		FROM integrations WHERE tenant_id = $1 AND integration_id = $2`, tenantID, integrationID)

	integ, err := scanIntegration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.Errorf(models.ErrKindPermanent, "integration %d not found for tenant %d", integrationID, tenantID)
		}
		return nil, err
	}
	return integ, nil
}

func (s *IntegrationStore) ListActiveIntegrations(ctx context.Context, tenantID int) ([]*models.Integration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, integration_id, provider, base_url, projects, base_search,
		       batch_size, rate_limit, rate_window_sec, boards, last_sync_date, active
		FROM integrations WHERE tenant_id = $1 AND active ORDER BY integration_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Integration
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, integ)
	}
	return result, rows.Err()
}

func (s *IntegrationStore) SetLastSyncDate(ctx context.Context, tenantID, integrationID int, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE integrations SET last_sync_date = $3
		WHERE tenant_id = $1 AND integration_id = $2`, tenantID, integrationID, ts)
	return err
}

func (s *IntegrationStore) GetCustomFieldMap(ctx context.Context, tenantID, integrationID int) (models.CustomFieldMap, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT slot_name, field_id FROM custom_fields_mapping
		WHERE tenant_id = $1 AND integration_id = $2`, tenantID, integrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := models.CustomFieldMap{}
	for rows.Next() {
		var slot string
		var fieldID *string
		if err := rows.Scan(&slot, &fieldID); err != nil {
			return nil, err
		}
		result[slot] = fieldID
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row rowScanner) (*models.Integration, error) {
	var integ models.Integration
	var projectsRaw, boardsRaw []byte
	err := row.Scan(&integ.TenantID, &integ.IntegrationID, &integ.Provider,
		&integ.BaseURL, &projectsRaw, &integ.BaseSearch, &integ.BatchSize,
		&integ.RateLimit, &integ.RateWindowSec, &boardsRaw,
		&integ.LastSyncDate, &integ.Active)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(projectsRaw, &integ.Projects); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(boardsRaw, &integ.Boards); err != nil {
		return nil, err
	}
	return &integ, nil
}
