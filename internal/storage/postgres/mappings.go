package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthpulse/pulse/internal/models"
)

// MappingStore resolves mapping-table lookups for transform. Matches are
// case-insensitive within (tenant, integration); a missing row resolves to a
// nil id so the caller persists a null FK instead of failing.
type MappingStore struct {
	pool *pgxpool.Pool
}

func (s *MappingStore) resolve(ctx context.Context, query string, tenantID, integrationID int, name string) (*int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, query, tenantID, integrationID, name).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}

func (s *MappingStore) ResolveWITMapping(ctx context.Context, tenantID, integrationID int, name string) (*int64, error) {
	return s.resolve(ctx, `
		SELECT id FROM wits_mappings
		WHERE tenant_id = $1 AND integration_id = $2 AND lower(source_name) = lower($3) AND active
		LIMIT 1`, tenantID, integrationID, name)
}

func (s *MappingStore) ResolveStatusMapping(ctx context.Context, tenantID, integrationID int, name string) (*int64, error) {
	return s.resolve(ctx, `
		SELECT id FROM status_mappings
		WHERE tenant_id = $1 AND integration_id = $2 AND lower(source_name) = lower($3) AND active
		LIMIT 1`, tenantID, integrationID, name)
}

func (s *MappingStore) ResolveWorkflow(ctx context.Context, tenantID, integrationID int, name string) (*int64, error) {
	return s.resolve(ctx, `
		SELECT id FROM workflows
		WHERE tenant_id = $1 AND integration_id = $2 AND lower(name) = lower($3) AND active
		LIMIT 1`, tenantID, integrationID, name)
}

func (s *MappingStore) GetWITHierarchy(ctx context.Context, tenantID int, id int64) (*models.WITHierarchy, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, integration_id, id, name, level, active, last_updated_at
		FROM wits_hierarchies WHERE tenant_id = $1 AND id = $2`, tenantID, id)

	var h models.WITHierarchy
	if err := row.Scan(&h.TenantID, &h.IntegrationID, &h.ID, &h.Name, &h.Level, &h.Active, &h.LastUpdatedAt); err != nil {
		return nil, notFoundOr(err, "wits_hierarchies", id)
	}
	return &h, nil
}

func (s *MappingStore) GetWITMapping(ctx context.Context, tenantID int, id int64) (*models.WITMapping, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, integration_id, id, source_name, target_name, hierarchy_id, active, last_updated_at
		FROM wits_mappings WHERE tenant_id = $1 AND id = $2`, tenantID, id)

	var m models.WITMapping
	if err := row.Scan(&m.TenantID, &m.IntegrationID, &m.ID, &m.SourceName, &m.TargetName, &m.HierarchyID, &m.Active, &m.LastUpdatedAt); err != nil {
		return nil, notFoundOr(err, "wits_mappings", id)
	}
	return &m, nil
}

func (s *MappingStore) GetStatusMapping(ctx context.Context, tenantID int, id int64) (*models.StatusMapping, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, integration_id, id, source_name, target_name, workflow_id, active, last_updated_at
		FROM status_mappings WHERE tenant_id = $1 AND id = $2`, tenantID, id)

	var m models.StatusMapping
	if err := row.Scan(&m.TenantID, &m.IntegrationID, &m.ID, &m.SourceName, &m.TargetName, &m.WorkflowID, &m.Active, &m.LastUpdatedAt); err != nil {
		return nil, notFoundOr(err, "status_mappings", id)
	}
	return &m, nil
}

func (s *MappingStore) GetWorkflow(ctx context.Context, tenantID int, id int64) (*models.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, integration_id, id, name, category, active, last_updated_at
		FROM workflows WHERE tenant_id = $1 AND id = $2`, tenantID, id)

	var w models.Workflow
	if err := row.Scan(&w.TenantID, &w.IntegrationID, &w.ID, &w.Name, &w.Category, &w.Active, &w.LastUpdatedAt); err != nil {
		return nil, notFoundOr(err, "workflows", id)
	}
	return &w, nil
}

// SetMappingActive flips a mapping row's active flag and mirrors the change
// into the vector bridge in the same transaction, both directions.
func (s *MappingStore) SetMappingActive(ctx context.Context, tenantID int, table string, id int64, active bool) error {
	switch table {
	case models.TableWITsHierarchies, models.TableWITsMappings, models.TableStatusMappings, models.TableWorkflows:
	default:
		return models.Errorf(models.ErrKindPermanent, "not a mapping table: %s", table)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE `+table+` SET active = $3, last_updated_at = now()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, active); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE qdrant_vectors SET active = $4, last_updated_at = now()
		WHERE tenant_id = $1 AND table_name = $2 AND record_id = $3`,
		tenantID, table, idString(id), active); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func notFoundOr(err error, table string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Errorf(models.ErrKindSchema, "%s row %d not found", table, id)
	}
	return err
}
