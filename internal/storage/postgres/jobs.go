package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/models"
)

// JobStore persists the etl_jobs state documents. Stage updates mutate one
// key inside steps_json atomically so concurrent workers never clobber each
// other's stage fields.
type JobStore struct {
	pool   *pgxpool.Pool
	logger arbor.ILogger
}

func (s *JobStore) GetJob(ctx context.Context, tenantID int, jobID string) (*models.ETLJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, job_id, job_name, integration_id, overall, steps_json,
		       last_sync_date, reset_deadline, reset_attempt, token, created_at, updated_at
		FROM etl_jobs WHERE tenant_id = $1 AND job_id = $2`, tenantID, jobID)

	var job models.ETLJob
	var stepsRaw []byte
	err := row.Scan(&job.TenantID, &job.JobID, &job.JobName, &job.IntegrationID,
		&job.Overall, &stepsRaw, &job.LastSyncDate, &job.ResetDeadline,
		&job.ResetAttempt, &job.Token, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.Errorf(models.ErrKindPermanent, "job %s not found for tenant %d", jobID, tenantID)
		}
		return nil, err
	}

	if err := json.Unmarshal(stepsRaw, &job.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps for job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *JobStore) ListJobsByStatus(ctx context.Context, tenantID int, status models.JobStatus) ([]*models.ETLJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, job_id, job_name, integration_id, overall, steps_json,
		       last_sync_date, reset_deadline, reset_attempt, token, created_at, updated_at
		FROM etl_jobs WHERE tenant_id = $1 AND overall = $2 ORDER BY job_id`, tenantID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.ETLJob
	for rows.Next() {
		var job models.ETLJob
		var stepsRaw []byte
		err := rows.Scan(&job.TenantID, &job.JobID, &job.JobName, &job.IntegrationID,
			&job.Overall, &stepsRaw, &job.LastSyncDate, &job.ResetDeadline,
			&job.ResetAttempt, &job.Token, &job.CreatedAt, &job.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(stepsRaw, &job.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps for job %s: %w", job.JobID, err)
		}
		result = append(result, &job)
	}
	return result, rows.Err()
}

func (s *JobStore) CreateJob(ctx context.Context, job *models.ETLJob) error {
	stepsRaw, err := job.StepsJSON()
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO etl_jobs (tenant_id, job_id, job_name, integration_id, overall, steps_json, last_sync_date, token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, job_id) DO NOTHING`,
		job.TenantID, job.JobID, job.JobName, job.IntegrationID,
		job.Overall, stepsRaw, nullTime(job.LastSyncDate), job.Token)
	return err
}

// SetStageStatus updates one stage of one step inside steps_json. A finished
// stage is never regressed to running: late messages after last_item are
// benign updates.
func (s *JobStore) SetStageStatus(ctx context.Context, tenantID int, jobID, stepName string, stage models.Stage, status models.StageStatus) error {
	guard := ""
	if status == models.StageRunning {
		guard = ` AND steps_json -> $3 ->> $4 <> 'finished'`
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE etl_jobs
		SET steps_json = jsonb_set(steps_json, ARRAY[$3, $4], to_jsonb($5::text)),
		    updated_at = now()
		WHERE tenant_id = $1 AND job_id = $2
		  AND steps_json ? $3`+guard,
		tenantID, jobID, stepName, string(stage), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug().
			Str("job_id", jobID).
			Str("step", stepName).
			Str("stage", string(stage)).
			Str("status", string(status)).
			Msg("Stage update skipped (unknown step or finished guard)")
	}
	return nil
}

func (s *JobStore) SetOverall(ctx context.Context, tenantID int, jobID string, overall models.JobStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE etl_jobs SET overall = $3, updated_at = now()
		WHERE tenant_id = $1 AND job_id = $2`, tenantID, jobID, overall)
	return err
}

func (s *JobStore) SetToken(ctx context.Context, tenantID int, jobID, token string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE etl_jobs SET token = $3, updated_at = now()
		WHERE tenant_id = $1 AND job_id = $2`, tenantID, jobID, token)
	return err
}

func (s *JobStore) SetResetState(ctx context.Context, tenantID int, jobID string, deadline *time.Time, attempt int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE etl_jobs SET reset_deadline = $3, reset_attempt = $4, updated_at = now()
		WHERE tenant_id = $1 AND job_id = $2`, tenantID, jobID, nullTime(deadline), attempt)
	return err
}

// ResetStages zeroes every stage of every step to idle and flips overall to
// READY in one statement.
func (s *JobStore) ResetStages(ctx context.Context, tenantID int, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE etl_jobs
		SET steps_json = (
		        SELECT COALESCE(jsonb_object_agg(key, jsonb_build_object(
		            'order', value -> 'order',
		            'extraction', to_jsonb('idle'::text),
		            'transform', to_jsonb('idle'::text),
		            'embedding', to_jsonb('idle'::text))), '{}'::jsonb)
		        FROM jsonb_each(steps_json)
		    ),
		    overall = 'READY',
		    reset_deadline = NULL,
		    reset_attempt = 0,
		    updated_at = now()
		WHERE tenant_id = $1 AND job_id = $2`, tenantID, jobID)
	return err
}
