package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
)

// EntityStore opens transactional write units for transform and serves
// committed-row reads for the embedding worker.
type EntityStore struct {
	pool   *pgxpool.Pool
	bridge *VectorBridgeStore
	logger arbor.ILogger
}

// Begin opens one transactional unit of normalized writes.
func (s *EntityStore) Begin(ctx context.Context) (interfaces.EntityTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, models.NewError(models.ErrKindUnavailable, err)
	}
	return &entityTx{tx: tx}, nil
}

// FetchForEmbedding loads one committed row by the per-table key column and
// returns its text-field map plus display name. (nil, "", nil) means absent.
func (s *EntityStore) FetchForEmbedding(ctx context.Context, tenantID int, table, recordID string) (map[string]string, string, error) {
	spec, ok := models.TableSpecs[table]
	if !ok {
		return nil, "", models.Errorf(models.ErrKindPermanent, "unknown table %s", table)
	}

	cols := make([]string, 0, len(spec.TextFields)+1)
	cols = append(cols, spec.TextFields...)
	hasName := false
	for _, c := range cols {
		if c == spec.NameField {
			hasName = true
		}
	}
	if !hasName {
		cols = append(cols, spec.NameField)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND %s::text = $2`,
		strings.Join(cols, ", "), table, spec.KeyColumn)

	dest := make([]any, len(cols))
	values := make([]*string, len(cols))
	for i := range dest {
		values[i] = new(string)
		dest[i] = values[i]
	}

	err := s.pool.QueryRow(ctx, query, tenantID, recordID).Scan(dest...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}

	fields := make(map[string]string, len(cols))
	name := ""
	for i, c := range cols {
		v := ""
		if values[i] != nil {
			v = *values[i]
		}
		fields[c] = v
		if c == spec.NameField {
			name = v
		}
	}
	return fields, name, nil
}

// SetEntityActive flips a normalized row's active flag and mirrors the change
// into the vector bridge, both directions, inside one transaction.
func (s *EntityStore) SetEntityActive(ctx context.Context, tenantID int, table, recordID string, active bool) error {
	spec, ok := models.TableSpecs[table]
	if !ok {
		return models.Errorf(models.ErrKindPermanent, "unknown table %s", table)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET active = $3, last_updated_at = now()
		WHERE tenant_id = $1 AND %s::text = $2`, table, spec.KeyColumn),
		tenantID, recordID, active); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE qdrant_vectors SET active = $4, last_updated_at = now()
		WHERE tenant_id = $1 AND table_name = $2 AND record_id = $3`,
		tenantID, table, recordID, active); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListSprintRefs returns sprints touched since the watermark, newest last so
// fan-out order is stable.
func (s *EntityStore) ListSprintRefs(ctx context.Context, tenantID, integrationID int, since *time.Time) ([]*models.Sprint, error) {
	query := `
		SELECT external_id, board_id, name, state
		FROM sprints
		WHERE tenant_id = $1 AND integration_id = $2 AND active`
	args := []any{tenantID, integrationID}
	if since != nil {
		query += ` AND last_updated_at >= $3`
		args = append(args, *since)
	}
	query += ` ORDER BY last_updated_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Sprint
	for rows.Next() {
		sp := &models.Sprint{TenantID: tenantID, IntegrationID: integrationID}
		if err := rows.Scan(&sp.ExternalID, &sp.BoardID, &sp.Name, &sp.State); err != nil {
			return nil, err
		}
		result = append(result, sp)
	}
	return result, rows.Err()
}

// ListPullRequestRefs returns pull request external ids touched since the
// watermark, for PR-detail fan-out.
func (s *EntityStore) ListPullRequestRefs(ctx context.Context, tenantID, integrationID int, since *time.Time) ([]string, error) {
	query := `
		SELECT external_id FROM pull_requests
		WHERE tenant_id = $1 AND integration_id = $2 AND active`
	args := []any{tenantID, integrationID}
	if since != nil {
		query += ` AND last_updated_at >= $3`
		args = append(args, *since)
	}
	query += ` ORDER BY last_updated_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// entityTx performs idempotent bulk upserts inside a single transaction.
// Every statement uses ON CONFLICT on the table's uniqueness key. The entity
// upserts add change detection: rows whose compared columns are unchanged
// are skipped entirely so last_updated_at only moves when that data moved.
// Sprint and work-item/PR link upserts have no change detection and refresh
// last_updated_at on every conflict; sprint membership uses DO NOTHING.
type entityTx struct {
	tx pgx.Tx
}

func (t *entityTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *entityTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// classifyExec maps constraint violations to the conflict error kind.
func classifyExec(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return models.NewError(models.ErrKindConflict, err)
	}
	return err
}

func (t *entityTx) UpsertProjects(ctx context.Context, rows []*models.Project) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO projects (tenant_id, integration_id, external_id, key, name, description, lead, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    key = EXCLUDED.key, name = EXCLUDED.name,
			    description = EXCLUDED.description, lead = EXCLUDED.lead,
			    active = TRUE, last_updated_at = now()
			WHERE (projects.key, projects.name, projects.description, projects.lead, projects.active)
			      IS DISTINCT FROM
			      (EXCLUDED.key, EXCLUDED.name, EXCLUDED.description, EXCLUDED.lead, TRUE)`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.Key, r.Name, r.Description, r.Lead)
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (t *entityTx) UpsertWorkItemTypes(ctx context.Context, rows []*models.WorkItemType) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO work_item_types (tenant_id, integration_id, external_id, name, description, subtask, hierarchy_level, wits_mapping_id, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    name = EXCLUDED.name, description = EXCLUDED.description,
			    subtask = EXCLUDED.subtask, hierarchy_level = EXCLUDED.hierarchy_level,
			    wits_mapping_id = EXCLUDED.wits_mapping_id,
			    active = TRUE, last_updated_at = now()
			WHERE (work_item_types.name, work_item_types.description, work_item_types.subtask,
			       work_item_types.hierarchy_level, work_item_types.wits_mapping_id, work_item_types.active)
			      IS DISTINCT FROM
			      (EXCLUDED.name, EXCLUDED.description, EXCLUDED.subtask,
			       EXCLUDED.hierarchy_level, EXCLUDED.wits_mapping_id, TRUE)`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.Name, r.Description,
			r.Subtask, r.HierarchyLevel, r.WITsMappingID)
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (t *entityTx) UpsertStatuses(ctx context.Context, rows []*models.Status) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO statuses (tenant_id, integration_id, external_id, name, category, project_key, status_mapping_id, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    name = EXCLUDED.name, category = EXCLUDED.category,
			    project_key = EXCLUDED.project_key,
			    status_mapping_id = EXCLUDED.status_mapping_id,
			    active = TRUE, last_updated_at = now()
			WHERE (statuses.name, statuses.category, statuses.project_key, statuses.status_mapping_id, statuses.active)
			      IS DISTINCT FROM
			      (EXCLUDED.name, EXCLUDED.category, EXCLUDED.project_key, EXCLUDED.status_mapping_id, TRUE)`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.Name, r.Category, r.ProjectKey, r.StatusMappingID)
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (t *entityTx) UpsertWorkItems(ctx context.Context, rows []*models.WorkItem) (int, error) {
	count := 0
	for _, r := range rows {
		customRaw, err := json.Marshal(r.CustomFields)
		if err != nil {
			return count, err
		}
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO work_items (tenant_id, integration_id, external_id, key, project_key, wit_name,
			    status_name, summary, description, assignee, reporter, team, story_points,
			    has_dev_changes, custom_fields, created_date, resolved_date, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    key = EXCLUDED.key, project_key = EXCLUDED.project_key,
			    wit_name = EXCLUDED.wit_name, status_name = EXCLUDED.status_name,
			    summary = EXCLUDED.summary, description = EXCLUDED.description,
			    assignee = EXCLUDED.assignee, reporter = EXCLUDED.reporter,
			    team = EXCLUDED.team, story_points = EXCLUDED.story_points,
			    has_dev_changes = EXCLUDED.has_dev_changes,
			    custom_fields = EXCLUDED.custom_fields,
			    created_date = EXCLUDED.created_date, resolved_date = EXCLUDED.resolved_date,
			    active = TRUE, last_updated_at = now()
			WHERE (work_items.key, work_items.project_key, work_items.wit_name, work_items.status_name,
			       work_items.summary, work_items.description, work_items.assignee, work_items.reporter,
			       work_items.team, work_items.story_points, work_items.has_dev_changes,
			       work_items.custom_fields, work_items.active)
			      IS DISTINCT FROM
			      (EXCLUDED.key, EXCLUDED.project_key, EXCLUDED.wit_name, EXCLUDED.status_name,
			       EXCLUDED.summary, EXCLUDED.description, EXCLUDED.assignee, EXCLUDED.reporter,
			       EXCLUDED.team, EXCLUDED.story_points, EXCLUDED.has_dev_changes,
			       EXCLUDED.custom_fields, TRUE)`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.Key, r.ProjectKey, r.WITName,
			r.StatusName, r.Summary, r.Description, r.Assignee, r.Reporter, r.Team,
			r.StoryPoints, r.HasDevChanges, customRaw, nullTime(r.CreatedDate), nullTime(r.ResolvedDate))
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (t *entityTx) UpsertChangelogs(ctx context.Context, rows []*models.Changelog) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO changelogs (tenant_id, integration_id, external_id, work_item_key, field, from_value, to_value, author, changed_at, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    work_item_key = EXCLUDED.work_item_key, field = EXCLUDED.field,
			    from_value = EXCLUDED.from_value, to_value = EXCLUDED.to_value,
			    author = EXCLUDED.author, changed_at = EXCLUDED.changed_at,
			    active = TRUE, last_updated_at = now()
			WHERE (changelogs.work_item_key, changelogs.field, changelogs.from_value,
			       changelogs.to_value, changelogs.author, changelogs.active)
			      IS DISTINCT FROM
			      (EXCLUDED.work_item_key, EXCLUDED.field, EXCLUDED.from_value,
			       EXCLUDED.to_value, EXCLUDED.author, TRUE)`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.WorkItemKey, r.Field,
			r.FromValue, r.ToValue, r.Author, r.ChangedAt)
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (t *entityTx) UpsertRepositories(ctx context.Context, rows []*models.Repository) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO repositories (tenant_id, integration_id, external_id, name, url, default_branch, active)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    name = EXCLUDED.name, url = EXCLUDED.url,
			    default_branch = EXCLUDED.default_branch,
			    active = TRUE, last_updated_at = now()
			WHERE (repositories.name, repositories.url, repositories.default_branch, repositories.active)
			      IS DISTINCT FROM
			      (EXCLUDED.name, EXCLUDED.url, EXCLUDED.default_branch, TRUE)`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.Name, r.URL, r.DefaultBranch)
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (t *entityTx) UpsertPullRequests(ctx context.Context, rows []*models.PullRequest) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO pull_requests (tenant_id, integration_id, external_id, repository_id, title, body,
			    state, author, source_branch, target_branch, merged_at, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    repository_id = EXCLUDED.repository_id, title = EXCLUDED.title,
			    body = EXCLUDED.body, state = EXCLUDED.state, author = EXCLUDED.author,
			    source_branch = EXCLUDED.source_branch, target_branch = EXCLUDED.target_branch,
			    merged_at = EXCLUDED.merged_at,
			    active = TRUE, last_updated_at = now()
			WHERE (pull_requests.repository_id, pull_requests.title, pull_requests.body,
			       pull_requests.state, pull_requests.author, pull_requests.source_branch,
			       pull_requests.target_branch, pull_requests.merged_at, pull_requests.active)
			      IS DISTINCT FROM
			      (EXCLUDED.repository_id, EXCLUDED.title, EXCLUDED.body,
			       EXCLUDED.state, EXCLUDED.author, EXCLUDED.source_branch,
			       EXCLUDED.target_branch, EXCLUDED.merged_at, TRUE)`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.RepositoryID, r.Title, r.Body,
			r.State, r.Author, r.SourceBranch, r.TargetBranch, nullTime(r.MergedAt))
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (t *entityTx) UpsertPRCommits(ctx context.Context, rows []*models.PRCommit) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO pr_commits (tenant_id, integration_id, external_id, pull_request_id, message, author, committed_at, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    pull_request_id = EXCLUDED.pull_request_id, message = EXCLUDED.message,
			    author = EXCLUDED.author, committed_at = EXCLUDED.committed_at,
			    active = TRUE, last_updated_at = now()
			WHERE (pr_commits.pull_request_id, pr_commits.message, pr_commits.author, pr_commits.active)
			      IS DISTINCT FROM
			      (EXCLUDED.pull_request_id, EXCLUDED.message, EXCLUDED.author, TRUE)`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.PullRequestID, r.Message, r.Author, r.CommittedAt)
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (t *entityTx) UpsertPRReviews(ctx context.Context, rows []*models.PRReview) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO pr_reviews (tenant_id, integration_id, external_id, pull_request_id, reviewer, state, body, submitted_at, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    pull_request_id = EXCLUDED.pull_request_id, reviewer = EXCLUDED.reviewer,
			    state = EXCLUDED.state, body = EXCLUDED.body, submitted_at = EXCLUDED.submitted_at,
			    active = TRUE, last_updated_at = now()
			WHERE (pr_reviews.pull_request_id, pr_reviews.reviewer, pr_reviews.state, pr_reviews.body, pr_reviews.active)
			      IS DISTINCT FROM
			      (EXCLUDED.pull_request_id, EXCLUDED.reviewer, EXCLUDED.state, EXCLUDED.body, TRUE)`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.PullRequestID, r.Reviewer, r.State, r.Body, r.SubmittedAt)
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (t *entityTx) UpsertPRComments(ctx context.Context, rows []*models.PRComment) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO pr_comments (tenant_id, integration_id, external_id, pull_request_id, author, body, created_date, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    pull_request_id = EXCLUDED.pull_request_id, author = EXCLUDED.author,
			    body = EXCLUDED.body, created_date = EXCLUDED.created_date,
			    active = TRUE, last_updated_at = now()
			WHERE (pr_comments.pull_request_id, pr_comments.author, pr_comments.body, pr_comments.active)
			      IS DISTINCT FROM
			      (EXCLUDED.pull_request_id, EXCLUDED.author, EXCLUDED.body, TRUE)`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.PullRequestID, r.Author, r.Body, r.CreatedDate)
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

// UpsertWorkItemPRLinks returns the internal ids of the touched rows; the
// link table has no provider-native id, so the internal id is what the
// embedding worker is keyed by.
func (t *entityTx) UpsertWorkItemPRLinks(ctx context.Context, rows []*models.WorkItemPRLink) ([]int64, error) {
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		var id int64
		err := t.tx.QueryRow(ctx, `
			INSERT INTO work_items_prs_links (tenant_id, integration_id, work_item_key, pull_request_id, repository_id, active)
			VALUES ($1, $2, $3, $4, $5, TRUE)
			ON CONFLICT (tenant_id, integration_id, work_item_key, pull_request_id) DO UPDATE SET
			    repository_id = EXCLUDED.repository_id,
			    active = TRUE, last_updated_at = now()
			RETURNING id`,
			r.TenantID, r.IntegrationID, r.WorkItemKey, r.PullRequestID, r.RepositoryID).Scan(&id)
		if err != nil {
			return ids, classifyExec(err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UpsertSprints races safely against concurrent transform workers through
// ON CONFLICT DO UPDATE on the external id.
func (t *entityTx) UpsertSprints(ctx context.Context, rows []*models.Sprint) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO sprints (tenant_id, integration_id, external_id, board_id, name, state, goal,
			    start_date, end_date, completed_points, committed_points, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
			ON CONFLICT (tenant_id, integration_id, external_id) DO UPDATE SET
			    board_id = EXCLUDED.board_id, name = EXCLUDED.name, state = EXCLUDED.state,
			    goal = EXCLUDED.goal, start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			    completed_points = COALESCE(EXCLUDED.completed_points, sprints.completed_points),
			    committed_points = COALESCE(EXCLUDED.committed_points, sprints.committed_points),
			    active = TRUE, last_updated_at = now()`,
			r.TenantID, r.IntegrationID, r.ExternalID, r.BoardID, r.Name, r.State, r.Goal,
			nullTime(r.StartDate), nullTime(r.EndDate), r.CompletedPoints, r.CommittedPoints)
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

// UpsertWorkItemSprints uses DO NOTHING: membership has no mutable fields, so
// overlapping payloads across workers collapse to one row.
func (t *entityTx) UpsertWorkItemSprints(ctx context.Context, rows []*models.WorkItemSprint) (int, error) {
	count := 0
	for _, r := range rows {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO work_items_sprints (tenant_id, integration_id, work_item_key, sprint_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, integration_id, work_item_key, sprint_id) DO NOTHING`,
			r.TenantID, r.IntegrationID, r.WorkItemKey, r.SprintID)
		if err != nil {
			return count, classifyExec(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

// SetRawStatus flips the raw staging row inside the same transaction as the
// upserts so the handoff commits atomically with the normalized writes.
func (t *entityTx) SetRawStatus(ctx context.Context, tenantID int, rawID string, status models.RawStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE raw_extraction_data SET status = $3
		WHERE tenant_id = $1 AND raw_id = $2`, tenantID, rawID, status)
	return err
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
