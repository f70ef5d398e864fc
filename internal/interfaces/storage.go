package interfaces

import (
	"context"
	"time"

	"github.com/healthpulse/pulse/internal/models"
)

// JobStorage manages the per-(tenant, job) state document. Stage updates are
// atomic field updates; the document itself is owned by the job controller.
type JobStorage interface {
	GetJob(ctx context.Context, tenantID int, jobID string) (*models.ETLJob, error)
	ListJobsByStatus(ctx context.Context, tenantID int, status models.JobStatus) ([]*models.ETLJob, error)
	CreateJob(ctx context.Context, job *models.ETLJob) error

	// SetStageStatus updates one stage of one step. A finished stage never
	// regresses to running: late messages are benign updates.
	SetStageStatus(ctx context.Context, tenantID int, jobID, stepName string, stage models.Stage, status models.StageStatus) error

	SetOverall(ctx context.Context, tenantID int, jobID string, overall models.JobStatus) error
	SetToken(ctx context.Context, tenantID int, jobID, token string) error
	SetResetState(ctx context.Context, tenantID int, jobID string, deadline *time.Time, attempt int) error

	// ResetStages zeroes every stage of every step to idle and sets overall
	// to READY in a single statement.
	ResetStages(ctx context.Context, tenantID int, jobID string) error
}

// IntegrationStorage reads integration settings and persists the watermark.
type IntegrationStorage interface {
	GetIntegration(ctx context.Context, tenantID, integrationID int) (*models.Integration, error)
	ListActiveIntegrations(ctx context.Context, tenantID int) ([]*models.Integration, error)
	SetLastSyncDate(ctx context.Context, tenantID, integrationID int, ts time.Time) error
	GetCustomFieldMap(ctx context.Context, tenantID, integrationID int) (models.CustomFieldMap, error)
}

// RawStorage is the staging table between extraction and transform.
type RawStorage interface {
	// UpsertRaw writes a raw payload keyed on (tenant, integration,
	// payload_type, provider_id) so redelivered extraction messages do not
	// duplicate rows.
	UpsertRaw(ctx context.Context, rec *models.RawExtractionRecord) error
	GetRaw(ctx context.Context, tenantID int, rawID string) (*models.RawExtractionRecord, error)
	SetRawStatus(ctx context.Context, tenantID int, rawID string, status models.RawStatus) error
}

// MappingStorage resolves mapping-table lookups for transform. All name
// matches are case-insensitive within (tenant, integration).
type MappingStorage interface {
	ResolveWITMapping(ctx context.Context, tenantID, integrationID int, name string) (*int64, error)
	ResolveStatusMapping(ctx context.Context, tenantID, integrationID int, name string) (*int64, error)
	ResolveWorkflow(ctx context.Context, tenantID, integrationID int, name string) (*int64, error)

	GetWITHierarchy(ctx context.Context, tenantID int, id int64) (*models.WITHierarchy, error)
	GetWITMapping(ctx context.Context, tenantID int, id int64) (*models.WITMapping, error)
	GetStatusMapping(ctx context.Context, tenantID int, id int64) (*models.StatusMapping, error)
	GetWorkflow(ctx context.Context, tenantID int, id int64) (*models.Workflow, error)

	// SetMappingActive flips a mapping row's active flag and mirrors the
	// change into its vector bridge record.
	SetMappingActive(ctx context.Context, tenantID int, table string, id int64, active bool) error
}

// EntityTx is one transactional unit of normalized writes. Begin on the
// store, upsert, flip raw status, then Commit; embedding messages are
// published only after Commit returns.
type EntityTx interface {
	UpsertProjects(ctx context.Context, rows []*models.Project) (int, error)
	UpsertWorkItemTypes(ctx context.Context, rows []*models.WorkItemType) (int, error)
	UpsertStatuses(ctx context.Context, rows []*models.Status) (int, error)
	UpsertWorkItems(ctx context.Context, rows []*models.WorkItem) (int, error)
	UpsertChangelogs(ctx context.Context, rows []*models.Changelog) (int, error)
	UpsertRepositories(ctx context.Context, rows []*models.Repository) (int, error)
	UpsertPullRequests(ctx context.Context, rows []*models.PullRequest) (int, error)
	UpsertPRCommits(ctx context.Context, rows []*models.PRCommit) (int, error)
	UpsertPRReviews(ctx context.Context, rows []*models.PRReview) (int, error)
	UpsertPRComments(ctx context.Context, rows []*models.PRComment) (int, error)
	UpsertWorkItemPRLinks(ctx context.Context, rows []*models.WorkItemPRLink) ([]int64, error)
	UpsertSprints(ctx context.Context, rows []*models.Sprint) (int, error)
	UpsertWorkItemSprints(ctx context.Context, rows []*models.WorkItemSprint) (int, error)

	SetRawStatus(ctx context.Context, tenantID int, rawID string, status models.RawStatus) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EntityStorage reads committed rows for the embedding worker and opens
// transactional write units for transform.
type EntityStorage interface {
	Begin(ctx context.Context) (EntityTx, error)

	// FetchForEmbedding loads one committed row by the per-table key field
	// and returns its textual field map plus display name. A (nil, "",
	// nil) return means the row is absent.
	FetchForEmbedding(ctx context.Context, tenantID int, table, recordID string) (map[string]string, string, error)

	// SetEntityActive flips a normalized row's active flag and mirrors the
	// change into the vector bridge, both directions.
	SetEntityActive(ctx context.Context, tenantID int, table, recordID string, active bool) error

	// ListSprintRefs returns sprints touched since the watermark, for
	// sprint-report fan-out.
	ListSprintRefs(ctx context.Context, tenantID, integrationID int, since *time.Time) ([]*models.Sprint, error)

	// ListPullRequestRefs returns external ids of pull requests touched
	// since the watermark, for PR-detail fan-out.
	ListPullRequestRefs(ctx context.Context, tenantID, integrationID int, since *time.Time) ([]string, error)
}

// VectorBridgeStorage maintains qdrant_vectors, the bridge between rows and
// vector-index points.
type VectorBridgeStorage interface {
	UpsertBridge(ctx context.Context, rec *models.VectorBridgeRecord) error
	GetBridge(ctx context.Context, tenantID int, table, recordID, vectorType string) (*models.VectorBridgeRecord, error)
	SetBridgeActive(ctx context.Context, tenantID int, table, recordID string, active bool) error
	CountByCollection(ctx context.Context, tenantID int, collection string) (int, error)
}

// AuthStorage validates presented bearer credentials.
type AuthStorage interface {
	// LookupToken resolves a bearer credential to its tenant. Unknown or
	// revoked tokens return an auth-kind error.
	LookupToken(ctx context.Context, token string) (tenantID int, subject string, err error)
	// RevokeSubject disconnects a subject's credentials (logout/rotation).
	RevokeSubject(ctx context.Context, subject string) error
}

// StorageManager aggregates the relational store facets and owns the pool.
type StorageManager interface {
	JobStorage() JobStorage
	IntegrationStorage() IntegrationStorage
	RawStorage() RawStorage
	MappingStorage() MappingStorage
	EntityStorage() EntityStorage
	VectorBridgeStorage() VectorBridgeStorage
	AuthStorage() AuthStorage
	Close() error
}
