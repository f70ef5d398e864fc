package models

import "time"

// RawStatus is the lifecycle of a raw extraction record. Append-only during
// extraction, flipped to completed by the transform worker.
type RawStatus string

const (
	RawPending   RawStatus = "pending"
	RawCompleted RawStatus = "completed"
	RawFailed    RawStatus = "failed"
)

// RawExtractionRecord is the durable handoff between extraction and transform.
type RawExtractionRecord struct {
	TenantID      int         `json:"tenant_id"`
	RawID         string      `json:"raw_id"`
	IntegrationID int         `json:"integration_id"`
	PayloadType   PayloadType `json:"payload_type"`
	ProviderID    string      `json:"provider_id"` // provider-native id of the payload subject
	Payload       []byte      `json:"payload"`
	Status        RawStatus   `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Normalized table names. Collection and bridge naming derive from these, so
// they are constants rather than free strings.
const (
	TableProjects          = "projects"
	TableWorkItemTypes     = "work_item_types"
	TableStatuses          = "statuses"
	TableWorkItems         = "work_items"
	TableChangelogs        = "changelogs"
	TablePullRequests      = "pull_requests"
	TablePRCommits         = "pr_commits"
	TablePRReviews         = "pr_reviews"
	TablePRComments        = "pr_comments"
	TableRepositories      = "repositories"
	TableWorkItemsPRsLinks = "work_items_prs_links"
	TableSprints           = "sprints"
	TableWorkItemsSprints  = "work_items_sprints"
	TableWITsHierarchies   = "wits_hierarchies"
	TableWITsMappings      = "wits_mappings"
	TableStatusMappings    = "status_mappings"
	TableWorkflows         = "workflows"
)

// Project is a provider project or board container.
type Project struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"`
	Key           string    `json:"key"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Lead          string    `json:"lead"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// WorkItemType is a provider issue type (WIT).
type WorkItemType struct {
	TenantID       int       `json:"tenant_id"`
	IntegrationID  int       `json:"integration_id"`
	ID             int64     `json:"id"`
	ExternalID     string    `json:"external_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Subtask        bool      `json:"subtask"`
	HierarchyLevel int       `json:"hierarchy_level"`
	WITsMappingID  *int64    `json:"wits_mapping_id,omitempty"`
	Active         bool      `json:"active"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
}

// Status is a provider workflow status.
type Status struct {
	TenantID        int       `json:"tenant_id"`
	IntegrationID   int       `json:"integration_id"`
	ID              int64     `json:"id"`
	ExternalID      string    `json:"external_id"`
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	ProjectKey      string    `json:"project_key"`
	StatusMappingID *int64    `json:"status_mapping_id,omitempty"`
	Active          bool      `json:"active"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

// WorkItem is a normalized issue with flattened custom-field slots.
type WorkItem struct {
	TenantID      int               `json:"tenant_id"`
	IntegrationID int               `json:"integration_id"`
	ID            int64             `json:"id"`
	ExternalID    string            `json:"external_id"`
	Key           string            `json:"key"`
	ProjectKey    string            `json:"project_key"`
	WITName       string            `json:"wit_name"`
	StatusName    string            `json:"status_name"`
	Summary       string            `json:"summary"`
	Description   string            `json:"description"`
	Assignee      string            `json:"assignee"`
	Reporter      string            `json:"reporter"`
	Team          string            `json:"team"`
	StoryPoints   *float64          `json:"story_points,omitempty"`
	HasDevChanges bool              `json:"has_dev_changes"`
	CustomFields  map[string]string `json:"custom_fields,omitempty"` // slot -> flattened value
	CreatedDate   *time.Time        `json:"created_date,omitempty"`
	ResolvedDate  *time.Time        `json:"resolved_date,omitempty"`
	Active        bool              `json:"active"`
	LastUpdatedAt time.Time         `json:"last_updated_at"`
}

// Changelog is a single status-transition record of a work item.
type Changelog struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"`
	WorkItemKey   string    `json:"work_item_key"`
	Field         string    `json:"field"`
	FromValue     string    `json:"from_value"`
	ToValue       string    `json:"to_value"`
	Author        string    `json:"author"`
	ChangedAt     time.Time `json:"changed_at"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Repository is a source-control repository reference.
type Repository struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	DefaultBranch string    `json:"default_branch"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// PullRequest is a normalized code review container.
type PullRequest struct {
	TenantID      int        `json:"tenant_id"`
	IntegrationID int        `json:"integration_id"`
	ID            int64      `json:"id"`
	ExternalID    string     `json:"external_id"`
	RepositoryID  string     `json:"repository_id"` // external id of the repository
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	State         string     `json:"state"`
	Author        string     `json:"author"`
	SourceBranch  string     `json:"source_branch"`
	TargetBranch  string     `json:"target_branch"`
	MergedAt      *time.Time `json:"merged_at,omitempty"`
	Active        bool       `json:"active"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
}

// PRCommit, PRReview and PRComment hang off a pull request by external id.
type PRCommit struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"` // commit sha
	PullRequestID string    `json:"pull_request_id"`
	Message       string    `json:"message"`
	Author        string    `json:"author"`
	CommittedAt   time.Time `json:"committed_at"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type PRReview struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"`
	PullRequestID string    `json:"pull_request_id"`
	Reviewer      string    `json:"reviewer"`
	State         string    `json:"state"`
	Body          string    `json:"body"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type PRComment struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"`
	PullRequestID string    `json:"pull_request_id"`
	Author        string    `json:"author"`
	Body          string    `json:"body"`
	CreatedDate   time.Time `json:"created_date"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// WorkItemPRLink crosses a work item with a pull request discovered through
// dev-status extraction. It has no provider-native id; the internal id is the
// embedding lookup key.
type WorkItemPRLink struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	WorkItemKey   string    `json:"work_item_key"`
	PullRequestID string    `json:"pull_request_id"`
	RepositoryID  string    `json:"repository_id"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Sprint is an agile iteration with metrics filled by sprint-report
// extraction.
type Sprint struct {
	TenantID        int        `json:"tenant_id"`
	IntegrationID   int        `json:"integration_id"`
	ID              int64      `json:"id"`
	ExternalID      string     `json:"external_id"`
	BoardID         int        `json:"board_id"`
	Name            string     `json:"name"`
	State           string     `json:"state"`
	Goal            string     `json:"goal"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	CompletedPoints *float64   `json:"completed_points,omitempty"`
	CommittedPoints *float64   `json:"committed_points,omitempty"`
	Active          bool       `json:"active"`
	LastUpdatedAt   time.Time  `json:"last_updated_at"`
}

// WorkItemSprint is sprint membership for a work item.
type WorkItemSprint struct {
	TenantID      int    `json:"tenant_id"`
	IntegrationID int    `json:"integration_id"`
	WorkItemKey   string `json:"work_item_key"`
	SprintID      string `json:"sprint_id"` // external id of the sprint
}

// Mapping tables. External CRUD owns them; transform resolves against them
// case-insensitively and embedding vectorizes them by internal id.
type WITHierarchy struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Level         int       `json:"level"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type WITMapping struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	SourceName    string    `json:"source_name"` // provider WIT name
	TargetName    string    `json:"target_name"` // normalized WIT name
	HierarchyID   *int64    `json:"hierarchy_id,omitempty"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type StatusMapping struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	SourceName    string    `json:"source_name"`
	TargetName    string    `json:"target_name"`
	WorkflowID    *int64    `json:"workflow_id,omitempty"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type Workflow struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// VectorBridgeRecord binds a normalized row to its vector-index point. Its
// active flag is a projection of the source row's active flag, maintained in
// both directions.
type VectorBridgeRecord struct {
	TenantID      int       `json:"tenant_id"`
	IntegrationID int       `json:"integration_id"`
	TableName     string    `json:"table_name"`
	RecordID      string    `json:"record_id"`
	VectorType    string    `json:"vector_type"`
	Collection    string    `json:"collection_name"`
	PointID       string    `json:"point_id"`
	Active        bool      `json:"active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// VectorTypeSemantic is the only vector type the pipeline currently produces.
const VectorTypeSemantic = "semantic"
