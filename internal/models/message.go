package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoMessage is returned when a queue read times out with nothing available.
var ErrNoMessage = errors.New("no messages in queue")

// QueueType identifies one of the three pipeline stages. The set is closed:
// queue names are always derived through QueueName so a misspelled stage can
// never produce a "queue not found" at publish time.
type QueueType string

const (
	QueueExtraction QueueType = "extraction"
	QueueTransform  QueueType = "transform"
	QueueEmbedding  QueueType = "embedding"
)

// QueueName returns the tenant-scoped queue name for a stage.
func QueueName(qt QueueType, tenantID int) string {
	return fmt.Sprintf("%s_queue_%d", qt, tenantID)
}

// DLQName returns the tenant-scoped dead-letter queue name.
func DLQName(tenantID int) string {
	return fmt.Sprintf("dlq_%d", tenantID)
}

// ValidQueueType reports whether qt is a member of the closed stage set.
func ValidQueueType(qt QueueType) bool {
	switch qt {
	case QueueExtraction, QueueTransform, QueueEmbedding:
		return true
	}
	return false
}

// PayloadType tags the raw payload a message refers to. Closed set - the
// transform worker routes on it.
type PayloadType string

const (
	PayloadJiraProjectsAndTypes PayloadType = "jira_projects_and_issue_types"
	PayloadJiraStatuses         PayloadType = "jira_statuses_and_relationships"
	PayloadJiraIssues           PayloadType = "jira_issues_with_changelogs"
	PayloadJiraDevStatus        PayloadType = "jira_dev_status"
	PayloadJiraSprintReports    PayloadType = "jira_sprint_reports"
	PayloadJiraCustomFields     PayloadType = "jira_custom_fields"
	PayloadGithubRepositories   PayloadType = "github_repositories"
	PayloadGithubPullRequests   PayloadType = "github_pull_requests"
	PayloadGithubPRDetails      PayloadType = "github_pr_details"
)

// EntityRef points the embedding worker at one committed row.
type EntityRef struct {
	TableName  string `json:"table_name"`
	RecordID   string `json:"record_id"`   // value of the per-table key field
	VectorType string `json:"vector_type"` // usually "semantic"
}

// PipelineMessage is the envelope that travels across every queue hop.
// The field set is stable; optional fields are pointers or zero values.
type PipelineMessage struct {
	TenantID      int         `json:"tenant_id"`
	IntegrationID int         `json:"integration_id"`
	JobID         string      `json:"job_id"`
	StepName      string      `json:"step_name"`
	PayloadType   PayloadType `json:"payload_type"`
	RawID         string      `json:"raw_id,omitempty"`
	EntityRef     *EntityRef  `json:"entity_ref,omitempty"`

	// Step and job boundary markers. Marker decisions are local to a message:
	// no receiver ever needs cross-consumer ordering to interpret them.
	FirstItem   bool `json:"first_item"`
	LastItem    bool `json:"last_item"`
	LastJobItem bool `json:"last_job_item"`

	// Token is generated once per job and forwarded on every hop so the
	// completion watcher can tell this job's residue apart from concurrent
	// jobs on the same tenant queues.
	Token string `json:"token"`

	OldLastSyncDate *time.Time `json:"old_last_sync_date,omitempty"`
	NewLastSyncDate *time.Time `json:"new_last_sync_date,omitempty"`

	Attempt int `json:"attempt"`
}

// ToJSON serializes the message for the wire.
func (m *PipelineMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON deserializes a wire envelope.
func MessageFromJSON(data []byte) (*PipelineMessage, error) {
	var msg PipelineMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline message: %w", err)
	}
	return &msg, nil
}

// Forward returns a copy of the envelope addressed to the next hop, clearing
// the markers (the sender decides markers per publication) while preserving
// identity, token, and watermarks.
func (m *PipelineMessage) Forward() PipelineMessage {
	next := *m
	next.FirstItem = false
	next.LastItem = false
	next.LastJobItem = false
	next.RawID = ""
	next.EntityRef = nil
	next.Attempt = 0
	return next
}
