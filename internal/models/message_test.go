package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueName(t *testing.T) {
	assert.Equal(t, "extraction_queue_7", QueueName(QueueExtraction, 7))
	assert.Equal(t, "transform_queue_7", QueueName(QueueTransform, 7))
	assert.Equal(t, "embedding_queue_7", QueueName(QueueEmbedding, 7))
	assert.Equal(t, "dlq_7", DLQName(7))
}

func TestValidQueueType(t *testing.T) {
	assert.True(t, ValidQueueType(QueueExtraction))
	assert.True(t, ValidQueueType(QueueTransform))
	assert.True(t, ValidQueueType(QueueEmbedding))
	assert.False(t, ValidQueueType(QueueType("archive")))
}

func TestMessageRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	msg := &PipelineMessage{
		TenantID:        3,
		IntegrationID:   12,
		JobID:           "job-1",
		StepName:        "jira_issues_with_changelogs",
		PayloadType:     PayloadJiraIssues,
		RawID:           "raw_abc",
		FirstItem:       true,
		LastItem:        true,
		LastJobItem:     false,
		Token:           "token-1",
		OldLastSyncDate: &now,
		NewLastSyncDate: &now,
		Attempt:         2,
	}

	data, err := msg.ToJSON()
	require.NoError(t, err)

	decoded, err := MessageFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestMessageFromJSONInvalid(t *testing.T) {
	_, err := MessageFromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestForwardClearsMarkersAndPayload(t *testing.T) {
	now := time.Now()
	msg := &PipelineMessage{
		TenantID:        1,
		IntegrationID:   2,
		JobID:           "job-9",
		StepName:        "jira_dev_status",
		Token:           "tok",
		RawID:           "raw_1",
		EntityRef:       &EntityRef{TableName: TableWorkItems, RecordID: "BDP-1"},
		FirstItem:       true,
		LastItem:        true,
		LastJobItem:     true,
		OldLastSyncDate: &now,
		NewLastSyncDate: &now,
		Attempt:         1,
	}

	next := msg.Forward()
	assert.False(t, next.FirstItem)
	assert.False(t, next.LastItem)
	assert.False(t, next.LastJobItem)
	assert.Empty(t, next.RawID)
	assert.Nil(t, next.EntityRef)
	assert.Zero(t, next.Attempt)

	// Identity, token and watermarks travel on every hop.
	assert.Equal(t, msg.Token, next.Token)
	assert.Equal(t, msg.JobID, next.JobID)
	assert.Equal(t, msg.OldLastSyncDate, next.OldLastSyncDate)
	assert.Equal(t, msg.NewLastSyncDate, next.NewLastSyncDate)
}
