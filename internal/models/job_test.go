package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepStateSettled(t *testing.T) {
	tests := []struct {
		name    string
		state   StepState
		settled bool
	}{
		{"all idle", StepState{Extraction: StageIdle, Transform: StageIdle, Embedding: StageIdle}, true},
		{"all finished", StepState{Extraction: StageFinished, Transform: StageFinished, Embedding: StageFinished}, true},
		{"mixed finished idle", StepState{Extraction: StageFinished, Transform: StageFinished, Embedding: StageIdle}, true},
		{"embedding running", StepState{Extraction: StageFinished, Transform: StageFinished, Embedding: StageRunning}, false},
		{"failed stage", StepState{Extraction: StageFailed, Transform: StageIdle, Embedding: StageIdle}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.settled, tc.state.Settled())
		})
	}
}

func TestStepStateGetSet(t *testing.T) {
	var s StepState
	s.Set(StageExtraction, StageRunning)
	s.Set(StageTransform, StageFinished)
	s.Set(StageEmbedding, StageFailed)

	assert.Equal(t, StageRunning, s.Get(StageExtraction))
	assert.Equal(t, StageFinished, s.Get(StageTransform))
	assert.Equal(t, StageFailed, s.Get(StageEmbedding))
}

func TestOrderedStepNames(t *testing.T) {
	job := &ETLJob{
		Steps: map[string]StepState{
			"jira_sprint_reports":             {Order: 5},
			"jira_projects_and_issue_types":   {Order: 1},
			"jira_issues_with_changelogs":     {Order: 3},
			"jira_dev_status":                 {Order: 4},
			"jira_statuses_and_relationships": {Order: 2},
		},
	}

	assert.Equal(t, []string{
		"jira_projects_and_issue_types",
		"jira_statuses_and_relationships",
		"jira_issues_with_changelogs",
		"jira_dev_status",
		"jira_sprint_reports",
	}, job.OrderedStepNames())
}

func TestResetBackoffSchedule(t *testing.T) {
	assert.Equal(t, 60*time.Second, ResetBackoff(0))
	assert.Equal(t, 180*time.Second, ResetBackoff(1))
	assert.Equal(t, 300*time.Second, ResetBackoff(2))

	// Attempts past the schedule reuse the final entry.
	assert.Equal(t, 300*time.Second, ResetBackoff(3))
	assert.Equal(t, 300*time.Second, ResetBackoff(10))
	assert.Equal(t, 60*time.Second, ResetBackoff(-1))
}

func TestInitialResetDelayIsFixed(t *testing.T) {
	// The 30s first check is not part of the back-off progression.
	assert.Equal(t, 30*time.Second, InitialResetDelay)
	assert.NotContains(t, ResetBackoffSchedule, InitialResetDelay)
}
