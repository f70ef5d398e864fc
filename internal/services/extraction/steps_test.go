package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthpulse/pulse/internal/models"
)

func TestJiraStepSequence(t *testing.T) {
	assert.Equal(t, []string{
		"jira_projects_and_issue_types",
		"jira_statuses_and_relationships",
		"jira_issues_with_changelogs",
		"jira_dev_status",
		"jira_sprint_reports",
	}, StepNames(models.ProviderJira))
}

func TestGithubStepSequence(t *testing.T) {
	assert.Equal(t, []string{
		"github_repositories",
		"github_pull_requests",
		"github_pr_details",
	}, StepNames(models.ProviderGithub))
}

func TestFirstStep(t *testing.T) {
	first, err := FirstStep(models.ProviderJira)
	require.NoError(t, err)
	assert.Equal(t, "jira_projects_and_issue_types", first.Name)
	assert.Equal(t, FanoutNone, first.Fanout)

	_, err = FirstStep(models.Provider("gitlab"))
	assert.Error(t, err)
}

func TestNextStep(t *testing.T) {
	next, ok := NextStep(models.ProviderJira, "jira_issues_with_changelogs")
	require.True(t, ok)
	assert.Equal(t, "jira_dev_status", next.Name)
	assert.Equal(t, FanoutWorkItems, next.Fanout)

	_, ok = NextStep(models.ProviderJira, "jira_sprint_reports")
	assert.False(t, ok)

	_, ok = NextStep(models.ProviderJira, "unknown_step")
	assert.False(t, ok)
}

func TestIsTerminalStep(t *testing.T) {
	assert.True(t, IsTerminalStep(models.ProviderJira, "jira_sprint_reports"))
	assert.False(t, IsTerminalStep(models.ProviderJira, "jira_dev_status"))
	assert.True(t, IsTerminalStep(models.ProviderGithub, "github_pr_details"))
}

func TestStepByName(t *testing.T) {
	step, ok := StepByName(models.ProviderJira, "jira_sprint_reports")
	require.True(t, ok)
	assert.Equal(t, FanoutSprints, step.Fanout)

	_, ok = StepByName(models.ProviderJira, "jira_nonexistent")
	assert.False(t, ok)
}
