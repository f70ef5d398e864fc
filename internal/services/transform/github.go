package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/healthpulse/pulse/internal/models"
)

// GitHub payload shapes, matching what the provider client serialized from
// the SDK responses.

type githubRepo struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
}

type githubPR struct {
	ID     int64  `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref  string `json:"ref"`
		Repo struct {
			ID       int64  `json:"id"`
			FullName string `json:"full_name"`
		} `json:"repo"`
	} `json:"base"`
	MergedAt *time.Time `json:"merged_at"`
}

// normalizeGithubRepositories upserts repository rows from the discovery
// payload.
func (w *Worker) normalizeGithubRepositories(ctx context.Context, msg *models.PipelineMessage, payload []byte) (*Result, error) {
	var repos []githubRepo
	if err := json.Unmarshal(payload, &repos); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	result := &Result{}
	seen := map[int64]bool{}

	for _, r := range repos {
		if r.ID == 0 || seen[r.ID] {
			continue
		}
		seen[r.ID] = true

		externalID := fmt.Sprintf("%d", r.ID)
		result.Repositories = append(result.Repositories, &models.Repository{
			TenantID:      msg.TenantID,
			IntegrationID: msg.IntegrationID,
			ExternalID:    externalID,
			Name:          r.FullName,
			URL:           r.HTMLURL,
			DefaultBranch: r.DefaultBranch,
		})
		result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TableRepositories, externalID, "", 0))
	}

	return result, nil
}

// normalizeGithubPullRequests upserts pull request rows. The external id is
// the "owner/repo#number" slug so PR-detail fan-out can address the provider
// without a secondary lookup.
func (w *Worker) normalizeGithubPullRequests(ctx context.Context, msg *models.PipelineMessage, payload []byte) (*Result, error) {
	var wrapper struct {
		Repository   string     `json:"repository"`
		PullRequests []githubPR `json:"pull_requests"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	result := &Result{}
	seen := map[string]bool{}

	for _, pr := range wrapper.PullRequests {
		externalID := fmt.Sprintf("%s#%d", wrapper.Repository, pr.Number)
		if pr.Number == 0 || seen[externalID] {
			continue
		}
		seen[externalID] = true

		result.PullRequests = append(result.PullRequests, &models.PullRequest{
			TenantID:      msg.TenantID,
			IntegrationID: msg.IntegrationID,
			ExternalID:    externalID,
			RepositoryID:  fmt.Sprintf("%d", pr.Base.Repo.ID),
			Title:         pr.Title,
			Body:          pr.Body,
			State:         pr.State,
			Author:        pr.User.Login,
			SourceBranch:  pr.Head.Ref,
			TargetBranch:  pr.Base.Ref,
			MergedAt:      pr.MergedAt,
		})
		result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TablePullRequests, externalID, "", 0))
	}

	return result, nil
}

// normalizeGithubPRDetails upserts commits, reviews and comments for one pull
// request.
func (w *Worker) normalizeGithubPRDetails(ctx context.Context, msg *models.PipelineMessage, payload []byte) (*Result, error) {
	var wrapper struct {
		PullRequest string `json:"pull_request"`
		Commits     []struct {
			SHA    string `json:"sha"`
			Commit struct {
				Message string `json:"message"`
				Author  struct {
					Name string `json:"name"`
					Date string `json:"date"`
				} `json:"author"`
			} `json:"commit"`
		} `json:"commits"`
		Reviews []struct {
			ID   int64 `json:"id"`
			User struct {
				Login string `json:"login"`
			} `json:"user"`
			State       string     `json:"state"`
			Body        string     `json:"body"`
			SubmittedAt *time.Time `json:"submitted_at"`
		} `json:"reviews"`
		Comments []struct {
			ID   int64 `json:"id"`
			User struct {
				Login string `json:"login"`
			} `json:"user"`
			Body      string     `json:"body"`
			CreatedAt *time.Time `json:"created_at"`
		} `json:"comments"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	result := &Result{}
	prID := wrapper.PullRequest

	seenCommits := map[string]bool{}
	for _, c := range wrapper.Commits {
		if c.SHA == "" || seenCommits[c.SHA] {
			continue
		}
		seenCommits[c.SHA] = true

		committedAt := time.Time{}
		if t := parseJiraTime(c.Commit.Author.Date); t != nil {
			committedAt = *t
		}

		result.PRCommits = append(result.PRCommits, &models.PRCommit{
			TenantID:      msg.TenantID,
			IntegrationID: msg.IntegrationID,
			ExternalID:    c.SHA,
			PullRequestID: prID,
			Message:       c.Commit.Message,
			Author:        c.Commit.Author.Name,
			CommittedAt:   committedAt,
		})
		result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TablePRCommits, c.SHA, "", 0))
	}

	seenReviews := map[int64]bool{}
	for _, r := range wrapper.Reviews {
		if r.ID == 0 || seenReviews[r.ID] {
			continue
		}
		seenReviews[r.ID] = true

		submittedAt := time.Time{}
		if r.SubmittedAt != nil {
			submittedAt = *r.SubmittedAt
		}

		externalID := fmt.Sprintf("%d", r.ID)
		result.PRReviews = append(result.PRReviews, &models.PRReview{
			TenantID:      msg.TenantID,
			IntegrationID: msg.IntegrationID,
			ExternalID:    externalID,
			PullRequestID: prID,
			Reviewer:      r.User.Login,
			State:         r.State,
			Body:          r.Body,
			SubmittedAt:   submittedAt,
		})
		result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TablePRReviews, externalID, "", 0))
	}

	seenComments := map[int64]bool{}
	for _, c := range wrapper.Comments {
		if c.ID == 0 || seenComments[c.ID] {
			continue
		}
		seenComments[c.ID] = true

		createdAt := time.Time{}
		if c.CreatedAt != nil {
			createdAt = *c.CreatedAt
		}

		externalID := fmt.Sprintf("%d", c.ID)
		result.PRComments = append(result.PRComments, &models.PRComment{
			TenantID:      msg.TenantID,
			IntegrationID: msg.IntegrationID,
			ExternalID:    externalID,
			PullRequestID: prID,
			Author:        c.User.Login,
			Body:          c.Body,
			CreatedDate:   createdAt,
		})
		result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TablePRComments, externalID, "", 0))
	}

	return result, nil
}
