package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
)

// Client is the typed GitHub surface for the extraction steps, wrapping the
// go-github SDK. Projects on a github integration are "owner/repo" slugs or
// bare org names.
type Client struct {
	gh     *gh.Client
	logger arbor.ILogger
}

// NewClient creates a GitHub client with an OAuth2 token transport.
func NewClient(ctx context.Context, token string, logger arbor.ILogger) *Client {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &Client{gh: gh.NewClient(httpClient), logger: logger}
}

// Provider identifies this client.
func (c *Client) Provider() models.Provider {
	return models.ProviderGithub
}

// classify maps go-github errors into the pipeline taxonomy.
func classify(err error, resp *gh.Response) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*gh.RateLimitError); ok {
		return models.NewError(models.ErrKindRateLimited, err)
	}
	if _, ok := err.(*gh.AbuseRateLimitError); ok {
		return models.NewError(models.ErrKindRateLimited, err)
	}
	if resp != nil {
		return models.NewError(models.ClassifyHTTPStatus(resp.StatusCode), err)
	}
	return models.NewError(models.ErrKindTransient, err)
}

// Fetch executes one provider request for a step.
func (c *Client) Fetch(ctx context.Context, integration *models.Integration, fields models.CustomFieldMap, req interfaces.ExtractionRequest) (*interfaces.ExtractionPage, error) {
	switch req.Step {
	case "github_repositories":
		return c.fetchRepositories(ctx, integration)
	case "github_pull_requests":
		return c.fetchPullRequests(ctx, integration, req)
	case "github_pr_details":
		return c.fetchPRDetails(ctx, integration, req)
	}
	return nil, models.Errorf(models.ErrKindPermanent, "unknown github step %q", req.Step)
}

func (c *Client) fetchRepositories(ctx context.Context, integration *models.Integration) (*interfaces.ExtractionPage, error) {
	repos := make([]*gh.Repository, 0)
	for _, scope := range integration.Projects {
		if strings.Contains(scope, "/") {
			parts := strings.SplitN(scope, "/", 2)
			repo, resp, err := c.gh.Repositories.Get(ctx, parts[0], parts[1])
			if err != nil {
				return nil, classify(err, resp)
			}
			repos = append(repos, repo)
			continue
		}

		opts := &gh.RepositoryListByOrgOptions{ListOptions: gh.ListOptions{PerPage: 100}}
		for {
			page, resp, err := c.gh.Repositories.ListByOrg(ctx, scope, opts)
			if err != nil {
				return nil, classify(err, resp)
			}
			repos = append(repos, page...)
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	}

	payload, err := json.Marshal(repos)
	if err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	items := make([]interfaces.ExtractedItem, 0, len(repos))
	for _, r := range repos {
		items = append(items, interfaces.ExtractedItem{
			ExternalID: fmt.Sprintf("%d", r.GetID()),
			Key:        r.GetFullName(),
		})
	}

	return &interfaces.ExtractionPage{
		PayloadType: models.PayloadGithubRepositories,
		ProviderID:  "repositories",
		Payload:     payload,
		Items:       items,
		Total:       len(repos),
	}, nil
}

func (c *Client) fetchPullRequests(ctx context.Context, integration *models.Integration, req interfaces.ExtractionRequest) (*interfaces.ExtractionPage, error) {
	// IssueKey carries the "owner/repo" slug for per-repository steps.
	parts := strings.SplitN(req.IssueKey, "/", 2)
	if len(parts) != 2 {
		return nil, models.Errorf(models.ErrKindPermanent, "invalid repository slug %q", req.IssueKey)
	}
	owner, repo := parts[0], parts[1]

	batch := req.BatchSize
	if batch <= 0 || batch > 100 {
		batch = 50
	}

	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: batch, Page: req.StartAt},
	}

	prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return nil, classify(err, resp)
	}

	// The list is updated-desc; stop paging once entries age past the
	// watermark.
	filtered := make([]*gh.PullRequest, 0, len(prs))
	pastWatermark := false
	for _, pr := range prs {
		if req.UpdatedSince != nil && pr.GetUpdatedAt().Time.Before(*req.UpdatedSince) {
			pastWatermark = true
			break
		}
		filtered = append(filtered, pr)
	}

	payload, err := json.Marshal(map[string]any{"repository": req.IssueKey, "pull_requests": filtered})
	if err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	items := make([]interfaces.ExtractedItem, 0, len(filtered))
	for _, pr := range filtered {
		items = append(items, interfaces.ExtractedItem{
			ExternalID: fmt.Sprintf("%d", pr.GetID()),
			Key:        fmt.Sprintf("%s#%d", req.IssueKey, pr.GetNumber()),
		})
	}

	return &interfaces.ExtractionPage{
		PayloadType: models.PayloadGithubPullRequests,
		ProviderID:  fmt.Sprintf("prs_%s_%d", req.IssueKey, req.StartAt),
		Payload:     payload,
		Items:       items,
		Total:       len(filtered),
		NextStartAt: resp.NextPage,
		HasMore:     resp.NextPage != 0 && !pastWatermark,
	}, nil
}

func (c *Client) fetchPRDetails(ctx context.Context, integration *models.Integration, req interfaces.ExtractionRequest) (*interfaces.ExtractionPage, error) {
	// IssueKey carries "owner/repo#number".
	slug, numberStr, ok := strings.Cut(req.IssueKey, "#")
	if !ok {
		return nil, models.Errorf(models.ErrKindPermanent, "invalid pull request ref %q", req.IssueKey)
	}
	parts := strings.SplitN(slug, "/", 2)
	if len(parts) != 2 {
		return nil, models.Errorf(models.ErrKindPermanent, "invalid repository slug %q", slug)
	}
	owner, repo := parts[0], parts[1]

	var number int
	if _, err := fmt.Sscanf(numberStr, "%d", &number); err != nil {
		return nil, models.Errorf(models.ErrKindPermanent, "invalid pull request number %q", numberStr)
	}

	listOpts := gh.ListOptions{PerPage: 100}

	commits, resp, err := c.gh.PullRequests.ListCommits(ctx, owner, repo, number, &listOpts)
	if err != nil {
		return nil, classify(err, resp)
	}
	reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, number, &listOpts)
	if err != nil {
		return nil, classify(err, resp)
	}
	comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, &gh.IssueListCommentsOptions{ListOptions: listOpts})
	if err != nil {
		return nil, classify(err, resp)
	}

	payload, err := json.Marshal(map[string]any{
		"pull_request": req.IssueKey,
		"commits":      commits,
		"reviews":      reviews,
		"comments":     comments,
	})
	if err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	return &interfaces.ExtractionPage{
		PayloadType: models.PayloadGithubPRDetails,
		ProviderID:  "prdetails_" + req.IssueKey,
		Payload:     payload,
		Total:       1,
	}, nil
}
