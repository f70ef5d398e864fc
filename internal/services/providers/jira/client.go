package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
)

// Client is the typed Jira HTTP surface the extraction steps invoke. Errors
// are classified into the pipeline taxonomy; the worker decides retry/DLQ on
// the kind alone.
type Client struct {
	httpClient *http.Client
	token      string
	email      string
	logger     arbor.ILogger
}

// NewClient creates a Jira client using basic auth (email + API token).
func NewClient(httpClient *http.Client, email, token string, logger arbor.ILogger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpClient: httpClient, token: token, email: email, logger: logger}
}

// Provider identifies this client.
func (c *Client) Provider() models.Provider {
	return models.ProviderJira
}

func (c *Client) get(ctx context.Context, baseURL, path string) ([]byte, error) {
	reqURL := strings.TrimSuffix(baseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewError(models.ErrKindTransient, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		kind := models.ClassifyHTTPStatus(resp.StatusCode)
		c.logger.Warn().
			Str("url", reqURL).
			Int("status", resp.StatusCode).
			Str("kind", string(kind)).
			Msg("Jira request failed")
		return nil, models.Errorf(kind, "jira returned status %d for %s", resp.StatusCode, path)
	}

	if readErr != nil {
		return nil, models.NewError(models.ErrKindTransient, readErr)
	}
	return body, nil
}

// Minimal typed shapes for the endpoints the steps invoke. Raw bodies are
// stored verbatim; these structs only surface what fan-out decisions need.
type project struct {
	ID         string      `json:"id"`
	Key        string      `json:"key"`
	IssueTypes []issueType `json:"issueTypes"`
}

type issueType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type searchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []issue `json:"issues"`
}

type issue struct {
	ID     string                     `json:"id"`
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// Fetch executes one provider request for a step.
func (c *Client) Fetch(ctx context.Context, integration *models.Integration, fields models.CustomFieldMap, req interfaces.ExtractionRequest) (*interfaces.ExtractionPage, error) {
	switch req.Step {
	case "jira_projects_and_issue_types":
		return c.fetchProjects(ctx, integration)
	case "jira_statuses_and_relationships":
		return c.fetchStatuses(ctx, integration, req)
	case "jira_issues_with_changelogs":
		return c.fetchIssues(ctx, integration, fields, req)
	case "jira_dev_status":
		return c.fetchDevStatus(ctx, integration, req)
	case "jira_sprint_reports":
		return c.fetchSprintReport(ctx, integration, req)
	case "jira_custom_fields":
		return c.fetchCustomFields(ctx, integration)
	}
	return nil, models.Errorf(models.ErrKindPermanent, "unknown jira step %q", req.Step)
}

func (c *Client) fetchProjects(ctx context.Context, integration *models.Integration) (*interfaces.ExtractionPage, error) {
	body, err := c.get(ctx, integration.BaseURL, "/rest/api/2/project?expand=description,lead,issueTypes")
	if err != nil {
		return nil, err
	}

	var projects []project
	if err := json.Unmarshal(body, &projects); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	items := make([]interfaces.ExtractedItem, 0, len(projects))
	for _, p := range projects {
		items = append(items, interfaces.ExtractedItem{ExternalID: p.ID, Key: p.Key})
	}

	return &interfaces.ExtractionPage{
		PayloadType: models.PayloadJiraProjectsAndTypes,
		ProviderID:  "projects",
		Payload:     body,
		Items:       items,
		Total:       len(projects),
	}, nil
}

func (c *Client) fetchStatuses(ctx context.Context, integration *models.Integration, req interfaces.ExtractionRequest) (*interfaces.ExtractionPage, error) {
	type projectStatuses struct {
		ProjectKey string          `json:"project_key"`
		Statuses   json.RawMessage `json:"statuses"`
	}

	combined := make([]projectStatuses, 0, len(req.Projects))
	total := 0
	for _, key := range req.Projects {
		body, err := c.get(ctx, integration.BaseURL, fmt.Sprintf("/rest/api/2/project/%s/statuses", url.PathEscape(key)))
		if err != nil {
			return nil, err
		}
		combined = append(combined, projectStatuses{ProjectKey: key, Statuses: body})
		total++
	}

	payload, err := json.Marshal(combined)
	if err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	return &interfaces.ExtractionPage{
		PayloadType: models.PayloadJiraStatuses,
		ProviderID:  "statuses",
		Payload:     payload,
		Total:       total,
	}, nil
}

func (c *Client) fetchIssues(ctx context.Context, integration *models.Integration, fields models.CustomFieldMap, req interfaces.ExtractionRequest) (*interfaces.ExtractionPage, error) {
	jql := buildJQL(req.Projects, req.BaseSearch, req.UpdatedSince)
	batch := req.BatchSize
	if batch <= 0 {
		batch = 50
	}

	path := fmt.Sprintf("/rest/api/2/search?jql=%s&expand=changelog&startAt=%d&maxResults=%d",
		url.QueryEscape(jql), req.StartAt, batch)

	body, err := c.get(ctx, integration.BaseURL, path)
	if err != nil {
		return nil, err
	}

	var result searchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	devField := fields.Field(models.SlotDevelopmentField)
	sprintField := fields.Field(models.SlotSprintField)

	items := make([]interfaces.ExtractedItem, 0, len(result.Issues))
	for _, iss := range result.Issues {
		item := interfaces.ExtractedItem{ExternalID: iss.ID, Key: iss.Key}
		if devField != "" {
			item.HasDevChanges = fieldPopulated(iss.Fields, devField)
		}
		if sprintField != "" {
			item.SprintIDs = sprintIDs(iss.Fields, sprintField)
		}
		items = append(items, item)
	}

	next := req.StartAt + len(result.Issues)
	return &interfaces.ExtractionPage{
		PayloadType: models.PayloadJiraIssues,
		ProviderID:  fmt.Sprintf("issues_%d", req.StartAt),
		Payload:     body,
		Items:       items,
		Total:       result.Total,
		NextStartAt: next,
		HasMore:     next < result.Total && len(result.Issues) > 0,
	}, nil
}

func (c *Client) fetchDevStatus(ctx context.Context, integration *models.Integration, req interfaces.ExtractionRequest) (*interfaces.ExtractionPage, error) {
	path := fmt.Sprintf("/rest/dev-status/1.0/issue/detail?issueId=%s&applicationType=GitHub&dataType=pullrequest",
		url.QueryEscape(req.IssueKey))

	body, err := c.get(ctx, integration.BaseURL, path)
	if err != nil {
		return nil, err
	}

	return &interfaces.ExtractionPage{
		PayloadType: models.PayloadJiraDevStatus,
		ProviderID:  "devstatus_" + req.IssueKey,
		Payload:     wrapWithSubject(body, req.IssueKey),
		Total:       1,
	}, nil
}

func (c *Client) fetchSprintReport(ctx context.Context, integration *models.Integration, req interfaces.ExtractionRequest) (*interfaces.ExtractionPage, error) {
	path := fmt.Sprintf("/rest/greenhopper/1.0/rapid/charts/sprintreport?rapidViewId=%d&sprintId=%s",
		req.BoardID, url.QueryEscape(req.SprintID))

	body, err := c.get(ctx, integration.BaseURL, path)
	if err != nil {
		return nil, err
	}

	return &interfaces.ExtractionPage{
		PayloadType: models.PayloadJiraSprintReports,
		ProviderID:  fmt.Sprintf("sprint_%d_%s", req.BoardID, req.SprintID),
		Payload:     wrapWithSubject(body, req.SprintID),
		Total:       1,
	}, nil
}

// fetchCustomFields runs the createmeta-style discovery. Its payload upserts
// projects and issue types but never produces embedding work.
func (c *Client) fetchCustomFields(ctx context.Context, integration *models.Integration) (*interfaces.ExtractionPage, error) {
	body, err := c.get(ctx, integration.BaseURL, "/rest/api/2/issue/createmeta?expand=projects.issuetypes.fields")
	if err != nil {
		return nil, err
	}

	return &interfaces.ExtractionPage{
		PayloadType: models.PayloadJiraCustomFields,
		ProviderID:  "createmeta",
		Payload:     body,
		Total:       1,
	}, nil
}

// buildJQL assembles the incremental search filter: project scope, the
// integration's base search, and the watermark.
func buildJQL(projects []string, baseSearch string, updatedSince *time.Time) string {
	clauses := []string{}
	if len(projects) > 0 {
		quoted := make([]string, 0, len(projects))
		for _, p := range projects {
			quoted = append(quoted, fmt.Sprintf("%q", p))
		}
		clauses = append(clauses, fmt.Sprintf("project in (%s)", strings.Join(quoted, ",")))
	}
	if baseSearch != "" {
		clauses = append(clauses, "("+baseSearch+")")
	}
	if updatedSince != nil {
		clauses = append(clauses, fmt.Sprintf("updated >= %q", updatedSince.Format("2006-01-02 15:04")))
	}
	if len(clauses) == 0 {
		return "order by updated asc"
	}
	return strings.Join(clauses, " AND ") + " order by updated asc"
}

// fieldPopulated reports whether a custom field carries a non-empty value.
func fieldPopulated(fields map[string]json.RawMessage, fieldID string) bool {
	raw, ok := fields[fieldID]
	if !ok {
		return false
	}
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "", "null", `""`, "{}", "[]":
		return false
	}
	return true
}

// sprintIDs extracts sprint ids from the mapped sprint field. Jira encodes
// sprints either as objects or as legacy "...[id=123,...]" strings.
func sprintIDs(fields map[string]json.RawMessage, fieldID string) []string {
	raw, ok := fields[fieldID]
	if !ok {
		return nil
	}

	var objs []struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(raw, &objs); err == nil && len(objs) > 0 {
		ids := make([]string, 0, len(objs))
		for _, o := range objs {
			if o.ID.String() != "" {
				ids = append(ids, o.ID.String())
			}
		}
		return ids
	}

	var legacy []string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil
	}
	ids := make([]string, 0, len(legacy))
	for _, entry := range legacy {
		if idx := strings.Index(entry, "id="); idx >= 0 {
			rest := entry[idx+3:]
			if end := strings.IndexAny(rest, ",]"); end > 0 {
				ids = append(ids, rest[:end])
			}
		}
	}
	return ids
}

// wrapWithSubject attaches the subject id to a raw body so transform can
// relate the payload without re-deriving request parameters.
func wrapWithSubject(body []byte, subject string) []byte {
	wrapped, err := json.Marshal(map[string]json.RawMessage{
		"subject": json.RawMessage(fmt.Sprintf("%q", subject)),
		"data":    json.RawMessage(body),
	})
	if err != nil {
		return body
	}
	return wrapped
}
