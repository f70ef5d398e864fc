package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/healthpulse/pulse/internal/models"
)

// Jira payload shapes. Only the fields the normalizers read are declared;
// everything else stays in the raw payload.

type jiraProject struct {
	ID          string          `json:"id"`
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Lead        jiraNamed       `json:"lead"`
	IssueTypes  []jiraIssueType `json:"issueTypes"`
}

type jiraNamed struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

func (n jiraNamed) label() string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	return n.Name
}

type jiraIssueType struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Subtask        bool   `json:"subtask"`
	HierarchyLevel int    `json:"hierarchyLevel"`
}

type jiraStatus struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	StatusCategory struct {
		Name string `json:"name"`
	} `json:"statusCategory"`
}

type jiraIssue struct {
	ID        string                     `json:"id"`
	Key       string                     `json:"key"`
	Fields    map[string]json.RawMessage `json:"fields"`
	Changelog struct {
		Histories []jiraHistory `json:"histories"`
	} `json:"changelog"`
}

type jiraHistory struct {
	ID      string    `json:"id"`
	Author  jiraNamed `json:"author"`
	Created string    `json:"created"`
	Items   []struct {
		Field      string `json:"field"`
		FromString string `json:"fromString"`
		ToString   string `json:"toString"`
	} `json:"items"`
}

// ref appends one embedding reference for a table, using the registry's key
// column so the enqueue key always matches what the embedding fetch queries
// by.
func ref(table, externalID, key string, internalID int64) models.EntityRef {
	record := externalID
	switch models.EmbeddingKeyFor(table) {
	case "key":
		record = key
	case "id":
		record = fmt.Sprintf("%d", internalID)
	}
	return models.EntityRef{TableName: table, RecordID: record, VectorType: models.VectorTypeSemantic}
}

// normalizeJiraProjects handles the projects-and-issue-types discovery
// payload. Issue types repeat across projects, so the per-payload seen set
// collapses each WIT to a single upsert and a single embedding message.
func (w *Worker) normalizeJiraProjects(ctx context.Context, msg *models.PipelineMessage, payload []byte) (*Result, error) {
	var projects []jiraProject
	if err := json.Unmarshal(payload, &projects); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	result := &Result{}
	seenProjects := map[string]bool{}
	seenWITs := map[string]bool{}

	for _, p := range projects {
		if p.ID == "" || seenProjects[p.ID] {
			continue
		}
		seenProjects[p.ID] = true

		result.Projects = append(result.Projects, &models.Project{
			TenantID:      msg.TenantID,
			IntegrationID: msg.IntegrationID,
			ExternalID:    p.ID,
			Key:           p.Key,
			Name:          p.Name,
			Description:   p.Description,
			Lead:          p.Lead.label(),
		})
		result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TableProjects, p.ID, p.Key, 0))

		for _, it := range p.IssueTypes {
			if it.ID == "" || seenWITs[it.ID] {
				continue
			}
			seenWITs[it.ID] = true

			mappingID, err := w.mappings.ResolveWITMapping(ctx, msg.TenantID, msg.IntegrationID, it.Name)
			if err != nil {
				return nil, err
			}

			result.WorkItemTypes = append(result.WorkItemTypes, &models.WorkItemType{
				TenantID:       msg.TenantID,
				IntegrationID:  msg.IntegrationID,
				ExternalID:     it.ID,
				Name:           it.Name,
				Description:    it.Description,
				Subtask:        it.Subtask,
				HierarchyLevel: it.HierarchyLevel,
				WITsMappingID:  mappingID,
			})
			result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TableWorkItemTypes, it.ID, "", 0))
		}
	}

	return result, nil
}

// normalizeJiraStatuses handles the per-project statuses payload. The same
// status id can appear under several projects and issue types; dedup keeps
// one row per external id.
func (w *Worker) normalizeJiraStatuses(ctx context.Context, msg *models.PipelineMessage, payload []byte) (*Result, error) {
	var perProject []struct {
		ProjectKey string `json:"project_key"`
		Statuses   []struct {
			Statuses []jiraStatus `json:"statuses"`
		} `json:"statuses"`
	}
	if err := json.Unmarshal(payload, &perProject); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	result := &Result{}
	seen := map[string]bool{}

	for _, project := range perProject {
		for _, group := range project.Statuses {
			for _, st := range group.Statuses {
				if st.ID == "" || seen[st.ID] {
					continue
				}
				seen[st.ID] = true

				mappingID, err := w.mappings.ResolveStatusMapping(ctx, msg.TenantID, msg.IntegrationID, st.Name)
				if err != nil {
					return nil, err
				}

				result.Statuses = append(result.Statuses, &models.Status{
					TenantID:        msg.TenantID,
					IntegrationID:   msg.IntegrationID,
					ExternalID:      st.ID,
					Name:            st.Name,
					Category:        st.StatusCategory.Name,
					ProjectKey:      project.ProjectKey,
					StatusMappingID: mappingID,
				})
				result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TableStatuses, st.ID, "", 0))
			}
		}
	}

	return result, nil
}

// normalizeJiraIssues flattens issues into work items with their custom-field
// slots, extracts changelogs, and upserts sprint rows plus membership. Sprint
// vectors are NOT enqueued here; the sprint-report step owns them once
// metrics are known.
func (w *Worker) normalizeJiraIssues(ctx context.Context, msg *models.PipelineMessage, payload []byte, fieldMap models.CustomFieldMap) (*Result, error) {
	var search struct {
		Issues []jiraIssue `json:"issues"`
	}
	if err := json.Unmarshal(payload, &search); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	result := &Result{}
	seen := map[string]bool{}
	seenSprints := map[string]bool{}

	devField := fieldMap.Field(models.SlotDevelopmentField)
	sprintField := fieldMap.Field(models.SlotSprintField)

	for _, iss := range search.Issues {
		if iss.ID == "" || seen[iss.ID] {
			continue
		}
		seen[iss.ID] = true

		item := &models.WorkItem{
			TenantID:      msg.TenantID,
			IntegrationID: msg.IntegrationID,
			ExternalID:    iss.ID,
			Key:           iss.Key,
			Summary:       stringField(iss.Fields, "summary"),
			Description:   stringField(iss.Fields, "description"),
			ProjectKey:    nestedString(iss.Fields, "project", "key"),
			WITName:       nestedString(iss.Fields, "issuetype", "name"),
			StatusName:    nestedString(iss.Fields, "status", "name"),
			Assignee:      nestedString(iss.Fields, "assignee", "displayName"),
			Reporter:      nestedString(iss.Fields, "reporter", "displayName"),
			CreatedDate:   timeField(iss.Fields, "created"),
			ResolvedDate:  timeField(iss.Fields, "resolutiondate"),
			CustomFields:  map[string]string{},
		}

		if teamField := fieldMap.Field(models.SlotTeamField); teamField != "" {
			item.Team = flattenField(iss.Fields[teamField])
		}
		if pointsField := fieldMap.Field(models.SlotStoryPointsField); pointsField != "" {
			item.StoryPoints = floatField(iss.Fields, pointsField)
		}
		if devField != "" {
			item.HasDevChanges = flattenField(iss.Fields[devField]) != ""
		}
		for i := 1; i <= models.GenericSlotCount; i++ {
			slot := fmt.Sprintf("custom_field_%02d", i)
			if fid := fieldMap.Field(slot); fid != "" {
				if v := flattenField(iss.Fields[fid]); v != "" {
					item.CustomFields[slot] = v
				}
			}
		}

		result.WorkItems = append(result.WorkItems, item)
		result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TableWorkItems, iss.ID, iss.Key, 0))

		for _, history := range iss.Changelog.Histories {
			changed, _ := time.Parse("2006-01-02T15:04:05.000-0700", history.Created)
			for idx, change := range history.Items {
				result.Changelogs = append(result.Changelogs, &models.Changelog{
					TenantID:      msg.TenantID,
					IntegrationID: msg.IntegrationID,
					ExternalID:    fmt.Sprintf("%s_%d", history.ID, idx),
					WorkItemKey:   iss.Key,
					Field:         change.Field,
					FromValue:     change.FromString,
					ToValue:       change.ToString,
					Author:        history.Author.label(),
					ChangedAt:     changed,
				})
				result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TableChangelogs, fmt.Sprintf("%s_%d", history.ID, idx), "", 0))
			}
		}

		if sprintField != "" {
			for _, sprint := range sprintValues(iss.Fields[sprintField]) {
				if !seenSprints[sprint.ID] {
					seenSprints[sprint.ID] = true
					result.Sprints = append(result.Sprints, &models.Sprint{
						TenantID:      msg.TenantID,
						IntegrationID: msg.IntegrationID,
						ExternalID:    sprint.ID,
						BoardID:       sprint.BoardID,
						Name:          sprint.Name,
						State:         sprint.State,
						Goal:          sprint.Goal,
						StartDate:     sprint.StartDate,
						EndDate:       sprint.EndDate,
					})
				}
				result.Memberships = append(result.Memberships, &models.WorkItemSprint{
					TenantID:      msg.TenantID,
					IntegrationID: msg.IntegrationID,
					WorkItemKey:   iss.Key,
					SprintID:      sprint.ID,
				})
			}
		}
	}

	return result, nil
}

// normalizeJiraDevStatus extracts pull requests, repositories and work-item
// links from a dev-status detail payload.
func (w *Worker) normalizeJiraDevStatus(ctx context.Context, msg *models.PipelineMessage, payload []byte) (*Result, error) {
	var wrapper struct {
		Subject string `json:"subject"`
		Data    struct {
			Detail []struct {
				PullRequests []struct {
					ID     string `json:"id"`
					Name   string `json:"name"`
					Status string `json:"status"`
					Author struct {
						Name string `json:"name"`
					} `json:"author"`
					Source struct {
						Branch     string `json:"branch"`
						Repository struct {
							ID   string `json:"id"`
							Name string `json:"name"`
							URL  string `json:"url"`
						} `json:"repository"`
					} `json:"source"`
					Destination struct {
						Branch string `json:"branch"`
					} `json:"destination"`
				} `json:"pullRequests"`
			} `json:"detail"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	result := &Result{}
	seenPRs := map[string]bool{}
	seenRepos := map[string]bool{}

	for _, detail := range wrapper.Data.Detail {
		for _, pr := range detail.PullRequests {
			prID := strings.TrimPrefix(pr.ID, "#")
			if prID == "" || seenPRs[prID] {
				continue
			}
			seenPRs[prID] = true

			repo := pr.Source.Repository
			if repo.ID != "" && !seenRepos[repo.ID] {
				seenRepos[repo.ID] = true
				result.Repositories = append(result.Repositories, &models.Repository{
					TenantID:      msg.TenantID,
					IntegrationID: msg.IntegrationID,
					ExternalID:    repo.ID,
					Name:          repo.Name,
					URL:           repo.URL,
				})
				result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TableRepositories, repo.ID, "", 0))
			}

			result.PullRequests = append(result.PullRequests, &models.PullRequest{
				TenantID:      msg.TenantID,
				IntegrationID: msg.IntegrationID,
				ExternalID:    prID,
				RepositoryID:  repo.ID,
				Title:         pr.Name,
				State:         pr.Status,
				Author:        pr.Author.Name,
				SourceBranch:  pr.Source.Branch,
				TargetBranch:  pr.Destination.Branch,
			})
			result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TablePullRequests, prID, "", 0))

			result.Links = append(result.Links, &models.WorkItemPRLink{
				TenantID:      msg.TenantID,
				IntegrationID: msg.IntegrationID,
				WorkItemKey:   wrapper.Subject,
				PullRequestID: prID,
				RepositoryID:  repo.ID,
			})
		}
	}

	return result, nil
}

// normalizeJiraSprintReport folds sprint metrics into the sprint row and
// enqueues the sprint vector - the only place sprint vectors come from.
func (w *Worker) normalizeJiraSprintReport(ctx context.Context, msg *models.PipelineMessage, payload []byte) (*Result, error) {
	var wrapper struct {
		Subject string `json:"subject"`
		Data    struct {
			Sprint struct {
				ID        json.Number `json:"id"`
				Name      string      `json:"name"`
				State     string      `json:"state"`
				Goal      string      `json:"goal"`
				StartDate string      `json:"startDate"`
				EndDate   string      `json:"endDate"`
			} `json:"sprint"`
			Contents struct {
				CompletedIssuesEstimateSum struct {
					Value float64 `json:"value"`
				} `json:"completedIssuesEstimateSum"`
				AllIssuesEstimateSum struct {
					Value float64 `json:"value"`
				} `json:"allIssuesEstimateSum"`
			} `json:"contents"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	sprintID := wrapper.Data.Sprint.ID.String()
	if sprintID == "" || sprintID == "0" {
		sprintID = wrapper.Subject
	}
	if sprintID == "" {
		return &Result{}, nil
	}

	completed := wrapper.Data.Contents.CompletedIssuesEstimateSum.Value
	committed := wrapper.Data.Contents.AllIssuesEstimateSum.Value

	result := &Result{
		Sprints: []*models.Sprint{{
			TenantID:        msg.TenantID,
			IntegrationID:   msg.IntegrationID,
			ExternalID:      sprintID,
			Name:            wrapper.Data.Sprint.Name,
			State:           wrapper.Data.Sprint.State,
			Goal:            wrapper.Data.Sprint.Goal,
			StartDate:       parseJiraTime(wrapper.Data.Sprint.StartDate),
			EndDate:         parseJiraTime(wrapper.Data.Sprint.EndDate),
			CompletedPoints: &completed,
			CommittedPoints: &committed,
		}},
	}
	result.EmbeddingRefs = append(result.EmbeddingRefs, ref(models.TableSprints, sprintID, "", 0))

	return result, nil
}

// normalizeJiraCustomFields handles the createmeta discovery. Projects and
// issue types may be upserted, but no embedding work is produced by this
// flow.
func (w *Worker) normalizeJiraCustomFields(ctx context.Context, msg *models.PipelineMessage, payload []byte) (*Result, error) {
	var meta struct {
		Projects []jiraProject `json:"projects"`
	}
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	wrapped, err := json.Marshal(meta.Projects)
	if err != nil {
		return nil, models.NewError(models.ErrKindPermanent, err)
	}

	result, err := w.normalizeJiraProjects(ctx, msg, wrapped)
	if err != nil {
		return nil, err
	}
	result.EmbeddingRefs = nil
	result.SkipEmbeddings = true
	return result, nil
}

// Field extraction helpers over the dynamic Jira fields map.

func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func nestedString(fields map[string]json.RawMessage, name, key string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return stringField(obj, key)
}

func floatField(fields map[string]json.RawMessage, name string) *float64 {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}

func timeField(fields map[string]json.RawMessage, name string) *time.Time {
	s := stringField(fields, name)
	return parseJiraTime(s)
}

func parseJiraTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// flattenField reduces an arbitrary custom-field value to a display string.
func flattenField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return fmt.Sprintf("%g", f)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"displayName", "name", "value"} {
			if v := stringField(obj, key); v != "" {
				return v
			}
		}
		return ""
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		parts := make([]string, 0, len(arr))
		for _, entry := range arr {
			if v := flattenField(entry); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, ", ")
	}

	return ""
}

// sprintValue is one decoded sprint reference from the mapped sprint field.
type sprintValue struct {
	ID        string
	BoardID   int
	Name      string
	State     string
	Goal      string
	StartDate *time.Time
	EndDate   *time.Time
}

// sprintValues decodes the sprint custom field: either structured objects or
// the legacy "...[id=123,name=...]" string encoding.
func sprintValues(raw json.RawMessage) []sprintValue {
	if len(raw) == 0 {
		return nil
	}

	var objs []struct {
		ID        json.Number `json:"id"`
		BoardID   int         `json:"boardId"`
		Name      string      `json:"name"`
		State     string      `json:"state"`
		Goal      string      `json:"goal"`
		StartDate string      `json:"startDate"`
		EndDate   string      `json:"endDate"`
	}
	if err := json.Unmarshal(raw, &objs); err == nil && len(objs) > 0 && objs[0].ID.String() != "" {
		values := make([]sprintValue, 0, len(objs))
		for _, o := range objs {
			values = append(values, sprintValue{
				ID:        o.ID.String(),
				BoardID:   o.BoardID,
				Name:      o.Name,
				State:     o.State,
				Goal:      o.Goal,
				StartDate: parseJiraTime(o.StartDate),
				EndDate:   parseJiraTime(o.EndDate),
			})
		}
		return values
	}

	var legacy []string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil
	}
	values := make([]sprintValue, 0, len(legacy))
	for _, entry := range legacy {
		v := sprintValue{}
		for _, pair := range strings.Split(bracketBody(entry), ",") {
			key, val, ok := strings.Cut(pair, "=")
			if !ok || val == "<null>" {
				continue
			}
			switch key {
			case "id":
				v.ID = val
			case "rapidViewId":
				fmt.Sscanf(val, "%d", &v.BoardID)
			case "name":
				v.Name = val
			case "state":
				v.State = strings.ToLower(val)
			case "goal":
				v.Goal = val
			case "startDate":
				v.StartDate = parseJiraTime(val)
			case "endDate":
				v.EndDate = parseJiraTime(val)
			}
		}
		if v.ID != "" {
			values = append(values, v)
		}
	}
	return values
}

func bracketBody(s string) string {
	open := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if open < 0 || end <= open {
		return s
	}
	return s[open+1 : end]
}
