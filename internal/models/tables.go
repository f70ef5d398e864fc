package models

// TableSpec declares, per normalized table, the key field the embedding
// worker fetches by, the fields that compose its text representation, and the
// field used for the "<entity_type>: <name>" fallback. A wrong key column
// here produces silent "entity not found" dropouts, so the registry is the
// single source for both the transform enqueue side and the embedding fetch
// side.
type TableSpec struct {
	KeyColumn  string
	TextFields []string
	NameField  string
	EntityType string
}

// TableSpecs is the closed registry of vectorizable tables.
var TableSpecs = map[string]TableSpec{
	TableProjects: {
		KeyColumn:  "key",
		TextFields: []string{"key", "name", "description", "lead"},
		NameField:  "name",
		EntityType: "project",
	},
	TableWorkItemTypes: {
		KeyColumn:  "external_id",
		TextFields: []string{"name", "description"},
		NameField:  "name",
		EntityType: "work item type",
	},
	TableStatuses: {
		KeyColumn:  "external_id",
		TextFields: []string{"name", "category", "project_key"},
		NameField:  "name",
		EntityType: "status",
	},
	TableWorkItems: {
		KeyColumn:  "key",
		TextFields: []string{"key", "summary", "description", "wit_name", "status_name", "assignee", "team"},
		NameField:  "summary",
		EntityType: "work item",
	},
	TableChangelogs: {
		KeyColumn:  "external_id",
		TextFields: []string{"work_item_key", "field", "from_value", "to_value", "author"},
		NameField:  "work_item_key",
		EntityType: "changelog",
	},
	TablePullRequests: {
		KeyColumn:  "external_id",
		TextFields: []string{"title", "body", "state", "author", "source_branch", "target_branch"},
		NameField:  "title",
		EntityType: "pull request",
	},
	TablePRCommits: {
		KeyColumn:  "external_id",
		TextFields: []string{"message", "author"},
		NameField:  "message",
		EntityType: "commit",
	},
	TablePRReviews: {
		KeyColumn:  "external_id",
		TextFields: []string{"reviewer", "state", "body"},
		NameField:  "reviewer",
		EntityType: "review",
	},
	TablePRComments: {
		KeyColumn:  "external_id",
		TextFields: []string{"author", "body"},
		NameField:  "author",
		EntityType: "comment",
	},
	TableRepositories: {
		KeyColumn:  "external_id",
		TextFields: []string{"name", "url", "default_branch"},
		NameField:  "name",
		EntityType: "repository",
	},
	TableWorkItemsPRsLinks: {
		KeyColumn:  "id",
		TextFields: []string{"work_item_key", "pull_request_id", "repository_id"},
		NameField:  "work_item_key",
		EntityType: "work item link",
	},
	TableSprints: {
		KeyColumn:  "external_id",
		TextFields: []string{"name", "state", "goal"},
		NameField:  "name",
		EntityType: "sprint",
	},
	TableWITsHierarchies: {
		KeyColumn:  "id",
		TextFields: []string{"name"},
		NameField:  "name",
		EntityType: "hierarchy",
	},
	TableWITsMappings: {
		KeyColumn:  "id",
		TextFields: []string{"source_name", "target_name"},
		NameField:  "source_name",
		EntityType: "type mapping",
	},
	TableStatusMappings: {
		KeyColumn:  "id",
		TextFields: []string{"source_name", "target_name"},
		NameField:  "source_name",
		EntityType: "status mapping",
	},
	TableWorkflows: {
		KeyColumn:  "id",
		TextFields: []string{"name", "category"},
		NameField:  "name",
		EntityType: "workflow",
	},
}

// EmbeddingKeyFor returns the enqueue key value column for a table, matching
// what FetchForEmbedding will query by.
func EmbeddingKeyFor(table string) string {
	if spec, ok := TableSpecs[table]; ok {
		return spec.KeyColumn
	}
	return "external_id"
}
