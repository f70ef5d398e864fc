package models

import "time"

// Provider identifies a source system.
type Provider string

const (
	ProviderJira   Provider = "jira"
	ProviderGithub Provider = "github"
)

// Integration holds the per-provider configuration consulted by the workers.
// External CRUD owns it; the core only ever writes last_sync_date.
type Integration struct {
	TenantID      int        `json:"tenant_id"`
	IntegrationID int        `json:"integration_id"`
	Provider      Provider   `json:"provider"`
	BaseURL       string     `json:"base_url"`
	Projects      []string   `json:"projects"`        // project keys / repo slugs in scope
	BaseSearch    string     `json:"base_search"`     // provider-native base filter (JQL etc.)
	BatchSize     int        `json:"batch_size"`      // page size for provider requests
	RateLimit     int        `json:"rate_limit"`      // requests per rate window
	RateWindowSec int        `json:"rate_window_sec"` // rate window in seconds
	Boards        []int      `json:"boards"`          // sprint board ids (jira)
	LastSyncDate  *time.Time `json:"last_sync_date,omitempty"`
	Active        bool       `json:"active"`
}

// Reserved custom-field slots. The generic slots custom_field_01..20 are
// addressed by SlotName(i).
const (
	SlotTeamField        = "team_field"
	SlotDevelopmentField = "development_field"
	SlotStoryPointsField = "story_points_field"
	SlotSprintField      = "sprint_field"
	GenericSlotCount     = 20
)

// CustomFieldMapping maps a reserved or generic slot to a provider-native
// custom field id. A nil FieldID means the slot is unmapped.
type CustomFieldMapping struct {
	TenantID      int     `json:"tenant_id"`
	IntegrationID int     `json:"integration_id"`
	SlotName      string  `json:"slot_name"`
	FieldID       *string `json:"field_id,omitempty"`
}

// CustomFieldMap indexes mappings by slot name for transform-time lookups.
type CustomFieldMap map[string]*string

// Field returns the provider field id mapped to a slot, or "" when unmapped.
func (m CustomFieldMap) Field(slot string) string {
	if id, ok := m[slot]; ok && id != nil {
		return *id
	}
	return ""
}
