package interfaces

import (
	"context"
	"time"

	"github.com/healthpulse/pulse/internal/models"
)

// ExtractionRequest parameterizes one provider call within a step.
type ExtractionRequest struct {
	Step         string
	Projects     []string
	BaseSearch   string
	UpdatedSince *time.Time // old watermark for incremental filters
	BatchSize    int
	StartAt      int
	IssueKey     string // per-issue steps (dev status)
	BoardID      int    // sprint report steps
	SprintID     string
}

// ExtractionPage is one page of raw provider data. Payload is stored
// verbatim in raw_extraction_data; Items carries the per-item identifiers
// the worker needs for fan-out decisions.
type ExtractionPage struct {
	PayloadType models.PayloadType
	ProviderID  string // provider-native id of the payload subject
	Payload     []byte
	Items       []ExtractedItem
	Total       int
	NextStartAt int
	HasMore     bool
}

// ExtractedItem is the per-item summary surfaced to the extraction worker.
type ExtractedItem struct {
	ExternalID    string
	Key           string
	HasDevChanges bool     // mapped development_field populated
	SprintIDs     []string // sprint ids referenced by the item
	BoardID       int
}

// SourceClient is the consumed provider HTTP surface. Implementations return
// errors classified through the models error taxonomy; the worker decides
// retry/DLQ on the kind only.
type SourceClient interface {
	Provider() models.Provider
	Fetch(ctx context.Context, integration *models.Integration, fields models.CustomFieldMap, req ExtractionRequest) (*ExtractionPage, error)
}
