package models

import (
	"encoding/json"
	"sort"
	"time"
)

// JobStatus is the overall lifecycle state of an ETL job document.
type JobStatus string

const (
	JobReady    JobStatus = "READY"
	JobRunning  JobStatus = "RUNNING"
	JobFinished JobStatus = "FINISHED"
	JobFailed   JobStatus = "FAILED"
)

// StageStatus is the per-stage state within a step.
type StageStatus string

const (
	StageIdle     StageStatus = "idle"
	StageRunning  StageStatus = "running"
	StageFinished StageStatus = "finished"
	StageFailed   StageStatus = "failed"
)

// Stage names the three processing phases of a step.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageTransform  Stage = "transform"
	StageEmbedding  Stage = "embedding"
)

// StepState tracks one provider-scoped phase of a job across its three stages.
type StepState struct {
	Order      int         `json:"order"`
	Extraction StageStatus `json:"extraction"`
	Transform  StageStatus `json:"transform"`
	Embedding  StageStatus `json:"embedding"`
}

// Get returns the status of one stage.
func (s StepState) Get(stage Stage) StageStatus {
	switch stage {
	case StageExtraction:
		return s.Extraction
	case StageTransform:
		return s.Transform
	case StageEmbedding:
		return s.Embedding
	}
	return StageIdle
}

// Set assigns the status of one stage.
func (s *StepState) Set(stage Stage, status StageStatus) {
	switch stage {
	case StageExtraction:
		s.Extraction = status
	case StageTransform:
		s.Transform = status
	case StageEmbedding:
		s.Embedding = status
	}
}

// Settled reports whether every stage is finished or idle.
func (s StepState) Settled() bool {
	for _, st := range []StageStatus{s.Extraction, s.Transform, s.Embedding} {
		if st != StageFinished && st != StageIdle {
			return false
		}
	}
	return true
}

// ETLJob is the per-(tenant, job) state document. The controller owns it;
// workers update individual stage fields through JobStorage.
type ETLJob struct {
	TenantID      int                  `json:"tenant_id"`
	JobID         string               `json:"job_id"`
	JobName       string               `json:"job_name"`
	IntegrationID int                  `json:"integration_id"`
	Overall       JobStatus            `json:"overall"`
	Steps         map[string]StepState `json:"steps"`
	LastSyncDate  *time.Time           `json:"last_sync_date,omitempty"`
	ResetDeadline *time.Time           `json:"reset_deadline,omitempty"`
	ResetAttempt  int                  `json:"reset_attempt"`
	Token         string               `json:"token,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// OrderedStepNames returns step names sorted by their declared order.
func (j *ETLJob) OrderedStepNames() []string {
	names := make([]string, 0, len(j.Steps))
	for name := range j.Steps {
		names = append(names, name)
	}
	sort.Slice(names, func(a, b int) bool {
		return j.Steps[names[a]].Order < j.Steps[names[b]].Order
	})
	return names
}

// Settled reports whether every step's every stage is finished or idle.
func (j *ETLJob) Settled() bool {
	for _, step := range j.Steps {
		if !step.Settled() {
			return false
		}
	}
	return true
}

// StepsJSON serializes the step map for the steps_json column.
func (j *ETLJob) StepsJSON() ([]byte, error) {
	return json.Marshal(j.Steps)
}

// ResetBackoffSchedule is the deferred settle-and-reset extension ladder,
// indexed by reset_attempt. Attempts past the end reuse the final entry.
var ResetBackoffSchedule = []time.Duration{
	60 * time.Second,
	180 * time.Second,
	300 * time.Second,
}

// ResetBackoff returns the deadline extension for a given attempt.
func ResetBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(ResetBackoffSchedule) {
		return ResetBackoffSchedule[len(ResetBackoffSchedule)-1]
	}
	return ResetBackoffSchedule[attempt]
}

// InitialResetDelay is the fixed first settle check after FINISHED. It is not
// part of the back-off progression.
const InitialResetDelay = 30 * time.Second
