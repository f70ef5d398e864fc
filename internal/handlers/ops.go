package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/common"
	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
)

// OpsHandler is the process-level operational surface: queue depths, DLQ
// counters, job-state queries and vector-collection administration.
type OpsHandler struct {
	queue   interfaces.QueueService
	jobs    interfaces.JobStorage
	index   interfaces.VectorIndex
	dim     int
	tenants []int
	workers func(tenantID int, stage string) int
	logger  arbor.ILogger
}

// NewOpsHandler creates the ops handler.
func NewOpsHandler(
	queue interfaces.QueueService,
	jobs interfaces.JobStorage,
	index interfaces.VectorIndex,
	dim int,
	tenants []int,
	workers func(tenantID int, stage string) int,
	logger arbor.ILogger,
) *OpsHandler {
	return &OpsHandler{
		queue:   queue,
		jobs:    jobs,
		index:   index,
		dim:     dim,
		tenants: tenants,
		workers: workers,
		logger:  logger,
	}
}

// HealthHandler responds once the process is serving.
func (h *OpsHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusHandler reports queue depth, DLQ counters and worker counts per
// tenant and stage.
func (h *OpsHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	type stageStatus struct {
		Depth   int64 `json:"depth"`
		Workers int   `json:"workers"`
	}
	type tenantStatus struct {
		TenantID int                    `json:"tenant_id"`
		Stages   map[string]stageStatus `json:"stages"`
		DLQDepth int64                  `json:"dlq_depth"`
	}

	ctx := r.Context()
	result := make([]tenantStatus, 0, len(h.tenants))
	for _, tenantID := range h.tenants {
		ts := tenantStatus{TenantID: tenantID, Stages: map[string]stageStatus{}}
		for _, qt := range []models.QueueType{models.QueueExtraction, models.QueueTransform, models.QueueEmbedding} {
			depth, err := h.queue.Depth(ctx, qt, tenantID)
			if err != nil {
				h.logger.Warn().Err(err).Int("tenant_id", tenantID).Msg("Failed to read queue depth")
			}
			ts.Stages[string(qt)] = stageStatus{
				Depth:   depth,
				Workers: h.workers(tenantID, string(qt)),
			}
		}
		if dlq, err := h.queue.DLQDepth(ctx, tenantID); err == nil {
			ts.DLQDepth = dlq
		}
		result = append(result, ts)
	}

	writeJSON(w, http.StatusOK, map[string]any{"tenants": result})
}

// JobHandler returns the state document for one (tenant, job).
func (h *OpsHandler) JobHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.Atoi(r.PathValue("tenant"))
	if err != nil {
		http.Error(w, "invalid tenant id", http.StatusBadRequest)
		return
	}
	jobID := r.PathValue("job")

	job, err := h.jobs.GetJob(r.Context(), tenantID, jobID)
	if err != nil {
		if models.KindOf(err) == models.ErrKindPermanent {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// InitCollectionsHandler pre-creates every vectorizable collection for the
// active tenants. Collections are otherwise created on demand.
func (h *OpsHandler) InitCollectionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	created := 0
	for _, tenantID := range h.tenants {
		for table := range models.TableSpecs {
			name := common.CollectionName(tenantID, table)
			if err := h.index.EnsureCollection(r.Context(), name, h.dim); err != nil {
				h.logger.Error().Err(err).Str("collection", name).Msg("Failed to ensure collection")
				http.Error(w, "vector index unavailable", http.StatusBadGateway)
				return
			}
			created++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"collections": created})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
