package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/obralens/obralens-backend/internal/services"
	"github.com/obralens/obralens-backend/internal/types"
)

type ComparisonHandler struct {
	comparisons services.ComparisonService
}

func NewComparisonHandler(comparisons services.ComparisonService) *ComparisonHandler {
	return &ComparisonHandler{comparisons: comparisons}
}

type createComparisonRequest struct {
	FileAKey string `json:"file_a_key" binding:"required"`
	FileBKey string `json:"file_b_key" binding:"required"`
}

// POST /api/comparisons
func (h *ComparisonHandler) Create(c *gin.Context) {
	var req createComparisonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.comparisons.Create(c.Request.Context(), req.FileAKey, req.FileBKey)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"job_id": job.ID, "status": job.Status})
}

type comparisonStatusResponse struct {
	JobID        uuid.UUID       `json:"job_id"`
	Status       types.JobStatus `json:"status"`
	Diff         any             `json:"diff,omitempty"`
	Cubicacion   any             `json:"cubicacion,omitempty"`
	Impactos     any             `json:"impactos,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// GET /api/comparisons/:id
func (h *ComparisonHandler) GetByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.comparisons.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	resp := comparisonStatusResponse{
		JobID:        job.ID,
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
	}
	if len(job.DiffResult) > 0 {
		resp.Diff = job.DiffResult
	}
	if len(job.CubicacionResult) > 0 {
		resp.Cubicacion = job.CubicacionResult
	}
	if len(job.ImpactosResult) > 0 {
		resp.Impactos = job.ImpactosResult
	}
	RespondOK(c, resp)
}

// POST /api/comparisons/:id/reanalyze
func (h *ComparisonHandler) Reanalyze(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.comparisons.Reanalyze(c.Request.Context(), jobID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"job_id": job.ID, "status": job.Status})
}
