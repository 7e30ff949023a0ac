package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/services"
)

type GenerationHandler struct {
	generation *services.GenerationService
}

func NewGenerationHandler(generation *services.GenerationService) *GenerationHandler {
	return &GenerationHandler{generation: generation}
}

// Generate godoc
// @Summary     Start AI generation
// @Description Submits a video, image or audio generation job. The job is tracked by polling GET /jobs/{job_id}.
// @Description A generation is charged against the monthly tier quota and refunded if the job fails or is canceled.
// @Tags        generation
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Param       kind path string true "Generation kind" Enums(video, image, audio)
// @Param       request body models.GenerateRequest true "Prompt and options"
// @Success     202 {object} models.JobResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     429 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Failure     504 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/generate/{kind} [post]
func (h *GenerationHandler) Generate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	var req models.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	job, err := h.generation.Start(c.Request.Context(), userID, projectID, models.JobKind(c.Param("kind")), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.NewJobResponse(job))
}

// ListJobs godoc
// @Summary     List project jobs
// @Tags        generation
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Success     200 {object} models.JobListResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/jobs [get]
func (h *GenerationHandler) ListJobs(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	jobs, err := h.generation.List(c.Request.Context(), userID, projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.JobListResponse{Jobs: models.NewJobResponses(jobs)})
}

// GetJob godoc
// @Summary     Poll job
// @Description Syncs the job with the generation provider and returns its current state.
// @Description When the provider reports success the result is stored as a project asset.
// @Tags        generation
// @Produce     json
// @Security    Bearer
// @Param       job_id path string true "Job ID"
// @Success     200 {object} models.JobResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     504 {object} models.ErrorResponse
// @Router      /api/v1/jobs/{job_id} [get]
func (h *GenerationHandler) GetJob(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, ok := pathUUID(c, "job_id")
	if !ok {
		return
	}

	job, err := h.generation.Poll(c.Request.Context(), userID, jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewJobResponse(job))
}

// CancelJob godoc
// @Summary     Cancel job
// @Tags        generation
// @Produce     json
// @Security    Bearer
// @Param       job_id path string true "Job ID"
// @Success     200 {object} models.JobResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /api/v1/jobs/{job_id} [delete]
func (h *GenerationHandler) CancelJob(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, ok := pathUUID(c, "job_id")
	if !ok {
		return
	}

	job, err := h.generation.Cancel(c.Request.Context(), userID, jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewJobResponse(job))
}
