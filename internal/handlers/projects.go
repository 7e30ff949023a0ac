package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"nonlinear-editor-backend/internal/format"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/services"
	"nonlinear-editor-backend/internal/timeline"
)

// maxTimelineBytes caps PUT /timeline bodies.
const maxTimelineBytes = 4 << 20

type ProjectsHandler struct {
	projects *services.ProjectService
}

func NewProjectsHandler(projects *services.ProjectService) *ProjectsHandler {
	return &ProjectsHandler{projects: projects}
}

// CreateProject godoc
// @Summary     Create project
// @Description Creates an empty project for the current user, subject to the tier project limit
// @Tags        projects
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.CreateProjectRequest true "Project title"
// @Success     201 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Router      /api/v1/projects [post]
func (h *ProjectsHandler) CreateProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	project, err := h.projects.Create(c.Request.Context(), userID, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.NewProjectResponse(project, true))
}

// ListProjects godoc
// @Summary     List projects
// @Description Lists the current user's projects without their timelines
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.ProjectListResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /api/v1/projects [get]
func (h *ProjectsHandler) ListProjects(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	projects, err := h.projects.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := models.ProjectListResponse{Projects: make([]models.ProjectResponse, 0, len(projects))}
	for i := range projects {
		resp.Projects = append(resp.Projects, models.NewProjectResponse(&projects[i], false))
	}
	c.JSON(http.StatusOK, resp)
}

// GetProject godoc
// @Summary     Get project
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Success     200 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id} [get]
func (h *ProjectsHandler) GetProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	project, err := h.projects.Get(c.Request.Context(), userID, projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewProjectResponse(project, true))
}

// UpdateProject godoc
// @Summary     Rename project
// @Tags        projects
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Param       request body models.UpdateProjectRequest true "New title"
// @Success     200 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id} [patch]
func (h *ProjectsHandler) UpdateProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	var req models.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	project, err := h.projects.Rename(c.Request.Context(), userID, projectID, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewProjectResponse(project, false))
}

// DeleteProject godoc
// @Summary     Delete project
// @Description Deletes the project, its assets, jobs and stored objects
// @Tags        projects
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Success     204
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id} [delete]
func (h *ProjectsHandler) DeleteProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	if err := h.projects.Delete(c.Request.Context(), userID, projectID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetTimeline godoc
// @Summary     Get timeline
// @Tags        timeline
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Success     200 {object} models.TimelineResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/timeline [get]
func (h *ProjectsHandler) GetTimeline(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	t, project, err := h.projects.GetTimeline(c.Request.Context(), userID, projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	writeTimeline(c, t, project)
}

// SaveTimeline godoc
// @Summary     Replace timeline
// @Description Validates, normalizes and stores the timeline. Overlapping clips on a track are rejected.
// @Tags        timeline
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Param       timeline body object true "Timeline document"
// @Success     200 {object} models.TimelineResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/timeline [put]
func (h *ProjectsHandler) SaveTimeline(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTimelineBytes+1))
	if err != nil {
		badRequest(c, "failed to read body")
		return
	}
	if len(body) > maxTimelineBytes {
		badRequest(c, "timeline too large")
		return
	}
	if !json.Valid(body) {
		badRequest(c, "timeline must be valid JSON")
		return
	}

	t, project, err := h.projects.SaveTimeline(c.Request.Context(), userID, projectID, body)
	if err != nil {
		respondError(c, err)
		return
	}
	writeTimeline(c, t, project)
}

// MoveClip godoc
// @Summary     Move clip
// @Description Moves a clip to the nearest free, snapped position on the target track
// @Tags        timeline
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Param       clip_id path string true "Clip ID"
// @Param       request body models.MoveClipRequest true "Desired position"
// @Success     200 {object} models.ClipResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/timeline/clips/{clip_id}/move [post]
func (h *ProjectsHandler) MoveClip(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	var req models.MoveClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.projects.MoveClip(c.Request.Context(), userID, projectID, c.Param("clip_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	writeClip(c, http.StatusOK, res)
}

// AddClip godoc
// @Summary     Add clip
// @Description Places a clip for one of the project's assets at the nearest free, snapped position
// @Tags        timeline
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Param       request body models.AddClipRequest true "Clip"
// @Success     201 {object} models.ClipResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/timeline/clips [post]
func (h *ProjectsHandler) AddClip(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	var req models.AddClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.projects.AddClip(c.Request.Context(), userID, projectID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	writeClip(c, http.StatusCreated, res)
}

// RemoveClip godoc
// @Summary     Remove clip
// @Tags        timeline
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Param       clip_id path string true "Clip ID"
// @Success     200 {object} models.TimelineResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/timeline/clips/{clip_id} [delete]
func (h *ProjectsHandler) RemoveClip(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	t, project, err := h.projects.RemoveClip(c.Request.Context(), userID, projectID, c.Param("clip_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	writeTimeline(c, t, project)
}

// SplitClip godoc
// @Summary     Split clip
// @Description Cuts a clip at a timeline time and returns the new right-hand clip
// @Tags        timeline
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Param       clip_id path string true "Clip ID"
// @Param       request body models.SplitClipRequest true "Cut point"
// @Success     201 {object} models.ClipResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/timeline/clips/{clip_id}/split [post]
func (h *ProjectsHandler) SplitClip(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	var req models.SplitClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.projects.SplitClip(c.Request.Context(), userID, projectID, c.Param("clip_id"), req.At)
	if err != nil {
		respondError(c, err)
		return
	}
	writeClip(c, http.StatusCreated, res)
}

// GetBundle godoc
// @Summary     Project bundle
// @Description Returns the project with its assets and generation jobs in one response
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Success     200 {object} models.BundleResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/bundle [get]
func (h *ProjectsHandler) GetBundle(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	bundle, err := h.projects.Bundle(c.Request.Context(), userID, projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func writeTimeline(c *gin.Context, t *timeline.Timeline, project *models.Project) {
	raw, err := t.Marshal()
	if err != nil {
		respondError(c, err)
		return
	}
	seconds := timeline.Duration(t)
	c.JSON(http.StatusOK, models.TimelineResponse{
		ProjectID:       project.ID.String(),
		Timeline:        raw,
		DurationSeconds: seconds,
		Duration:        format.Duration(seconds),
		Timecode:        format.Timecode(seconds, outputFPS(t)),
		UpdatedAt:       project.UpdatedAt,
	})
}

// outputFPS is the frame rate timecodes are rendered at; 0 lets the
// formatter pick its default.
func outputFPS(t *timeline.Timeline) int {
	if t.Output == nil {
		return 0
	}
	return t.Output.FPS
}

func writeClip(c *gin.Context, status int, res *services.ClipEdit) {
	raw, err := res.Timeline.Marshal()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, models.ClipResponse{
		ClipID:     res.Clip.ID,
		Position:   res.Clip.TimelinePosition,
		TrackIndex: res.Clip.TrackIndex,
		Timeline:   raw,
	})
}
