package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"nonlinear-editor-backend/internal/middleware"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/services"
)

type AccountHandler struct {
	account *services.AccountService
}

func NewAccountHandler(account *services.AccountService) *AccountHandler {
	return &AccountHandler{account: account}
}

// GetAccount godoc
// @Summary     Current profile
// @Description Returns the caller's profile, creating it on first use
// @Tags        account
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.ProfileResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /api/v1/account [get]
func (h *AccountHandler) GetAccount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	profile, err := h.account.Profile(c.Request.Context(), userID, middleware.Email(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewProfileResponse(profile))
}

// GetUsage godoc
// @Summary     Usage summary
// @Description Returns generation, project and storage usage against the tier limits
// @Tags        account
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.UsageResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /api/v1/account/usage [get]
func (h *AccountHandler) GetUsage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	usage, err := h.account.Usage(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

// ExportAccount godoc
// @Summary     Export account data
// @Description Returns the profile, all projects with timelines and all asset records
// @Tags        account
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.ExportResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /api/v1/account/export [get]
func (h *AccountHandler) ExportAccount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	export, err := h.account.Export(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="account-export.json"`)
	c.JSON(http.StatusOK, export)
}

// DeleteAccount godoc
// @Summary     Delete account
// @Description Cancels any subscription and deletes all projects, assets, jobs and stored files
// @Tags        account
// @Security    Bearer
// @Success     204
// @Failure     401 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /api/v1/account [delete]
func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.account.DeleteAccount(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
