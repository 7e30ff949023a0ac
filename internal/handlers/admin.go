package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/cache"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/services"
)

type AdminHandler struct {
	account *services.AccountService
	cache   *cache.Cache
	logger  *zap.Logger
}

func NewAdminHandler(account *services.AccountService, c *cache.Cache, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{account: account, cache: c, logger: logger}
}

// SetTier godoc
// @Summary     Set user tier
// @Tags        admin
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       user_id path string true "User ID"
// @Param       request body models.SetTierRequest true "Tier"
// @Success     200 {object} models.ProfileResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/admin/users/{user_id}/tier [put]
func (h *AdminHandler) SetTier(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	userID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}

	var req models.SetTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	profile, err := h.account.SetTier(c.Request.Context(), adminID, userID, models.Tier(req.Tier))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewProfileResponse(profile))
}

// CacheStats godoc
// @Summary     Cache statistics
// @Tags        admin
// @Produce     json
// @Security    Bearer
// @Success     200 {object} cache.Stats
// @Failure     403 {object} models.ErrorResponse
// @Router      /api/v1/admin/cache/stats [get]
func (h *AdminHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// ClearCache godoc
// @Summary     Clear cache
// @Tags        admin
// @Security    Bearer
// @Success     204
// @Failure     403 {object} models.ErrorResponse
// @Router      /api/v1/admin/cache [delete]
func (h *AdminHandler) ClearCache(c *gin.Context) {
	entries := h.cache.Len()
	h.cache.Clear()
	h.logger.Info("cache cleared", zap.Int("entries", entries))
	c.Status(http.StatusNoContent)
}
