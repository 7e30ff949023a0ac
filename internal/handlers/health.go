package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/models"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is a dependency whose reachability is reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks map[string]Pinger
	logger *zap.Logger
}

// NewHealthHandler builds a handler over the named dependency checks. Nil
// checks are skipped.
func NewHealthHandler(checks map[string]Pinger, logger *zap.Logger) *HealthHandler {
	filtered := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			filtered[name] = p
		}
	}
	return &HealthHandler{checks: filtered, logger: logger}
}

// Health godoc
// @Summary     Health check
// @Description Returns the health status of the API and its dependencies
// @Tags        health
// @Accept      json
// @Produce     json
// @Success     200 {object} models.HealthResponse
// @Failure     503 {object} models.HealthResponse
// @Router      /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	response := models.HealthResponse{Status: "ok"}
	if len(h.checks) == 0 {
		c.JSON(http.StatusOK, response)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	response.Checks = make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			response.Checks[name] = "unavailable"
			response.Status = "degraded"
			continue
		}
		response.Checks[name] = "ok"
	}

	status := http.StatusOK
	if response.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}
