package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"nonlinear-editor-backend/internal/middleware"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/validation"
)

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden), errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body for err. Upstream and internal
// error details stay in the log.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	resp := models.ErrorResponse{Error: strings.ToLower(http.StatusText(status))}
	switch status {
	case http.StatusInternalServerError:
		resp.Error = "internal server error"
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
	default:
		if errors.Is(err, models.ErrQuotaExceeded) {
			resp.Error = "quota exceeded"
		}
		resp.Message = publicMessage(err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// publicMessage strips the sentinel prefix so "invalid input: title is
// required" reads "title is required".
func publicMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{
		models.ErrInvalidInput, models.ErrQuotaExceeded, models.ErrConflict,
	} {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	return msg
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "bad request",
		Message: message,
	})
}

// currentUser returns the authenticated user or writes 401.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized"})
		return uuid.Nil, false
	}
	return userID, true
}

// pathUUID parses the named path parameter or writes 400.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := validation.ParseUUID(name, c.Param(name))
	if err != nil {
		respondError(c, err)
		return uuid.Nil, false
	}
	return id, true
}
