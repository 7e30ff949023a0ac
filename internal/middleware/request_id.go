package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"nonlinear-editor-backend/internal/audit"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"

	maxRequestIDLength = 128
)

// RequestID honours an incoming X-Request-ID or mints a ULID, echoes it on
// the response and attaches the client address to the request context for
// audit entries.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = ulid.Make().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		ctx := audit.WithRequestInfo(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
