package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"nonlinear-editor-backend/internal/metrics"
)

// Metrics records request latency by route template, so ids in paths do not
// create new series.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status()/100) + "xx"
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, status).
			Observe(time.Since(start).Seconds())
	}
}
