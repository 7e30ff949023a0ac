package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/audit"
	"nonlinear-editor-backend/internal/metrics"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/ratelimit"
)

// Auditor is satisfied by *audit.Logger.
type Auditor interface {
	LogAsync(ctx context.Context, entry models.AuditLogEntry)
}

type RateLimitConfig struct {
	Enabled bool
	Limiter ratelimit.Limiter
	Logger  *zap.Logger
	Auditor Auditor
}

// RateLimit applies tier's fixed window per user, or per client address for
// unauthenticated requests. Limiter errors let the request through.
func RateLimit(cfg RateLimitConfig, tier ratelimit.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled || tier.Unlimited() {
			c.Next()
			return
		}

		id := rateLimitID(c)
		result, err := cfg.Limiter.Allow(c.Request.Context(), id, tier)
		if err != nil {
			cfg.Logger.Error("rate limit check failed",
				zap.String("tier", tier.Name),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if result.Allowed {
			c.Next()
			return
		}

		retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
		metrics.RateLimitRejections.WithLabelValues(tier.Name).Inc()
		cfg.Logger.Warn("rate limit exceeded",
			zap.String("tier", tier.Name),
			zap.String("endpoint", c.Request.Method+" "+c.FullPath()),
			zap.Int("retry_after_seconds", retryAfter),
			zap.String("request_id", GetRequestID(c)),
		)
		if cfg.Auditor != nil {
			userID, _ := UserID(c)
			cfg.Auditor.LogAsync(c.Request.Context(), audit.FromRequest(c, audit.Entry(userID, models.AuditRateLimitExceeded, "endpoint", c.FullPath(), map[string]any{
				"tier":   tier.Name,
				"limit":  result.Limit,
				"method": c.Request.Method,
			})))
		}

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
			Error:   "rate limit exceeded",
			Message: fmt.Sprintf("retry after %d seconds", retryAfter),
		})
	}
}

// rateLimitID keys authenticated requests by user and anonymous ones by a
// hash of the client address, so raw addresses never reach Redis.
func rateLimitID(c *gin.Context) string {
	if userID, ok := UserID(c); ok {
		return "user:" + userID.String()
	}
	sum := sha256.Sum256([]byte(c.ClientIP()))
	return "ip:" + hex.EncodeToString(sum[:8])
}
