package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"nonlinear-editor-backend/internal/config"
	"nonlinear-editor-backend/internal/models"
)

const (
	UserIDKey = "user_id"
	EmailKey  = "user_email"
	TierKey   = "user_tier"
)

// supabaseClaims is the subset of a Supabase access token the API reads.
type supabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "unauthorized",
		Message: message,
	})
}

// AuthMiddleware verifies the Supabase HS256 access token in the
// Authorization header and stores the user id and email on the context.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	secret := []byte(cfg.SupabaseJWTSecret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "missing authorization header")
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			unauthorized(c, "invalid authorization header format")
			return
		}
		tokenString = strings.TrimSpace(tokenString)
		if tokenString == "" {
			unauthorized(c, "empty token")
			return
		}

		claims := &supabaseClaims{}
		_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			if len(secret) == 0 {
				return nil, jwt.ErrSignatureInvalid
			}
			// Supabase JWT secret is used directly as the signing key
			return secret, nil
		})
		if err != nil {
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				unauthorized(c, "token has expired")
			case errors.Is(err, jwt.ErrTokenSignatureInvalid):
				unauthorized(c, "token signature is invalid")
			case errors.Is(err, jwt.ErrTokenMalformed):
				unauthorized(c, "token is malformed")
			default:
				unauthorized(c, "invalid token")
			}
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			unauthorized(c, "missing user id in token")
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(EmailKey, claims.Email)
		c.Next()
	}
}

// UserID returns the authenticated user's id.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func Email(c *gin.Context) string {
	return c.GetString(EmailKey)
}

// ProfileSource is satisfied by *services.UsageService.
type ProfileSource interface {
	FreshProfile(ctx context.Context, userID uuid.UUID, email string) (*models.UserProfile, error)
}

// RequireTier lets the request through only when the user's current tier is
// one of tiers. The profile is read uncached so a demotion applies at once.
// It must run after AuthMiddleware.
func RequireTier(profiles ProfileSource, tiers ...models.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			unauthorized(c, "authentication required")
			return
		}
		p, err := profiles.FreshProfile(c.Request.Context(), userID, Email(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load profile"})
			return
		}
		for _, t := range tiers {
			if p.Tier == t {
				c.Set(TierKey, p.Tier)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, models.ErrorResponse{
			Error:   "forbidden",
			Message: "this endpoint requires the " + joinTiers(tiers) + " tier",
		})
	}
}

func joinTiers(tiers []models.Tier) string {
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t)
	}
	return strings.Join(names, " or ")
}
