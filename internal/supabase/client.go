package supabase

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
	"nonlinear-editor-backend/internal/models"
)

// Client talks to the PostgREST API with the service role key. It is used
// where no direct database connection is configured.
type Client struct {
	Supabase *supabase.Client
}

func NewClient(supabaseURL, serviceRoleKey string) (*Client, error) {
	client, err := supabase.NewClient(supabaseURL, serviceRoleKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &Client{Supabase: client}, nil
}

type auditLogRow struct {
	ID           string          `json:"id"`
	UserID       *string         `json:"user_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	IPAddress    string          `json:"ip_address"`
	UserAgent    string          `json:"user_agent"`
	Metadata     json.RawMessage `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
}

// InsertAuditLog writes an audit row. Errors keep PostgREST's "(CODE) message"
// form so the audit logger can classify them.
func (c *Client) InsertAuditLog(ctx context.Context, e *models.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := auditLogRow{
		ID:           e.ID.String(),
		Action:       string(e.Action),
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Metadata:     json.RawMessage(jsonArg(e.Metadata)),
		CreatedAt:    e.CreatedAt,
	}
	if e.UserID.Valid {
		id := e.UserID.UUID.String()
		row.UserID = &id
	}
	if _, _, err := c.Supabase.From("audit_logs").Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return err
	}
	return nil
}

type profileRow struct {
	UserID               string    `json:"user_id"`
	Email                string    `json:"email"`
	Tier                 string    `json:"tier"`
	StripeCustomerID     *string   `json:"stripe_customer_id"`
	StripeSubscriptionID *string   `json:"stripe_subscription_id"`
	SubscriptionStatus   *string   `json:"subscription_status"`
	VideoGenerationsUsed int       `json:"video_generations_used"`
	ImageGenerationsUsed int       `json:"image_generations_used"`
	AudioGenerationsUsed int       `json:"audio_generations_used"`
	StorageBytesUsed     int64     `json:"storage_bytes_used"`
	UsageResetAt         time.Time `json:"usage_reset_at"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// GetProfile reads a profile through PostgREST.
func (c *Client) GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []profileRow
	_, err := c.Supabase.From("user_profiles").
		Select("*", "", false).
		Eq("user_id", userID.String()).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get profile: %w", models.ErrNotFound)
	}
	return rows[0].toModel()
}

// SetTier changes a user's tier through PostgREST.
func (c *Client) SetTier(ctx context.Context, userID uuid.UUID, tier models.Tier) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	update := map[string]any{"tier": string(tier), "updated_at": time.Now().UTC()}
	var rows []profileRow
	_, err := c.Supabase.From("user_profiles").
		Update(update, "representation", "").
		Eq("user_id", userID.String()).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("failed to set tier: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("set tier: %w", models.ErrNotFound)
	}
	return nil
}

func (r profileRow) toModel() (*models.UserProfile, error) {
	id, err := uuid.Parse(r.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid profile user id: %w", err)
	}
	return &models.UserProfile{
		UserID:               id,
		Email:                r.Email,
		Tier:                 models.Tier(r.Tier),
		StripeCustomerID:     nullString(r.StripeCustomerID),
		StripeSubscriptionID: nullString(r.StripeSubscriptionID),
		SubscriptionStatus:   nullString(r.SubscriptionStatus),
		VideoGenerationsUsed: r.VideoGenerationsUsed,
		ImageGenerationsUsed: r.ImageGenerationsUsed,
		AudioGenerationsUsed: r.AudioGenerationsUsed,
		StorageBytesUsed:     r.StorageBytesUsed,
		UsageResetAt:         r.UsageResetAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
