package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"nonlinear-editor-backend/internal/models"
)

const profileColumns = `user_id, email, tier, stripe_customer_id, stripe_subscription_id, subscription_status,
	video_generations_used, image_generations_used, audio_generations_used,
	storage_bytes_used, usage_reset_at, created_at, updated_at`

func scanProfile(row scanner) (*models.UserProfile, error) {
	var p models.UserProfile
	err := row.Scan(
		&p.UserID, &p.Email, &p.Tier, &p.StripeCustomerID, &p.StripeSubscriptionID, &p.SubscriptionStatus,
		&p.VideoGenerationsUsed, &p.ImageGenerationsUsed, &p.AudioGenerationsUsed,
		&p.StorageBytesUsed, &p.UsageResetAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// generationColumn maps a job kind to its usage counter column.
func generationColumn(kind models.JobKind) (string, error) {
	switch kind {
	case models.JobKindVideo:
		return "video_generations_used", nil
	case models.JobKindImage:
		return "image_generations_used", nil
	case models.JobKindAudio:
		return "audio_generations_used", nil
	}
	return "", fmt.Errorf("unknown job kind %q: %w", kind, models.ErrInvalidInput)
}

// EnsureProfile returns the user's profile, creating a free one on first use.
// A non-empty email replaces the stored one.
func (d *DatabaseClient) EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*models.UserProfile, error) {
	row := d.db.QueryRowContext(ctx, `
		INSERT INTO user_profiles (user_id, email, tier, usage_reset_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET email = COALESCE(NULLIF(EXCLUDED.email, ''), user_profiles.email)
		RETURNING `+profileColumns,
		userID, email, models.TierFree, models.NextUsageReset(time.Now()))
	p, err := scanProfile(row)
	if err != nil {
		return nil, wrapErr("ensure profile", err)
	}
	return p, nil
}

func (d *DatabaseClient) GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM user_profiles WHERE user_id = $1`, userID)
	p, err := scanProfile(row)
	if err != nil {
		return nil, wrapErr("get profile", err)
	}
	return p, nil
}

func (d *DatabaseClient) GetProfileByStripeCustomer(ctx context.Context, customerID string) (*models.UserProfile, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM user_profiles WHERE stripe_customer_id = $1`, customerID)
	p, err := scanProfile(row)
	if err != nil {
		return nil, wrapErr("get profile by stripe customer", err)
	}
	return p, nil
}

func (d *DatabaseClient) SetTier(ctx context.Context, userID uuid.UUID, tier models.Tier) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET tier = $1, updated_at = NOW()
		WHERE user_id = $2
	`, tier, userID)
	return expectOne("set tier", res, err)
}

// UpdateSubscription records Stripe state and the tier it grants. Empty ids
// leave the stored value untouched.
func (d *DatabaseClient) UpdateSubscription(ctx context.Context, userID uuid.UUID, customerID, subscriptionID, status string, tier models.Tier) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET stripe_customer_id = COALESCE(NULLIF($1, ''), stripe_customer_id),
		    stripe_subscription_id = COALESCE(NULLIF($2, ''), stripe_subscription_id),
		    subscription_status = NULLIF($3, ''),
		    tier = $4,
		    updated_at = NOW()
		WHERE user_id = $5
	`, customerID, subscriptionID, status, tier, userID)
	return expectOne("update subscription", res, err)
}

// ConsumeGeneration increments the counter for kind unless it already
// reached limit. A negative limit never rejects.
func (d *DatabaseClient) ConsumeGeneration(ctx context.Context, userID uuid.UUID, kind models.JobKind, limit int) (int, error) {
	col, err := generationColumn(kind)
	if err != nil {
		return 0, err
	}

	var used int
	err = d.db.QueryRowContext(ctx, `
		UPDATE user_profiles
		SET `+col+` = `+col+` + 1, updated_at = NOW()
		WHERE user_id = $1 AND ($2 < 0 OR `+col+` < $2)
		RETURNING `+col,
		userID, limit).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("monthly %s generation limit of %d reached: %w", kind, limit, models.ErrQuotaExceeded)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to consume generation: %w", err)
	}
	return used, nil
}

func (d *DatabaseClient) RefundGeneration(ctx context.Context, userID uuid.UUID, kind models.JobKind) error {
	col, err := generationColumn(kind)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET `+col+` = GREATEST(`+col+` - 1, 0), updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	return expectOne("refund generation", res, err)
}

// ReserveStorage adds bytes to the user's storage usage unless that would
// exceed quota. A negative quota never rejects.
func (d *DatabaseClient) ReserveStorage(ctx context.Context, userID uuid.UUID, bytes, quota int64) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET storage_bytes_used = storage_bytes_used + $2::bigint, updated_at = NOW()
		WHERE user_id = $1 AND ($3::bigint < 0 OR storage_bytes_used + $2::bigint <= $3::bigint)
	`, userID, bytes, quota)
	if err != nil {
		return fmt.Errorf("failed to reserve storage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reserve storage: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("storage quota exceeded: %w", models.ErrQuotaExceeded)
	}
	return nil
}

// AddStorageBytes adjusts storage usage by delta, never going below zero.
func (d *DatabaseClient) AddStorageBytes(ctx context.Context, userID uuid.UUID, delta int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET storage_bytes_used = GREATEST(storage_bytes_used + $2::bigint, 0), updated_at = NOW()
		WHERE user_id = $1
	`, userID, delta)
	if err != nil {
		return fmt.Errorf("failed to update storage usage: %w", err)
	}
	return nil
}

// ResetUsageIfDue zeroes the monthly counters when the reset time has passed.
func (d *DatabaseClient) ResetUsageIfDue(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET video_generations_used = 0, image_generations_used = 0, audio_generations_used = 0,
		    usage_reset_at = $2, updated_at = NOW()
		WHERE user_id = $1 AND usage_reset_at <= $3
	`, userID, models.NextUsageReset(now), now)
	if err != nil {
		return false, fmt.Errorf("failed to reset usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reset usage: %w", err)
	}
	return n > 0, nil
}

// ResetExpiredUsage resets every profile whose reset time has passed.
func (d *DatabaseClient) ResetExpiredUsage(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET video_generations_used = 0, image_generations_used = 0, audio_generations_used = 0,
		    usage_reset_at = $1, updated_at = NOW()
		WHERE usage_reset_at <= $2
	`, models.NextUsageReset(now), now)
	if err != nil {
		return 0, fmt.Errorf("failed to reset expired usage: %w", err)
	}
	return res.RowsAffected()
}

// ResetUsage zeroes one user's counters regardless of the reset time.
func (d *DatabaseClient) ResetUsage(ctx context.Context, userID uuid.UUID, now time.Time) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET video_generations_used = 0, image_generations_used = 0, audio_generations_used = 0,
		    usage_reset_at = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, models.NextUsageReset(now))
	return expectOne("reset usage", res, err)
}

// DeleteAccount removes every row owned by the user and anonymizes their
// audit history in one transaction. Storage objects are removed by the caller.
func (d *DatabaseClient) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		statements := []struct {
			op    string
			query string
		}{
			{"delete jobs", `DELETE FROM processing_jobs WHERE user_id = $1`},
			{"delete assets", `DELETE FROM assets WHERE user_id = $1`},
			{"delete projects", `DELETE FROM projects WHERE user_id = $1`},
			{"anonymize audit logs", `UPDATE audit_logs SET user_id = NULL, ip_address = '', user_agent = '' WHERE user_id = $1`},
			{"delete profile", `DELETE FROM user_profiles WHERE user_id = $1`},
		}
		for _, s := range statements {
			if _, err := tx.ExecContext(ctx, s.query, userID); err != nil {
				return fmt.Errorf("failed to %s: %w", s.op, err)
			}
		}
		return nil
	})
}
