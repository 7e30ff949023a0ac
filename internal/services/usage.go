package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/cache"
	"nonlinear-editor-backend/internal/format"
	"nonlinear-editor-backend/internal/models"
)

// UsageService enforces tier limits: monthly generation allowances, project
// counts, per-file upload size and total storage.
type UsageService struct {
	profiles ProfileStore
	projects ProjectStore
	cache    *cache.Cache
	logger   *zap.Logger
	now      func() time.Time
}

func NewUsageService(profiles ProfileStore, projects ProjectStore, c *cache.Cache, logger *zap.Logger) *UsageService {
	return &UsageService{
		profiles: profiles,
		projects: projects,
		cache:    c,
		logger:   logger,
		now:      time.Now,
	}
}

// Profile returns the user's profile, creating it on first use and resetting
// monthly counters once their reset time has passed.
func (s *UsageService) Profile(ctx context.Context, userID uuid.UUID, email string) (*models.UserProfile, error) {
	return cache.Load(ctx, s.cache, cache.ProfileKey(userID), cache.ProfileTTL, func(ctx context.Context) (*models.UserProfile, error) {
		p, err := s.profiles.EnsureProfile(ctx, userID, email)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if !now.Before(p.UsageResetAt) {
			reset, err := s.profiles.ResetUsageIfDue(ctx, userID, now)
			if err != nil {
				return nil, err
			}
			if reset {
				s.logger.Info("monthly usage reset", zap.String("user_id", userID.String()))
				return s.profiles.GetProfile(ctx, userID)
			}
		}
		return p, nil
	})
}

func (s *UsageService) Limits(ctx context.Context, userID uuid.UUID) (models.TierLimits, *models.UserProfile, error) {
	p, err := s.Profile(ctx, userID, "")
	if err != nil {
		return models.TierLimits{}, nil, err
	}
	return models.LimitsFor(p.Tier), p, nil
}

// Invalidate drops the cached profile after a counter or tier change.
func (s *UsageService) Invalidate(userID uuid.UUID) {
	s.cache.Delete(cache.ProfileKey(userID))
}

// FreshProfile is Profile read from the store rather than the cache, for
// decisions that must see a tier change immediately.
func (s *UsageService) FreshProfile(ctx context.Context, userID uuid.UUID, email string) (*models.UserProfile, error) {
	s.Invalidate(userID)
	return s.Profile(ctx, userID, email)
}

// ConsumeGeneration takes one generation of kind from the monthly allowance.
func (s *UsageService) ConsumeGeneration(ctx context.Context, userID uuid.UUID, kind models.JobKind) error {
	limits, _, err := s.Limits(ctx, userID)
	if err != nil {
		return err
	}
	defer s.Invalidate(userID)
	if _, err := s.profiles.ConsumeGeneration(ctx, userID, kind, limits.GenerationLimit(kind)); err != nil {
		return err
	}
	return nil
}

// Refund returns a generation to the allowance after a failed or canceled job.
func (s *UsageService) Refund(ctx context.Context, userID uuid.UUID, kind models.JobKind) {
	defer s.Invalidate(userID)
	if err := s.profiles.RefundGeneration(ctx, userID, kind); err != nil {
		s.logger.Warn("failed to refund generation",
			zap.String("user_id", userID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

// CheckUpload rejects files over the tier's upload size and reserves size
// bytes of the storage quota. Call ReleaseStorage if the upload fails.
func (s *UsageService) CheckUpload(ctx context.Context, userID uuid.UUID, size int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: file is empty", models.ErrInvalidInput)
	}
	limits, _, err := s.Limits(ctx, userID)
	if err != nil {
		return err
	}
	if limits.MaxUploadBytes >= 0 && size > limits.MaxUploadBytes {
		return fmt.Errorf("%w: file is %s, the limit for your plan is %s",
			models.ErrInvalidInput, format.Bytes(size), format.Bytes(limits.MaxUploadBytes))
	}
	defer s.Invalidate(userID)
	if err := s.profiles.ReserveStorage(ctx, userID, size, limits.StorageQuotaBytes); err != nil {
		return fmt.Errorf("storage quota of %s: %w", format.Bytes(limits.StorageQuotaBytes), err)
	}
	return nil
}

// AddStorage records bytes produced outside an upload, such as generated
// media. It does not enforce the quota.
func (s *UsageService) AddStorage(ctx context.Context, userID uuid.UUID, bytes int64) error {
	defer s.Invalidate(userID)
	return s.profiles.AddStorageBytes(ctx, userID, bytes)
}

func (s *UsageService) ReleaseStorage(ctx context.Context, userID uuid.UUID, bytes int64) {
	if bytes <= 0 {
		return
	}
	defer s.Invalidate(userID)
	if err := s.profiles.AddStorageBytes(ctx, userID, -bytes); err != nil {
		s.logger.Warn("failed to release storage",
			zap.String("user_id", userID.String()),
			zap.Int64("bytes", bytes),
			zap.Error(err),
		)
	}
}

// Summary reports usage against the tier's limits.
func (s *UsageService) Summary(ctx context.Context, userID uuid.UUID) (*models.UsageResponse, error) {
	limits, p, err := s.Limits(ctx, userID)
	if err != nil {
		return nil, err
	}
	projectCount, err := s.projects.CountProjects(ctx, userID)
	if err != nil {
		return nil, err
	}

	gens := make(map[models.JobKind]models.UsageCounter, 3)
	for _, kind := range []models.JobKind{models.JobKindVideo, models.JobKindImage, models.JobKindAudio} {
		gens[kind] = models.UsageCounter{Used: p.GenerationsUsed(kind), Limit: limits.GenerationLimit(kind)}
	}

	return &models.UsageResponse{
		Tier:              p.Tier,
		Generations:       gens,
		Projects:          models.UsageCounter{Used: projectCount, Limit: limits.MaxProjects},
		StorageBytesUsed:  p.StorageBytesUsed,
		StorageQuotaBytes: limits.StorageQuotaBytes,
		StoragePercent:    format.Percent(p.StorageBytesUsed, limits.StorageQuotaBytes),
		Storage:           fmt.Sprintf("%s of %s", format.Bytes(p.StorageBytesUsed), format.Bytes(limits.StorageQuotaBytes)),
		ResetAt:           p.UsageResetAt,
	}, nil
}
