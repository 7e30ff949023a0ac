package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nonlinear-editor-backend/internal/audit"
	"nonlinear-editor-backend/internal/cache"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/supabase"
)

const storageCleanupConcurrency = 4

type AccountService struct {
	store   Store
	objects ObjectStore
	billing BillingGateway
	usage   *UsageService
	cache   *cache.Cache
	audit   Auditor
	logger  *zap.Logger
	now     func() time.Time
}

// NewAccountService builds the service. billing may be nil when Stripe is
// not configured.
func NewAccountService(store Store, objects ObjectStore, billing BillingGateway, usage *UsageService, c *cache.Cache, auditor Auditor, logger *zap.Logger) *AccountService {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &AccountService{
		store:   store,
		objects: objects,
		billing: billing,
		usage:   usage,
		cache:   c,
		audit:   auditor,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *AccountService) Profile(ctx context.Context, userID uuid.UUID, email string) (*models.UserProfile, error) {
	return s.usage.Profile(ctx, userID, email)
}

func (s *AccountService) Usage(ctx context.Context, userID uuid.UUID) (*models.UsageResponse, error) {
	return s.usage.Summary(ctx, userID)
}

// Export collects everything stored about the user.
func (s *AccountService) Export(ctx context.Context, userID uuid.UUID) (*models.ExportResponse, error) {
	var (
		profile  *models.UserProfile
		projects []models.Project
		assets   []models.Asset
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profile, err = s.store.GetProfile(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		projects, err = s.store.ListProjects(gctx, userID, true)
		return err
	})
	g.Go(func() error {
		var err error
		assets, err = s.store.ListAssetsByUser(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &models.ExportResponse{
		Profile:    models.NewProfileResponse(profile),
		Projects:   make([]models.ProjectResponse, len(projects)),
		Assets:     models.NewAssetResponses(assets),
		ExportedAt: s.now().UTC(),
	}
	for i := range projects {
		out.Projects[i] = models.NewProjectResponse(&projects[i], true)
	}

	s.audit.LogAsync(ctx, audit.Entry(userID, models.AuditAccountExport, "user", userID.String(), map[string]any{
		"projects": len(projects),
		"assets":   len(assets),
	}))
	return out, nil
}

// DeleteAccount cancels the subscription, removes stored objects and deletes
// every row owned by the user. Audit rows are kept with the user id cleared.
func (s *AccountService) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return err
	}

	if profile.StripeSubscriptionID.Valid && profile.StripeSubscriptionID.String != "" {
		if s.billing == nil {
			return fmt.Errorf("cannot cancel subscription: %w", models.ErrUnavailable)
		}
		if err := s.billing.CancelSubscription(ctx, profile.StripeSubscriptionID.String); err != nil {
			return err
		}
	}

	projects, err := s.store.ListProjects(ctx, userID, false)
	if err != nil {
		return err
	}
	var g errgroup.Group
	g.SetLimit(storageCleanupConcurrency)
	for i := range projects {
		prefix := supabase.ProjectPrefix(userID, projects[i].ID)
		g.Go(func() error {
			if _, err := s.objects.DeletePrefix(ctx, prefix); err != nil {
				s.logger.Warn("failed to delete project objects",
					zap.String("prefix", prefix),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := s.store.DeleteAccount(ctx, userID); err != nil {
		return err
	}
	s.cache.DeletePrefix(cache.UserPrefix(userID))

	s.logger.Info("account deleted",
		zap.String("user_id", userID.String()),
		zap.Int("projects", len(projects)),
	)
	// Logged without any user reference: the row must not identify a deleted user.
	s.audit.LogAsync(ctx, audit.Entry(uuid.Nil, models.AuditAccountDelete, "user", "", map[string]any{
		"projects": len(projects),
	}))
	return nil
}

// SetTier changes a user's tier from the admin API.
func (s *AccountService) SetTier(ctx context.Context, adminID, userID uuid.UUID, tier models.Tier) (*models.UserProfile, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", models.ErrInvalidInput, tier)
	}
	before, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetTier(ctx, userID, tier); err != nil {
		return nil, err
	}
	s.usage.Invalidate(userID)

	s.audit.LogAsync(ctx, audit.Entry(adminID, models.AuditAdminTierChange, "user", userID.String(), map[string]any{
		"from": string(before.Tier),
		"to":   string(tier),
	}))
	return s.store.GetProfile(ctx, userID)
}
