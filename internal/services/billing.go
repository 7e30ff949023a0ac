package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nonlinear-editor-backend/internal/audit"
	"nonlinear-editor-backend/internal/billing"
	"nonlinear-editor-backend/internal/models"
)

type BillingService struct {
	profiles ProfileStore
	gateway  BillingGateway
	usage    *UsageService
	audit    Auditor
	logger   *zap.Logger
}

// NewBillingService builds the service. A nil gateway disables billing.
func NewBillingService(profiles ProfileStore, gateway BillingGateway, usage *UsageService, auditor Auditor, logger *zap.Logger) *BillingService {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &BillingService{
		profiles: profiles,
		gateway:  gateway,
		usage:    usage,
		audit:    auditor,
		logger:   logger,
	}
}

// Checkout starts a Stripe checkout for the premium plan.
func (s *BillingService) Checkout(ctx context.Context, userID uuid.UUID, email string) (*billing.CheckoutSession, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("billing is not configured: %w", models.ErrUnavailable)
	}
	p, err := s.usage.Profile(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	if p.Tier != models.TierFree {
		return nil, fmt.Errorf("%w: account is already on the %s tier", models.ErrConflict, p.Tier)
	}

	params := billing.CheckoutParams{UserID: userID, Email: p.Email}
	if p.StripeCustomerID.Valid {
		params.CustomerID = p.StripeCustomerID.String
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}

	s.audit.LogAsync(ctx, audit.Entry(userID, models.AuditBillingCheckout, "checkout_session", session.ID, nil))
	return session, nil
}

// HandleWebhook verifies a Stripe event and applies the subscription change
// it carries. Events for unknown users and unhandled types are ignored.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.gateway == nil {
		return fmt.Errorf("billing is not configured: %w", models.ErrUnavailable)
	}
	evt, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}
		return err
	}

	switch evt.Type {
	case billing.EventCheckoutCompleted, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
	default:
		s.logger.Debug("ignoring stripe event", zap.String("event_id", evt.ID), zap.String("type", evt.Type))
		return nil
	}

	profile, err := s.resolveProfile(ctx, evt)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("stripe event for unknown user",
				zap.String("event_id", evt.ID),
				zap.String("customer_id", evt.CustomerID),
			)
			return nil
		}
		return err
	}

	if evt.Type != billing.EventCheckoutCompleted && staleSubscription(profile, evt.SubscriptionID) {
		s.logger.Info("ignoring event for superseded subscription",
			zap.String("event_id", evt.ID),
			zap.String("user_id", profile.UserID.String()),
			zap.String("subscription_id", evt.SubscriptionID),
		)
		return nil
	}

	tier := billing.TierForStatus(evt.Status)
	if profile.Tier == models.TierAdmin {
		tier = models.TierAdmin
	}
	customerID := evt.CustomerID
	if customerID == "" && profile.StripeCustomerID.Valid {
		customerID = profile.StripeCustomerID.String
	}
	if err := s.profiles.UpdateSubscription(ctx, profile.UserID, customerID, evt.SubscriptionID, evt.Status, tier); err != nil {
		return err
	}
	s.usage.Invalidate(profile.UserID)

	s.logger.Info("subscription updated",
		zap.String("user_id", profile.UserID.String()),
		zap.String("event", evt.Type),
		zap.String("status", evt.Status),
		zap.String("tier", string(tier)),
	)
	s.audit.LogAsync(ctx, audit.Entry(profile.UserID, models.AuditSubscriptionChanged, "subscription", evt.SubscriptionID, map[string]any{
		"event_id": evt.ID,
		"event":    evt.Type,
		"status":   evt.Status,
		"from":     string(profile.Tier),
		"to":       string(tier),
	}))
	return nil
}

// staleSubscription reports whether an event names a subscription other than
// the one on file. Only checkout completion replaces the stored id.
func staleSubscription(profile *models.UserProfile, subscriptionID string) bool {
	current := profile.StripeSubscriptionID
	return current.Valid && current.String != "" && subscriptionID != current.String
}

func (s *BillingService) resolveProfile(ctx context.Context, evt *billing.Event) (*models.UserProfile, error) {
	if evt.UserID != uuid.Nil {
		return s.profiles.GetProfile(ctx, evt.UserID)
	}
	if evt.CustomerID == "" {
		return nil, fmt.Errorf("event %s has no user or customer: %w", evt.ID, models.ErrNotFound)
	}
	return s.profiles.GetProfileByStripeCustomer(ctx, evt.CustomerID)
}
