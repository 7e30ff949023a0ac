// Package billing wraps the Stripe API calls used for subscriptions.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"nonlinear-editor-backend/internal/models"
)

// Event types handled by the webhook.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type CheckoutParams struct {
	UserID     uuid.UUID
	Email      string
	CustomerID string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Event is the part of a Stripe event the service acts on.
type Event struct {
	ID             string
	Type           string
	UserID         uuid.UUID
	CustomerID     string
	SubscriptionID string
	Status         string
}

type StripeGateway struct {
	api           *client.API
	webhookSecret string
	priceID       string
	successURL    string
	cancelURL     string
}

func NewStripeGateway(secretKey, webhookSecret, priceID, successURL, cancelURL string) *StripeGateway {
	return &StripeGateway{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		priceID:       priceID,
		successURL:    successURL,
		cancelURL:     cancelURL,
	}
}

// CreateCheckoutSession starts a premium subscription checkout. The user id
// travels as client reference and metadata so the webhook can find the user.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(g.priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(p.UserID.String()),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": p.UserID.String()},
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", p.UserID.String())
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	} else if p.Email != "" {
		params.CustomerEmail = stripe.String(p.Email)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := g.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return nil
		}
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the event.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	return parseWebhook(payload, signature, g.webhookSecret)
}

func parseWebhook(payload []byte, signature, secret string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w: %v", models.ErrInvalidInput, err)
		}
		out.UserID = userIDFrom(s.ClientReferenceID, s.Metadata)
		if s.Customer != nil {
			out.CustomerID = s.Customer.ID
		}
		if s.Subscription != nil {
			out.SubscriptionID = s.Subscription.ID
		}
		out.Status = string(stripe.SubscriptionStatusActive)
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w: %v", models.ErrInvalidInput, err)
		}
		out.UserID = userIDFrom("", sub.Metadata)
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		out.SubscriptionID = sub.ID
		out.Status = string(sub.Status)
		if out.Type == EventSubscriptionDeleted {
			out.Status = string(stripe.SubscriptionStatusCanceled)
		}
	}
	return out, nil
}

func userIDFrom(reference string, metadata map[string]string) uuid.UUID {
	for _, candidate := range []string{reference, metadata["user_id"]} {
		if id, err := uuid.Parse(candidate); err == nil {
			return id
		}
	}
	return uuid.Nil
}

// TierForStatus maps a subscription status to the tier it grants.
func TierForStatus(status string) models.Tier {
	switch stripe.SubscriptionStatus(status) {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.TierPremium
	}
	return models.TierFree
}
