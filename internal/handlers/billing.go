package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"nonlinear-editor-backend/internal/middleware"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/services"
)

// maxWebhookBytes bounds Stripe event payloads.
const maxWebhookBytes = 64 << 10

type BillingHandler struct {
	billing *services.BillingService
}

func NewBillingHandler(billing *services.BillingService) *BillingHandler {
	return &BillingHandler{billing: billing}
}

// Checkout godoc
// @Summary     Start premium checkout
// @Description Creates a Stripe checkout session for the premium subscription
// @Tags        billing
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.CheckoutResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /api/v1/billing/checkout [post]
func (h *BillingHandler) Checkout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.billing.Checkout(c.Request.Context(), userID, middleware.Email(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.CheckoutResponse{SessionID: session.ID, URL: session.URL})
}

// StripeWebhook godoc
// @Summary     Stripe webhook
// @Description Receives subscription lifecycle events from Stripe. The Stripe-Signature header is verified.
// @Tags        billing
// @Accept      json
// @Produce     json
// @Param       Stripe-Signature header string true "Stripe signature"
// @Success     200 {object} map[string]bool
// @Failure     400 {object} models.ErrorResponse
// @Router      /api/v1/webhooks/stripe [post]
func (h *BillingHandler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		badRequest(c, "failed to read body")
		return
	}

	if err := h.billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
