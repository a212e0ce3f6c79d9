package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v81"

	"github.com/leadpilot/leadpilot/internal/metrics"
	"github.com/leadpilot/leadpilot/internal/plans"
	"github.com/leadpilot/leadpilot/internal/users"
)

const maxWebhookBody = 1 << 16 // Stripe events are small; anything larger is garbage.

// WebhookVerifier validates raw webhook payloads. *Client implements it.
type WebhookVerifier interface {
	ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// Handler exposes the billing HTTP surface: the webhook intake plus the
// user-facing subscribe/purchase/cancel endpoints.
type Handler struct {
	service    *Service
	reconciler *Reconciler
	verifier   WebhookVerifier
	logger     *slog.Logger
}

// NewHandler creates a billing handler.
func NewHandler(service *Service, reconciler *Reconciler, verifier WebhookVerifier, logger *slog.Logger) *Handler {
	return &Handler{service: service, reconciler: reconciler, verifier: verifier, logger: logger}
}

// RegisterWebhook mounts the unauthenticated webhook endpoint.
func (h *Handler) RegisterWebhook(r *gin.RouterGroup) {
	r.POST("/billing/webhook", h.Webhook)
}

// RegisterRoutes mounts the authenticated billing endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/billing/subscribe", h.Subscribe)
	r.POST("/billing/purchase", h.Purchase)
	r.POST("/billing/cancel", h.Cancel)
	r.GET("/billing/subscription", h.Subscription)
}

// Webhook handles POST /billing/webhook.
//
// Only a bad signature is rejected; processing failures are logged and the
// event acknowledged so the provider does not redeliver a payload we cannot
// use anyway.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read_error", "message": "Could not read request body"})
		return
	}

	event, err := h.verifier.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "Webhook signature verification failed"})
		return
	}

	outcome := h.dispatch(c, event)
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), string(outcome)).Inc()

	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}

func (h *Handler) dispatch(c *gin.Context, event stripe.Event) Outcome {
	ctx := c.Request.Context()

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			h.logger.Error("malformed checkout session payload", "event_id", event.ID, "error", err)
			return OutcomeSkipped
		}
		outcome, err := h.reconciler.HandleCheckoutCompleted(ctx, &session)
		h.logOutcome(event, outcome, err)
		return outcome

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			h.logger.Error("malformed invoice payload", "event_id", event.ID, "error", err)
			return OutcomeSkipped
		}
		outcome, err := h.reconciler.HandleInvoicePaid(ctx, &inv)
		h.logOutcome(event, outcome, err)
		return outcome

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			h.logger.Error("malformed subscription payload", "event_id", event.ID, "error", err)
			return OutcomeSkipped
		}
		outcome, err := h.reconciler.HandleSubscriptionUpdated(ctx, &sub)
		h.logOutcome(event, outcome, err)
		return outcome

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			h.logger.Error("malformed subscription payload", "event_id", event.ID, "error", err)
			return OutcomeSkipped
		}
		outcome, err := h.reconciler.HandleSubscriptionDeleted(ctx, &sub)
		h.logOutcome(event, outcome, err)
		return outcome

	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type, "event_id", event.ID)
		return OutcomeSkipped
	}
}

func (h *Handler) logOutcome(event stripe.Event, outcome Outcome, err error) {
	if err != nil {
		h.logger.Error("webhook event processing failed",
			"type", event.Type, "event_id", event.ID, "outcome", outcome, "error", err)
		return
	}
	h.logger.Info("webhook event processed", "type", event.Type, "event_id", event.ID, "outcome", outcome)
}

// SubscribeRequest selects a plan.
type SubscribeRequest struct {
	PlanID string `json:"planId" binding:"required"`
}

// Subscribe handles POST /billing/subscribe
func (h *Handler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "planId is required"})
		return
	}

	result, err := h.service.Subscribe(c.Request.Context(), c.GetString("user_id"), req.PlanID)
	if err != nil {
		switch {
		case errors.Is(err, plans.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found", "message": "Unknown plan"})
		case errors.Is(err, ErrPlanNotPayable):
			c.JSON(http.StatusConflict, gin.H{"error": "plan_not_payable", "message": "Plan is not purchasable"})
		case errors.Is(err, ErrPaymentsDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments_disabled", "message": "Payments are not configured"})
		default:
			h.logger.Error("subscribe failed", "user_id", c.GetString("user_id"), "plan_id", req.PlanID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe_error", "message": "Failed to start subscription"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// PurchaseRequest selects a credit pack quantity.
type PurchaseRequest struct {
	Quantity int64 `json:"quantity"`
}

// Purchase handles POST /billing/purchase
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	url, err := h.service.PurchaseCredits(c.Request.Context(), c.GetString("user_id"), req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found", "message": "User not found"})
		case errors.Is(err, plans.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found", "message": "Credit pack plan is not configured"})
		case errors.Is(err, ErrPlanNotPayable):
			c.JSON(http.StatusConflict, gin.H{"error": "plan_not_payable", "message": "Credit pack has no price configured"})
		case errors.Is(err, ErrPaymentsDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments_disabled", "message": "Payments are not configured"})
		default:
			h.logger.Error("credit purchase failed", "user_id", c.GetString("user_id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "purchase_error", "message": "Failed to start purchase"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkoutUrl": url})
}

// Cancel handles POST /billing/cancel
func (h *Handler) Cancel(c *gin.Context) {
	err := h.service.Cancel(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNoSubscription):
			c.JSON(http.StatusNotFound, gin.H{"error": "no_subscription", "message": "No active subscription"})
		case errors.Is(err, ErrAlreadyCanceled):
			c.JSON(http.StatusConflict, gin.H{"error": "already_canceled", "message": "Subscription is already set to cancel"})
		case errors.Is(err, ErrPaymentsDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments_disabled", "message": "Payments are not configured"})
		default:
			h.logger.Error("cancel failed", "user_id", c.GetString("user_id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel_error", "message": "Failed to cancel subscription"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

// Subscription handles GET /billing/subscription
func (h *Handler) Subscription(c *gin.Context) {
	summary, err := h.service.GetSummary(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found", "message": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary_error", "message": "Failed to load billing summary"})
		return
	}

	c.JSON(http.StatusOK, summary)
}
