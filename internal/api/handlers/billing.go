package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/easyash/trustedby/internal/billing"
	"github.com/easyash/trustedby/internal/core"
	"github.com/easyash/trustedby/internal/types"
)

// SubscriptionService is the slice of billing.Service the billing endpoints
// need. Defined here and injected via the constructor so handler tests can
// substitute fakes.
type SubscriptionService interface {
	StartCheckout(ctx context.Context, customerID string, currency types.Currency, period types.BillingPeriod) (*billing.CheckoutIntent, error)
	Cancel(ctx context.Context, customerID string) (types.SubscriptionSnapshot, error)
	VerifyCheckout(ctx context.Context, customerID, subscriptionID, orderID, paymentID, signature string) error
	AccessFor(ctx context.Context, customerID string) (billing.Access, error)
	Subscription(ctx context.Context, customerID string) (*billing.RemoteSubscription, error)
	Payments(ctx context.Context, customerID string) ([]billing.PaymentRecord, error)
}

// BillingHandler serves the authenticated subscription endpoints. Every
// route resolves the customer from the request actor, never from the body,
// so a token can only ever operate on its own account.
type BillingHandler struct {
	service   SubscriptionService
	validator *core.Validator
	logger    *slog.Logger
}

func NewBillingHandler(service SubscriptionService, validator *core.Validator, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		service:   service,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the billing and access endpoints.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Post("/subscription", h.StartCheckout)
		r.Get("/subscription", h.GetSubscription)
		r.Post("/subscription/cancel", h.Cancel)
		r.Post("/verify", h.VerifyCheckout)
		r.Get("/payments", h.ListPayments)
	})
	r.Get("/access", h.GetAccess)
}

type startCheckoutRequest struct {
	Currency      string `json:"currency" validate:"required,oneof=USD INR"`
	BillingPeriod string `json:"billing_period" validate:"required,oneof=monthly annual"`
}

// StartCheckout begins a subscription purchase through the active provider.
//
// POST /v1/billing/subscription
func (h *BillingHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req startCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	intent, err := h.service.StartCheckout(r.Context(), actor.CustomerID,
		types.Currency(req.Currency), types.BillingPeriod(req.BillingPeriod))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: intent})
}

type cancelResponse struct {
	Status             string     `json:"status"`
	SubscriptionEndsAt *time.Time `json:"subscription_ends_at,omitempty"`
}

// Cancel cancels the customer's subscription at the vendor and returns the
// end of the paid grace period. Safe to call repeatedly.
//
// POST /v1/billing/subscription/cancel
func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	snap, err := h.service.Cancel(r.Context(), actor.CustomerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: cancelResponse{
		Status:             string(snap.Status),
		SubscriptionEndsAt: snap.SubscriptionEndsAt,
	}})
}

// verifyCheckoutRequest carries the Razorpay client-side checkout callback
// fields, named exactly as the Razorpay checkout script posts them.
type verifyCheckoutRequest struct {
	SubscriptionID string `json:"razorpay_subscription_id" validate:"required"`
	OrderID        string `json:"razorpay_order_id"`
	PaymentID      string `json:"razorpay_payment_id" validate:"required"`
	Signature      string `json:"razorpay_signature" validate:"required"`
}

// VerifyCheckout authenticates a checkout callback and activates the
// subscription without waiting for the webhook.
//
// POST /v1/billing/verify
func (h *BillingHandler) VerifyCheckout(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req verifyCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.service.VerifyCheckout(r.Context(), actor.CustomerID,
		req.SubscriptionID, req.OrderID, req.PaymentID, req.Signature); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"verified": true}})
}

// GetSubscription returns the vendor-side view of the customer's
// subscription.
//
// GET /v1/billing/subscription
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Subscription(r.Context(), actor.CustomerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: sub})
}

// ListPayments returns the customer's charge history, newest first.
//
// GET /v1/billing/payments
func (h *BillingHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	payments, err := h.service.Payments(r.Context(), actor.CustomerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if payments == nil {
		payments = []billing.PaymentRecord{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: payments})
}

// GetAccess evaluates the access policy for the customer at request time.
// This is the endpoint the dashboard and the widget backend poll to decide
// what to render.
//
// GET /v1/access
func (h *BillingHandler) GetAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	access, err := h.service.AccessFor(r.Context(), actor.CustomerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: access})
}
