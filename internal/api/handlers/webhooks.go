// Package handlers contains the HTTP handler implementations for the
// TrustedBy API: payment vendor webhooks, billing and access endpoints,
// API token management, and widget analytics.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/easyash/trustedby/internal/billing"
	"github.com/easyash/trustedby/internal/core"
	"github.com/easyash/trustedby/internal/external"
	"github.com/easyash/trustedby/internal/types"
)

// maxWebhookBodySize caps a webhook payload at 64 KB. Vendor payloads are
// small; the limit protects against abuse on an unauthenticated endpoint.
const maxWebhookBodySize = 64 * 1024

// razorpaySignatureHeader and dodoSignatureHeader carry the hex HMAC-SHA256
// of the raw request body.
const (
	razorpaySignatureHeader = "X-Razorpay-Signature"
	dodoSignatureHeader     = "X-Dodo-Signature"
)

// LifecycleEventSink consumes normalized lifecycle events. Implemented by
// billing.Service.
type LifecycleEventSink interface {
	ApplyEvent(ctx context.Context, ev billing.Event) error
}

// WebhookHandler authenticates and dispatches payment vendor webhooks. It is
// not behind auth middleware; security comes from verifying the signature
// header against the vendor's shared secret. Verification happens before
// anything else, so a forged payload never reaches the customer store.
type WebhookHandler struct {
	razorpayVerifier external.WebhookVerifier
	dodoVerifier     external.WebhookVerifier
	events           LifecycleEventSink
	logger           *slog.Logger
}

func NewWebhookHandler(
	razorpayVerifier external.WebhookVerifier,
	dodoVerifier external.WebhookVerifier,
	events LifecycleEventSink,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		razorpayVerifier: razorpayVerifier,
		dodoVerifier:     dodoVerifier,
		events:           events,
		logger:           logger,
	}
}

// RegisterRoutes mounts the webhook endpoints. Kept separate from the
// authenticated billing routes because these are public.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/razorpay", h.HandleRazorpay)
	r.Post("/webhooks/dodo", h.HandleDodo)
}

// HandleRazorpay processes a Razorpay webhook delivery.
func (h *WebhookHandler) HandleRazorpay(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readAndVerify(w, r, h.razorpayVerifier, razorpaySignatureHeader)
	if !ok {
		return
	}

	var payload razorpayWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationFailed,
			"malformed webhook payload",
			err,
		))
		return
	}

	ev, known := normalizeRazorpayEvent(payload)
	h.dispatch(w, r, ev, known, payload.Event)
}

// HandleDodo processes a Dodo Payments webhook delivery.
func (h *WebhookHandler) HandleDodo(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readAndVerify(w, r, h.dodoVerifier, dodoSignatureHeader)
	if !ok {
		return
	}

	var payload dodoWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationFailed,
			"malformed webhook payload",
			err,
		))
		return
	}

	ev, known := normalizeDodoEvent(payload)
	h.dispatch(w, r, ev, known, payload.Type)
}

// readAndVerify reads the raw body and checks the signature header. On
// failure it writes the error response and returns ok=false. A missing or
// mismatched signature is a 400, never a 401: it is a malformed request,
// and an auth challenge would provoke vendor retry storms.
func (h *WebhookHandler) readAndVerify(w http.ResponseWriter, r *http.Request, verifier external.WebhookVerifier, header string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationFailed,
			"unable to read request body",
			err,
		))
		return nil, false
	}

	signature := r.Header.Get(header)
	if signature == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"missing webhook signature",
			nil,
		))
		return nil, false
	}

	if err := verifier.Verify(body, signature); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"header", header,
			"error", err,
		)
		core.Error(w, r, err)
		return nil, false
	}

	return body, true
}

// dispatch applies a normalized event and acknowledges the delivery. Unknown
// vendor event types are acknowledged without dispatching so new vendor
// events never break the endpoint.
func (h *WebhookHandler) dispatch(w http.ResponseWriter, r *http.Request, ev billing.Event, known bool, vendorType string) {
	if !known {
		h.logger.InfoContext(r.Context(), "ignoring unhandled webhook event",
			"vendor_type", vendorType,
		)
		core.JSON(w, r, http.StatusOK, webhookAck{Received: true, Event: vendorType})
		return
	}

	if err := h.events.ApplyEvent(r.Context(), ev); err != nil {
		// A non-2xx makes the vendor redeliver; the idempotent transition
		// logic makes that safe.
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"vendor_type", vendorType,
			"kind", string(ev.Kind),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, webhookAck{Received: true, Event: vendorType})
}

type webhookAck struct {
	Received bool   `json:"received"`
	Event    string `json:"event"`
}

// ---------------------------------------------------------------------------
// Razorpay payload normalization
// ---------------------------------------------------------------------------

type razorpayWebhookPayload struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Subscription struct {
			Entity struct {
				ID         string            `json:"id"`
				Status     string            `json:"status"`
				CurrentEnd int64             `json:"current_end"`
				Notes      map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"subscription"`
		Payment struct {
			Entity struct {
				ID             string `json:"id"`
				SubscriptionID string `json:"subscription_id"`
				Email          string `json:"email"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// normalizeRazorpayEvent maps a Razorpay event to its canonical lifecycle
// event. subscription.charged counts as a renewal; applied to a customer not
// yet active it activates them, which also covers the first charge and
// out-of-order delivery. subscription.completed means the final paid cycle
// ended after a cancellation, so it maps to cancelled. paused and halted are
// vendor-side suspensions.
func normalizeRazorpayEvent(p razorpayWebhookPayload) (billing.Event, bool) {
	sub := p.Payload.Subscription.Entity
	pay := p.Payload.Payment.Entity

	ev := billing.Event{
		Provider:    types.ProviderRazorpay,
		ProviderRef: sub.ID,
		CustomerID:  sub.Notes["customer_id"],
		OccurredAt:  unixOrNow(p.CreatedAt),
		VendorType:  p.Event,
	}
	if ev.ProviderRef == "" {
		ev.ProviderRef = pay.SubscriptionID
	}
	if ev.CustomerEmail == "" {
		ev.CustomerEmail = pay.Email
	}

	switch p.Event {
	case "subscription.activated", "subscription.authenticated":
		ev.Kind = billing.KindActivated
	case "subscription.charged":
		ev.Kind = billing.KindRenewed
	case "subscription.cancelled", "subscription.completed":
		ev.Kind = billing.KindCancelled
		if sub.CurrentEnd > 0 {
			end := time.Unix(sub.CurrentEnd, 0).UTC()
			ev.PeriodEnd = &end
		}
	case "subscription.paused", "subscription.halted":
		ev.Kind = billing.KindOnHold
	case "payment.failed":
		ev.Kind = billing.KindPaymentFailed
	default:
		return billing.Event{}, false
	}

	return ev, true
}

// ---------------------------------------------------------------------------
// Dodo payload normalization
// ---------------------------------------------------------------------------

type dodoWebhookPayload struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Data      struct {
		SubscriptionID  string            `json:"subscription_id"`
		PaymentID       string            `json:"payment_id"`
		NextBillingDate string            `json:"next_billing_date"`
		Metadata        map[string]string `json:"metadata"`
		Customer        struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

// normalizeDodoEvent maps a Dodo Payments event to its canonical lifecycle
// event. payment.succeeded maps to activated because Dodo payloads for it
// sometimes arrive before the subscription.active event and may carry only
// the customer email; activation is idempotent so the duplicate is harmless.
// subscription.created is informational (checkout opened, nothing paid yet).
func normalizeDodoEvent(p dodoWebhookPayload) (billing.Event, bool) {
	ev := billing.Event{
		Provider:      types.ProviderDodo,
		ProviderRef:   p.Data.SubscriptionID,
		CustomerID:    p.Data.Metadata["customer_id"],
		CustomerEmail: p.Data.Customer.Email,
		OccurredAt:    rfc3339OrNow(p.Timestamp),
		VendorType:    p.Type,
	}

	switch p.Type {
	case "subscription.active", "subscription.activated":
		ev.Kind = billing.KindActivated
	case "subscription.renewed":
		ev.Kind = billing.KindRenewed
	case "subscription.cancelled":
		ev.Kind = billing.KindCancelled
		if end, err := time.Parse(time.RFC3339, p.Data.NextBillingDate); err == nil {
			endUTC := end.UTC()
			ev.PeriodEnd = &endUTC
		}
	case "subscription.expired":
		ev.Kind = billing.KindExpired
	case "subscription.on_hold":
		ev.Kind = billing.KindOnHold
	case "subscription.failed", "payment.failed":
		ev.Kind = billing.KindPaymentFailed
	case "payment.succeeded":
		ev.Kind = billing.KindActivated
	default:
		return billing.Event{}, false
	}

	return ev, true
}

func unixOrNow(ts int64) time.Time {
	if ts <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(ts, 0).UTC()
}

func rfc3339OrNow(ts string) time.Time {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}
