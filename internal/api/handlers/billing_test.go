package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyash/trustedby/internal/billing"
	"github.com/easyash/trustedby/internal/core"
	"github.com/easyash/trustedby/internal/types"
)

type fakeSubscriptionService struct {
	intent     *billing.CheckoutIntent
	intentErr  error
	snap       types.SubscriptionSnapshot
	cancelErr  error
	verifyErr  error
	access     billing.Access
	accessErr  error
	remote     *billing.RemoteSubscription
	payments   []billing.PaymentRecord
	lastParams map[string]string
}

func (f *fakeSubscriptionService) StartCheckout(_ context.Context, customerID string, currency types.Currency, period types.BillingPeriod) (*billing.CheckoutIntent, error) {
	f.lastParams = map[string]string{
		"customer_id": customerID,
		"currency":    string(currency),
		"period":      string(period),
	}
	return f.intent, f.intentErr
}

func (f *fakeSubscriptionService) Cancel(_ context.Context, customerID string) (types.SubscriptionSnapshot, error) {
	f.lastParams = map[string]string{"customer_id": customerID}
	return f.snap, f.cancelErr
}

func (f *fakeSubscriptionService) VerifyCheckout(_ context.Context, customerID, subscriptionID, orderID, paymentID, signature string) error {
	f.lastParams = map[string]string{
		"customer_id":     customerID,
		"subscription_id": subscriptionID,
		"payment_id":      paymentID,
		"signature":       signature,
	}
	return f.verifyErr
}

func (f *fakeSubscriptionService) AccessFor(_ context.Context, customerID string) (billing.Access, error) {
	f.lastParams = map[string]string{"customer_id": customerID}
	return f.access, f.accessErr
}

func (f *fakeSubscriptionService) Subscription(_ context.Context, _ string) (*billing.RemoteSubscription, error) {
	return f.remote, nil
}

func (f *fakeSubscriptionService) Payments(_ context.Context, _ string) ([]billing.PaymentRecord, error) {
	return f.payments, nil
}

func newBillingHandler(svc SubscriptionService) *BillingHandler {
	return NewBillingHandler(svc, core.NewValidator(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func authedRequest(method, path, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	actor := &types.Actor{ID: "tok_1", CustomerID: "cus_1", Source: types.ActorSourceAPIToken}
	return r.WithContext(types.WithActor(r.Context(), actor))
}

func TestStartCheckoutReturnsIntent(t *testing.T) {
	svc := &fakeSubscriptionService{
		intent: &billing.CheckoutIntent{
			Provider:    types.ProviderRazorpay,
			ProviderRef: "sub_rz_1",
			RedirectURL: "https://rzp.io/checkout/abc",
		},
	}
	h := newBillingHandler(svc)

	w := httptest.NewRecorder()
	h.StartCheckout(w, authedRequest(http.MethodPost, "/v1/billing/subscription",
		`{"currency":"USD","billing_period":"monthly"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://rzp.io/checkout/abc")
	assert.Equal(t, "cus_1", svc.lastParams["customer_id"])
	assert.Equal(t, "USD", svc.lastParams["currency"])
	assert.Equal(t, "monthly", svc.lastParams["period"])
}

func TestStartCheckoutRejectsUnknownCurrency(t *testing.T) {
	svc := &fakeSubscriptionService{}
	h := newBillingHandler(svc)

	w := httptest.NewRecorder()
	h.StartCheckout(w, authedRequest(http.MethodPost, "/v1/billing/subscription",
		`{"currency":"EUR","billing_period":"monthly"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, svc.lastParams)
}

func TestStartCheckoutRequiresAuth(t *testing.T) {
	h := newBillingHandler(&fakeSubscriptionService{})

	w := httptest.NewRecorder()
	h.StartCheckout(w, httptest.NewRequest(http.MethodPost, "/v1/billing/subscription",
		strings.NewReader(`{"currency":"USD","billing_period":"monthly"}`)))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCancelReturnsGraceEnd(t *testing.T) {
	ends := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	svc := &fakeSubscriptionService{
		snap: types.SubscriptionSnapshot{
			CustomerID:         "cus_1",
			Status:             types.StatusCancelled,
			SubscriptionEndsAt: &ends,
		},
	}
	h := newBillingHandler(svc)

	w := httptest.NewRecorder()
	h.Cancel(w, authedRequest(http.MethodPost, "/v1/billing/subscription/cancel", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)
	assert.Contains(t, w.Body.String(), "2026-03-10")
}

func TestCancelSurfacesVendorFailure(t *testing.T) {
	svc := &fakeSubscriptionService{
		cancelErr: types.NewAppError(types.ErrCodeBillingCancellationFailed, "vendor rejected the cancellation", nil),
	}
	h := newBillingHandler(svc)

	w := httptest.NewRecorder()
	h.Cancel(w, authedRequest(http.MethodPost, "/v1/billing/subscription/cancel", ""))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "billing_cancellation_failed")
}

func TestVerifyCheckout(t *testing.T) {
	svc := &fakeSubscriptionService{}
	h := newBillingHandler(svc)

	w := httptest.NewRecorder()
	h.VerifyCheckout(w, authedRequest(http.MethodPost, "/v1/billing/verify",
		`{"razorpay_subscription_id":"sub_rz_1","razorpay_order_id":"order_1","razorpay_payment_id":"pay_1","razorpay_signature":"sig"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"verified":true`)
	assert.Equal(t, "sub_rz_1", svc.lastParams["subscription_id"])
	assert.Equal(t, "pay_1", svc.lastParams["payment_id"])
}

func TestVerifyCheckoutMissingSignature(t *testing.T) {
	svc := &fakeSubscriptionService{}
	h := newBillingHandler(svc)

	w := httptest.NewRecorder()
	h.VerifyCheckout(w, authedRequest(http.MethodPost, "/v1/billing/verify",
		`{"razorpay_subscription_id":"sub_rz_1","razorpay_payment_id":"pay_1"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, svc.lastParams)
}

func TestGetAccess(t *testing.T) {
	svc := &fakeSubscriptionService{
		access: billing.Access{
			IsActive:           true,
			IsPro:              true,
			CanModerate:        true,
			CanCreateCampaigns: true,
			CanUpdateSettings:  true,
			DaysRemaining:      billing.UnboundedDays,
		},
	}
	h := newBillingHandler(svc)

	w := httptest.NewRecorder()
	h.GetAccess(w, authedRequest(http.MethodGet, "/v1/access", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"can_moderate":true`)
	assert.Equal(t, "cus_1", svc.lastParams["customer_id"])
}

func TestListPaymentsEmptyHistoryIsAnArray(t *testing.T) {
	h := newBillingHandler(&fakeSubscriptionService{})

	w := httptest.NewRecorder()
	h.ListPayments(w, authedRequest(http.MethodGet, "/v1/billing/payments", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}

func TestGetSubscription(t *testing.T) {
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := &fakeSubscriptionService{
		remote: &billing.RemoteSubscription{
			ProviderRef:      "sub_rz_1",
			Status:           "active",
			CurrentPeriodEnd: &end,
		},
	}
	h := newBillingHandler(svc)

	w := httptest.NewRecorder()
	h.GetSubscription(w, authedRequest(http.MethodGet, "/v1/billing/subscription", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"provider_ref":"sub_rz_1"`)
}

func TestNotFoundSubscriptionMapsTo404(t *testing.T) {
	svc := &fakeSubscriptionService{
		accessErr: types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", nil),
	}
	h := newBillingHandler(svc)

	w := httptest.NewRecorder()
	h.GetAccess(w, authedRequest(http.MethodGet, "/v1/access", ""))

	require.Equal(t, http.StatusNotFound, w.Code)
}
