package external

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyash/trustedby/internal/billing"
	"github.com/easyash/trustedby/internal/types"
)

var testProducts = billing.PlanCatalog{
	{Currency: types.CurrencyUSD, Period: types.PeriodMonthly}: "prod_usd_m",
	{Currency: types.CurrencyUSD, Period: types.PeriodAnnual}:  "prod_usd_a",
	{Currency: types.CurrencyINR, Period: types.PeriodMonthly}: "prod_inr_m",
	{Currency: types.CurrencyINR, Period: types.PeriodAnnual}:  "prod_inr_a",
}

func newDodoTestClient(serverURL string) *DodoClient {
	return NewDodoClientWithBase(newTestBaseClient(), DodoClientConfig{
		APIKey:     "dodo_key",
		BaseURL:    serverURL,
		SuccessURL: "https://app.trustedby.dev/settings?payment=success",
		CancelURL:  "https://app.trustedby.dev/settings?payment=cancelled",
		Products:   testProducts,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestDodoCreateSubscriptionReturnsRedirect(t *testing.T) {
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment-links", r.URL.Path)
		assert.Equal(t, "Bearer dodo_key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"pl_1","url":"https://checkout.dodopayments.com/pl_1","subscription_id":"sub_dodo_1"}`))
	}))
	defer server.Close()

	client := newDodoTestClient(server.URL)
	intent, err := client.CreateSubscription(context.Background(), billing.CreateSubscriptionParams{
		Currency:      types.CurrencyINR,
		BillingPeriod: types.PeriodAnnual,
		CustomerID:    "cus_1",
		CustomerEmail: "owner@example.com",
	})

	require.NoError(t, err)
	assert.Equal(t, "prod_inr_a", gotBody["product_id"])
	metadata, ok := gotBody["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cus_1", metadata["customer_id"])
	assert.Equal(t, "INR", metadata["currency"])

	assert.Equal(t, types.ProviderDodo, intent.Provider)
	assert.Equal(t, "sub_dodo_1", intent.ProviderRef)
	assert.Equal(t, "https://checkout.dodopayments.com/pl_1", intent.RedirectURL)
	assert.Empty(t, intent.ClientToken)
}

func TestDodoCancelSubscriptionReturnsNextBillingDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/sub_dodo_1/cancel", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["cancel_at_period_end"])

		w.Write([]byte(`{"subscription_id":"sub_dodo_1","status":"cancelled","next_billing_date":"2026-03-10T00:00:00Z"}`))
	}))
	defer server.Close()

	client := newDodoTestClient(server.URL)
	end, err := client.CancelSubscription(context.Background(), "sub_dodo_1")

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), end)
}

func TestDodoCancelSubscriptionUnparseableDateFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"subscription_id":"sub_dodo_1","status":"cancelled","next_billing_date":"soon"}`))
	}))
	defer server.Close()

	client := newDodoTestClient(server.URL)
	end, err := client.CancelSubscription(context.Background(), "sub_dodo_1")

	require.NoError(t, err)
	assert.True(t, end.IsZero())
}

func TestDodoFetchSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/sub_dodo_1", r.URL.Path)
		w.Write([]byte(`{"subscription_id":"sub_dodo_1","product_id":"prod_inr_a","status":"active","next_billing_date":"2026-04-01T00:00:00Z"}`))
	}))
	defer server.Close()

	client := newDodoTestClient(server.URL)
	sub, err := client.FetchSubscription(context.Background(), "sub_dodo_1")

	require.NoError(t, err)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, "prod_inr_a", sub.PlanID)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), *sub.CurrentPeriodEnd)
}

func TestDodoListPayments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "sub_dodo_1", r.URL.Query().Get("subscription_id"))
		w.Write([]byte(`{"items":[
			{"payment_id":"pay_2","total_amount":89900,"currency":"INR","status":"succeeded","created_at":"2026-02-01T00:00:00Z","receipt_url":"https://dodo.dev/r/2"}
		]}`))
	}))
	defer server.Close()

	client := newDodoTestClient(server.URL)
	payments, err := client.ListPayments(context.Background(), "sub_dodo_1")

	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "pay_2", payments[0].ID)
	assert.Equal(t, int64(89900), payments[0].AmountUnit)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), payments[0].CreatedAt)
}

func TestDodoNotFoundMapsToSubscriptionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"subscription not found","code":"not_found"}`))
	}))
	defer server.Close()

	client := newDodoTestClient(server.URL)
	_, err := client.FetchSubscription(context.Background(), "sub_gone")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)
}
