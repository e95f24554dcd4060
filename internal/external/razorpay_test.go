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

var testPlans = billing.PlanCatalog{
	{Currency: types.CurrencyUSD, Period: types.PeriodMonthly}: "plan_usd_m",
	{Currency: types.CurrencyUSD, Period: types.PeriodAnnual}:  "plan_usd_a",
	{Currency: types.CurrencyINR, Period: types.PeriodMonthly}: "plan_inr_m",
	{Currency: types.CurrencyINR, Period: types.PeriodAnnual}:  "plan_inr_a",
}

func newTestBaseClient() *BaseClient {
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test",
		RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond},
		"TrustedBy-test",
		WithSleepFunc(func(time.Duration) {}),
	)
}

func newRazorpayTestClient(serverURL string) *RazorpayClient {
	return NewRazorpayClientWithBase(newTestBaseClient(), RazorpayClientConfig{
		KeyID:     "rzp_key",
		KeySecret: "rzp_secret",
		BaseURL:   serverURL,
		Plans:     testPlans,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestRazorpayCreateSubscription(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "rzp_secret", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"sub_rz_1","plan_id":"plan_usd_m","status":"created"}`))
	}))
	defer server.Close()

	client := newRazorpayTestClient(server.URL)
	intent, err := client.CreateSubscription(context.Background(), billing.CreateSubscriptionParams{
		Currency:      types.CurrencyUSD,
		BillingPeriod: types.PeriodMonthly,
		CustomerID:    "cus_1",
		CustomerEmail: "owner@example.com",
	})

	require.NoError(t, err)
	assert.Equal(t, "/v1/subscriptions", gotPath)
	assert.Equal(t, "plan_usd_m", gotBody["plan_id"])
	notes, ok := gotBody["notes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cus_1", notes["customer_id"])

	assert.Equal(t, types.ProviderRazorpay, intent.Provider)
	assert.Equal(t, "sub_rz_1", intent.ProviderRef)
	assert.Equal(t, "sub_rz_1", intent.ClientToken)
	assert.Empty(t, intent.RedirectURL)
}

func TestRazorpayCreateSubscriptionUnknownPlan(t *testing.T) {
	client := newRazorpayTestClient("http://127.0.0.1:0")

	_, err := client.CreateSubscription(context.Background(), billing.CreateSubscriptionParams{
		Currency:      types.Currency("EUR"),
		BillingPeriod: types.PeriodMonthly,
	})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidPlan, appErr.Code)
}

func TestRazorpayCancelSubscriptionReturnsCurrentEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions/sub_rz_1/cancel", r.URL.Path)
		w.Write([]byte(`{"id":"sub_rz_1","status":"cancelled","current_end":1772000000}`))
	}))
	defer server.Close()

	client := newRazorpayTestClient(server.URL)
	end, err := client.CancelSubscription(context.Background(), "sub_rz_1")

	require.NoError(t, err)
	assert.Equal(t, time.Unix(1772000000, 0).UTC(), end)
}

func TestRazorpayCancelSubscriptionWithoutEndReturnsZeroTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":"sub_rz_1","status":"cancelled"}`))
	}))
	defer server.Close()

	client := newRazorpayTestClient(server.URL)
	end, err := client.CancelSubscription(context.Background(), "sub_rz_1")

	require.NoError(t, err)
	assert.True(t, end.IsZero())
}

func TestRazorpayFetchSubscriptionIncludesCardNotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions/sub_rz_1", r.URL.Path)
		w.Write([]byte(`{"id":"sub_rz_1","plan_id":"plan_inr_m","status":"active","current_end":1772000000,"notes":{"card_last4":"4242","card_brand":"Visa","card_expiry":"12/2027"}}`))
	}))
	defer server.Close()

	client := newRazorpayTestClient(server.URL)
	remote, err := client.FetchSubscription(context.Background(), "sub_rz_1")

	require.NoError(t, err)
	assert.Equal(t, "active", remote.Status)
	require.NotNil(t, remote.PaymentMethod)
	assert.Equal(t, "Visa", remote.PaymentMethod.Brand)
	assert.Equal(t, "4242", remote.PaymentMethod.Last4)
	assert.Equal(t, "12/2027", remote.PaymentMethod.Expiry)
}

func TestRazorpayFetchSubscriptionWithoutCardNotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":"sub_rz_1","plan_id":"plan_inr_m","status":"active"}`))
	}))
	defer server.Close()

	client := newRazorpayTestClient(server.URL)
	remote, err := client.FetchSubscription(context.Background(), "sub_rz_1")

	require.NoError(t, err)
	assert.Nil(t, remote.PaymentMethod)
	assert.Nil(t, remote.CurrentPeriodEnd)
}

func TestRazorpayNotFoundMapsToSubscriptionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"not found"}}`))
	}))
	defer server.Close()

	client := newRazorpayTestClient(server.URL)
	_, err := client.FetchSubscription(context.Background(), "sub_gone")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)
}

func TestRazorpayServerErrorMapsToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"description":"maintenance"}}`))
	}))
	defer server.Close()

	client := newRazorpayTestClient(server.URL)
	_, err := client.CancelSubscription(context.Background(), "sub_rz_1")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamProviderUnavailable, appErr.Code)
}

func TestRazorpayListPayments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/invoices", r.URL.Path)
		assert.Equal(t, "sub_rz_1", r.URL.Query().Get("subscription_id"))
		w.Write([]byte(`{"count":2,"items":[
			{"id":"inv_2","amount":1200,"currency":"USD","status":"paid","created_at":1771000000,"short_url":"https://rzp.io/i/2"},
			{"id":"inv_1","amount":1200,"currency":"USD","status":"paid","created_at":1768000000,"short_url":"https://rzp.io/i/1"}
		]}`))
	}))
	defer server.Close()

	client := newRazorpayTestClient(server.URL)
	payments, err := client.ListPayments(context.Background(), "sub_rz_1")

	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "inv_2", payments[0].ID)
	assert.Equal(t, int64(1200), payments[0].AmountUnit)
	assert.Equal(t, "https://rzp.io/i/2", payments[0].InvoiceURL)
	assert.Equal(t, time.Unix(1771000000, 0).UTC(), payments[0].CreatedAt)
}
