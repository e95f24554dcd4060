package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/easyash/trustedby/internal/billing"
	"github.com/easyash/trustedby/internal/types"
)

// razorpayAPIBase is the default Razorpay API base URL, overridable in tests
// via RazorpayClientConfig.BaseURL.
const razorpayAPIBase = "https://api.razorpay.com"

// razorpaySubscriptionCycles is the total_count sent on subscription
// creation. Razorpay requires a finite cycle count; twelve covers a year of
// monthly charges and renews through the vendor dashboard policy.
const razorpaySubscriptionCycles = 12

// RazorpayClientConfig holds the configuration for creating a RazorpayClient.
type RazorpayClientConfig struct {
	KeyID     string
	KeySecret types.SecretString
	BaseURL   string // test override; defaults to razorpayAPIBase
	Plans     billing.PlanCatalog
	Logger    *slog.Logger
}

// RazorpayClient implements billing.ProviderGateway by calling the Razorpay REST API
// through BaseClient, so every call inherits the circuit breaker, retry and
// error-mapping behavior. Razorpay checkouts hand back a subscription ID that
// the embedded modal consumes as its client token.
type RazorpayClient struct {
	base      *BaseClient
	keyID     string
	keySecret types.SecretString
	baseURL   string
	plans     billing.PlanCatalog
	logger    *slog.Logger
}

func NewRazorpayClient(httpClient *http.Client, cfg RazorpayClientConfig) *RazorpayClient {
	base := NewBaseClient(
		httpClient,
		"razorpay",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"TrustedBy/1.0",
	)
	return NewRazorpayClientWithBase(base, cfg)
}

// NewRazorpayClientWithBase creates a RazorpayClient over a pre-configured
// BaseClient, used by tests to control retry and breaker behavior.
func NewRazorpayClientWithBase(base *BaseClient, cfg RazorpayClientConfig) *RazorpayClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = razorpayAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RazorpayClient{
		base:      base,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		plans:     cfg.Plans,
		logger:    logger,
	}
}

func (r *RazorpayClient) Name() types.PaymentProvider {
	return types.ProviderRazorpay
}

// CreateSubscription provisions a Razorpay subscription on the plan resolved
// from the catalog and returns the subscription ID as the modal client token.
// The customer ID travels in the notes block so webhooks can correlate.
func (r *RazorpayClient) CreateSubscription(ctx context.Context, params billing.CreateSubscriptionParams) (*billing.CheckoutIntent, error) {
	planID, err := r.plans.Resolve(params.Currency, params.BillingPeriod)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"plan_id":         planID,
		"total_count":     razorpaySubscriptionCycles,
		"quantity":        1,
		"customer_notify": 1,
		"notes": map[string]string{
			"customer_id": params.CustomerID,
			"email":       params.CustomerEmail,
		},
	}

	resp, err := r.doPost(ctx, "/v1/subscriptions", payload)
	if err != nil {
		return nil, r.wrapTransportError("CreateSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, r.handleErrorResponse(resp, "CreateSubscription")
	}

	var sub razorpaySubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalError,
			"failed to decode Razorpay subscription response",
			err,
		)
	}

	r.logger.InfoContext(ctx, "razorpay subscription created",
		"subscription_id", sub.ID,
		"plan_id", planID,
		"customer_id", params.CustomerID,
	)

	return &billing.CheckoutIntent{
		Provider:    types.ProviderRazorpay,
		ProviderRef: sub.ID,
		ClientToken: sub.ID,
	}, nil
}

// CancelSubscription cancels at cycle end and returns the end of the current
// paid cycle. A missing current_end yields the zero time; the caller applies
// its fallback.
func (r *RazorpayClient) CancelSubscription(ctx context.Context, providerRef string) (time.Time, error) {
	payload := map[string]any{"cancel_at_cycle_end": 1}

	resp, err := r.doPost(ctx, "/v1/subscriptions/"+url.PathEscape(providerRef)+"/cancel", payload)
	if err != nil {
		return time.Time{}, r.wrapTransportError("CancelSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, r.handleErrorResponse(resp, "CancelSubscription")
	}

	var sub razorpaySubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return time.Time{}, types.NewAppError(
			types.ErrCodeInternalError,
			"failed to decode Razorpay cancellation response",
			err,
		)
	}

	if sub.CurrentEnd == 0 {
		return time.Time{}, nil
	}
	return time.Unix(sub.CurrentEnd, 0).UTC(), nil
}

func (r *RazorpayClient) FetchSubscription(ctx context.Context, providerRef string) (*billing.RemoteSubscription, error) {
	resp, err := r.doGet(ctx, "/v1/subscriptions/"+url.PathEscape(providerRef), nil)
	if err != nil {
		return nil, r.wrapTransportError("FetchSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, r.handleErrorResponse(resp, "FetchSubscription")
	}

	var sub razorpaySubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalError,
			"failed to decode Razorpay subscription response",
			err,
		)
	}

	remote := &billing.RemoteSubscription{
		ProviderRef: sub.ID,
		Status:      sub.Status,
		PlanID:      sub.PlanID,
	}
	if sub.CurrentEnd > 0 {
		end := time.Unix(sub.CurrentEnd, 0).UTC()
		remote.CurrentPeriodEnd = &end
	}
	if last4 := sub.Notes["card_last4"]; last4 != "" {
		remote.PaymentMethod = &billing.PaymentMethod{
			Brand:  sub.Notes["card_brand"],
			Last4:  last4,
			Expiry: sub.Notes["card_expiry"],
		}
	}
	return remote, nil
}

// ListPayments returns the subscription's invoices, which carry the charge
// outcomes for each cycle.
func (r *RazorpayClient) ListPayments(ctx context.Context, providerRef string) ([]billing.PaymentRecord, error) {
	params := url.Values{}
	params.Set("subscription_id", providerRef)

	resp, err := r.doGet(ctx, "/v1/invoices", params)
	if err != nil {
		return nil, r.wrapTransportError("ListPayments", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, r.handleErrorResponse(resp, "ListPayments")
	}

	var list razorpayInvoiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalError,
			"failed to decode Razorpay invoice list",
			err,
		)
	}

	records := make([]billing.PaymentRecord, 0, len(list.Items))
	for _, inv := range list.Items {
		records = append(records, billing.PaymentRecord{
			ID:         inv.ID,
			AmountUnit: inv.Amount,
			Currency:   inv.Currency,
			Status:     inv.Status,
			CreatedAt:  time.Unix(inv.CreatedAt, 0).UTC(),
			InvoiceURL: inv.ShortURL,
		})
	}
	return records, nil
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func (r *RazorpayClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := r.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(r.keyID, r.keySecret.Unmask())

	return r.base.Do(req)
}

func (r *RazorpayClient) doPost(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.keyID, r.keySecret.Unmask())

	return r.base.Do(req)
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

type razorpayErrorResponse struct {
	Error razorpayErrorBody `json:"error"`
}

type razorpayErrorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Field       string `json:"field"`
}

func (r *RazorpayClient) handleErrorResponse(resp *http.Response, operation string) error {
	var rzpErr razorpayErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&rzpErr); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamProviderRejected,
			fmt.Sprintf("%s: Razorpay returned status %d with unreadable body", operation, resp.StatusCode),
			err,
		)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundSubscription,
			fmt.Sprintf("%s: Razorpay resource not found: %s", operation, rzpErr.Error.Description),
			nil,
		)
	case resp.StatusCode == http.StatusUnauthorized:
		return types.NewAppError(
			types.ErrCodeAuthUnauthorized,
			fmt.Sprintf("%s: Razorpay rejected API credentials", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamProviderUnavailable,
			fmt.Sprintf("%s: Razorpay server error: %s", operation, rzpErr.Error.Description),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamProviderRejected,
			fmt.Sprintf("%s: Razorpay error (%d): %s", operation, resp.StatusCode, rzpErr.Error.Description),
			nil,
		)
	}
}

// wrapTransportError passes BaseClient AppErrors through unchanged; they
// already carry the right upstream code.
func (r *RazorpayClient) wrapTransportError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamProviderUnavailable,
		fmt.Sprintf("%s: Razorpay request failed", operation),
		err,
	)
}

// ---------------------------------------------------------------------------
// Razorpay response types
// ---------------------------------------------------------------------------

type razorpaySubscription struct {
	ID         string            `json:"id"`
	PlanID     string            `json:"plan_id"`
	Status     string            `json:"status"`
	CurrentEnd int64             `json:"current_end"`
	EndedAt    int64             `json:"ended_at"`
	ShortURL   string            `json:"short_url"`
	Notes      map[string]string `json:"notes"`
}

type razorpayInvoice struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	ShortURL  string `json:"short_url"`
}

type razorpayInvoiceList struct {
	Count int               `json:"count"`
	Items []razorpayInvoice `json:"items"`
}

var _ billing.ProviderGateway = (*RazorpayClient)(nil)
