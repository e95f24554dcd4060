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

// dodoAPIBase is the default Dodo Payments API base URL, overridable in
// tests via DodoClientConfig.BaseURL.
const dodoAPIBase = "https://live.dodopayments.com"

// DodoClientConfig holds the configuration for creating a DodoClient.
type DodoClientConfig struct {
	APIKey  types.SecretString
	BaseURL string // test override; defaults to dodoAPIBase
	// SuccessURL and CancelURL are where the hosted checkout sends the
	// customer after completion.
	SuccessURL string
	CancelURL  string
	Products   billing.PlanCatalog
	Logger     *slog.Logger
}

// DodoClient implements billing.ProviderGateway against the Dodo Payments REST API.
// Dodo checkouts are hosted payment links, so CreateSubscription returns a
// redirect URL rather than a client token.
type DodoClient struct {
	base       *BaseClient
	apiKey     types.SecretString
	baseURL    string
	successURL string
	cancelURL  string
	products   billing.PlanCatalog
	logger     *slog.Logger
}

func NewDodoClient(httpClient *http.Client, cfg DodoClientConfig) *DodoClient {
	base := NewBaseClient(
		httpClient,
		"dodo",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"TrustedBy/1.0",
	)
	return NewDodoClientWithBase(base, cfg)
}

// NewDodoClientWithBase creates a DodoClient over a pre-configured
// BaseClient, used by tests to control retry and breaker behavior.
func NewDodoClientWithBase(base *BaseClient, cfg DodoClientConfig) *DodoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = dodoAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DodoClient{
		base:       base,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		products:   cfg.Products,
		logger:     logger,
	}
}

func (d *DodoClient) Name() types.PaymentProvider {
	return types.ProviderDodo
}

// CreateSubscription creates a hosted payment link for the product resolved
// from the catalog. The customer ID and plan parameters travel in metadata
// so webhooks can correlate the resulting subscription.
func (d *DodoClient) CreateSubscription(ctx context.Context, params billing.CreateSubscriptionParams) (*billing.CheckoutIntent, error) {
	productID, err := d.products.Resolve(params.Currency, params.BillingPeriod)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"product_id":     productID,
		"customer_email": params.CustomerEmail,
		"customer_name":  params.CustomerName,
		"success_url":    d.successURL,
		"cancel_url":     d.cancelURL,
		"metadata": map[string]string{
			"customer_id":    params.CustomerID,
			"currency":       string(params.Currency),
			"billing_period": string(params.BillingPeriod),
		},
	}

	resp, err := d.doPost(ctx, "/payment-links", payload)
	if err != nil {
		return nil, d.wrapTransportError("CreateSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, d.handleErrorResponse(resp, "CreateSubscription")
	}

	var link dodoPaymentLink
	if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalError,
			"failed to decode Dodo payment link response",
			err,
		)
	}

	d.logger.InfoContext(ctx, "dodo payment link created",
		"payment_link_id", link.ID,
		"product_id", productID,
		"customer_id", params.CustomerID,
	)

	return &billing.CheckoutIntent{
		Provider:    types.ProviderDodo,
		ProviderRef: link.SubscriptionID,
		RedirectURL: link.URL,
	}, nil
}

// CancelSubscription cancels at period end. Dodo reports the remaining paid
// period via next_billing_date; when absent the zero time is returned and
// the caller applies its fallback.
func (d *DodoClient) CancelSubscription(ctx context.Context, providerRef string) (time.Time, error) {
	payload := map[string]any{"cancel_at_period_end": true}

	resp, err := d.doPost(ctx, "/subscriptions/"+url.PathEscape(providerRef)+"/cancel", payload)
	if err != nil {
		return time.Time{}, d.wrapTransportError("CancelSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, d.handleErrorResponse(resp, "CancelSubscription")
	}

	var sub dodoSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return time.Time{}, types.NewAppError(
			types.ErrCodeInternalError,
			"failed to decode Dodo cancellation response",
			err,
		)
	}

	if sub.NextBillingDate == "" {
		return time.Time{}, nil
	}
	end, err := time.Parse(time.RFC3339, sub.NextBillingDate)
	if err != nil {
		d.logger.WarnContext(ctx, "dodo returned unparseable next_billing_date",
			"subscription_id", providerRef,
			"value", sub.NextBillingDate,
		)
		return time.Time{}, nil
	}
	return end.UTC(), nil
}

func (d *DodoClient) FetchSubscription(ctx context.Context, providerRef string) (*billing.RemoteSubscription, error) {
	resp, err := d.doGet(ctx, "/subscriptions/"+url.PathEscape(providerRef), nil)
	if err != nil {
		return nil, d.wrapTransportError("FetchSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, d.handleErrorResponse(resp, "FetchSubscription")
	}

	var sub dodoSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalError,
			"failed to decode Dodo subscription response",
			err,
		)
	}

	remote := &billing.RemoteSubscription{
		ProviderRef: sub.SubscriptionID,
		Status:      sub.Status,
		PlanID:      sub.ProductID,
	}
	if sub.NextBillingDate != "" {
		if end, err := time.Parse(time.RFC3339, sub.NextBillingDate); err == nil {
			u := end.UTC()
			remote.CurrentPeriodEnd = &u
		}
	}
	return remote, nil
}

func (d *DodoClient) ListPayments(ctx context.Context, providerRef string) ([]billing.PaymentRecord, error) {
	params := url.Values{}
	params.Set("subscription_id", providerRef)

	resp, err := d.doGet(ctx, "/payments", params)
	if err != nil {
		return nil, d.wrapTransportError("ListPayments", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, d.handleErrorResponse(resp, "ListPayments")
	}

	var list dodoPaymentList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalError,
			"failed to decode Dodo payment list",
			err,
		)
	}

	records := make([]billing.PaymentRecord, 0, len(list.Items))
	for _, p := range list.Items {
		rec := billing.PaymentRecord{
			ID:         p.PaymentID,
			AmountUnit: p.TotalAmount,
			Currency:   p.Currency,
			Status:     p.Status,
			InvoiceURL: p.ReceiptURL,
		}
		if created, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
			rec.CreatedAt = created.UTC()
		}
		records = append(records, rec)
	}
	return records, nil
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func (d *DodoClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := d.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey.Unmask())

	return d.base.Do(req)
}

func (d *DodoClient) doPost(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey.Unmask())

	return d.base.Do(req)
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

type dodoErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (d *DodoClient) handleErrorResponse(resp *http.Response, operation string) error {
	var dodoErr dodoErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&dodoErr); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamProviderRejected,
			fmt.Sprintf("%s: Dodo returned status %d with unreadable body", operation, resp.StatusCode),
			err,
		)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundSubscription,
			fmt.Sprintf("%s: Dodo resource not found: %s", operation, dodoErr.Message),
			nil,
		)
	case resp.StatusCode == http.StatusUnauthorized:
		return types.NewAppError(
			types.ErrCodeAuthUnauthorized,
			fmt.Sprintf("%s: Dodo rejected API credentials", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamProviderUnavailable,
			fmt.Sprintf("%s: Dodo server error: %s", operation, dodoErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamProviderRejected,
			fmt.Sprintf("%s: Dodo error (%d): %s", operation, resp.StatusCode, dodoErr.Message),
			nil,
		)
	}
}

func (d *DodoClient) wrapTransportError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamProviderUnavailable,
		fmt.Sprintf("%s: Dodo request failed", operation),
		err,
	)
}

// ---------------------------------------------------------------------------
// Dodo response types
// ---------------------------------------------------------------------------

type dodoPaymentLink struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	SubscriptionID string `json:"subscription_id"`
	ProductID      string `json:"product_id"`
}

type dodoSubscription struct {
	SubscriptionID  string            `json:"subscription_id"`
	ProductID       string            `json:"product_id"`
	Status          string            `json:"status"`
	NextBillingDate string            `json:"next_billing_date"`
	CancelledAt     string            `json:"cancelled_at"`
	Metadata        map[string]string `json:"metadata"`
}

type dodoPayment struct {
	PaymentID   string `json:"payment_id"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	ReceiptURL  string `json:"receipt_url"`
}

type dodoPaymentList struct {
	Items []dodoPayment `json:"items"`
}

var _ billing.ProviderGateway = (*DodoClient)(nil)
