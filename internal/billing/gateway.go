package billing

import (
	"context"
	"time"

	"github.com/easyash/trustedby/internal/types"
)

// CreateSubscriptionParams carries everything a gateway needs to start a
// checkout for a customer.
type CreateSubscriptionParams struct {
	Currency      types.Currency
	BillingPeriod types.BillingPeriod
	CustomerID    string
	CustomerEmail string
	CustomerName  string
}

// CheckoutIntent is the normalized result of CreateSubscription. Exactly one
// of RedirectURL or ClientToken is populated: a redirect URL drives a
// full-page hosted checkout, a client token drives an embedded modal.
// Callers branch on which field is set, never on the provider name.
type CheckoutIntent struct {
	Provider    types.PaymentProvider `json:"provider"`
	ProviderRef string                `json:"provider_ref"`
	RedirectURL string                `json:"redirect_url,omitempty"`
	ClientToken string                `json:"client_token,omitempty"`
}

// RemoteSubscription is a gateway's view of a vendor subscription object.
type RemoteSubscription struct {
	ProviderRef      string         `json:"provider_ref"`
	Status           string         `json:"status"`
	CurrentPeriodEnd *time.Time     `json:"current_period_end,omitempty"`
	PlanID           string         `json:"plan_id,omitempty"`
	PaymentMethod    *PaymentMethod `json:"payment_method,omitempty"`
}

// PaymentMethod summarizes the card on file. Razorpay exposes it through
// subscription notes; Dodo has no equivalent, so the field stays nil there.
type PaymentMethod struct {
	Brand  string `json:"brand"`
	Last4  string `json:"last4"`
	Expiry string `json:"expiry,omitempty"`
}

// PaymentRecord is one settled or attempted charge, normalized across vendors.
type PaymentRecord struct {
	ID         string    `json:"id"`
	AmountUnit int64     `json:"amount_unit"` // smallest currency unit
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	InvoiceURL string    `json:"invoice_url,omitempty"`
}

// ProviderGateway is the contract each payment vendor adapter implements.
// Adapters only talk to the vendor API; they never touch the customer store.
type ProviderGateway interface {
	Name() types.PaymentProvider

	// CreateSubscription provisions a vendor subscription and returns the
	// checkout handoff. The plan is resolved from the adapter's catalog;
	// a missing mapping surfaces as an invalid-plan error, not a retry.
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*CheckoutIntent, error)

	// CancelSubscription cancels at the end of the current billing cycle
	// and returns the vendor-reported effective end. A zero time means the
	// vendor confirmed the cancellation without reporting an end date;
	// callers apply their own fallback.
	CancelSubscription(ctx context.Context, providerRef string) (time.Time, error)

	// FetchSubscription reads the current vendor-side subscription state.
	FetchSubscription(ctx context.Context, providerRef string) (*RemoteSubscription, error)

	// ListPayments returns the charge history for a subscription, newest
	// first.
	ListPayments(ctx context.Context, providerRef string) ([]PaymentRecord, error)
}
