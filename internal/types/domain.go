package types

import "time"

// PaymentProvider identifies a billing vendor integration.
type PaymentProvider string

const (
	ProviderRazorpay PaymentProvider = "razorpay"
	ProviderDodo     PaymentProvider = "dodo"
)

// Valid reports whether p names a known provider.
func (p PaymentProvider) Valid() bool {
	return p == ProviderRazorpay || p == ProviderDodo
}

// Currency is a supported settlement currency.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyINR Currency = "INR"
)

func (c Currency) Valid() bool {
	return c == CurrencyUSD || c == CurrencyINR
}

// BillingPeriod is a supported subscription cadence.
type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "monthly"
	PeriodAnnual  BillingPeriod = "annual"
)

func (b BillingPeriod) Valid() bool {
	return b == PeriodMonthly || b == PeriodAnnual
}

// SubscriptionStatus is the lifecycle state of a customer's subscription.
type SubscriptionStatus string

const (
	StatusNone      SubscriptionStatus = "none"
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusOnHold    SubscriptionStatus = "on_hold"
	StatusLifetime  SubscriptionStatus = "lifetime"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusNone, StatusTrial, StatusActive, StatusCancelled, StatusOnHold, StatusLifetime:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusLifetime
}

// Customer is the durable billing record for an account.
type Customer struct {
	ID                     string
	Email                  string
	Name                   string
	Status                 SubscriptionStatus
	TrialEndsAt            *time.Time
	SubscriptionEndsAt     *time.Time
	Provider               PaymentProvider
	ProviderSubscriptionID string
	Currency               Currency
	BillingPeriod          BillingPeriod
	// Version increments on every billing-relevant write and backs
	// compare-and-swap updates.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubscriptionSnapshot is the billing-relevant projection of a customer.
// State transitions consume and produce snapshots so the transition logic
// stays independent of storage concerns.
type SubscriptionSnapshot struct {
	CustomerID             string
	Status                 SubscriptionStatus
	TrialEndsAt            *time.Time
	SubscriptionEndsAt     *time.Time
	Provider               PaymentProvider
	ProviderSubscriptionID string
	Currency               Currency
	BillingPeriod          BillingPeriod
	Version                int64
}

// Snapshot extracts the billing-relevant projection of the customer.
func (c *Customer) Snapshot() SubscriptionSnapshot {
	return SubscriptionSnapshot{
		CustomerID:             c.ID,
		Status:                 c.Status,
		TrialEndsAt:            cloneTime(c.TrialEndsAt),
		SubscriptionEndsAt:     cloneTime(c.SubscriptionEndsAt),
		Provider:               c.Provider,
		ProviderSubscriptionID: c.ProviderSubscriptionID,
		Currency:               c.Currency,
		BillingPeriod:          c.BillingPeriod,
		Version:                c.Version,
	}
}

// Equal reports whether two snapshots describe the same billing state,
// ignoring the storage version.
func (s SubscriptionSnapshot) Equal(other SubscriptionSnapshot) bool {
	return s.CustomerID == other.CustomerID &&
		s.Status == other.Status &&
		timeEqual(s.TrialEndsAt, other.TrialEndsAt) &&
		timeEqual(s.SubscriptionEndsAt, other.SubscriptionEndsAt) &&
		s.Provider == other.Provider &&
		s.ProviderSubscriptionID == other.ProviderSubscriptionID &&
		s.Currency == other.Currency &&
		s.BillingPeriod == other.BillingPeriod
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
