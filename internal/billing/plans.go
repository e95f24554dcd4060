package billing

import (
	"fmt"

	"github.com/easyash/trustedby/internal/types"
)

// PlanKey addresses one entry in a provider's plan catalog.
type PlanKey struct {
	Currency types.Currency
	Period   types.BillingPeriod
}

// PlanCatalog maps currency and billing period to a provider-specific plan
// or product identifier. Catalogs are static, built from configuration at
// process start.
type PlanCatalog map[PlanKey]string

// Resolve returns the provider identifier for the given plan parameters.
// A missing mapping is a configuration error, surfaced as an invalid-plan
// error rather than retried.
func (c PlanCatalog) Resolve(currency types.Currency, period types.BillingPeriod) (string, error) {
	if !currency.Valid() || !period.Valid() {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			"unsupported plan parameters",
			nil,
			map[string]any{"currency": string(currency), "billing_period": string(period)},
		)
	}
	id, ok := c[PlanKey{Currency: currency, Period: period}]
	if !ok || id == "" {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			"no plan configured for currency and billing period",
			nil,
			map[string]any{"currency": string(currency), "billing_period": string(period)},
		)
	}
	return id, nil
}

// Validate checks that every currency and period combination has a mapping.
// Called once at startup so a half-configured catalog fails fast.
func (c PlanCatalog) Validate() error {
	for _, currency := range []types.Currency{types.CurrencyUSD, types.CurrencyINR} {
		for _, period := range []types.BillingPeriod{types.PeriodMonthly, types.PeriodAnnual} {
			if id := c[PlanKey{Currency: currency, Period: period}]; id == "" {
				return fmt.Errorf("plan catalog missing %s/%s", currency, period)
			}
		}
	}
	return nil
}

// PricePoint is the display price for a plan, in whole currency units.
type PricePoint struct {
	Currency      types.Currency `json:"currency"`
	Symbol        string         `json:"symbol"`
	Monthly       int            `json:"monthly"`
	Annual        int            `json:"annual"`
	AnnualMonthly int            `json:"annual_monthly"`
}

// Pricing is the published price list. Amounts are display values; the
// vendors hold the authoritative charge amounts on their plan objects.
var Pricing = map[types.Currency]PricePoint{
	types.CurrencyUSD: {Currency: types.CurrencyUSD, Symbol: "$", Monthly: 12, Annual: 120, AnnualMonthly: 10},
	types.CurrencyINR: {Currency: types.CurrencyINR, Symbol: "₹", Monthly: 999, Annual: 10789, AnnualMonthly: 899},
}

// PriceDisplay renders a human-readable price for the given plan parameters.
func PriceDisplay(currency types.Currency, period types.BillingPeriod) string {
	p, ok := Pricing[currency]
	if !ok {
		return ""
	}
	if period == types.PeriodMonthly {
		return fmt.Sprintf("%s%d/month", p.Symbol, p.Monthly)
	}
	return fmt.Sprintf("%s%d/month (%s%d/year)", p.Symbol, p.AnnualMonthly, p.Symbol, p.Annual)
}
