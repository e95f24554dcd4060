package external

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/easyash/trustedby/internal/billing"
	"github.com/easyash/trustedby/internal/config"
	"github.com/easyash/trustedby/internal/types"
)

// ---------------------------------------------------------------------------
// Provider factory / selector
//
// Central factory that builds both vendor adapters from configuration and
// pins the active one for the process lifetime. Selection happens once at
// startup, never per-request, so a configuration change can never flip the
// provider in the middle of a checkout or cancellation.
// ---------------------------------------------------------------------------

// ProviderFactory holds the constructed vendor adapters and webhook
// verifiers. It is the only way the rest of the application reaches a
// payment vendor.
type ProviderFactory struct {
	active   billing.ProviderGateway
	gateways map[types.PaymentProvider]billing.ProviderGateway

	// RazorpayVerifier and DodoVerifier authenticate inbound webhooks.
	// Both vendors deliver regardless of which one is active.
	RazorpayVerifier WebhookVerifier
	DodoVerifier     WebhookVerifier

	// razorpayKeySecret backs client-side checkout callback verification.
	razorpayKeySecret types.SecretString
}

// NewProviderFactory builds both adapters, validates their plan catalogs and
// selects the active provider from configuration. A missing plan mapping or
// an unknown provider name fails startup.
func NewProviderFactory(cfg *config.Config, logger *slog.Logger) (*ProviderFactory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: 20 * time.Second}

	razorpayPlans := billing.PlanCatalog{
		{Currency: types.CurrencyUSD, Period: types.PeriodMonthly}: cfg.Razorpay.PlanUSDMonthly,
		{Currency: types.CurrencyUSD, Period: types.PeriodAnnual}:  cfg.Razorpay.PlanUSDAnnual,
		{Currency: types.CurrencyINR, Period: types.PeriodMonthly}: cfg.Razorpay.PlanINRMonthly,
		{Currency: types.CurrencyINR, Period: types.PeriodAnnual}:  cfg.Razorpay.PlanINRAnnual,
	}
	if err := razorpayPlans.Validate(); err != nil {
		return nil, fmt.Errorf("razorpay plan catalog: %w", err)
	}

	dodoProducts := billing.PlanCatalog{
		{Currency: types.CurrencyUSD, Period: types.PeriodMonthly}: cfg.Dodo.ProductUSDMonthly,
		{Currency: types.CurrencyUSD, Period: types.PeriodAnnual}:  cfg.Dodo.ProductUSDAnnual,
		{Currency: types.CurrencyINR, Period: types.PeriodMonthly}: cfg.Dodo.ProductINRMonthly,
		{Currency: types.CurrencyINR, Period: types.PeriodAnnual}:  cfg.Dodo.ProductINRAnnual,
	}
	if err := dodoProducts.Validate(); err != nil {
		return nil, fmt.Errorf("dodo product catalog: %w", err)
	}

	razorpay := NewRazorpayClient(httpClient, RazorpayClientConfig{
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret,
		BaseURL:   cfg.Razorpay.BaseURL,
		Plans:     razorpayPlans,
		Logger:    logger,
	})

	dodo := NewDodoClient(httpClient, DodoClientConfig{
		APIKey:     cfg.Dodo.APIKey,
		BaseURL:    cfg.Dodo.BaseURL,
		SuccessURL: cfg.Server.DashboardURL + "/settings?payment=success",
		CancelURL:  cfg.Server.DashboardURL + "/settings?payment=cancelled",
		Products:   dodoProducts,
		Logger:     logger,
	})

	gateways := map[types.PaymentProvider]billing.ProviderGateway{
		types.ProviderRazorpay: razorpay,
		types.ProviderDodo:     dodo,
	}

	active, ok := gateways[types.PaymentProvider(cfg.Billing.ActiveProvider)]
	if !ok {
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Billing.ActiveProvider)
	}

	logger.Info("payment provider factory initialized",
		"active_provider", cfg.Billing.ActiveProvider,
	)

	return &ProviderFactory{
		active:            active,
		gateways:          gateways,
		RazorpayVerifier:  NewHMACVerifier(cfg.Razorpay.WebhookSecret),
		DodoVerifier:      NewHMACVerifier(cfg.Dodo.WebhookSecret),
		razorpayKeySecret: cfg.Razorpay.KeySecret,
	}, nil
}

// NewProviderFactoryWithGateways wires a factory from pre-built gateways.
// Used by tests to substitute fakes.
func NewProviderFactoryWithGateways(active types.PaymentProvider, gateways map[types.PaymentProvider]billing.ProviderGateway) (*ProviderFactory, error) {
	gw, ok := gateways[active]
	if !ok {
		return nil, fmt.Errorf("unknown payment provider %q", active)
	}
	return &ProviderFactory{active: gw, gateways: gateways}, nil
}

// Active returns the gateway that new checkouts and user cancellations
// go through.
func (f *ProviderFactory) Active() billing.ProviderGateway {
	return f.active
}

// ByName returns the gateway for a specific vendor. Needed when operating on
// a subscription created under a previously active provider.
func (f *ProviderFactory) ByName(name types.PaymentProvider) (billing.ProviderGateway, error) {
	gw, ok := f.gateways[name]
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeValidationFailed,
			fmt.Sprintf("unknown payment provider %q", name),
			nil,
		)
	}
	return gw, nil
}

// VerifyCheckout authenticates a Razorpay client-side checkout callback.
func (f *ProviderFactory) VerifyCheckout(orderID, paymentID, signature string) error {
	return VerifyCheckoutSignature(orderID, paymentID, signature, f.razorpayKeySecret)
}
