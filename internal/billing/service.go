package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/easyash/trustedby/internal/types"
)

// casMaxAttempts bounds the optimistic-concurrency retry loop for webhook
// transitions before surfacing a conflict to the caller.
const casMaxAttempts = 3

// CustomerStore is the persistence contract the service needs. Implemented
// by db.CustomerRepository.
type CustomerStore interface {
	GetByID(ctx context.Context, id string) (*types.Customer, error)
	GetByProviderRef(ctx context.Context, providerRef string) (*types.Customer, error)
	GetByEmail(ctx context.Context, email string) (*types.Customer, error)

	// UpdateSnapshot writes the snapshot if and only if the stored version
	// still equals snap.Version, incrementing it. A stale version returns a
	// conflict error.
	UpdateSnapshot(ctx context.Context, snap types.SubscriptionSnapshot) error

	// UpdatePlanSelection records the plan parameters chosen at checkout.
	UpdatePlanSelection(ctx context.Context, customerID string, provider types.PaymentProvider, currency types.Currency, period types.BillingPeriod) error

	// WithCustomerLock runs fn with the customer's row locked for the
	// duration of one transaction. fn receives the current snapshot read
	// under the lock; a non-nil error from fn rolls everything back, and
	// the returned snapshot is persisted otherwise.
	WithCustomerLock(ctx context.Context, customerID string, fn func(ctx context.Context, cur types.SubscriptionSnapshot) (types.SubscriptionSnapshot, error)) (types.SubscriptionSnapshot, error)
}

// GatewaySelector is the slice of the provider factory the service uses.
type GatewaySelector interface {
	Active() ProviderGateway
	ByName(name types.PaymentProvider) (ProviderGateway, error)
	VerifyCheckout(orderID, paymentID, signature string) error
}

// Service orchestrates subscription lifecycle operations: it resolves the
// customer, runs the pure state machine, and makes the result durable with
// the concurrency discipline each path needs. Webhook transitions use
// optimistic version checks with bounded retry; user cancellation uses a row
// lock so the vendor cancel call happens at most once.
type Service struct {
	store    CustomerStore
	gateways GatewaySelector
	logger   *slog.Logger

	grace time.Duration
	now   func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithGracePeriod sets the paid-period fallback applied when a cancellation
// reports no end date. Non-positive values keep DefaultGracePeriod.
func WithGracePeriod(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithClock overrides the service clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store CustomerStore, gateways GatewaySelector, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		gateways: gateways,
		logger:   logger,
		grace:    DefaultGracePeriod,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartCheckout begins a subscription purchase for the customer through the
// active provider and returns the checkout handoff. The customer's state
// only changes when the provider's activation webhook lands; the one
// exception is the plan selection, recorded immediately so the webhook can
// trust it.
func (s *Service) StartCheckout(ctx context.Context, customerID string, currency types.Currency, period types.BillingPeriod) (*CheckoutIntent, error) {
	if !currency.Valid() || !period.Valid() {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			"unsupported plan parameters",
			nil,
			map[string]any{"currency": string(currency), "billing_period": string(period)},
		)
	}

	customer, err := s.store.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if customer.Status.Terminal() {
		return nil, types.NewAppError(
			types.ErrCodeConflictSubscriptionState,
			"lifetime accounts have no subscription to purchase",
			nil,
		)
	}

	active := s.gateways.Active()

	// A customer still inside a cancelled subscription's paid period keeps a
	// live handle into the old provider. Starting a checkout on a different
	// provider while that handle is live would leave two vendors believing
	// they own the subscription, so it is rejected until the grace period
	// lapses.
	if customer.Status == types.StatusCancelled &&
		customer.SubscriptionEndsAt != nil &&
		s.now().Before(*customer.SubscriptionEndsAt) &&
		customer.ProviderSubscriptionID != "" &&
		customer.Provider != active.Name() {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeConflictProviderSwitch,
			"cannot switch payment providers while the previous subscription's paid period is still running",
			nil,
			map[string]any{
				"current_provider": string(customer.Provider),
				"active_provider":  string(active.Name()),
				"paid_until":       customer.SubscriptionEndsAt,
			},
		)
	}

	intent, err := active.CreateSubscription(ctx, CreateSubscriptionParams{
		Currency:      currency,
		BillingPeriod: period,
		CustomerID:    customer.ID,
		CustomerEmail: customer.Email,
		CustomerName:  customer.Name,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdatePlanSelection(ctx, customer.ID, active.Name(), currency, period); err != nil {
		// The checkout already exists on the vendor side; the activation
		// webhook carries enough to recover, so log rather than fail.
		s.logger.WarnContext(ctx, "failed to record plan selection",
			"customer_id", customer.ID,
			"error", err,
		)
	}

	s.logger.InfoContext(ctx, "checkout started",
		"customer_id", customer.ID,
		"provider", string(intent.Provider),
		"currency", string(currency),
		"billing_period", string(period),
	)

	return intent, nil
}

// Cancel performs a user-initiated cancellation. The whole operation runs
// under the customer's row lock: concurrent cancel requests serialize, the
// loser observes the already-cancelled snapshot and returns it without a
// second vendor call. If the vendor call fails nothing is written and the
// customer keeps their prior status.
func (s *Service) Cancel(ctx context.Context, customerID string) (types.SubscriptionSnapshot, error) {
	snap, err := s.store.WithCustomerLock(ctx, customerID, func(ctx context.Context, cur types.SubscriptionSnapshot) (types.SubscriptionSnapshot, error) {
		now := s.now()

		switch cur.Status {
		case types.StatusCancelled:
			if cur.SubscriptionEndsAt != nil {
				// Already cancelled: idempotent success, no vendor call.
				return cur, nil
			}
			// Cancelled without an end date self-heals here rather than
			// calling the vendor again.
			end := now.Add(s.grace)
			cur.SubscriptionEndsAt = &end
			return cur, nil

		case types.StatusActive:
			// proceed to the vendor call below

		case types.StatusLifetime:
			return cur, types.NewAppError(
				types.ErrCodeConflictSubscriptionState,
				"lifetime accounts have no subscription to cancel",
				nil,
			)

		default:
			return cur, types.NewAppError(
				types.ErrCodeNotFoundSubscription,
				"no active subscription to cancel",
				nil,
			)
		}

		if cur.ProviderSubscriptionID == "" {
			return cur, types.NewAppError(
				types.ErrCodeNotFoundSubscription,
				"customer has no provider subscription reference",
				nil,
			)
		}

		// Cancel against the provider that owns the subscription, which is
		// not necessarily the currently active one.
		gw, err := s.gateways.ByName(cur.Provider)
		if err != nil {
			return cur, err
		}

		effectiveEnd, err := gw.CancelSubscription(ctx, cur.ProviderSubscriptionID)
		if err != nil {
			return cur, types.NewAppError(
				types.ErrCodeBillingCancellationFailed,
				"payment provider rejected the cancellation; your subscription is unchanged",
				err,
			)
		}
		if effectiveEnd.IsZero() {
			// Vendor confirmed but did not report an end date.
			effectiveEnd = now.Add(s.grace)
		}

		next, _ := Transition(cur, Event{
			Kind:        KindUserCancelled,
			Provider:    cur.Provider,
			ProviderRef: cur.ProviderSubscriptionID,
			PeriodEnd:   &effectiveEnd,
			OccurredAt:  now,
		}, s.grace)
		return next, nil
	})
	if err != nil {
		return types.SubscriptionSnapshot{}, err
	}

	s.logger.InfoContext(ctx, "subscription cancelled",
		"customer_id", customerID,
		"ends_at", snap.SubscriptionEndsAt,
	)
	return snap, nil
}

// ApplyEvent makes one normalized webhook event durable. Safe under
// at-least-once delivery: a replayed event computes an identical snapshot
// and skips the write. Races between concurrent deliveries are resolved by
// the version check with bounded retry.
func (s *Service) ApplyEvent(ctx context.Context, ev Event) error {
	customer, err := s.resolveCustomer(ctx, ev)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundCustomer {
			// Unknown customers are logged and acknowledged. Failing the
			// webhook would only trigger vendor retries that can never
			// succeed.
			s.logger.WarnContext(ctx, "webhook event for unknown customer",
				"event_kind", string(ev.Kind),
				"vendor_type", ev.VendorType,
				"provider_ref", ev.ProviderRef,
			)
			return nil
		}
		return err
	}

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		next, changed := Transition(customer.Snapshot(), ev, s.grace)
		if !changed {
			s.logger.DebugContext(ctx, "event produced no state change",
				"customer_id", customer.ID,
				"event_kind", string(ev.Kind),
				"status", string(customer.Status),
			)
			return nil
		}

		err := s.store.UpdateSnapshot(ctx, next)
		if err == nil {
			s.logger.InfoContext(ctx, "subscription state transition",
				"customer_id", customer.ID,
				"event_kind", string(ev.Kind),
				"from_status", string(customer.Status),
				"to_status", string(next.Status),
			)
			return nil
		}

		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeConflictConcurrentModification {
			return err
		}

		// Lost the race; reload and recompute from the fresh snapshot.
		customer, err = s.store.GetByID(ctx, customer.ID)
		if err != nil {
			return err
		}
	}

	return types.NewAppError(
		types.ErrCodeConflictConcurrentModification,
		"subscription update kept conflicting with concurrent writes",
		nil,
	)
}

// VerifyCheckout authenticates a Razorpay client-side checkout callback and
// activates the subscription on success. Activation through this path and
// through the webhook race benignly: both apply the same event.
func (s *Service) VerifyCheckout(ctx context.Context, customerID, subscriptionID, orderID, paymentID, signature string) error {
	if err := s.gateways.VerifyCheckout(orderID, paymentID, signature); err != nil {
		return err
	}

	return s.ApplyEvent(ctx, Event{
		Kind:        KindActivated,
		Provider:    types.ProviderRazorpay,
		ProviderRef: subscriptionID,
		CustomerID:  customerID,
		OccurredAt:  s.now(),
		VendorType:  "checkout.verified",
	})
}

// AccessFor evaluates the access policy for a customer at the current time.
func (s *Service) AccessFor(ctx context.Context, customerID string) (Access, error) {
	customer, err := s.store.GetByID(ctx, customerID)
	if err != nil {
		return Access{}, err
	}
	return Evaluate(customer.Snapshot(), s.now()), nil
}

// Subscription fetches the vendor-side state of the customer's subscription.
func (s *Service) Subscription(ctx context.Context, customerID string) (*RemoteSubscription, error) {
	gw, ref, err := s.gatewayFor(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return gw.FetchSubscription(ctx, ref)
}

// Payments returns the customer's charge history from their provider.
func (s *Service) Payments(ctx context.Context, customerID string) ([]PaymentRecord, error) {
	gw, ref, err := s.gatewayFor(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return gw.ListPayments(ctx, ref)
}

func (s *Service) gatewayFor(ctx context.Context, customerID string) (ProviderGateway, string, error) {
	customer, err := s.store.GetByID(ctx, customerID)
	if err != nil {
		return nil, "", err
	}
	if customer.ProviderSubscriptionID == "" {
		return nil, "", types.NewAppError(
			types.ErrCodeNotFoundSubscription,
			"customer has no provider subscription",
			nil,
		)
	}
	gw, err := s.gateways.ByName(customer.Provider)
	if err != nil {
		return nil, "", err
	}
	return gw, customer.ProviderSubscriptionID, nil
}

// resolveCustomer locates the subject of an event: explicit customer ID
// first, then the vendor subscription reference, then the billing email.
func (s *Service) resolveCustomer(ctx context.Context, ev Event) (*types.Customer, error) {
	if ev.CustomerID != "" {
		customer, err := s.store.GetByID(ctx, ev.CustomerID)
		if err == nil {
			return customer, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	if ev.ProviderRef != "" {
		customer, err := s.store.GetByProviderRef(ctx, ev.ProviderRef)
		if err == nil {
			return customer, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	if ev.CustomerEmail != "" {
		customer, err := s.store.GetByEmail(ctx, ev.CustomerEmail)
		if err == nil {
			return customer, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	return nil, types.NewAppError(
		types.ErrCodeNotFoundCustomer,
		"no customer matches the event",
		nil,
	)
}

func isNotFound(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundCustomer
}
