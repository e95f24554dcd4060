package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/easyash/trustedby/internal/types"
)

// CustomerRepository provides data access for the customers table. It
// implements billing.CustomerStore.
//
// Two write disciplines coexist here:
//   - UpdateSnapshot uses optimistic locking on the version column, for the
//     webhook path where conflicts are rare and retryable.
//   - WithCustomerLock takes a SELECT ... FOR UPDATE row lock inside one
//     transaction, for user-initiated cancellation where the side effect on
//     the payment vendor must happen at most once.
type CustomerRepository struct {
	db     TxBeginner
	logger *slog.Logger
}

// NewCustomerRepository creates a new CustomerRepository backed by the given
// pool (or pool-like TxBeginner).
func NewCustomerRepository(db TxBeginner, logger *slog.Logger) *CustomerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomerRepository{db: db, logger: logger}
}

// customerColumns defines the standard set of columns selected for customer
// queries. Used consistently across all query methods to avoid column drift.
const customerColumns = `id, email, name, subscription_status, trial_ends_at, subscription_ends_at,
	payment_provider, provider_subscription_id, currency, billing_period, version, created_at, updated_at`

// scanCustomer scans a single customer row into a types.Customer. The
// columns must match the order defined in customerColumns. Uses nullable
// scan targets for columns that may be NULL (name, end dates, and all
// provider and plan fields before the first checkout).
func scanCustomer(row pgx.Row) (*types.Customer, error) {
	var c types.Customer
	var (
		name        *string
		provider    *string
		providerSub *string
		currency    *string
		period      *string
	)
	err := row.Scan(
		&c.ID,
		&c.Email,
		&name,
		&c.Status,
		&c.TrialEndsAt,
		&c.SubscriptionEndsAt,
		&provider,
		&providerSub,
		&currency,
		&period,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if name != nil {
		c.Name = *name
	}
	if provider != nil {
		c.Provider = types.PaymentProvider(*provider)
	}
	if providerSub != nil {
		c.ProviderSubscriptionID = *providerSub
	}
	if currency != nil {
		c.Currency = types.Currency(*currency)
	}
	if period != nil {
		c.BillingPeriod = types.BillingPeriod(*period)
	}
	return &c, nil
}

// Create inserts a new customer starting their trial. A missing ID is
// assigned here so callers don't each invent an identifier scheme.
func (r *CustomerRepository) Create(ctx context.Context, c *types.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO customers (id, email, name, subscription_status, trial_ends_at, version, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, 1, NOW(), NOW())`,
		c.ID,
		c.Email,
		c.Name,
		c.Status,
		c.TrialEndsAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to create customer", err)
	}
	return nil
}

// GetByID retrieves a customer by their ID.
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*types.Customer, error) {
	return r.getOne(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`,
		id,
	)
}

// GetByProviderRef retrieves the customer owning a vendor subscription
// reference. Webhook events that carry only the subscription ID resolve
// through this.
func (r *CustomerRepository) GetByProviderRef(ctx context.Context, providerRef string) (*types.Customer, error) {
	return r.getOne(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE provider_subscription_id = $1`,
		providerRef,
	)
}

// GetByEmail retrieves a customer by their billing email.
func (r *CustomerRepository) GetByEmail(ctx context.Context, email string) (*types.Customer, error) {
	return r.getOne(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE LOWER(email) = LOWER($1)`,
		email,
	)
}

func (r *CustomerRepository) getOne(ctx context.Context, query string, arg any) (*types.Customer, error) {
	c, err := scanCustomer(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to retrieve customer", err)
	}
	return c, nil
}

// UpdateSnapshot writes the billing state if and only if the stored version
// still equals snap.Version, incrementing it. Zero rows affected means a
// concurrent writer got there first; the caller reloads and retries.
func (r *CustomerRepository) UpdateSnapshot(ctx context.Context, snap types.SubscriptionSnapshot) error {
	tag, err := r.db.Exec(ctx, updateSnapshotSQL, snapshotArgs(snap)...)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to update subscription state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(
			types.ErrCodeConflictConcurrentModification,
			"subscription state changed concurrently",
			nil,
		)
	}
	return nil
}

const updateSnapshotSQL = `UPDATE customers
	 SET subscription_status = $1,
	     trial_ends_at = $2,
	     subscription_ends_at = $3,
	     payment_provider = NULLIF($4, ''),
	     provider_subscription_id = NULLIF($5, ''),
	     currency = NULLIF($6, ''),
	     billing_period = NULLIF($7, ''),
	     version = version + 1,
	     updated_at = NOW()
	 WHERE id = $8 AND version = $9`

func snapshotArgs(snap types.SubscriptionSnapshot) []any {
	return []any{
		snap.Status,
		snap.TrialEndsAt,
		snap.SubscriptionEndsAt,
		string(snap.Provider),
		snap.ProviderSubscriptionID,
		string(snap.Currency),
		string(snap.BillingPeriod),
		snap.CustomerID,
		snap.Version,
	}
}

// UpdatePlanSelection records the plan parameters chosen at checkout.
// Deliberately not versioned: the selection is informational until the
// activation webhook confirms it.
func (r *CustomerRepository) UpdatePlanSelection(ctx context.Context, customerID string, provider types.PaymentProvider, currency types.Currency, period types.BillingPeriod) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE customers
		 SET payment_provider = $1,
		     currency = $2,
		     billing_period = $3,
		     updated_at = NOW()
		 WHERE id = $4`,
		string(provider),
		string(currency),
		string(period),
		customerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to record plan selection", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", nil)
	}
	return nil
}

// WithCustomerLock runs fn with the customer's row locked for the duration
// of one transaction. fn receives the snapshot read under the lock. A
// non-nil error from fn rolls everything back; otherwise the returned
// snapshot is persisted and the whole transaction commits. Unchanged
// snapshots skip the write so idempotent calls do not churn the version.
func (r *CustomerRepository) WithCustomerLock(ctx context.Context, customerID string, fn func(ctx context.Context, cur types.SubscriptionSnapshot) (types.SubscriptionSnapshot, error)) (types.SubscriptionSnapshot, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return types.SubscriptionSnapshot{}, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to begin transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	c, err := scanCustomer(tx.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`,
		customerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.SubscriptionSnapshot{}, types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", nil)
		}
		return types.SubscriptionSnapshot{}, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to lock customer row", err)
	}

	cur := c.Snapshot()
	next, err := fn(ctx, cur)
	if err != nil {
		return types.SubscriptionSnapshot{}, err
	}

	if next.Equal(cur) {
		if err := tx.Commit(ctx); err != nil {
			return types.SubscriptionSnapshot{}, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to commit transaction", err)
		}
		return cur, nil
	}

	// The version check cannot fail while the row lock is held, but keeping
	// the same statement as the optimistic path means one write shape to
	// reason about.
	next.CustomerID = cur.CustomerID
	next.Version = cur.Version
	tag, err := tx.Exec(ctx, updateSnapshotSQL, snapshotArgs(next)...)
	if err != nil {
		return types.SubscriptionSnapshot{}, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to update subscription state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.SubscriptionSnapshot{}, types.NewAppError(
			types.ErrCodeConflictConcurrentModification,
			"subscription state changed concurrently",
			nil,
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return types.SubscriptionSnapshot{}, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to commit transaction", err)
	}

	next.Version = cur.Version + 1
	return next, nil
}
