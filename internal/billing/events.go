// Package billing implements the subscription lifecycle engine: the pure
// state machine over customer snapshots, the access policy evaluator, the
// plan catalog, and the orchestration service that makes transitions durable.
package billing

import (
	"time"

	"github.com/easyash/trustedby/internal/types"
)

// EventKind is a canonical lifecycle event, produced by normalizing
// provider-specific webhook payloads or by user-initiated actions.
type EventKind string

const (
	// KindActivated fires when a subscription starts or a payment mandate
	// is confirmed.
	KindActivated EventKind = "activated"
	// KindRenewed fires on a successful recurring charge.
	KindRenewed EventKind = "renewed"
	// KindCancelled fires when the vendor reports a cancellation. The paid
	// period usually survives until PeriodEnd.
	KindCancelled EventKind = "cancelled"
	// KindOnHold fires when the vendor suspends the subscription after
	// repeated payment failures.
	KindOnHold EventKind = "on_hold"
	// KindExpired fires when a cancelled subscription's paid period has
	// fully lapsed on the vendor side.
	KindExpired EventKind = "expired"
	// KindPaymentFailed is informational; the status change, if any,
	// arrives via a later on_hold or cancellation event.
	KindPaymentFailed EventKind = "payment_failed"
	// KindUserCancelled is synthesized for user-initiated cancellation
	// after the vendor confirmed it. PeriodEnd carries the effective end.
	KindUserCancelled EventKind = "user_cancelled"
)

// Event is the provider-neutral lifecycle event consumed by the state
// machine. At least one of CustomerID, ProviderRef or CustomerEmail must be
// set so the subject customer can be resolved.
type Event struct {
	Kind     EventKind
	Provider types.PaymentProvider

	// ProviderRef is the vendor's subscription identifier.
	ProviderRef string
	// CustomerID is our customer identifier when the payload carries it
	// (vendor metadata / notes).
	CustomerID string
	// CustomerEmail is a last-resort lookup key for payloads that carry
	// neither metadata nor a known subscription reference.
	CustomerEmail string

	// PeriodEnd is the end of the already-paid period, when the vendor
	// reports one.
	PeriodEnd *time.Time
	// OccurredAt is the vendor's event timestamp. Derived deadlines anchor
	// on it rather than on wall clock so redelivery is deterministic.
	OccurredAt time.Time

	// VendorType is the raw vendor event string, carried for logging only.
	VendorType string
}
