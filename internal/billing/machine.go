package billing

import (
	"time"

	"github.com/easyash/trustedby/internal/types"
)

// DefaultGracePeriod is the paid-period fallback applied when a cancellation
// event arrives without a period end. Anchored on the event timestamp so a
// redelivered event computes the identical snapshot.
const DefaultGracePeriod = 30 * 24 * time.Hour

// Transition computes the next snapshot for an event. It is a pure function:
// no clock reads, no I/O. grace is the paid-period fallback for
// cancellations that carry no period end; non-positive values fall back to
// DefaultGracePeriod. The second return value reports whether the snapshot
// changed; callers skip the write when it is false, which is what makes
// at-least-once webhook delivery safe.
func Transition(cur types.SubscriptionSnapshot, ev Event, grace time.Duration) (types.SubscriptionSnapshot, bool) {
	// Lifetime is terminal. Every event is ignored.
	if cur.Status.Terminal() {
		return cur, false
	}

	next := cur

	switch ev.Kind {
	case KindActivated, KindRenewed:
		// Renewed and activated converge deliberately: webhooks arrive out
		// of order, and a renewal for a customer we have not yet seen
		// activate must still yield an active account.
		next.Status = types.StatusActive
		next.SubscriptionEndsAt = nil
		adoptProviderRef(&next, ev)

	case KindCancelled:
		next.Status = types.StatusCancelled
		next.SubscriptionEndsAt = cancellationEnd(ev, grace)
		adoptProviderRef(&next, ev)

	case KindUserCancelled:
		// The orchestrator only emits this after the vendor confirmed the
		// cancellation; PeriodEnd is always populated by then.
		next.Status = types.StatusCancelled
		next.SubscriptionEndsAt = ev.PeriodEnd

	case KindExpired:
		// Clamp the grace period shut. min(existing, event time) so an
		// expiry that races a stale future end date still closes access.
		next.Status = types.StatusCancelled
		end := ev.OccurredAt
		if cur.SubscriptionEndsAt != nil && cur.SubscriptionEndsAt.Before(end) {
			end = *cur.SubscriptionEndsAt
		}
		next.SubscriptionEndsAt = &end

	case KindOnHold:
		next.Status = types.StatusOnHold
		adoptProviderRef(&next, ev)

	case KindPaymentFailed:
		// Log-only on the caller side. A single failed charge must not flap
		// the account; the vendor follows up with on_hold or cancellation.
		return cur, false

	default:
		return cur, false
	}

	if next.Equal(cur) {
		return cur, false
	}
	return next, true
}

// cancellationEnd resolves the grace-period end for a vendor cancellation:
// the vendor-reported period end when present, otherwise a fixed window from
// the event timestamp.
func cancellationEnd(ev Event, grace time.Duration) *time.Time {
	if ev.PeriodEnd != nil && !ev.PeriodEnd.IsZero() {
		end := *ev.PeriodEnd
		return &end
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	end := ev.OccurredAt.Add(grace)
	return &end
}

func adoptProviderRef(next *types.SubscriptionSnapshot, ev Event) {
	if ev.ProviderRef != "" {
		next.ProviderSubscriptionID = ev.ProviderRef
	}
	if ev.Provider.Valid() {
		next.Provider = ev.Provider
	}
}
