package billing

import (
	"fmt"
	"math"
	"time"

	"github.com/easyash/trustedby/internal/types"
)

// UnboundedDays signals "no expiry" to callers without a nullable field.
// Used for lifetime and active subscriptions.
const UnboundedDays = math.MaxInt32

// endDateFormat renders grace and trial end dates in user-facing messages.
const endDateFormat = "January 2, 2006"

// Access is the evaluated capability set for a customer at a point in time.
// It is derived, never stored.
type Access struct {
	IsActive    bool `json:"is_active"`
	IsExpired   bool `json:"is_expired"`
	IsPro       bool `json:"is_pro"`
	IsPaid      bool `json:"is_paid"`
	IsTrial     bool `json:"is_trial"`
	IsCancelled bool `json:"is_cancelled"`
	IsLifetime  bool `json:"is_lifetime"`

	// DaysRemaining is ceil(time until expiry / 24h), or UnboundedDays when
	// there is no expiry.
	DaysRemaining int        `json:"days_remaining"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`

	StatusText string `json:"status_text"`

	CanModerate        bool `json:"can_moderate"`
	CanCreateCampaigns bool `json:"can_create_campaigns"`
	CanUpdateSettings  bool `json:"can_update_settings"`

	ShouldShowUpgrade bool   `json:"should_show_upgrade"`
	UpgradeMessage    string `json:"upgrade_message,omitempty"`
}

// Evaluate computes the access policy for a snapshot. Pure function of
// (snapshot, now); rules apply in priority order and fail closed when a
// required end date is missing.
func Evaluate(snap types.SubscriptionSnapshot, now time.Time) Access {
	switch snap.Status {
	case types.StatusLifetime:
		return Access{
			IsActive:           true,
			IsPro:              true,
			IsPaid:             true,
			IsLifetime:         true,
			DaysRemaining:      UnboundedDays,
			StatusText:         "Lifetime Access",
			CanModerate:        true,
			CanCreateCampaigns: true,
			CanUpdateSettings:  true,
		}

	case types.StatusActive:
		return Access{
			IsActive:           true,
			IsPro:              true,
			IsPaid:             true,
			DaysRemaining:      UnboundedDays,
			StatusText:         "Pro Plan Active",
			CanModerate:        true,
			CanCreateCampaigns: true,
			CanUpdateSettings:  true,
		}

	case types.StatusCancelled:
		return evaluateCancelled(snap, now)

	case types.StatusTrial:
		return evaluateTrial(snap, now)
	}

	// on_hold, none, or an unknown status: no access.
	return noAccess("No active subscription", "Upgrade to Pro to unlock all features")
}

func evaluateCancelled(snap types.SubscriptionSnapshot, now time.Time) Access {
	endsAt := snap.SubscriptionEndsAt
	if endsAt == nil {
		// Cancelled without an end date fails closed. The state machine
		// self-heals this on the next event for this customer.
		a := noAccess("Subscription Cancelled", "Your subscription has been cancelled. Upgrade to restore access.")
		a.IsCancelled = true
		return a
	}

	if now.Before(*endsAt) {
		// Paid grace period: full access, but prompt resubscription.
		days := daysUntil(*endsAt, now)
		return Access{
			IsActive:           true,
			IsPro:              true,
			IsPaid:             true,
			IsCancelled:        true,
			DaysRemaining:      days,
			ExpiresAt:          endsAt,
			StatusText:         "Cancelled (Access Until End Date)",
			CanModerate:        true,
			CanCreateCampaigns: true,
			CanUpdateSettings:  true,
			ShouldShowUpgrade:  true,
			UpgradeMessage:     fmt.Sprintf("Your subscription ends on %s (%d days remaining). Resubscribe to continue access.", endsAt.Format(endDateFormat), days),
		}
	}

	a := noAccess("Subscription Ended", fmt.Sprintf("Your subscription ended on %s. Upgrade to restore access.", endsAt.Format(endDateFormat)))
	a.IsCancelled = true
	a.ExpiresAt = endsAt
	return a
}

func evaluateTrial(snap types.SubscriptionSnapshot, now time.Time) Access {
	endsAt := snap.TrialEndsAt
	if endsAt == nil {
		a := noAccess("Trial (No End Date)", "Upgrade to Pro to unlock all features")
		a.IsTrial = true
		return a
	}

	if now.Before(*endsAt) {
		days := daysUntil(*endsAt, now)
		return Access{
			IsActive:           true,
			IsTrial:            true,
			DaysRemaining:      days,
			ExpiresAt:          endsAt,
			StatusText:         fmt.Sprintf("Trial (%d days left)", days),
			CanModerate:        true,
			CanCreateCampaigns: true,
			CanUpdateSettings:  true,
			ShouldShowUpgrade:  days <= 7,
			UpgradeMessage:     trialMessage(days),
		}
	}

	a := noAccess("Trial Expired", fmt.Sprintf("Your trial expired on %s. Upgrade to Pro to restore access.", endsAt.Format(endDateFormat)))
	a.IsTrial = true
	a.ExpiresAt = endsAt
	return a
}

// trialMessage escalates tone as the trial end approaches. Tone never
// affects access.
func trialMessage(days int) string {
	switch {
	case days <= 3:
		return fmt.Sprintf("Your trial expires in %d days! Upgrade now to keep full access.", days)
	case days <= 7:
		return fmt.Sprintf("Your trial expires in %d days. Upgrade to Pro to continue.", days)
	default:
		return ""
	}
}

func noAccess(statusText, upgradeMessage string) Access {
	return Access{
		IsExpired:         true,
		StatusText:        statusText,
		ShouldShowUpgrade: true,
		UpgradeMessage:    upgradeMessage,
	}
}

func daysUntil(end, now time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}
