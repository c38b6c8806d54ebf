package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SUBSCRIPTION DOMAIN TYPES
// =============================================================================

// SubscriptionStatus represents the lifecycle state of a subscription.
// Subscriptions are never deleted, only transitioned to canceled.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// BillingInterval represents how often a subscription renews.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "MONTHLY"
	BillingIntervalYearly  BillingInterval = "YEARLY"
)

// FreeTier is the tier users are downgraded to when their subscription
// is canceled.
const FreeTier = "free"

// PeriodLength returns the billing period duration for an interval.
// Unknown intervals are billed monthly by policy.
func PeriodLength(interval BillingInterval) time.Duration {
	switch interval {
	case BillingIntervalYearly:
		return 365 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// Subscription represents a user's recurring plan, joined with its tier's
// pricing so billing decisions need no further lookups.
//
// Invariants:
//   - status ACTIVE implies CurrentPeriodEnd is set
//   - status TRIALING implies TrialEnd is set; CurrentPeriodEnd is not
//     consulted for billing decisions while trialing
type Subscription struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	TierID             uuid.UUID
	TierName           string
	Status             SubscriptionStatus
	PriceCents         int64
	Currency           string
	Interval           BillingInterval
	AutoRenew          bool
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEnd           *time.Time
	StoredToken        string // Provider-issued token for off-session charges; empty when no payment method is on file
	CancelEffectiveAt  *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasStoredToken reports whether the subscriber has a payment method on file.
func (s *Subscription) HasStoredToken() bool {
	return s.StoredToken != ""
}
