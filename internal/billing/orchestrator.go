// Package billing contains the orchestrator: the state machine that drives
// each subscription through renewal, trial expiry, payment retry, or
// cancellation against the payment gateway and the repository.
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/decodorul-oficial/billing/internal/domain"
)

// Orchestrator decides, for one work item at a time, which billing action to
// take and drives the gateway and repository to completion. It holds no
// subscription state beyond the lifetime of one call.
type Orchestrator interface {
	// RenewSubscription charges one due renewal.
	//
	// Preconditions: status ACTIVE, auto-renew on, current period ended,
	// stored token present.
	//
	// Flow:
	//  1. Create a PENDING order for the tier price
	//  2. Charge the stored token through the gateway
	//  3. On acceptance: order -> PROCESSING, advance the billing period,
	//     append a SUCCESS event
	//  4. On failure: append a FAILED event and surface the error; the
	//     period is NOT advanced, so the next run re-selects the item
	//
	// The period is only ever advanced after the gateway has accepted the
	// charge, and never without an immutable event recording the charge.
	RenewSubscription(ctx context.Context, sub domain.Subscription) (*RenewalOutcome, error)

	// ExpireTrial settles an expired trial. With no payment method on
	// file the subscription is canceled immediately; otherwise the
	// renewal path is attempted, and a failed charge cancels the
	// subscription rather than leaving it trialing.
	//
	// After one successful invocation the subscription is ACTIVE or
	// CANCELED, never TRIALING.
	ExpireTrial(ctx context.Context, sub domain.Subscription) (*TrialOutcome, error)

	// RetryFailedPayment re-submits the charge for a failed payment.
	// It appends a RETRYING event with the incremented retry count and
	// re-invokes the charge path on the original order. Attempts are
	// strictly bounded by the configured maximum, and retries against a
	// canceled subscription are refused.
	RetryFailedPayment(ctx context.Context, item domain.FailedPayment) (*RetryOutcome, error)

	// CancelSubscription is the shared terminal operation: marks the
	// subscription CANCELED, downgrades the user to the free tier, and
	// appends a CANCELED event carrying the reason. Canceling an
	// already-canceled subscription is a no-op.
	CancelSubscription(ctx context.Context, sub domain.Subscription, reason string) error
}

// Repository is the narrow persistence boundary the orchestrator works
// against. Each write is a single atomic operation; no repository
// transaction ever spans a gateway call.
type Repository interface {
	// DueForRenewal returns ACTIVE auto-renewing subscriptions whose
	// period has ended and that have a stored token, oldest-due first.
	DueForRenewal(ctx context.Context) ([]domain.Subscription, error)

	// ExpiringTrials returns TRIALING subscriptions past their trial
	// end, oldest first.
	ExpiringTrials(ctx context.Context) ([]domain.Subscription, error)

	// RetryableFailures returns one work item per order still awaiting a
	// successful charge: the latest payment-failed event per order, with
	// retry_count < maxAttempts and created within the look-back window,
	// oldest first, joined with its order and subscription. Orders
	// already settled and subscriptions since canceled are excluded.
	RetryableFailures(ctx context.Context, maxAttempts int, lookback time.Duration) ([]domain.FailedPayment, error)

	// CreateOrder inserts a PENDING order and returns its id.
	CreateOrder(ctx context.Context, params CreateOrderParams) (uuid.UUID, error)

	// UpdateOrderStatus sets the order status and, when non-empty, the
	// gateway-assigned order id.
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, gatewayOrderID string) error

	// AdvancePeriod moves the billing period forward and marks the
	// subscription ACTIVE (trial conversions become active here).
	AdvancePeriod(ctx context.Context, subscriptionID uuid.UUID, periodStart, periodEnd time.Time) error

	// AppendPaymentEvent appends one immutable audit record.
	AppendPaymentEvent(ctx context.Context, event domain.PaymentEvent) error

	// Cancel marks the subscription CANCELED with an effective timestamp
	// and downgrades the owner's profile to the free tier.
	Cancel(ctx context.Context, subscriptionID uuid.UUID) error
}

// CreateOrderParams contains parameters for creating a renewal order.
type CreateOrderParams struct {
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
	AmountCents    int64
	Currency       string
	Metadata       []byte // JSON order metadata (renewal flags, tier name)
}

// Config bounds the orchestrator's retry policy.
type Config struct {
	// MaxRetryAttempts is the maximum number of retry attempts per
	// failed payment. Default: 3.
	MaxRetryAttempts int

	// RetryLookback is the maximum age of a failure event still eligible
	// for automatic retry. Default: 24h.
	RetryLookback time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxRetryAttempts == 0 {
		out.MaxRetryAttempts = 3
	}
	if out.RetryLookback == 0 {
		out.RetryLookback = 24 * time.Hour
	}
	return out
}

// RenewalOutcome describes one accepted renewal charge.
type RenewalOutcome struct {
	OrderID        uuid.UUID
	GatewayOrderID string
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

// TrialOutcome describes how an expired trial was settled.
type TrialOutcome struct {
	// Converted is true when the charge was accepted and the
	// subscription became ACTIVE.
	Converted bool

	// Canceled is true when the subscription was canceled, either for a
	// missing payment method or a failed charge.
	Canceled bool

	// Reason is the cancellation reason when Canceled.
	Reason string

	// Renewal holds charge details when Converted.
	Renewal *RenewalOutcome
}

// RetryOutcome describes one retry attempt.
type RetryOutcome struct {
	// RetryCount is the attempt number just consumed (1-based).
	RetryCount int

	// Renewal holds charge details when the retried charge was accepted.
	Renewal *RenewalOutcome
}
