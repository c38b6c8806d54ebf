package billing

import "errors"

var (
	// ErrNotActive is returned when renewal is attempted on a
	// subscription that is not ACTIVE.
	ErrNotActive = errors.New("billing: subscription is not active")

	// ErrAutoRenewDisabled is returned when renewal is attempted on a
	// subscription with auto-renew turned off.
	ErrAutoRenewDisabled = errors.New("billing: auto-renew is disabled")

	// ErrNotDue is returned when the current billing period has not ended.
	ErrNotDue = errors.New("billing: subscription is not due for renewal")

	// ErrNoStoredToken is returned when a charge is required but no
	// payment method is on file.
	ErrNoStoredToken = errors.New("billing: no stored payment token")

	// ErrNotTrialing is returned when trial expiry is attempted on a
	// subscription that is not TRIALING.
	ErrNotTrialing = errors.New("billing: subscription is not trialing")

	// ErrTrialNotEnded is returned when the trial end timestamp is still
	// in the future.
	ErrTrialNotEnded = errors.New("billing: trial has not ended")

	// ErrNotRetryable is returned when retry is attempted on an event
	// that is not a payment failure.
	ErrNotRetryable = errors.New("billing: event is not a retryable payment failure")

	// ErrSubscriptionCanceled is returned when a retry targets a
	// subscription that was canceled after the failure was recorded.
	// Charging a canceled subscription would resurrect it.
	ErrSubscriptionCanceled = errors.New("billing: subscription has been canceled")

	// ErrRetriesExhausted is returned when the retry count has reached
	// the configured maximum. The item must be handled outside this
	// engine.
	ErrRetriesExhausted = errors.New("billing: retry attempts exhausted")

	// ErrRetryWindowExpired is returned when the failure event is older
	// than the look-back window and requires manual intervention.
	ErrRetryWindowExpired = errors.New("billing: failure is outside the retry window")
)
