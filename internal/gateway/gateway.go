// Package gateway talks to the payment provider. The billing engine needs a
// single capability from it: charging a stored token. Everything else
// (checkout, token collection, settlement webhooks) lives outside this
// engine.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Client defines the interface for submitting charges to the payment
// provider. Implementations hold no subscription state; a test double can
// substitute for the real provider without touching orchestrator logic.
type Client interface {
	// ChargeStoredToken submits one charge against a stored payment token.
	//
	// On success it returns the provider-assigned order id plus the raw
	// response payload for audit logging. Failures are typed:
	//
	//   - *RejectedError: the provider explicitly declined the charge.
	//     Not retried automatically without human review.
	//   - ErrTimeout: the request exceeded the configured timeout.
	//   - ErrUnreachable: transport-level failure (connection refused,
	//     DNS, TLS).
	//
	// Timeouts and unreachable errors are transient and eligible for the
	// bounded retry policy.
	ChargeStoredToken(ctx context.Context, params ChargeParams) (*ChargeResult, error)
}

// ChargeParams contains everything needed to build one charge request.
type ChargeParams struct {
	// OrderID is our order id, echoed back by the provider for
	// reconciliation.
	OrderID uuid.UUID

	// SubscriptionID identifies the subscription being renewed.
	// Used in the invoice details and the derived billing contact.
	SubscriptionID uuid.UUID

	// Token is the provider-issued stored payment token.
	Token string

	// AmountCents is the charge amount in the smallest currency unit.
	AmountCents int64

	// Currency code as configured on the subscription tier (e.g. "RON").
	Currency string
}

// ChargeResult is the provider's answer to an accepted charge request.
// Acceptance is not settlement: the provider confirms the final outcome
// asynchronously through its IPN webhook, which is out of scope here.
type ChargeResult struct {
	// GatewayOrderID is the provider-assigned transaction handle.
	GatewayOrderID string

	// Status as reported by the provider (e.g. "confirmed_pending").
	Status string

	// RawPayload is the full response body, stored on the payment event.
	RawPayload json.RawMessage
}
