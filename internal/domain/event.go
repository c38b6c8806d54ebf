package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a payment event.
type EventType string

const (
	EventAutoRenewalAttempted EventType = "AUTO_RENEWAL_ATTEMPTED"
	EventAutoRenewalFailed    EventType = "AUTO_RENEWAL_FAILED"
	EventPaymentFailed        EventType = "PAYMENT_FAILED"
	EventPaymentRetry         EventType = "PAYMENT_RETRY"
	EventSubscriptionCanceled EventType = "SUBSCRIPTION_CANCELED"
)

// EventStatus is the outcome recorded on a payment event.
type EventStatus string

const (
	EventStatusSuccess  EventStatus = "SUCCESS"
	EventStatusFailed   EventStatus = "FAILED"
	EventStatusRetrying EventStatus = "RETRYING"
	EventStatusCanceled EventStatus = "CANCELED"
)

// PaymentEvent is an immutable audit record of one action taken against an
// order or subscription. Events are append-only and are the sole source of
// truth for retry counting and post-crash reconstruction.
type PaymentEvent struct {
	ID               uuid.UUID
	OrderID          uuid.UUID // Zero when the event is not tied to an order
	SubscriptionID   uuid.UUID // Zero for non-subscription orders
	Type             EventType
	GatewayOrderID   string
	AmountCents      int64
	Currency         string
	Status           EventStatus
	RawPayload       json.RawMessage
	RetryCount       int
	ErrorMessage     string
	ProcessingTimeMs int64
	CreatedAt        time.Time
}

// FailedPayment is a retry work item: a payment-failed event joined with
// its order and, when the order belongs to a subscription, the subscription.
type FailedPayment struct {
	Event        PaymentEvent
	Order        Order
	Subscription *Subscription
}
