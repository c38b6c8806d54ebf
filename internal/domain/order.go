package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the state of one attempted charge.
// Status is monotonic: PENDING -> PROCESSING -> COMPLETED | FAILED.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusFailed     OrderStatus = "FAILED"
)

// Order represents one attempted charge. Exactly one order is created per
// renewal attempt; the gateway confirms final settlement asynchronously,
// so a successfully submitted charge leaves the order in PROCESSING.
type Order struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	SubscriptionID uuid.UUID // Zero for non-subscription orders
	AmountCents    int64
	Currency       string
	Status         OrderStatus
	GatewayOrderID string // Provider-assigned id, set once the gateway accepts the charge
	Metadata       json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderMetadata is the JSON stored in an order's metadata column for
// renewal orders.
type OrderMetadata struct {
	SubscriptionID string `json:"subscription_id"`
	TierName       string `json:"tier_name"`
	Renewal        bool   `json:"renewal"`
	AutoRenewal    bool   `json:"auto_renewal"`
}
