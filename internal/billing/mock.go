package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/decodorul-oficial/billing/internal/domain"
)

// MockRepository is an in-memory Repository for testing.
// Write operations mutate in-memory records; each Func field can be set to
// override or fail a specific call.
type MockRepository struct {
	// Queue contents returned by the read queries
	Due      []domain.Subscription
	Trials   []domain.Subscription
	Failures []domain.FailedPayment

	// Overridable behavior
	DueForRenewalFunc      func(ctx context.Context) ([]domain.Subscription, error)
	ExpiringTrialsFunc     func(ctx context.Context) ([]domain.Subscription, error)
	RetryableFailuresFunc  func(ctx context.Context, maxAttempts int, lookback time.Duration) ([]domain.FailedPayment, error)
	CreateOrderFunc        func(ctx context.Context, params CreateOrderParams) (uuid.UUID, error)
	UpdateOrderStatusFunc  func(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, gatewayOrderID string) error
	AdvancePeriodFunc      func(ctx context.Context, subscriptionID uuid.UUID, periodStart, periodEnd time.Time) error
	AppendPaymentEventFunc func(ctx context.Context, event domain.PaymentEvent) error
	CancelFunc             func(ctx context.Context, subscriptionID uuid.UUID) error

	// Recorded state for assertions
	Orders       map[uuid.UUID]*domain.Order
	Events       []domain.PaymentEvent
	Periods      map[uuid.UUID][2]time.Time // subscription id -> {start, end}
	CanceledSubs []uuid.UUID
	CallLog      []string
}

// NewMockRepository creates an empty mock repository.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		Orders:  make(map[uuid.UUID]*domain.Order),
		Periods: make(map[uuid.UUID][2]time.Time),
	}
}

func (m *MockRepository) DueForRenewal(ctx context.Context) ([]domain.Subscription, error) {
	m.CallLog = append(m.CallLog, "DueForRenewal")
	if m.DueForRenewalFunc != nil {
		return m.DueForRenewalFunc(ctx)
	}
	return m.Due, nil
}

func (m *MockRepository) ExpiringTrials(ctx context.Context) ([]domain.Subscription, error) {
	m.CallLog = append(m.CallLog, "ExpiringTrials")
	if m.ExpiringTrialsFunc != nil {
		return m.ExpiringTrialsFunc(ctx)
	}
	return m.Trials, nil
}

func (m *MockRepository) RetryableFailures(ctx context.Context, maxAttempts int, lookback time.Duration) ([]domain.FailedPayment, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("RetryableFailures(%d)", maxAttempts))
	if m.RetryableFailuresFunc != nil {
		return m.RetryableFailuresFunc(ctx, maxAttempts, lookback)
	}

	// Apply the same eligibility rules as the real query: only the latest
	// failure row per order is consulted, and settled orders or canceled
	// subscriptions are excluded.
	latest := make(map[uuid.UUID]domain.FailedPayment)
	for _, f := range m.Failures {
		if cur, ok := latest[f.Order.ID]; !ok || f.Event.CreatedAt.After(cur.Event.CreatedAt) {
			latest[f.Order.ID] = f
		}
	}

	cutoff := time.Now().Add(-lookback)
	var eligible []domain.FailedPayment
	for _, f := range latest {
		if f.Event.RetryCount >= maxAttempts || !f.Event.CreatedAt.After(cutoff) {
			continue
		}
		if f.Order.Status != domain.OrderStatusPending {
			continue
		}
		if f.Subscription != nil && f.Subscription.Status == domain.SubscriptionStatusCanceled {
			continue
		}
		eligible = append(eligible, f)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Event.CreatedAt.Before(eligible[j].Event.CreatedAt)
	})
	return eligible, nil
}

func (m *MockRepository) CreateOrder(ctx context.Context, params CreateOrderParams) (uuid.UUID, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateOrder(%s)", params.SubscriptionID))
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, params)
	}

	id := uuid.New()
	m.Orders[id] = &domain.Order{
		ID:             id,
		UserID:         params.UserID,
		SubscriptionID: params.SubscriptionID,
		AmountCents:    params.AmountCents,
		Currency:       params.Currency,
		Status:         domain.OrderStatusPending,
		Metadata:       params.Metadata,
		CreatedAt:      time.Now(),
	}
	return id, nil
}

func (m *MockRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, gatewayOrderID string) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("UpdateOrderStatus(%s, %s)", orderID, status))
	if m.UpdateOrderStatusFunc != nil {
		return m.UpdateOrderStatusFunc(ctx, orderID, status, gatewayOrderID)
	}

	if order, ok := m.Orders[orderID]; ok {
		order.Status = status
		if gatewayOrderID != "" {
			order.GatewayOrderID = gatewayOrderID
		}
	}
	return nil
}

func (m *MockRepository) AdvancePeriod(ctx context.Context, subscriptionID uuid.UUID, periodStart, periodEnd time.Time) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("AdvancePeriod(%s)", subscriptionID))
	if m.AdvancePeriodFunc != nil {
		return m.AdvancePeriodFunc(ctx, subscriptionID, periodStart, periodEnd)
	}

	m.Periods[subscriptionID] = [2]time.Time{periodStart, periodEnd}
	return nil
}

func (m *MockRepository) AppendPaymentEvent(ctx context.Context, event domain.PaymentEvent) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("AppendPaymentEvent(%s)", event.Type))
	if m.AppendPaymentEventFunc != nil {
		return m.AppendPaymentEventFunc(ctx, event)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockRepository) Cancel(ctx context.Context, subscriptionID uuid.UUID) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("Cancel(%s)", subscriptionID))
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, subscriptionID)
	}

	m.CanceledSubs = append(m.CanceledSubs, subscriptionID)
	return nil
}

// EventsOfType filters recorded events for assertions.
func (m *MockRepository) EventsOfType(t domain.EventType) []domain.PaymentEvent {
	var out []domain.PaymentEvent
	for _, e := range m.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
