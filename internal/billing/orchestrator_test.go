package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decodorul-oficial/billing/internal/domain"
	"github.com/decodorul-oficial/billing/internal/gateway"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testOrchestrator(repo *MockRepository, gw gateway.Client) Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(repo, gw, Config{MaxRetryAttempts: 3, RetryLookback: 24 * time.Hour}, logger)
}

func activeSubscription() domain.Subscription {
	yesterday := time.Now().Add(-24 * time.Hour)
	monthAgo := time.Now().Add(-31 * 24 * time.Hour)
	return domain.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		TierID:             uuid.New(),
		TierName:           "premium",
		Status:             domain.SubscriptionStatusActive,
		PriceCents:         4999,
		Currency:           "RON",
		Interval:           domain.BillingIntervalMonthly,
		AutoRenew:          true,
		CurrentPeriodStart: &monthAgo,
		CurrentPeriodEnd:   &yesterday,
		StoredToken:        "tok_stored_123",
	}
}

func trialSubscription(withToken bool) domain.Subscription {
	hourAgo := time.Now().Add(-time.Hour)
	sub := domain.Subscription{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		TierID:     uuid.New(),
		TierName:   "premium",
		Status:     domain.SubscriptionStatusTrialing,
		PriceCents: 4999,
		Currency:   "RON",
		Interval:   domain.BillingIntervalMonthly,
		AutoRenew:  true,
		TrialEnd:   &hourAgo,
	}
	if withToken {
		sub.StoredToken = "tok_stored_123"
	}
	return sub
}

func fixedGatewayResult(id string) *gateway.ChargeResult {
	return &gateway.ChargeResult{
		GatewayOrderID: id,
		Status:         "confirmed_pending",
		RawPayload:     json.RawMessage(`{"netopia_order_id":"` + id + `"}`),
	}
}

// =============================================================================
// RENEW SUBSCRIPTION
// =============================================================================

func TestRenewSubscription(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted charge advances period and records success", func(t *testing.T) {
		repo := NewMockRepository()
		gw := gateway.NewMockClient()
		gw.ChargeStoredTokenFunc = func(ctx context.Context, params gateway.ChargeParams) (*gateway.ChargeResult, error) {
			return fixedGatewayResult("G-1"), nil
		}
		orch := testOrchestrator(repo, gw)

		sub := activeSubscription()
		outcome, err := orch.RenewSubscription(ctx, sub)
		require.NoError(t, err)

		// Order created for the tier price and moved to PROCESSING
		require.Len(t, repo.Orders, 1)
		order := repo.Orders[outcome.OrderID]
		require.NotNil(t, order)
		assert.Equal(t, int64(4999), order.AmountCents)
		assert.Equal(t, "RON", order.Currency)
		assert.Equal(t, domain.OrderStatusProcessing, order.Status)
		assert.Equal(t, "G-1", order.GatewayOrderID)

		// Period advanced to roughly now+30d
		period, ok := repo.Periods[sub.ID]
		require.True(t, ok)
		assert.WithinDuration(t, time.Now(), period[0], 5*time.Second)
		assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), period[1], 5*time.Second)
		assert.Equal(t, period[1], outcome.PeriodEnd)

		// Exactly one SUCCESS event referencing the gateway order
		events := repo.EventsOfType(domain.EventAutoRenewalAttempted)
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventStatusSuccess, events[0].Status)
		assert.Equal(t, "G-1", events[0].GatewayOrderID)
		assert.Equal(t, sub.ID, events[0].SubscriptionID)
		assert.Empty(t, repo.EventsOfType(domain.EventPaymentFailed))

		// Stored token was the one charged
		require.Len(t, gw.Charges, 1)
		assert.Equal(t, "tok_stored_123", gw.Charges[0].Token)
	})

	t.Run("yearly interval advances by 365 days", func(t *testing.T) {
		repo := NewMockRepository()
		orch := testOrchestrator(repo, gateway.NewMockClient())

		sub := activeSubscription()
		sub.Interval = domain.BillingIntervalYearly

		outcome, err := orch.RenewSubscription(ctx, sub)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(365*24*time.Hour), outcome.PeriodEnd, 5*time.Second)
	})

	t.Run("declined charge leaves period unchanged and records failure", func(t *testing.T) {
		repo := NewMockRepository()
		gw := gateway.NewMockClient()
		gw.ChargeStoredTokenFunc = func(ctx context.Context, params gateway.ChargeParams) (*gateway.ChargeResult, error) {
			return nil, &gateway.RejectedError{Reason: "insufficient funds", HTTPStatus: 402}
		}
		orch := testOrchestrator(repo, gw)

		sub := activeSubscription()
		_, err := orch.RenewSubscription(ctx, sub)
		require.Error(t, err)
		assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))

		// Period not advanced: next run re-selects this subscription
		assert.Empty(t, repo.Periods)

		// Order left in PENDING
		require.Len(t, repo.Orders, 1)
		for _, order := range repo.Orders {
			assert.Equal(t, domain.OrderStatusPending, order.Status)
		}

		// One FAILED event with the error message
		events := repo.EventsOfType(domain.EventPaymentFailed)
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventStatusFailed, events[0].Status)
		assert.Contains(t, events[0].ErrorMessage, "insufficient funds")
		assert.Zero(t, events[0].RetryCount)
		assert.Empty(t, repo.EventsOfType(domain.EventAutoRenewalAttempted))
	})

	t.Run("timeout surfaces as transient payment error", func(t *testing.T) {
		repo := NewMockRepository()
		gw := gateway.NewMockClient()
		gw.ChargeStoredTokenFunc = func(ctx context.Context, params gateway.ChargeParams) (*gateway.ChargeResult, error) {
			return nil, gateway.ErrTimeout
		}
		orch := testOrchestrator(repo, gw)

		_, err := orch.RenewSubscription(ctx, activeSubscription())
		require.Error(t, err)
		assert.True(t, gateway.IsTransient(err))
		assert.Empty(t, repo.Periods)
	})

	t.Run("preconditions", func(t *testing.T) {
		orch := testOrchestrator(NewMockRepository(), gateway.NewMockClient())

		canceled := activeSubscription()
		canceled.Status = domain.SubscriptionStatusCanceled
		_, err := orch.RenewSubscription(ctx, canceled)
		assert.ErrorIs(t, err, ErrNotActive)

		noRenew := activeSubscription()
		noRenew.AutoRenew = false
		_, err = orch.RenewSubscription(ctx, noRenew)
		assert.ErrorIs(t, err, ErrAutoRenewDisabled)

		notDue := activeSubscription()
		future := time.Now().Add(24 * time.Hour)
		notDue.CurrentPeriodEnd = &future
		_, err = orch.RenewSubscription(ctx, notDue)
		assert.ErrorIs(t, err, ErrNotDue)

		noToken := activeSubscription()
		noToken.StoredToken = ""
		_, err = orch.RenewSubscription(ctx, noToken)
		assert.ErrorIs(t, err, ErrNoStoredToken)
	})

	t.Run("order creation failure aborts before any charge", func(t *testing.T) {
		repo := NewMockRepository()
		repo.CreateOrderFunc = func(ctx context.Context, params CreateOrderParams) (uuid.UUID, error) {
			return uuid.Nil, errors.New("connection reset")
		}
		gw := gateway.NewMockClient()
		orch := testOrchestrator(repo, gw)

		_, err := orch.RenewSubscription(ctx, activeSubscription())
		require.Error(t, err)
		assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
		assert.Empty(t, gw.Charges)
	})
}

// =============================================================================
// EXPIRE TRIAL
// =============================================================================

func TestExpireTrial(t *testing.T) {
	ctx := context.Background()

	t.Run("no payment method cancels immediately", func(t *testing.T) {
		repo := NewMockRepository()
		gw := gateway.NewMockClient()
		orch := testOrchestrator(repo, gw)

		sub := trialSubscription(false)
		outcome, err := orch.ExpireTrial(ctx, sub)
		require.NoError(t, err)

		assert.True(t, outcome.Canceled)
		assert.False(t, outcome.Converted)
		assert.Contains(t, outcome.Reason, "no payment method")

		assert.Equal(t, []uuid.UUID{sub.ID}, repo.CanceledSubs)
		assert.Empty(t, gw.Charges)

		events := repo.EventsOfType(domain.EventSubscriptionCanceled)
		require.Len(t, events, 1)
		assert.Contains(t, string(events[0].RawPayload), "no payment method")
	})

	t.Run("stored token converts through the renewal path", func(t *testing.T) {
		repo := NewMockRepository()
		gw := gateway.NewMockClient()
		gw.ChargeStoredTokenFunc = func(ctx context.Context, params gateway.ChargeParams) (*gateway.ChargeResult, error) {
			return fixedGatewayResult("G-7"), nil
		}
		orch := testOrchestrator(repo, gw)

		sub := trialSubscription(true)
		outcome, err := orch.ExpireTrial(ctx, sub)
		require.NoError(t, err)

		assert.True(t, outcome.Converted)
		assert.False(t, outcome.Canceled)
		require.NotNil(t, outcome.Renewal)
		assert.Equal(t, "G-7", outcome.Renewal.GatewayOrderID)

		// Charged and period started: the subscription leaves TRIALING
		_, advanced := repo.Periods[sub.ID]
		assert.True(t, advanced)
		assert.Empty(t, repo.CanceledSubs)
	})

	t.Run("failed charge cancels instead of leaving the trial open", func(t *testing.T) {
		repo := NewMockRepository()
		gw := gateway.NewMockClient()
		gw.ChargeStoredTokenFunc = func(ctx context.Context, params gateway.ChargeParams) (*gateway.ChargeResult, error) {
			return nil, &gateway.RejectedError{Reason: "card expired", HTTPStatus: 402}
		}
		orch := testOrchestrator(repo, gw)

		sub := trialSubscription(true)
		outcome, err := orch.ExpireTrial(ctx, sub)
		require.NoError(t, err)

		assert.True(t, outcome.Canceled)
		assert.Contains(t, outcome.Reason, "charge failed")
		assert.Contains(t, outcome.Reason, "card expired")
		assert.Equal(t, []uuid.UUID{sub.ID}, repo.CanceledSubs)
		assert.Empty(t, repo.Periods)

		// Both the failed charge and the cancellation were recorded
		assert.Len(t, repo.EventsOfType(domain.EventPaymentFailed), 1)
		assert.Len(t, repo.EventsOfType(domain.EventSubscriptionCanceled), 1)
	})

	t.Run("preconditions", func(t *testing.T) {
		orch := testOrchestrator(NewMockRepository(), gateway.NewMockClient())

		active := activeSubscription()
		_, err := orch.ExpireTrial(ctx, active)
		assert.ErrorIs(t, err, ErrNotTrialing)

		notEnded := trialSubscription(true)
		future := time.Now().Add(time.Hour)
		notEnded.TrialEnd = &future
		_, err = orch.ExpireTrial(ctx, notEnded)
		assert.ErrorIs(t, err, ErrTrialNotEnded)
	})
}

// =============================================================================
// RETRY FAILED PAYMENT
// =============================================================================

func failedPaymentItem(retryCount int, age time.Duration) domain.FailedPayment {
	sub := activeSubscription()
	order := domain.Order{
		ID:             uuid.New(),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		AmountCents:    sub.PriceCents,
		Currency:       sub.Currency,
		Status:         domain.OrderStatusPending,
	}
	return domain.FailedPayment{
		Event: domain.PaymentEvent{
			ID:             uuid.New(),
			OrderID:        order.ID,
			SubscriptionID: sub.ID,
			Type:           domain.EventPaymentFailed,
			AmountCents:    order.AmountCents,
			Currency:       order.Currency,
			Status:         domain.EventStatusFailed,
			RetryCount:     retryCount,
			ErrorMessage:   "insufficient funds",
			CreatedAt:      time.Now().Add(-age),
		},
		Order:        order,
		Subscription: &sub,
	}
}

func TestRetryFailedPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("retry increments count and re-submits the charge", func(t *testing.T) {
		repo := NewMockRepository()
		gw := gateway.NewMockClient()
		gw.ChargeStoredTokenFunc = func(ctx context.Context, params gateway.ChargeParams) (*gateway.ChargeResult, error) {
			return fixedGatewayResult("G-9"), nil
		}
		orch := testOrchestrator(repo, gw)

		item := failedPaymentItem(1, 2*time.Hour)
		outcome, err := orch.RetryFailedPayment(ctx, item)
		require.NoError(t, err)
		assert.Equal(t, 2, outcome.RetryCount)

		// RETRYING event carries the incremented count
		retries := repo.EventsOfType(domain.EventPaymentRetry)
		require.Len(t, retries, 1)
		assert.Equal(t, 2, retries[0].RetryCount)
		assert.Equal(t, domain.EventStatusRetrying, retries[0].Status)

		// The charge was literally re-submitted against the original order
		require.Len(t, gw.Charges, 1)
		assert.Equal(t, item.Order.ID, gw.Charges[0].OrderID)
		assert.Equal(t, "tok_stored_123", gw.Charges[0].Token)

		// Accepted retry completes the renewal: period advanced
		_, advanced := repo.Periods[item.Subscription.ID]
		assert.True(t, advanced)
	})

	t.Run("failed retry records failure with the new count", func(t *testing.T) {
		repo := NewMockRepository()
		gw := gateway.NewMockClient()
		gw.ChargeStoredTokenFunc = func(ctx context.Context, params gateway.ChargeParams) (*gateway.ChargeResult, error) {
			return nil, &gateway.RejectedError{Reason: "do not honor", HTTPStatus: 402}
		}
		orch := testOrchestrator(repo, gw)

		item := failedPaymentItem(1, 2*time.Hour)
		_, err := orch.RetryFailedPayment(ctx, item)
		require.Error(t, err)

		failures := repo.EventsOfType(domain.EventPaymentFailed)
		require.Len(t, failures, 1)
		assert.Equal(t, 2, failures[0].RetryCount)
		assert.Empty(t, repo.Periods)
	})

	t.Run("non-subscription order is charged without advancing any period", func(t *testing.T) {
		repo := NewMockRepository()
		gw := gateway.NewMockClient()
		orch := testOrchestrator(repo, gw)

		item := failedPaymentItem(0, time.Hour)
		item.Subscription = nil
		item.Order.SubscriptionID = uuid.Nil
		item.Event.SubscriptionID = uuid.Nil

		outcome, err := orch.RetryFailedPayment(ctx, item)
		require.NoError(t, err)
		assert.True(t, outcome.Renewal.PeriodEnd.IsZero())
		assert.Empty(t, repo.Periods)
	})

	t.Run("canceled subscription is refused", func(t *testing.T) {
		repo := NewMockRepository()
		gw := gateway.NewMockClient()
		orch := testOrchestrator(repo, gw)

		item := failedPaymentItem(1, time.Hour)
		item.Subscription.Status = domain.SubscriptionStatusCanceled

		_, err := orch.RetryFailedPayment(ctx, item)
		assert.ErrorIs(t, err, ErrSubscriptionCanceled)

		// No charge was submitted and nothing was resurrected
		assert.Empty(t, gw.Charges)
		assert.Empty(t, repo.Periods)
		assert.Empty(t, repo.Events)
	})

	t.Run("exhausted and stale items are refused", func(t *testing.T) {
		orch := testOrchestrator(NewMockRepository(), gateway.NewMockClient())

		exhausted := failedPaymentItem(3, time.Hour)
		_, err := orch.RetryFailedPayment(ctx, exhausted)
		assert.ErrorIs(t, err, ErrRetriesExhausted)

		stale := failedPaymentItem(1, 25*time.Hour)
		_, err = orch.RetryFailedPayment(ctx, stale)
		assert.ErrorIs(t, err, ErrRetryWindowExpired)

		wrongType := failedPaymentItem(1, time.Hour)
		wrongType.Event.Type = domain.EventSubscriptionCanceled
		_, err = orch.RetryFailedPayment(ctx, wrongType)
		assert.ErrorIs(t, err, ErrNotRetryable)
	})
}

// =============================================================================
// CANCEL SUBSCRIPTION
// =============================================================================

func TestCancelSubscription(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels and records the reason", func(t *testing.T) {
		repo := NewMockRepository()
		orch := testOrchestrator(repo, gateway.NewMockClient())

		sub := activeSubscription()
		err := orch.CancelSubscription(ctx, sub, "payment method revoked")
		require.NoError(t, err)

		assert.Equal(t, []uuid.UUID{sub.ID}, repo.CanceledSubs)

		events := repo.EventsOfType(domain.EventSubscriptionCanceled)
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventStatusCanceled, events[0].Status)
		assert.Contains(t, string(events[0].RawPayload), "payment method revoked")
		assert.Contains(t, string(events[0].RawPayload), `"auto_cancel":true`)
	})

	t.Run("already canceled is a no-op", func(t *testing.T) {
		repo := NewMockRepository()
		orch := testOrchestrator(repo, gateway.NewMockClient())

		sub := activeSubscription()
		sub.Status = domain.SubscriptionStatusCanceled
		err := orch.CancelSubscription(ctx, sub, "again")
		require.NoError(t, err)

		assert.Empty(t, repo.CanceledSubs)
		assert.Empty(t, repo.Events)
	})
}
