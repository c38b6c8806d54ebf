package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/decodorul-oficial/billing/internal/domain"
	"github.com/decodorul-oficial/billing/internal/gateway"
)

// orchestrator implements Orchestrator.
type orchestrator struct {
	repo    Repository
	gateway gateway.Client
	cfg     Config
	logger  *slog.Logger
}

// NewOrchestrator creates a billing orchestrator.
func NewOrchestrator(repo Repository, gw gateway.Client, cfg Config, logger *slog.Logger) Orchestrator {
	return &orchestrator{
		repo:    repo,
		gateway: gw,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// RenewSubscription charges one due renewal. See Orchestrator for the flow.
func (o *orchestrator) RenewSubscription(ctx context.Context, sub domain.Subscription) (*RenewalOutcome, error) {
	if sub.Status != domain.SubscriptionStatusActive {
		return nil, ErrNotActive
	}
	if !sub.AutoRenew {
		return nil, ErrAutoRenewDisabled
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.After(time.Now()) {
		return nil, ErrNotDue
	}
	if !sub.HasStoredToken() {
		return nil, ErrNoStoredToken
	}

	return o.renew(ctx, sub)
}

// renew is the shared charge path used by renewals, trial conversions, and
// retries that need a fresh order. It creates the order, submits the
// charge, and on acceptance advances the period.
func (o *orchestrator) renew(ctx context.Context, sub domain.Subscription) (*RenewalOutcome, error) {
	o.logger.Info("processing renewal", "subscription_id", sub.ID, "tier", sub.TierName)

	metadata, err := json.Marshal(domain.OrderMetadata{
		SubscriptionID: sub.ID.String(),
		TierName:       sub.TierName,
		Renewal:        true,
		AutoRenewal:    true,
	})
	if err != nil {
		return nil, &domain.Error{Code: domain.EINTERNAL, Op: "billing.renew", Message: "failed to marshal order metadata", Err: err}
	}

	orderID, err := o.repo.CreateOrder(ctx, CreateOrderParams{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		AmountCents:    sub.PriceCents,
		Currency:       sub.Currency,
		Metadata:       metadata,
	})
	if err != nil {
		return nil, &domain.Error{Code: domain.EINTERNAL, Op: "billing.renew", Message: "failed to create renewal order", Err: err}
	}

	o.logger.Info("created renewal order", "order_id", orderID, "subscription_id", sub.ID)

	order := domain.Order{
		ID:             orderID,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		AmountCents:    sub.PriceCents,
		Currency:       sub.Currency,
	}

	return o.charge(ctx, order, &sub, 0)
}

// charge submits one charge for an existing order and records the outcome.
// retryCount is carried onto the appended events so failure records stay
// countable by the retry selection query. When sub is non-nil an accepted
// charge also advances the subscription period.
func (o *orchestrator) charge(ctx context.Context, order domain.Order, sub *domain.Subscription, retryCount int) (*RenewalOutcome, error) {
	var subID = order.SubscriptionID
	var token string
	if sub != nil {
		token = sub.StoredToken
	}

	started := time.Now()
	result, err := o.gateway.ChargeStoredToken(ctx, gateway.ChargeParams{
		OrderID:        order.ID,
		SubscriptionID: subID,
		Token:          token,
		AmountCents:    order.AmountCents,
		Currency:       order.Currency,
	})
	elapsedMs := time.Since(started).Milliseconds()

	if err != nil {
		o.logger.Error("charge failed",
			"order_id", order.ID,
			"subscription_id", subID,
			"transient", gateway.IsTransient(err),
			"error", err,
		)

		event := domain.PaymentEvent{
			OrderID:          order.ID,
			SubscriptionID:   subID,
			Type:             domain.EventPaymentFailed,
			AmountCents:      order.AmountCents,
			Currency:         order.Currency,
			Status:           domain.EventStatusFailed,
			RetryCount:       retryCount,
			ErrorMessage:     err.Error(),
			ProcessingTimeMs: elapsedMs,
		}
		if logErr := o.repo.AppendPaymentEvent(ctx, event); logErr != nil {
			o.logger.Error("failed to append failure event", "order_id", order.ID, "error", logErr)
		}

		return nil, &domain.Error{Code: domain.EPAYMENT, Op: "billing.charge", Message: "gateway charge failed", Err: err}
	}

	// The gateway accepted the charge; from here on the order moves to
	// PROCESSING and, for subscription orders, the period advances.
	if err := o.repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusProcessing, result.GatewayOrderID); err != nil {
		return nil, &domain.Error{Code: domain.EINTERNAL, Op: "billing.charge", Message: "failed to update order status", Err: err}
	}

	outcome := &RenewalOutcome{
		OrderID:        order.ID,
		GatewayOrderID: result.GatewayOrderID,
	}

	if sub != nil {
		now := time.Now()
		periodEnd := now.Add(domain.PeriodLength(sub.Interval))
		if err := o.repo.AdvancePeriod(ctx, sub.ID, now, periodEnd); err != nil {
			return nil, &domain.Error{Code: domain.EINTERNAL, Op: "billing.charge", Message: "failed to advance billing period", Err: err}
		}
		outcome.PeriodStart = now
		outcome.PeriodEnd = periodEnd
	}

	event := domain.PaymentEvent{
		OrderID:          order.ID,
		SubscriptionID:   subID,
		Type:             domain.EventAutoRenewalAttempted,
		GatewayOrderID:   result.GatewayOrderID,
		AmountCents:      order.AmountCents,
		Currency:         order.Currency,
		Status:           domain.EventStatusSuccess,
		RawPayload:       result.RawPayload,
		RetryCount:       retryCount,
		ProcessingTimeMs: elapsedMs,
	}
	if err := o.repo.AppendPaymentEvent(ctx, event); err != nil {
		return nil, &domain.Error{Code: domain.EINTERNAL, Op: "billing.charge", Message: "failed to append success event", Err: err}
	}

	o.logger.Info("renewal charge accepted",
		"order_id", order.ID,
		"subscription_id", subID,
		"gateway_order_id", result.GatewayOrderID,
		"processing_time_ms", elapsedMs,
	)

	return outcome, nil
}

// ExpireTrial settles one expired trial. See Orchestrator.
func (o *orchestrator) ExpireTrial(ctx context.Context, sub domain.Subscription) (*TrialOutcome, error) {
	if sub.Status != domain.SubscriptionStatusTrialing {
		return nil, ErrNotTrialing
	}
	if sub.TrialEnd == nil || sub.TrialEnd.After(time.Now()) {
		return nil, ErrTrialNotEnded
	}

	o.logger.Info("processing trial expiration", "subscription_id", sub.ID)

	if !sub.HasStoredToken() {
		reason := "Trial expired - no payment method"
		if err := o.CancelSubscription(ctx, sub, reason); err != nil {
			return nil, err
		}
		o.logger.Info("canceled trial without payment method", "subscription_id", sub.ID)
		return &TrialOutcome{Canceled: true, Reason: reason}, nil
	}

	renewal, err := o.renew(ctx, sub)
	if err != nil {
		reason := fmt.Sprintf("Trial expired - charge failed: %v", err)
		if cancelErr := o.CancelSubscription(ctx, sub, reason); cancelErr != nil {
			return nil, cancelErr
		}
		o.logger.Info("canceled trial after failed charge", "subscription_id", sub.ID, "error", err)
		return &TrialOutcome{Canceled: true, Reason: reason}, nil
	}

	o.logger.Info("trial converted to paid subscription", "subscription_id", sub.ID)
	return &TrialOutcome{Converted: true, Renewal: renewal}, nil
}

// RetryFailedPayment re-submits the charge for one failed payment. See
// Orchestrator.
func (o *orchestrator) RetryFailedPayment(ctx context.Context, item domain.FailedPayment) (*RetryOutcome, error) {
	if item.Event.Type != domain.EventPaymentFailed {
		return nil, ErrNotRetryable
	}
	if item.Subscription != nil && item.Subscription.Status == domain.SubscriptionStatusCanceled {
		return nil, ErrSubscriptionCanceled
	}
	if item.Event.RetryCount >= o.cfg.MaxRetryAttempts {
		return nil, ErrRetriesExhausted
	}
	if time.Since(item.Event.CreatedAt) > o.cfg.RetryLookback {
		return nil, ErrRetryWindowExpired
	}

	retryCount := item.Event.RetryCount + 1
	o.logger.Info("retrying failed payment",
		"order_id", item.Order.ID,
		"attempt", retryCount,
		"max_attempts", o.cfg.MaxRetryAttempts,
	)

	retryEvent := domain.PaymentEvent{
		OrderID:        item.Order.ID,
		SubscriptionID: item.Order.SubscriptionID,
		Type:           domain.EventPaymentRetry,
		AmountCents:    item.Order.AmountCents,
		Currency:       item.Order.Currency,
		Status:         domain.EventStatusRetrying,
		RetryCount:     retryCount,
	}
	if err := o.repo.AppendPaymentEvent(ctx, retryEvent); err != nil {
		return nil, &domain.Error{Code: domain.EINTERNAL, Op: "billing.retry", Message: "failed to append retry event", Err: err}
	}

	renewal, err := o.charge(ctx, item.Order, item.Subscription, retryCount)
	if err != nil {
		return nil, err
	}

	return &RetryOutcome{RetryCount: retryCount, Renewal: renewal}, nil
}

// CancelSubscription marks the subscription canceled, downgrades the user
// to the free tier, and records the cancellation. See Orchestrator.
func (o *orchestrator) CancelSubscription(ctx context.Context, sub domain.Subscription, reason string) error {
	if sub.Status == domain.SubscriptionStatusCanceled {
		o.logger.Debug("subscription already canceled", "subscription_id", sub.ID)
		return nil
	}

	if err := o.repo.Cancel(ctx, sub.ID); err != nil {
		return &domain.Error{Code: domain.EINTERNAL, Op: "billing.cancel", Message: "failed to cancel subscription", Err: err}
	}

	payload, err := json.Marshal(map[string]any{
		"reason":      reason,
		"auto_cancel": true,
	})
	if err != nil {
		return &domain.Error{Code: domain.EINTERNAL, Op: "billing.cancel", Message: "failed to marshal cancellation payload", Err: err}
	}

	event := domain.PaymentEvent{
		SubscriptionID: sub.ID,
		Type:           domain.EventSubscriptionCanceled,
		Status:         domain.EventStatusCanceled,
		RawPayload:     payload,
	}
	if err := o.repo.AppendPaymentEvent(ctx, event); err != nil {
		return &domain.Error{Code: domain.EINTERNAL, Op: "billing.cancel", Message: "failed to append cancellation event", Err: err}
	}

	o.logger.Info("subscription canceled", "subscription_id", sub.ID, "reason", reason)
	return nil
}
