// Package postgres implements the billing repository over a pgx connection
// pool. Every write is a single, self-contained statement (or one local
// transaction for cancellation); network calls to the gateway never happen
// inside a repository transaction.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/decodorul-oficial/billing/internal/billing"
	"github.com/decodorul-oficial/billing/internal/domain"
)

// Store implements billing.Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a repository backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const subscriptionColumns = `
	s.id, s.user_id, s.tier_id, st.name,
	s.status, st.price_cents, st.currency, st.interval,
	s.auto_renew, s.current_period_start, s.current_period_end,
	s.trial_end, s.netopia_token, s.cancel_effective_at,
	s.created_at, s.updated_at`

// DueForRenewal returns active, auto-renewing subscriptions whose billing
// period has ended and that have a stored token, oldest-due first so
// staleness growth stays bounded.
func (s *Store) DueForRenewal(ctx context.Context) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		JOIN subscription_tiers st ON s.tier_id = st.id
		WHERE s.status = 'ACTIVE'
		AND s.auto_renew = TRUE
		AND s.current_period_end <= NOW()
		AND s.netopia_token IS NOT NULL
		ORDER BY s.current_period_end ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query due subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ExpiringTrials returns trialing subscriptions past their trial end,
// oldest first.
func (s *Store) ExpiringTrials(ctx context.Context) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions s
		JOIN subscription_tiers st ON s.tier_id = st.id
		WHERE s.status = 'TRIALING'
		AND s.trial_end <= NOW()
		ORDER BY s.trial_end ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring trials: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// RetryableFailures returns one work item per order still awaiting a
// successful charge. The failure log is append-only, so only the most
// recent PAYMENT_FAILED row per order reflects the current retry count;
// consulting it keeps the attempt bound intact. Settled orders and
// canceled subscriptions are excluded entirely.
func (s *Store) RetryableFailures(ctx context.Context, maxAttempts int, lookback time.Duration) ([]domain.FailedPayment, error) {
	query := `
		SELECT
			pl.id, pl.order_id, pl.subscription_id, pl.event_type,
			pl.netopia_order_id, pl.amount_cents, pl.currency, pl.status,
			pl.raw_payload, pl.retry_count, pl.error_message,
			pl.processing_time_ms, pl.created_at,
			o.id, o.user_id, o.subscription_id, o.amount_cents, o.currency,
			o.status, o.netopia_order_id, o.metadata, o.created_at, o.updated_at,
			s.id, s.user_id, s.tier_id, st.name, s.status,
			st.price_cents, st.currency, st.interval, s.auto_renew,
			s.current_period_start, s.current_period_end, s.trial_end,
			s.netopia_token, s.cancel_effective_at, s.created_at, s.updated_at
		FROM (
			SELECT DISTINCT ON (order_id) *
			FROM payment_logs
			WHERE event_type = 'PAYMENT_FAILED'
			ORDER BY order_id, created_at DESC
		) pl
		JOIN orders o ON pl.order_id = o.id
		LEFT JOIN subscriptions s ON o.subscription_id = s.id
		LEFT JOIN subscription_tiers st ON s.tier_id = st.id
		WHERE pl.retry_count < $1
		AND pl.created_at >= $2
		AND o.status = 'PENDING'
		AND (s.id IS NULL OR s.status <> 'CANCELED')
		ORDER BY pl.created_at ASC`

	cutoff := time.Now().Add(-lookback)
	rows, err := s.pool.Query(ctx, query, maxAttempts, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query retryable failures: %w", err)
	}
	defer rows.Close()

	var items []domain.FailedPayment
	for rows.Next() {
		var (
			item domain.FailedPayment

			evOrderID, evSubID     pgtype.UUID
			evGatewayID            pgtype.Text
			evAmount, evProcessing pgtype.Int8
			evCurrency, evStatus   pgtype.Text
			evError                pgtype.Text

			ordSubID     pgtype.UUID
			ordGatewayID pgtype.Text

			subID, subUserID, subTierID         pgtype.UUID
			subTierName, subStatus, subCurrency pgtype.Text
			subInterval, subToken               pgtype.Text
			subPrice                            pgtype.Int8
			subAutoRenew                        pgtype.Bool
			subPeriodStart, subPeriodEnd        pgtype.Timestamptz
			subTrialEnd, subCancelAt            pgtype.Timestamptz
			subCreatedAt, subUpdatedAt          pgtype.Timestamptz
		)

		err := rows.Scan(
			&item.Event.ID, &evOrderID, &evSubID, &item.Event.Type,
			&evGatewayID, &evAmount, &evCurrency, &evStatus,
			&item.Event.RawPayload, &item.Event.RetryCount, &evError,
			&evProcessing, &item.Event.CreatedAt,
			&item.Order.ID, &item.Order.UserID, &ordSubID, &item.Order.AmountCents, &item.Order.Currency,
			&item.Order.Status, &ordGatewayID, &item.Order.Metadata, &item.Order.CreatedAt, &item.Order.UpdatedAt,
			&subID, &subUserID, &subTierID, &subTierName, &subStatus,
			&subPrice, &subCurrency, &subInterval, &subAutoRenew,
			&subPeriodStart, &subPeriodEnd, &subTrialEnd,
			&subToken, &subCancelAt, &subCreatedAt, &subUpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retryable failure: %w", err)
		}

		item.Event.OrderID = uuidValue(evOrderID)
		item.Event.SubscriptionID = uuidValue(evSubID)
		item.Event.GatewayOrderID = evGatewayID.String
		item.Event.AmountCents = evAmount.Int64
		item.Event.Currency = evCurrency.String
		item.Event.Status = domain.EventStatus(evStatus.String)
		item.Event.ErrorMessage = evError.String
		item.Event.ProcessingTimeMs = evProcessing.Int64

		item.Order.SubscriptionID = uuidValue(ordSubID)
		item.Order.GatewayOrderID = ordGatewayID.String

		if subID.Valid {
			item.Subscription = &domain.Subscription{
				ID:                 uuidValue(subID),
				UserID:             uuidValue(subUserID),
				TierID:             uuidValue(subTierID),
				TierName:           subTierName.String,
				Status:             domain.SubscriptionStatus(subStatus.String),
				PriceCents:         subPrice.Int64,
				Currency:           subCurrency.String,
				Interval:           domain.BillingInterval(subInterval.String),
				AutoRenew:          subAutoRenew.Bool,
				CurrentPeriodStart: timePtr(subPeriodStart),
				CurrentPeriodEnd:   timePtr(subPeriodEnd),
				TrialEnd:           timePtr(subTrialEnd),
				StoredToken:        subToken.String,
				CancelEffectiveAt:  timePtr(subCancelAt),
				CreatedAt:          subCreatedAt.Time,
				UpdatedAt:          subUpdatedAt.Time,
			}
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

// CreateOrder inserts a PENDING order and returns its id.
func (s *Store) CreateOrder(ctx context.Context, params billing.CreateOrderParams) (uuid.UUID, error) {
	query := `
		INSERT INTO orders (
			user_id, subscription_id, amount_cents, currency, status,
			metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 'PENDING', $5, NOW(), NOW())
		RETURNING id`

	metadata := params.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		params.UserID,
		nullableUUID(params.SubscriptionID),
		params.AmountCents,
		params.Currency,
		metadata,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create order: %w", err)
	}

	return id, nil
}

// UpdateOrderStatus sets the order status; a non-empty gateway order id is
// recorded, an empty one preserves whatever is already stored.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, gatewayOrderID string) error {
	query := `
		UPDATE orders
		SET status = $2,
		    netopia_order_id = COALESCE(NULLIF($3, ''), netopia_order_id),
		    updated_at = NOW()
		WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, orderID, string(status), gatewayOrderID); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// AdvancePeriod moves the billing period forward and marks the subscription
// ACTIVE, which is how trial conversions leave TRIALING.
func (s *Store) AdvancePeriod(ctx context.Context, subscriptionID uuid.UUID, periodStart, periodEnd time.Time) error {
	query := `
		UPDATE subscriptions
		SET status = 'ACTIVE',
		    current_period_start = $2,
		    current_period_end = $3,
		    updated_at = NOW()
		WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, subscriptionID, periodStart, periodEnd); err != nil {
		return fmt.Errorf("failed to advance billing period: %w", err)
	}
	return nil
}

// AppendPaymentEvent appends one immutable audit record.
func (s *Store) AppendPaymentEvent(ctx context.Context, event domain.PaymentEvent) error {
	query := `
		INSERT INTO payment_logs (
			order_id, subscription_id, event_type, netopia_order_id,
			amount_cents, currency, status, raw_payload, retry_count,
			error_message, processing_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`

	payload := event.RawPayload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := s.pool.Exec(ctx, query,
		nullableUUID(event.OrderID),
		nullableUUID(event.SubscriptionID),
		string(event.Type),
		nullableText(event.GatewayOrderID),
		event.AmountCents,
		nullableText(event.Currency),
		nullableText(string(event.Status)),
		payload,
		event.RetryCount,
		nullableText(event.ErrorMessage),
		event.ProcessingTimeMs,
	)
	if err != nil {
		return fmt.Errorf("failed to append payment event: %w", err)
	}
	return nil
}

// Cancel marks the subscription canceled and downgrades the owner's profile
// to the free tier in one local transaction.
func (s *Store) Cancel(ctx context.Context, subscriptionID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin cancellation: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'CANCELED',
		    cancel_effective_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE profiles
		SET subscription_tier = $2, updated_at = NOW()
		WHERE id = (SELECT user_id FROM subscriptions WHERE id = $1)`,
		subscriptionID, domain.FreeTier)
	if err != nil {
		return fmt.Errorf("failed to downgrade profile tier: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	for rows.Next() {
		var (
			sub                    domain.Subscription
			token                  pgtype.Text
			periodStart, periodEnd pgtype.Timestamptz
			trialEnd, cancelAt     pgtype.Timestamptz
		)

		err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.TierID, &sub.TierName,
			&sub.Status, &sub.PriceCents, &sub.Currency, &sub.Interval,
			&sub.AutoRenew, &periodStart, &periodEnd,
			&trialEnd, &token, &cancelAt,
			&sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}

		sub.StoredToken = token.String
		sub.CurrentPeriodStart = timePtr(periodStart)
		sub.CurrentPeriodEnd = timePtr(periodEnd)
		sub.TrialEnd = timePtr(trialEnd)
		sub.CancelEffectiveAt = timePtr(cancelAt)

		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func nullableUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

func nullableText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func uuidValue(u pgtype.UUID) uuid.UUID {
	if !u.Valid {
		return uuid.Nil
	}
	return uuid.UUID(u.Bytes)
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time
	return &out
}
