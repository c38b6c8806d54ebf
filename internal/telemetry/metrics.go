package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics holds Prometheus metrics for the billing engine.
type BillingMetrics struct {
	// Renewals
	RenewalAttempts  prometheus.Counter
	RenewalSucceeded prometheus.Counter
	RenewalFailed    prometheus.Counter

	// Trials
	TrialsConverted prometheus.Counter
	TrialsCanceled  prometheus.Counter

	// Retries
	RetryAttempts  prometheus.Counter
	RetrySucceeded prometheus.Counter

	// Cancellations from any path
	SubscriptionsCanceled prometheus.Counter

	// Batch runs, labeled by job name and outcome
	ItemsProcessed *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
}

// NewBillingMetrics registers billing metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	factory := promauto.With(reg)

	return &BillingMetrics{
		RenewalAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_renewal_attempts_total",
			Help: "Renewal charges submitted to the payment gateway",
		}),
		RenewalSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_renewal_succeeded_total",
			Help: "Renewal charges accepted by the payment gateway",
		}),
		RenewalFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_renewal_failed_total",
			Help: "Renewal charges that failed or were declined",
		}),
		TrialsConverted: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_trials_converted_total",
			Help: "Trial subscriptions converted to paid",
		}),
		TrialsCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_trials_canceled_total",
			Help: "Trial subscriptions canceled at expiry",
		}),
		RetryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_retry_attempts_total",
			Help: "Failed payments re-submitted to the gateway",
		}),
		RetrySucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_retry_succeeded_total",
			Help: "Payment retries accepted by the gateway",
		}),
		SubscriptionsCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_subscriptions_canceled_total",
			Help: "Subscriptions transitioned to CANCELED by the engine",
		}),
		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_items_processed_total",
			Help: "Work items processed per job and outcome",
		}, []string{"job", "outcome"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_job_duration_seconds",
			Help:    "Wall-clock duration of one job pass",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job"}),
	}
}
