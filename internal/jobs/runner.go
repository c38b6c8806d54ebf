// Package jobs drives one batch pass over the three billing work queues.
// Each invocation reads all state from the repository, so a crashed run can
// simply be re-run: item outcomes are idempotent because the billing period
// only advances after the gateway accepts a charge.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/decodorul-oficial/billing/internal/billing"
	"github.com/decodorul-oficial/billing/internal/telemetry"
)

// Job names exposed to the scheduler/CLI.
const (
	JobBilling = "billing"
	JobTrials  = "trials"
	JobRetries = "retries"
)

// Summary counts the outcomes of one job pass.
type Summary struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

// Add merges another summary into this one.
func (s *Summary) Add(other Summary) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}

func (s Summary) String() string {
	return fmt.Sprintf("processed=%d succeeded=%d failed=%d skipped=%d",
		s.Processed, s.Succeeded, s.Failed, s.Skipped)
}

// Runner executes the billing jobs. Items within each queue are processed
// sequentially to bound gateway load; one item's failure is recorded and
// never aborts the batch.
type Runner struct {
	repo    billing.Repository
	orch    billing.Orchestrator
	cfg     billing.Config
	metrics *telemetry.BillingMetrics
	logger  *slog.Logger
}

// NewRunner creates a job runner. metrics may be nil when telemetry is not
// wired (tests, one-off invocations).
func NewRunner(repo billing.Repository, orch billing.Orchestrator, cfg billing.Config, metrics *telemetry.BillingMetrics, logger *slog.Logger) *Runner {
	return &Runner{
		repo:    repo,
		orch:    orch,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// RunBilling processes all subscriptions due for renewal.
func (r *Runner) RunBilling(ctx context.Context) (Summary, error) {
	started := time.Now()
	defer r.observeDuration(JobBilling, started)

	r.logger.Info("processing recurring billing")

	due, err := r.repo.DueForRenewal(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load due subscriptions: %w", err)
	}
	r.logger.Info("found subscriptions due for renewal", "count", len(due))

	var summary Summary
	for _, sub := range due {
		summary.Processed++
		r.countAttempt()

		_, err := r.orch.RenewSubscription(ctx, sub)
		switch {
		case err == nil:
			summary.Succeeded++
			r.countOutcome(JobBilling, "succeeded")
			if r.metrics != nil {
				r.metrics.RenewalSucceeded.Inc()
			}
		case isPrecondition(err):
			// The queue largely guarantees preconditions; an item that
			// changed between read and process is skipped, not failed.
			summary.Skipped++
			r.countOutcome(JobBilling, "skipped")
			r.logger.Warn("skipping renewal", "subscription_id", sub.ID, "reason", err)
		default:
			summary.Failed++
			r.countOutcome(JobBilling, "failed")
			if r.metrics != nil {
				r.metrics.RenewalFailed.Inc()
			}
			r.logger.Error("failed to process renewal", "subscription_id", sub.ID, "error", err)
		}
	}

	r.logger.Info("recurring billing complete", "summary", summary.String())
	return summary, nil
}

// RunTrials processes all expired trials.
func (r *Runner) RunTrials(ctx context.Context) (Summary, error) {
	started := time.Now()
	defer r.observeDuration(JobTrials, started)

	r.logger.Info("processing trial period expirations")

	trials, err := r.repo.ExpiringTrials(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load expiring trials: %w", err)
	}
	r.logger.Info("found trial subscriptions to process", "count", len(trials))

	var summary Summary
	for _, sub := range trials {
		summary.Processed++

		outcome, err := r.orch.ExpireTrial(ctx, sub)
		switch {
		case err == nil:
			summary.Succeeded++
			r.countOutcome(JobTrials, "succeeded")
			if r.metrics != nil {
				if outcome.Converted {
					r.metrics.TrialsConverted.Inc()
				}
				if outcome.Canceled {
					r.metrics.TrialsCanceled.Inc()
					r.metrics.SubscriptionsCanceled.Inc()
				}
			}
		case isPrecondition(err):
			summary.Skipped++
			r.countOutcome(JobTrials, "skipped")
			r.logger.Warn("skipping trial expiration", "subscription_id", sub.ID, "reason", err)
		default:
			summary.Failed++
			r.countOutcome(JobTrials, "failed")
			r.logger.Error("failed to process trial expiration", "subscription_id", sub.ID, "error", err)
		}
	}

	r.logger.Info("trial processing complete", "summary", summary.String())
	return summary, nil
}

// RunRetries processes all failed payments still eligible for retry.
func (r *Runner) RunRetries(ctx context.Context) (Summary, error) {
	started := time.Now()
	defer r.observeDuration(JobRetries, started)

	r.logger.Info("processing payment retries")

	failures, err := r.repo.RetryableFailures(ctx, r.cfg.MaxRetryAttempts, r.cfg.RetryLookback)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load retryable failures: %w", err)
	}
	r.logger.Info("found failed payments to retry", "count", len(failures))

	var summary Summary
	for _, item := range failures {
		summary.Processed++
		if r.metrics != nil {
			r.metrics.RetryAttempts.Inc()
		}

		_, err := r.orch.RetryFailedPayment(ctx, item)
		switch {
		case err == nil:
			summary.Succeeded++
			r.countOutcome(JobRetries, "succeeded")
			if r.metrics != nil {
				r.metrics.RetrySucceeded.Inc()
			}
		case isPrecondition(err):
			summary.Skipped++
			r.countOutcome(JobRetries, "skipped")
			r.logger.Warn("skipping retry", "order_id", item.Order.ID, "reason", err)
		default:
			summary.Failed++
			r.countOutcome(JobRetries, "failed")
			r.logger.Error("failed to retry payment", "order_id", item.Order.ID, "error", err)
		}
	}

	r.logger.Info("payment retries complete", "summary", summary.String())
	return summary, nil
}

// RunAll executes billing, then trials, then retries, in that fixed order
// so a subscription expiring today is not double-processed within one run.
// A job-level failure (typically a repository read) is recorded and the
// remaining jobs still run; the joined error is returned with the combined
// summary.
func (r *Runner) RunAll(ctx context.Context) (Summary, error) {
	r.logger.Info("starting subscription billing run")

	var total Summary
	var errs []error

	for _, job := range []struct {
		name string
		run  func(context.Context) (Summary, error)
	}{
		{JobBilling, r.RunBilling},
		{JobTrials, r.RunTrials},
		{JobRetries, r.RunRetries},
	} {
		summary, err := job.run(ctx)
		total.Add(summary)
		if err != nil {
			r.logger.Error("job failed", "job", job.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", job.name, err))
		}
	}

	r.logger.Info("billing run complete", "summary", total.String())
	return total, errors.Join(errs...)
}

// Run dispatches a single named job, or all of them.
func (r *Runner) Run(ctx context.Context, job string) (Summary, error) {
	switch job {
	case JobBilling:
		return r.RunBilling(ctx)
	case JobTrials:
		return r.RunTrials(ctx)
	case JobRetries:
		return r.RunRetries(ctx)
	case "", "all":
		return r.RunAll(ctx)
	default:
		return Summary{}, fmt.Errorf("unknown job: %s", job)
	}
}

// isPrecondition reports whether err is a precondition violation rather
// than a processing failure.
func isPrecondition(err error) bool {
	return errors.Is(err, billing.ErrNotActive) ||
		errors.Is(err, billing.ErrAutoRenewDisabled) ||
		errors.Is(err, billing.ErrNotDue) ||
		errors.Is(err, billing.ErrNoStoredToken) ||
		errors.Is(err, billing.ErrNotTrialing) ||
		errors.Is(err, billing.ErrTrialNotEnded) ||
		errors.Is(err, billing.ErrNotRetryable) ||
		errors.Is(err, billing.ErrSubscriptionCanceled) ||
		errors.Is(err, billing.ErrRetriesExhausted) ||
		errors.Is(err, billing.ErrRetryWindowExpired)
}

func (r *Runner) countAttempt() {
	if r.metrics != nil {
		r.metrics.RenewalAttempts.Inc()
	}
}

func (r *Runner) countOutcome(job, outcome string) {
	if r.metrics != nil {
		r.metrics.ItemsProcessed.WithLabelValues(job, outcome).Inc()
	}
}

func (r *Runner) observeDuration(job string, started time.Time) {
	if r.metrics != nil {
		r.metrics.JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	}
}
