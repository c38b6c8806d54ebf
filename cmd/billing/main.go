package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/decodorul-oficial/billing/internal"
	"github.com/decodorul-oficial/billing/internal/billing"
	"github.com/decodorul-oficial/billing/internal/gateway"
	"github.com/decodorul-oficial/billing/internal/jobs"
	"github.com/decodorul-oficial/billing/internal/postgres"
	"github.com/decodorul-oficial/billing/internal/telemetry"
)

func usage() string {
	return fmt.Sprintf("usage: %s [%s|%s|%s|all]", os.Args[0], jobs.JobBilling, jobs.JobTrials, jobs.JobRetries)
}

func run() error {
	ctx := context.Background()

	// One optional positional argument selects the job; default runs all three.
	job := "all"
	if len(os.Args) > 1 {
		job = os.Args[1]
	}
	switch job {
	case jobs.JobBilling, jobs.JobTrials, jobs.JobRetries, "all":
	default:
		return fmt.Errorf("unknown job %q\n%s", job, usage())
	}

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize repository
	store := postgres.NewStore(pool)

	// Initialize Netopia gateway client
	logger.Info("Initializing Netopia gateway client...")
	gw, err := gateway.NewNetopiaClient(gateway.Config{
		APIKey:     cfg.Gateway.APIKey,
		SecretKey:  cfg.Gateway.SecretKey,
		BaseURL:    cfg.Gateway.BaseURL,
		ReturnURL:  cfg.BaseURL + "/api/v1/payments/return",
		ConfirmURL: cfg.BaseURL + "/api/v1/payments/confirm",
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway client: %w", err)
	}
	logger.Info("Netopia gateway client initialized")

	// Initialize billing orchestrator and job runner
	billingCfg := billing.Config{
		MaxRetryAttempts: cfg.Retry.MaxAttempts,
		RetryLookback:    cfg.Retry.LookbackWindow,
	}
	orch := billing.NewOrchestrator(store, gw, billingCfg, logger)
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewBillingMetrics(registry)
	runner := jobs.NewRunner(store, orch, billingCfg, metrics, logger)

	summary, runErr := runner.Run(ctx, job)

	// One-shot process: metrics are pushed at the end of the run rather
	// than scraped. Push failures are logged, never fatal.
	if cfg.MetricsPushURL != "" {
		if err := push.New(cfg.MetricsPushURL, "billing").Gatherer(registry).Push(); err != nil {
			logger.Error("failed to push metrics", "gateway", cfg.MetricsPushURL, "error", err)
		} else {
			logger.Info("pushed metrics", "gateway", cfg.MetricsPushURL)
		}
	}

	if runErr != nil {
		logger.Error("billing run finished with errors", "job", job, "summary", summary.String(), "error", runErr)
		return runErr
	}

	logger.Info("billing run finished", "job", job, "summary", summary.String())
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
