package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tradeloop-backend/internal/bootstrap"
	"github.com/angelmondragon/tradeloop-backend/internal/cron"
	"github.com/angelmondragon/tradeloop-backend/internal/notifications"
	"github.com/angelmondragon/tradeloop-backend/pkg/config"
	"github.com/angelmondragon/tradeloop-backend/pkg/db"
	"github.com/angelmondragon/tradeloop-backend/pkg/instance"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/metrics"
	"github.com/angelmondragon/tradeloop-backend/pkg/migrate"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
	"github.com/angelmondragon/tradeloop-backend/pkg/pubsub"
	"github.com/angelmondragon/tradeloop-backend/pkg/redis"
	"github.com/angelmondragon/tradeloop-backend/pkg/stripe"
	"github.com/angelmondragon/tradeloop-backend/pkg/tracing"
)

const serviceName = "cron-worker"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "reading .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"instance":    instance.GetID(),
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker exited", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer redisClient.Close()

	psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer psClient.Close()

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return fmt.Errorf("bootstrap stripe: %w", err)
	}

	svcs, err := bootstrap.New(bootstrap.Params{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Gateway:  stripeClient,
		Notifier: notifications.NewDispatcher(notifications.NewPubSubSender(psClient.NotificationPublisher()), logg),
		Metrics:  metrics.NewDomainMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, svcs)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceName), cfg.Cron.LockTTL)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting cron worker")
	return service.Run(ctx)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, svcs *bootstrap.Services) (*cron.Registry, error) {
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.RetentionAfter,
	})
	if err != nil {
		return nil, err
	}
	offerExpiry, err := cron.NewOfferExpiryJob(svcs.Offers, 0)
	if err != nil {
		return nil, err
	}
	deliveryExpiry, err := cron.NewDeliveryExpiryJob(svcs.Fulfillment, 0)
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Payments:     svcs.Payments,
		AbandonAfter: cfg.Cron.StalePaymentAfter,
		RecheckAfter: cfg.Cron.PaymentRecheckAfter,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(retention, offerExpiry, deliveryExpiry, reconcile)
}
