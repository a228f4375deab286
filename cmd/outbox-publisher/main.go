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

	"github.com/angelmondragon/tradeloop-backend/pkg/config"
	"github.com/angelmondragon/tradeloop-backend/pkg/db"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/migrate"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
	"github.com/angelmondragon/tradeloop-backend/pkg/pubsub"
	"github.com/angelmondragon/tradeloop-backend/pkg/tracing"
)

const serviceName = "outbox-publisher"

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
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": serviceName})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher exited", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher stopped")
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

	psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer psClient.Close()

	topics, err := outbox.NewTopicRegistry(cfg.PubSub.DomainTopic)
	if err != nil {
		return err
	}
	// Courier-facing events go to the notification topic; everything else
	// stays on the domain topic.
	topics.Route(enums.EventDeliveryBroadcast, cfg.PubSub.NotificationTopic)
	topics.Route(enums.EventDeliveryClaimed, cfg.PubSub.NotificationTopic)

	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradeloop",
		Subsystem: "outbox",
		Name:      "publish_results_total",
		Help:      "Outbox publish attempts by result.",
	}, []string{"result"})
	prometheus.MustRegister(results)

	svc, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		PubSub:     psClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Registry:   topics,
		Results:    results,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting outbox publisher")
	return svc.Run(ctx)
}
