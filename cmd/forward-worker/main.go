package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/attribution-backend/internal/adplatform"
	"github.com/angelmondragon/attribution-backend/internal/events"
	"github.com/angelmondragon/attribution-backend/internal/forwarding"
	"github.com/angelmondragon/attribution-backend/internal/stores"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	"github.com/angelmondragon/attribution-backend/pkg/db"
	"github.com/angelmondragon/attribution-backend/pkg/instance"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/metrics"
	"github.com/angelmondragon/attribution-backend/pkg/migrate"
	"github.com/angelmondragon/attribution-backend/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "forward-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "forward-worker"

	logg = logger.New(logger.Options{
		ServiceName: "forward-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	if !cfg.Forwarding.UsesPubSub() {
		logg.Warn(context.Background(), "forwarding mode is not pubsub, forward worker has nothing to consume")
		return
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	if err := pubsubClient.EnsureForwardingSubscription(context.Background()); err != nil {
		logg.Error(context.Background(), "forwarding subscription unavailable", err)
		os.Exit(1)
	}

	storeService, err := stores.NewService(stores.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create store service", err)
		os.Exit(1)
	}

	adClient, err := adplatform.NewClient(cfg.AdPlatform, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create ad platform client", err)
		os.Exit(1)
	}

	worker, err := forwarding.NewWorker(forwarding.WorkerParams{
		Stores:         storeService,
		Events:         events.NewRepository(dbClient.DB()),
		Sender:         adClient,
		Logger:         logg,
		Metrics:        metrics.NewAttributionMetrics(prometheus.DefaultRegisterer),
		MaxErrorLength: cfg.Forwarding.MaxErrorLength,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create forwarding worker", err)
		os.Exit(1)
	}

	consumer, err := forwarding.NewConsumer(pubsubClient.ForwardingSubscription(), worker, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create forwarding consumer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"instance":     instance.GetID(),
		"subscription": cfg.PubSub.ForwardingSubscription,
	})
	logg.Info(ctx, "starting forward worker")

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "forward worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "forward worker shutting down gracefully")
}
