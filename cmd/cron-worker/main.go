package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/attribution-backend/internal/cron"
	"github.com/angelmondragon/attribution-backend/internal/events"
	"github.com/angelmondragon/attribution-backend/internal/export"
	"github.com/angelmondragon/attribution-backend/internal/remap"
	"github.com/angelmondragon/attribution-backend/pkg/bigquery"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	"github.com/angelmondragon/attribution-backend/pkg/db"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/metrics"
	"github.com/angelmondragon/attribution-backend/pkg/migrate"
	"github.com/angelmondragon/attribution-backend/pkg/redis"
)

const lockScope = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	attributionMetrics := metrics.NewAttributionMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockScope, cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	eventRepo := events.NewRepository(dbClient.DB())
	remapService, err := remap.NewService(remap.ServiceParams{
		Events:  eventRepo,
		Config:  cfg.Remap,
		Logger:  logg,
		Metrics: attributionMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create remap service", err)
		os.Exit(1)
	}
	remapJob, err := cron.NewRemapJob(cron.RemapJobParams{
		Logger:     logg,
		Stores:     eventRepo,
		Remapper:   remapService,
		Lookback:   cfg.Remap.Lookback,
		StoreLimit: cfg.Remap.StoreLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create remap job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(remapJob)

	if cfg.BigQuery.Enabled {
		schema, err := export.Schema()
		if err != nil {
			logg.Error(context.Background(), "failed to infer export schema", err)
			os.Exit(1)
		}
		bqClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, schema, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap bigquery", err)
			os.Exit(1)
		}
		defer func() {
			if err := bqClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing bigquery client", err)
			}
		}()

		writer, err := export.NewWriter(bqClient, 0, export.RetryPolicy{})
		if err != nil {
			logg.Error(context.Background(), "failed to create export writer", err)
			os.Exit(1)
		}
		exportService, err := export.NewService(export.ServiceParams{
			Events: eventRepo,
			Writer: writer,
			Window: cfg.Remap.ExportWindow,
			Logger: logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create export service", err)
			os.Exit(1)
		}
		exportJob, err := cron.NewExportJob(cron.ExportJobParams{
			Logger:   logg,
			Exporter: exportService,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create export job", err)
			os.Exit(1)
		}
		registry.Register(exportJob)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metricsCollector,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.LockTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
		"exportOn":    cfg.BigQuery.Enabled,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
