package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/attribution-backend/api/controllers"
	"github.com/angelmondragon/attribution-backend/api/routes"
	"github.com/angelmondragon/attribution-backend/internal/adplatform"
	"github.com/angelmondragon/attribution-backend/internal/attribution"
	"github.com/angelmondragon/attribution-backend/internal/diagnostics"
	"github.com/angelmondragon/attribution-backend/internal/events"
	"github.com/angelmondragon/attribution-backend/internal/forwarding"
	"github.com/angelmondragon/attribution-backend/internal/remap"
	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/internal/stores"
	"github.com/angelmondragon/attribution-backend/internal/tracking"
	shopifywebhook "github.com/angelmondragon/attribution-backend/internal/webhooks/shopify"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	"github.com/angelmondragon/attribution-backend/pkg/db"
	"github.com/angelmondragon/attribution-backend/pkg/instance"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/metrics"
	"github.com/angelmondragon/attribution-backend/pkg/migrate"
	"github.com/angelmondragon/attribution-backend/pkg/pubsub"
	"github.com/angelmondragon/attribution-backend/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	attributionMetrics := metrics.NewAttributionMetrics(registry)

	storeService, err := stores.NewService(stores.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create store service", err)
		os.Exit(1)
	}
	eventRepo := events.NewRepository(dbClient.DB())
	extractor := signals.NewExtractor(time.Now)

	resolver, err := attribution.NewResolver(attribution.ResolverParams{
		Finder:  eventRepo,
		Config:  cfg.Attribution,
		Logger:  logg,
		Metrics: attributionMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create resolver", err)
		os.Exit(1)
	}

	adClient, err := adplatform.NewClient(cfg.AdPlatform, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create ad platform client", err)
		os.Exit(1)
	}

	dispatcher, closeDispatcher, err := buildDispatcher(cfg, logg, storeService, eventRepo, adClient, attributionMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create forwarding dispatcher", err)
		os.Exit(1)
	}

	collectService, err := tracking.NewService(tracking.ServiceParams{
		Events:    eventRepo,
		Resolver:  resolver,
		Extractor: extractor,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create tracking service", err)
		os.Exit(1)
	}

	webhookService, err := shopifywebhook.NewService(shopifywebhook.ServiceParams{
		Events:     eventRepo,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Extractor:  extractor,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create shopify webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := shopifywebhook.NewDeliveryGuard(redisClient, cfg.Webhook.DedupTTL, "shopify")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook delivery guard", err)
		os.Exit(1)
	}

	diagnosticsService, err := diagnostics.NewService(diagnostics.ServiceParams{
		Events:    eventRepo,
		Proximity: resolver,
		Names: diagnostics.NewNameEnricher(
			adClient,
			diagnostics.NewRedisNameCache(redisClient, cfg.Cache.EntityNameTTL, logg),
			logg,
		),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create diagnostics service", err)
		os.Exit(1)
	}

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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":             cfg.App.Env,
		"addr":            addr,
		"instance":        instance.GetID(),
		"forwardingMode":  cfg.Forwarding.Mode,
		"bigqueryEnabled": cfg.BigQuery.Enabled,
	})
	logg.Info(ctx, "starting api server")

	readiness := []controllers.ReadinessCheck{
		controllers.PostgresCheck(dbClient),
		controllers.RedisCheck(redisClient),
	}

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			readiness,
			redisClient,
			registry,
			attributionMetrics,
			storeService,
			collectService,
			webhookService,
			webhookGuard,
			diagnosticsService,
			remapService,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "api server shutdown failed", err)
	}
	if err := closeDispatcher(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "forwarding dispatcher shutdown failed", err)
	}
	logg.Info(shutdownCtx, "api server shut down gracefully")
}

// buildDispatcher picks the forwarding transport for the configured mode. The
// returned close func drains in-flight work.
func buildDispatcher(
	cfg *config.Config,
	logg *logger.Logger,
	storeService stores.Service,
	eventRepo events.Repository,
	sender forwarding.ConversionSender,
	attributionMetrics *metrics.AttributionMetrics,
) (forwarding.Dispatcher, func(context.Context) error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Forwarding.Mode)) {
	case config.ForwardingModeOff:
		return forwarding.NoopDispatcher{}, func(context.Context) error { return nil }, nil

	case config.ForwardingModePubSub:
		client, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, nil, err
		}
		dispatcher, err := forwarding.NewPubSubDispatcher(client.ForwardingPublisher(), cfg.Forwarding.PublishTimeout, logg)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return dispatcher, func(context.Context) error { return client.Close() }, nil

	default:
		worker, err := forwarding.NewWorker(forwarding.WorkerParams{
			Stores:         storeService,
			Events:         eventRepo,
			Sender:         sender,
			Logger:         logg,
			Metrics:        attributionMetrics,
			MaxErrorLength: cfg.Forwarding.MaxErrorLength,
		})
		if err != nil {
			return nil, nil, err
		}
		dispatcher, err := forwarding.NewAsyncDispatcher(worker, 0, cfg.Forwarding.PublishTimeout, logg)
		if err != nil {
			return nil, nil, err
		}
		return dispatcher, dispatcher.Close, nil
	}
}
