package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/attribution-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/attribution-backend/api/controllers/webhooks"
	"github.com/angelmondragon/attribution-backend/api/middleware"
	"github.com/angelmondragon/attribution-backend/internal/stores"
	shopifywebhook "github.com/angelmondragon/attribution-backend/internal/webhooks/shopify"
	"github.com/angelmondragon/attribution-backend/pkg/auth"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/metrics"
	"github.com/angelmondragon/attribution-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness []controllers.ReadinessCheck,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	attributionMetrics *metrics.AttributionMetrics,
	storeService stores.Service,
	collectService controllers.Collector,
	webhookService webhookcontrollers.ShopifyWebhookService,
	webhookGuard *shopifywebhook.DeliveryGuard,
	diagnosticsService controllers.DiagnosticsService,
	remapService controllers.Remapper,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness...))
	})
	r.Method(http.MethodGet, "/metrics", controllers.Metrics(gatherer))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/shopify", webhookcontrollers.ShopifyWebhook(
			webhookService,
			storeService,
			guardOrNil(webhookGuard),
			cfg.Webhook.MaxBodyBytes,
			attributionMetrics,
			logg,
		))

		r.Group(func(r chi.Router) {
			r.Use(middleware.CollectCORS())
			if redisClient != nil {
				policy := middleware.NewRateLimitPolicy(
					"collect",
					time.Minute,
					cfg.RateLimit.CollectPerMinute,
					cfg.RateLimit.CollectStorePerMinute,
				)
				r.Use(middleware.RateLimit(policy, redisClient, cfg.Webhook.MaxBodyBytes, logg))
			}
			r.Post("/collect", controllers.Collect(storeService, collectService, cfg.Webhook.MaxBodyBytes, logg))
			r.Options("/collect", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		})

		r.Route("/attribution", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(auth.ScopeDiagnosticsRead, logg))
				r.Get("/store", controllers.StoreProfile(storeService, logg))
				r.Get("/coverage", controllers.AttributionCoverage(diagnosticsService, logg))
				r.Get("/top-entities", controllers.AttributionTopEntities(diagnosticsService, storeService, logg))
				r.Get("/proximity", controllers.AttributionProximity(diagnosticsService, logg))
				r.Get("/unmapped", controllers.AttributionUnmapped(diagnosticsService, logg))
			})

			r.With(middleware.RequireScope(auth.ScopeRemapWrite, logg)).
				Post("/remap", controllers.AttributionRemap(remapService, logg))
		})
	})

	return r
}

// guardOrNil keeps a nil guard pointer from becoming a non-nil interface.
func guardOrNil(guard *shopifywebhook.DeliveryGuard) webhookcontrollers.DeliveryGuard {
	if guard == nil {
		return nil
	}
	return guard
}
