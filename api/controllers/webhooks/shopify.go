package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/attribution-backend/api/responses"
	shopifywebhook "github.com/angelmondragon/attribution-backend/internal/webhooks/shopify"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/metrics"
)

const (
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderTopic      = "X-Shopify-Topic"
	HeaderHMAC       = "X-Shopify-Hmac-Sha256"
	HeaderWebhookID  = "X-Shopify-Webhook-Id"

	rejectTooLarge      = "too_large"
	rejectMissingHeader = "missing_header"
	rejectUnknownStore  = "unknown_store"
	rejectBadSignature  = "bad_signature"
)

type ShopifyWebhookService interface {
	HandleWebhook(ctx context.Context, store *models.Store, topic string, body []byte) (shopifywebhook.Outcome, error)
}

type shopifyStoreLookup interface {
	GetByShopDomain(ctx context.Context, domain string) (*models.Store, error)
}

// DeliveryGuard suppresses repeated deliveries of the same webhook id.
type DeliveryGuard interface {
	CheckAndMark(ctx context.Context, webhookID string) (bool, error)
	Release(ctx context.Context, webhookID string) error
}

type shopifyResponse struct {
	shopifywebhook.Outcome
	Duplicate bool `json:"duplicate,omitempty"`
}

// ShopifyWebhook authenticates a commerce delivery against the store's
// secret and hands it to the ingestion service. Nothing is written before the
// signature checks out.
func ShopifyWebhook(svc ShopifyWebhookService, stores shopifyStoreLookup, guard DeliveryGuard, maxBodyBytes int64, m *metrics.AttributionMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || stores == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		var reader io.Reader = r.Body
		if maxBodyBytes > 0 {
			reader = io.LimitReader(r.Body, maxBodyBytes+1)
		}
		payload, err := io.ReadAll(reader)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		if maxBodyBytes > 0 && int64(len(payload)) > maxBodyBytes {
			m.IncRejection(rejectTooLarge)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeTooLarge, "webhook body too large"))
			return
		}

		shopDomain := strings.TrimSpace(r.Header.Get(HeaderShopDomain))
		topic := strings.TrimSpace(r.Header.Get(HeaderTopic))
		signature := strings.TrimSpace(r.Header.Get(HeaderHMAC))
		if shopDomain == "" || topic == "" || signature == "" {
			m.IncRejection(rejectMissingHeader)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "shopify webhook headers missing"))
			return
		}

		store, err := stores.GetByShopDomain(ctx, shopDomain)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				m.IncRejection(rejectUnknownStore)
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "unknown shop"))
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if !shopifywebhook.VerifySignature(store.WebhookSecret, payload, signature) {
			m.IncRejection(rejectBadSignature)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		webhookID := strings.TrimSpace(r.Header.Get(HeaderWebhookID))
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"shop_domain": store.ShopDomain, "webhook_id": webhookID})
		}

		guarded := guard != nil && webhookID != ""
		if guarded {
			duplicate, err := guard.CheckAndMark(ctx, webhookID)
			switch {
			case err != nil:
				guarded = false
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "webhook dedup unavailable")
				}
			case duplicate:
				if logg != nil {
					logg.Info(ctx, "duplicate webhook delivery acknowledged")
				}
				responses.WriteSuccess(w, shopifyResponse{Outcome: shopifywebhook.Outcome{Topic: topic}, Duplicate: true})
				return
			}
		}

		outcome, err := svc.HandleWebhook(ctx, store, topic, payload)
		if err != nil {
			if guarded {
				if relErr := guard.Release(ctx, webhookID); relErr != nil && logg != nil {
					logg.Warn(logg.WithField(ctx, "error", relErr.Error()), "release webhook dedup key")
				}
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, shopifyResponse{Outcome: outcome})
	}
}
