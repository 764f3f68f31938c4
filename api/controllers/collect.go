package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/attribution-backend/api/middleware"
	"github.com/angelmondragon/attribution-backend/api/responses"
	"github.com/angelmondragon/attribution-backend/api/validators"
	"github.com/angelmondragon/attribution-backend/internal/tracking"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

const (
	maxURLLength       = 4096
	maxUserAgentLength = 1024
)

// ShopDomainLookup resolves the store named by a collect request.
type ShopDomainLookup interface {
	GetByShopDomain(ctx context.Context, domain string) (*models.Store, error)
}

// Collector ingests pixel and server-side events.
type Collector interface {
	Collect(ctx context.Context, store *models.Store, in tracking.CollectInput) (tracking.CollectResult, error)
}

type collectRequest struct {
	ShopDomain string            `json:"shop_domain" validate:"required,max=255"`
	EventID    string            `json:"event_id" validate:"required,max=255"`
	EventName  string            `json:"event_name" validate:"required,max=64"`
	Source     string            `json:"source" validate:"required,oneof=browser server"`
	OccurredAt *time.Time        `json:"occurred_at"`
	URL        string            `json:"url"`
	Referrer   string            `json:"referrer"`
	ClickID    string            `json:"fbclid" validate:"omitempty,max=512"`
	FBC        string            `json:"fbc" validate:"omitempty,max=512"`
	FBP        string            `json:"fbp" validate:"omitempty,max=512"`
	Email      string            `json:"email" validate:"omitempty,max=320"`
	EmailHash  string            `json:"email_hash" validate:"omitempty,len=64,hexadecimal"`
	Phone      string            `json:"phone" validate:"omitempty,max=64"`
	IP         string            `json:"ip" validate:"omitempty,ip"`
	UserAgent  string            `json:"user_agent"`
	Value      string            `json:"value" validate:"omitempty,numeric"`
	Currency   string            `json:"currency" validate:"omitempty,len=3,alpha"`
	OrderID    string            `json:"order_id" validate:"omitempty,max=128"`
	CampaignID string            `json:"campaign_id" validate:"omitempty,max=128"`
	AdSetID    string            `json:"adset_id" validate:"omitempty,max=128"`
	AdID       string            `json:"ad_id" validate:"omitempty,max=128"`
	Attributes map[string]string `json:"attributes" validate:"omitempty,max=50,dive,keys,max=128,endkeys,max=2048"`
}

// Collect ingests one pixel or server-side event for the store named by
// shop_domain. Browser events fall back to the caller's address and user
// agent when the body omits them.
func Collect(stores ShopDomainLookup, svc Collector, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if stores == nil || svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "collect service unavailable"))
			return
		}

		var req collectRequest
		if err := validators.DecodeJSONBodyLimit(r, &req, maxBodyBytes); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		store, err := stores.GetByShopDomain(ctx, req.ShopDomain)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		in := req.toInput()
		if in.Source == enums.EventSourceBrowser {
			if in.IP == "" {
				in.IP = middleware.ClientIP(r)
			}
			if in.UserAgent == "" {
				in.UserAgent = validators.SanitizeString(r.UserAgent(), maxUserAgentLength)
			}
		}

		result, err := svc.Collect(ctx, store, in)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Inserted {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

func (req collectRequest) toInput() tracking.CollectInput {
	return tracking.CollectInput{
		EventID:    req.EventID,
		EventName:  enums.EventName(req.EventName),
		Source:     enums.EventSource(req.Source),
		OccurredAt: req.OccurredAt,
		URL:        validators.SanitizeString(req.URL, maxURLLength),
		Referrer:   validators.SanitizeString(req.Referrer, maxURLLength),
		ClickID:    req.ClickID,
		FBC:        req.FBC,
		FBP:        req.FBP,
		Email:      req.Email,
		EmailHash:  req.EmailHash,
		Phone:      req.Phone,
		IP:         req.IP,
		UserAgent:  validators.SanitizeString(req.UserAgent, maxUserAgentLength),
		Value:      req.Value,
		Currency:   req.Currency,
		OrderID:    req.OrderID,
		CampaignID: req.CampaignID,
		AdSetID:    req.AdSetID,
		AdID:       req.AdID,
		Attributes: req.Attributes,
	}
}
