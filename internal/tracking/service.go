package tracking

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/attribution-backend/internal/attribution"
	"github.com/angelmondragon/attribution-backend/internal/events"
	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

const collectTopic = "collect"

type eventStore interface {
	Insert(ctx context.Context, event *models.TrackingEvent) (events.InsertResult, error)
}

type resolver interface {
	Resolve(ctx context.Context, req attribution.Request) attribution.Resolution
}

// CollectInput is one event reported by the storefront pixel or a merchant
// server. Raw email and phone values are hashed before storage.
type CollectInput struct {
	EventID    string
	EventName  enums.EventName
	Source     enums.EventSource
	OccurredAt *time.Time
	URL        string
	Referrer   string
	ClickID    string
	FBC        string
	FBP        string
	Email      string
	EmailHash  string
	Phone      string
	IP         string
	UserAgent  string
	Value      string
	Currency   string
	OrderID    string
	CampaignID string
	AdSetID    string
	AdID       string
	Attributes map[string]string
}

// CollectResult reports the stored event and how it was attributed.
type CollectResult struct {
	EventID    string                    `json:"event_id"`
	Inserted   bool                      `json:"inserted"`
	Updated    bool                      `json:"updated"`
	Mapped     bool                      `json:"mapped"`
	Method     enums.AttributionMethod   `json:"method"`
	Strategy   enums.AttributionStrategy `json:"strategy,omitempty"`
	Confidence float64                   `json:"confidence,omitempty"`
}

type ServiceParams struct {
	Events    eventStore
	Resolver  resolver
	Extractor *signals.Extractor
	Logger    *logger.Logger
	Now       func() time.Time
}

// Service ingests pixel and server events through the same extraction,
// attribution and upsert path as commerce webhooks.
type Service struct {
	events    eventStore
	resolver  resolver
	extractor *signals.Extractor
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event store required")
	}
	if params.Resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "resolver required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	extractor := params.Extractor
	if extractor == nil {
		extractor = signals.NewExtractor(now)
	}
	return &Service{
		events:    params.Events,
		resolver:  params.Resolver,
		extractor: extractor,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// Collect stores one event for store.
func (s *Service) Collect(ctx context.Context, store *models.Store, in CollectInput) (CollectResult, error) {
	if store == nil {
		return CollectResult{}, pkgerrors.New(pkgerrors.CodeInternal, "store required")
	}
	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		return CollectResult{}, pkgerrors.New(pkgerrors.CodeValidation, "event_id is required")
	}
	if in.Source != enums.EventSourceBrowser && in.Source != enums.EventSourceServer {
		return CollectResult{}, pkgerrors.New(pkgerrors.CodeValidation, "source must be browser or server")
	}
	if !in.EventName.IsValid() {
		return CollectResult{}, pkgerrors.New(pkgerrors.CodeValidation, "event_name must be Purchase or Refund")
	}
	value := decimal.Zero
	if raw := strings.TrimSpace(in.Value); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return CollectResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "value must be numeric")
		}
		value = parsed
	}

	ctx = s.logg.WithStoreID(ctx, store.ID.String())
	ctx = s.logg.WithEventID(ctx, eventID)

	occurredAt := s.now().UTC()
	if in.OccurredAt != nil && !in.OccurredAt.IsZero() {
		occurredAt = in.OccurredAt.UTC()
	}

	extraction := s.extractor.Extract(in.extractorInput())
	if hash := strings.ToLower(strings.TrimSpace(in.EmailHash)); hash != "" && extraction.Signals.EmailHash == "" {
		extraction.Signals.EmailHash = hash
	}
	direct := signals.EntityIDs{
		CampaignID: strings.TrimSpace(in.CampaignID),
		AdSetID:    strings.TrimSpace(in.AdSetID),
		AdID:       strings.TrimSpace(in.AdID),
	}
	if !direct.Empty() {
		extraction.Direct = direct
	}

	resolution := s.resolver.Resolve(ctx, attribution.Request{
		StoreID:    store.ID,
		EventID:    eventID,
		OccurredAt: occurredAt,
		Extraction: extraction,
	})

	payload := signals.NewPayload(collectTopic, extraction)
	payload.Attribution = resolution.Meta

	event := &models.TrackingEvent{
		StoreID:     store.ID,
		EventID:     eventID,
		EventName:   in.EventName,
		Source:      in.Source,
		OccurredAt:  occurredAt,
		ClickID:     optional(extraction.Signals.ClickID),
		FBC:         optional(extraction.Signals.FBC),
		FBP:         optional(extraction.Signals.FBP),
		EmailHash:   optional(extraction.Signals.EmailHash),
		PhoneHash:   optional(extraction.Signals.PhoneHash),
		IPHash:      optional(extraction.Signals.IPHash),
		UserAgent:   optional(extraction.Signals.UserAgent),
		Value:       value,
		Currency:    optional(strings.ToUpper(in.Currency)),
		OrderID:     optional(in.OrderID),
		CampaignID:  optional(resolution.Entities.CampaignID),
		AdSetID:     optional(resolution.Entities.AdSetID),
		AdID:        optional(resolution.Entities.AdID),
		PayloadJSON: payload.JSON(),
	}

	result, err := s.events.Insert(ctx, event)
	if err != nil {
		return CollectResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store tracking event")
	}

	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"source": in.Source,
		"mapped": resolution.Mapped(),
	}), "collected event stored")

	return CollectResult{
		EventID:    eventID,
		Inserted:   result.Inserted,
		Updated:    result.Updated,
		Mapped:     resolution.Mapped(),
		Method:     resolution.Meta.Method,
		Strategy:   resolution.Meta.Strategy,
		Confidence: resolution.Meta.Confidence,
	}, nil
}

// extractorInput feeds explicit fields ahead of free-form attributes under the
// first alias of their field, so they win the first-non-empty lookup.
func (in CollectInput) extractorInput() signals.Input {
	attrs := make([]signals.Attribute, 0, len(in.Attributes)+3)
	add := func(name, value string) {
		if strings.TrimSpace(value) != "" {
			attrs = append(attrs, signals.Attribute{Name: signals.Text(name), Value: signals.Text(value)})
		}
	}
	add("fbclid", in.ClickID)
	add("fbc", in.FBC)
	add("fbp", in.FBP)
	for name, value := range in.Attributes {
		add(name, value)
	}

	input := signals.Input{
		URLs:       []string{in.URL, in.Referrer},
		Attributes: attrs,
		IP:         in.IP,
		UserAgent:  in.UserAgent,
	}
	if in.Email != "" {
		input.Emails = []string{in.Email}
	}
	if in.Phone != "" {
		input.Phones = []string{in.Phone}
	}
	return input
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
