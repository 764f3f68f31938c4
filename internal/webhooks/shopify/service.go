package shopifywebhook

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/internal/attribution"
	"github.com/angelmondragon/attribution-backend/internal/events"
	"github.com/angelmondragon/attribution-backend/internal/forwarding"
	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

const (
	TopicOrdersCreate  = "orders/create"
	TopicOrdersUpdated = "orders/updated"
	TopicRefundsCreate = "refunds/create"

	orderEventPrefix  = "order_"
	refundEventPrefix = "refund_"
)

type eventStore interface {
	Insert(ctx context.Context, event *models.TrackingEvent) (events.InsertResult, error)
	FindByEventID(ctx context.Context, storeID uuid.UUID, eventID string) (*models.TrackingEvent, error)
}

type resolver interface {
	Resolve(ctx context.Context, req attribution.Request) attribution.Resolution
}

type ServiceParams struct {
	Events     eventStore
	Resolver   resolver
	Dispatcher forwarding.Dispatcher
	Extractor  *signals.Extractor
	Logger     *logger.Logger
	Now        func() time.Time
}

// Service runs inbound commerce webhooks through extraction, attribution and
// the event store.
type Service struct {
	events     eventStore
	resolver   resolver
	dispatcher forwarding.Dispatcher
	extractor  *signals.Extractor
	logg       *logger.Logger
	now        func() time.Time
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
	dispatcher := params.Dispatcher
	if dispatcher == nil {
		dispatcher = forwarding.NoopDispatcher{}
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
		events:     params.Events,
		resolver:   params.Resolver,
		dispatcher: dispatcher,
		extractor:  extractor,
		logg:       params.Logger,
		now:        now,
	}, nil
}

// Outcome summarizes what a delivery did.
type Outcome struct {
	Topic      string                    `json:"topic"`
	EventID    string                    `json:"event_id,omitempty"`
	Ignored    bool                      `json:"ignored,omitempty"`
	Inserted   bool                      `json:"inserted,omitempty"`
	Updated    bool                      `json:"updated,omitempty"`
	Mapped     bool                      `json:"mapped"`
	Method     enums.AttributionMethod   `json:"method,omitempty"`
	Strategy   enums.AttributionStrategy `json:"strategy,omitempty"`
	Confidence float64                   `json:"confidence,omitempty"`
	Dispatched bool                      `json:"dispatched,omitempty"`
}

// SupportedTopic reports whether topic is processed rather than ignored.
func SupportedTopic(topic string) bool {
	switch normalizeTopic(topic) {
	case TopicOrdersCreate, TopicOrdersUpdated, TopicRefundsCreate:
		return true
	}
	return false
}

// HandleWebhook processes one authenticated delivery for store. Unknown
// topics are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, store *models.Store, topic string, body []byte) (Outcome, error) {
	if store == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeInternal, "store required")
	}
	topic = normalizeTopic(topic)
	ctx = s.logg.WithStoreID(ctx, store.ID.String())
	ctx = s.logg.WithField(ctx, "topic", topic)

	switch topic {
	case TopicOrdersCreate, TopicOrdersUpdated:
		return s.handleOrder(ctx, store, topic, body)
	case TopicRefundsCreate:
		return s.handleRefund(ctx, store, topic, body)
	default:
		s.logg.Info(ctx, "webhook topic ignored")
		return Outcome{Topic: topic, Ignored: true}, nil
	}
}

func (s *Service) handleOrder(ctx context.Context, store *models.Store, topic string, body []byte) (Outcome, error) {
	order, err := signals.ParseOrder(body)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order payload")
	}
	orderID := order.ID.String()
	if orderID == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "order id missing")
	}
	eventID := orderEventPrefix + orderID
	ctx = s.logg.WithEventID(ctx, eventID)

	extraction := s.extractor.ExtractOrder(order)
	occurredAt := order.OccurredAt(s.now().UTC())
	resolution := s.resolver.Resolve(ctx, attribution.Request{
		StoreID:    store.ID,
		EventID:    eventID,
		OccurredAt: occurredAt,
		Extraction: extraction,
	})

	payload := signals.NewPayload(topic, extraction)
	payload.Attribution = resolution.Meta

	value := order.Value()
	event := &models.TrackingEvent{
		StoreID:     store.ID,
		EventID:     eventID,
		EventName:   enums.EventNamePurchase,
		Source:      enums.EventSourceShopify,
		OccurredAt:  occurredAt,
		ClickID:     optional(extraction.Signals.ClickID),
		FBC:         optional(extraction.Signals.FBC),
		FBP:         optional(extraction.Signals.FBP),
		EmailHash:   optional(extraction.Signals.EmailHash),
		PhoneHash:   optional(extraction.Signals.PhoneHash),
		IPHash:      optional(extraction.Signals.IPHash),
		UserAgent:   optional(extraction.Signals.UserAgent),
		Value:       value,
		Currency:    optional(strings.ToUpper(order.Currency.String())),
		OrderID:     optional(orderID),
		CampaignID:  optional(resolution.Entities.CampaignID),
		AdSetID:     optional(resolution.Entities.AdSetID),
		AdID:        optional(resolution.Entities.AdID),
		PayloadJSON: payload.JSON(),
	}

	result, err := s.events.Insert(ctx, event)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store tracking event")
	}

	outcome := Outcome{
		Topic:      topic,
		EventID:    eventID,
		Inserted:   result.Inserted,
		Updated:    result.Updated,
		Mapped:     resolution.Mapped(),
		Method:     resolution.Meta.Method,
		Strategy:   resolution.Meta.Strategy,
		Confidence: resolution.Meta.Confidence,
	}

	if resolution.Mapped() && store.CanForward() {
		job := forwarding.Job{StoreID: store.ID, EventID: eventID, EnqueuedAt: s.now().UTC()}
		if err := s.dispatcher.Dispatch(ctx, job); err != nil {
			s.logg.Error(ctx, "forwarding dispatch failed", err)
		} else {
			outcome.Dispatched = true
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"mapped":   outcome.Mapped,
		"method":   outcome.Method,
		"strategy": outcome.Strategy,
		"inserted": outcome.Inserted,
	}), "order webhook processed")
	return outcome, nil
}

// handleRefund stores the refund with the signals and entity ids of the
// purchase it reverses, when that purchase is known.
func (s *Service) handleRefund(ctx context.Context, store *models.Store, topic string, body []byte) (Outcome, error) {
	refund, err := signals.ParseRefund(body)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund payload")
	}
	refundID := refund.ID.String()
	if refundID == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "refund id missing")
	}
	eventID := refundEventPrefix + refundID
	ctx = s.logg.WithEventID(ctx, eventID)

	amount, currency := refund.Amount()
	orderID := refund.OrderID.String()
	event := &models.TrackingEvent{
		StoreID:    store.ID,
		EventID:    eventID,
		EventName:  enums.EventNameRefund,
		Source:     enums.EventSourceShopify,
		OccurredAt: refund.OccurredAt(s.now().UTC()),
		Value:      amount,
		Currency:   optional(currency),
		OrderID:    optional(orderID),
	}

	payload := signals.NewPayload(topic, signals.Extraction{})
	if orderID != "" {
		if purchase := s.existing(ctx, store.ID, orderEventPrefix+orderID); purchase != nil {
			inherit(event, purchase)
			stored := signals.DecodePayload(purchase.PayloadJSON)
			payload.UTM = stored.UTM
			payload.FirstTouch = stored.FirstTouch
			payload.Attribution = stored.Attribution
			if event.Currency == nil {
				event.Currency = purchase.Currency
			}
		}
	}
	event.PayloadJSON = payload.JSON()

	result, err := s.events.Insert(ctx, event)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store tracking event")
	}

	outcome := Outcome{
		Topic:    topic,
		EventID:  eventID,
		Inserted: result.Inserted,
		Updated:  result.Updated,
		Mapped:   event.IsMapped(),
		Method:   payload.Attribution.Method,
		Strategy: payload.Attribution.Strategy,
	}
	s.logg.Info(s.logg.WithField(ctx, "mapped", outcome.Mapped), "refund webhook processed")
	return outcome, nil
}

func (s *Service) existing(ctx context.Context, storeID uuid.UUID, eventID string) *models.TrackingEvent {
	event, err := s.events.FindByEventID(ctx, storeID, eventID)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "stored event lookup failed")
		}
		return nil
	}
	return event
}

func inherit(refund, purchase *models.TrackingEvent) {
	refund.ClickID = purchase.ClickID
	refund.FBC = purchase.FBC
	refund.FBP = purchase.FBP
	refund.EmailHash = purchase.EmailHash
	refund.PhoneHash = purchase.PhoneHash
	refund.IPHash = purchase.IPHash
	refund.UserAgent = purchase.UserAgent
	refund.CampaignID = purchase.CampaignID
	refund.AdSetID = purchase.AdSetID
	refund.AdID = purchase.AdID
}

func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
