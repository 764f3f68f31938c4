package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/internal/attribution"
	"github.com/angelmondragon/attribution-backend/internal/events"
	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	pkgpagination "github.com/angelmondragon/attribution-backend/pkg/pagination"
)

const (
	// MaxWindow bounds the reporting range of a single diagnostics request.
	MaxWindow       = 93 * 24 * time.Hour
	defaultTopLimit = 10
	maxTopLimit     = 50

	purchasePageSize = 5000
)

type eventReader interface {
	QueryRange(ctx context.Context, storeID uuid.UUID, from, to time.Time, filter events.RangeFilter) ([]models.TrackingEvent, error)
	ListUnmapped(ctx context.Context, query events.UnmappedQuery) ([]models.TrackingEvent, error)
}

type proximityLookup interface {
	Lookup(ctx context.Context, storeID uuid.UUID, at time.Time, windowMinutes int, excludeEventID string) (*attribution.Candidate, bool, error)
}

// Window is a half-open [From, To) reporting range.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "from and to are required")
	}
	if !w.To.After(w.From) {
		return pkgerrors.New(pkgerrors.CodeValidation, "to must be after from")
	}
	if w.To.Sub(w.From) > MaxWindow {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("window may not exceed %d days", int(MaxWindow.Hours()/24)))
	}
	return nil
}

// ProximityResult is the standalone time-proximity lookup outcome.
type ProximityResult struct {
	Accepted       bool                      `json:"accepted"`
	WindowMinutes  int                       `json:"window_minutes"`
	CampaignID     string                    `json:"campaign_id,omitempty"`
	AdSetID        string                    `json:"adset_id,omitempty"`
	AdID           string                    `json:"ad_id,omitempty"`
	Confidence     float64                   `json:"confidence,omitempty"`
	Strategy       enums.AttributionStrategy `json:"strategy,omitempty"`
	MatchedEventID string                    `json:"matched_event_id,omitempty"`
	MatchedAt      *time.Time                `json:"matched_at,omitempty"`
}

// UnmappedItem is one unmapped purchase with its classified reason.
type UnmappedItem struct {
	ID         uuid.UUID            `json:"id"`
	EventID    string               `json:"event_id"`
	OrderID    string               `json:"order_id,omitempty"`
	Source     enums.EventSource    `json:"source"`
	OccurredAt time.Time            `json:"occurred_at"`
	Value      string               `json:"value"`
	Reason     enums.UnmappedReason `json:"reason"`
	UTM        signals.UTM          `json:"utm"`
}

type UnmappedPage struct {
	Items  []UnmappedItem `json:"items"`
	Cursor string         `json:"cursor"`
}

type ServiceParams struct {
	Events    eventReader
	Proximity proximityLookup
	Names     *NameEnricher
}

// Service answers the read-only coverage questions of the dashboard.
type Service struct {
	events    eventReader
	proximity proximityLookup
	names     *NameEnricher
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Events == nil {
		return nil, fmt.Errorf("event reader required")
	}
	if params.Proximity == nil {
		return nil, fmt.Errorf("proximity lookup required")
	}
	return &Service{
		events:    params.Events,
		proximity: params.Proximity,
		names:     params.Names,
	}, nil
}

// Coverage reports deduplicated purchase coverage for the window.
func (s *Service) Coverage(ctx context.Context, storeID uuid.UUID, window Window) (Coverage, error) {
	rows, err := s.purchases(ctx, storeID, window)
	if err != nil {
		return Coverage{}, err
	}
	return ComputeCoverage(rows), nil
}

// TopEntities ranks the store's mapped purchases at level. Names are looked
// up with the store's ads token when one is configured.
func (s *Service) TopEntities(ctx context.Context, store *models.Store, window Window, level enums.EntityLevel, limit int) ([]EntityStat, error) {
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store required")
	}
	if level == "" {
		level = enums.EntityLevelCampaign
	}
	if !level.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "level must be campaign, adset or ad")
	}
	if limit <= 0 {
		limit = defaultTopLimit
	}
	if limit > maxTopLimit {
		limit = maxTopLimit
	}

	rows, err := s.purchases(ctx, store.ID, window)
	if err != nil {
		return nil, err
	}
	stats := TopEntities(rows, level, limit)

	token := ""
	if store.AdsAccessToken != nil {
		token = *store.AdsAccessToken
	}
	s.names.Enrich(ctx, store.ID.String(), token, level, stats)
	return stats, nil
}

// Proximity runs the time-proximity matcher alone around at.
func (s *Service) Proximity(ctx context.Context, storeID uuid.UUID, at time.Time, windowMinutes int, excludeEventID string) (ProximityResult, error) {
	if storeID == uuid.Nil {
		return ProximityResult{}, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	if at.IsZero() {
		return ProximityResult{}, pkgerrors.New(pkgerrors.CodeValidation, "at is required")
	}

	candidate, accepted, err := s.proximity.Lookup(ctx, storeID, at, windowMinutes, excludeEventID)
	if err != nil {
		return ProximityResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "proximity lookup")
	}
	result := ProximityResult{
		Accepted:      accepted,
		WindowMinutes: attribution.ClampWindowMinutes(windowMinutes),
	}
	if candidate == nil {
		return result, nil
	}
	matchedAt := candidate.MatchedAt
	result.CampaignID = candidate.Entities.CampaignID
	result.AdSetID = candidate.Entities.AdSetID
	result.AdID = candidate.Entities.AdID
	result.Confidence = candidate.Confidence
	result.Strategy = candidate.Strategy
	result.MatchedEventID = candidate.MatchedEventID
	result.MatchedAt = &matchedAt
	return result, nil
}

// Unmapped pages through unmapped purchases, newest first.
func (s *Service) Unmapped(ctx context.Context, storeID uuid.UUID, window Window, params pkgpagination.Params) (*UnmappedPage, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	if err := window.validate(); err != nil {
		return nil, err
	}

	limit := pkgpagination.NormalizeLimit(params.Limit)
	query := events.UnmappedQuery{
		StoreID: storeID,
		From:    window.From,
		To:      window.To,
		Limit:   pkgpagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, err := s.events.ListUnmapped(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unmapped purchases")
	}

	page := &UnmappedPage{Items: make([]UnmappedItem, 0, len(rows))}
	if len(rows) > limit {
		last := rows[limit-1]
		page.Cursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{CreatedAt: last.OccurredAt, ID: last.ID})
		rows = rows[:limit]
	}
	for _, row := range rows {
		page.Items = append(page.Items, toUnmappedItem(row))
	}
	return page, nil
}

func (s *Service) purchases(ctx context.Context, storeID uuid.UUID, window Window) ([]models.TrackingEvent, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	if err := window.validate(); err != nil {
		return nil, err
	}

	var rows []models.TrackingEvent
	for {
		page, err := s.events.QueryRange(ctx, storeID, window.From, window.To, events.RangeFilter{
			EventName: enums.EventNamePurchase,
			Limit:     purchasePageSize,
			Offset:    len(rows),
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load purchases")
		}
		rows = append(rows, page...)
		if len(page) < purchasePageSize {
			break
		}
	}
	return Dedupe(rows), nil
}

func toUnmappedItem(row models.TrackingEvent) UnmappedItem {
	item := UnmappedItem{
		ID:         row.ID,
		EventID:    row.EventID,
		Source:     row.Source,
		OccurredAt: row.OccurredAt,
		Value:      row.Value.StringFixed(2),
		Reason:     ClassifyUnmapped(row),
		UTM:        signals.DecodePayload(row.PayloadJSON).UTM,
	}
	if row.OrderID != nil {
		item.OrderID = *row.OrderID
	}
	return item
}
