package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/attribution-backend/internal/repo"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
)

const (
	attributionSection = "attribution"

	mappedClause   = "(COALESCE(campaign_id, '') <> '' OR COALESCE(adset_id, '') <> '' OR COALESCE(ad_id, '') <> '')"
	unmappedClause = "(COALESCE(campaign_id, '') = '' AND COALESCE(adset_id, '') = '' AND COALESCE(ad_id, '') = '')"
)

var signalClause = func() string {
	parts := make([]string, 0, len(enums.MatchSignals))
	for _, signal := range enums.MatchSignals {
		parts = append(parts, fmt.Sprintf("COALESCE(%s, '') <> ''", signal.Column()))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}()

type repository struct {
	repo.Base
}

// NewRepository returns the gorm-backed event store.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Rebind(tx)}
}

// Insert writes event, or, when (store_id, event_id) already exists, applies
// the mutable fields of event to the stored row. Identity signals of an
// existing row are never replaced and a stored click id is only filled when
// it was missing.
func (r *repository) Insert(ctx context.Context, event *models.TrackingEvent) (InsertResult, error) {
	if event == nil {
		return InsertResult{}, pkgerrors.New(pkgerrors.CodeValidation, "tracking event is required")
	}
	if event.StoreID == uuid.Nil || strings.TrimSpace(event.EventID) == "" {
		return InsertResult{}, pkgerrors.New(pkgerrors.CodeValidation, "store id and event id are required")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.OccurredAt = event.OccurredAt.UTC()

	res := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return InsertResult{}, res.Error
	}
	if res.RowsAffected > 0 {
		return InsertResult{Inserted: true}, nil
	}

	if err := r.Update(ctx, event.StoreID, event.EventID, PatchFromEvent(event)); err != nil {
		return InsertResult{}, err
	}
	return InsertResult{Updated: true}, nil
}

// PatchFromEvent lists the fields of event an upsert may overwrite.
func PatchFromEvent(event *models.TrackingEvent) Patch {
	value := event.Value
	patch := Patch{
		ClickID:     event.ClickID,
		Value:       &value,
		Currency:    event.Currency,
		OrderID:     event.OrderID,
		PayloadJSON: event.PayloadJSON,
	}
	patch.CampaignID, patch.AdSetID, patch.AdID = event.EntityIDs()
	return patch
}

func (r *repository) Update(ctx context.Context, storeID uuid.UUID, eventID string, patch Patch) error {
	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if patch.ClickID != nil && *patch.ClickID != "" {
		updates["click_id"] = gorm.Expr("COALESCE(NULLIF(click_id, ''), ?)", *patch.ClickID)
	}
	if patch.Value != nil {
		updates["value"] = *patch.Value
	}
	if patch.Currency != nil && *patch.Currency != "" {
		updates["currency"] = *patch.Currency
	}
	if patch.OrderID != nil && *patch.OrderID != "" {
		updates["order_id"] = *patch.OrderID
	}
	if patch.CampaignID != "" {
		updates["campaign_id"] = patch.CampaignID
	}
	if patch.AdSetID != "" {
		updates["adset_id"] = patch.AdSetID
	}
	if patch.AdID != "" {
		updates["ad_id"] = patch.AdID
	}
	if len(patch.PayloadJSON) > 0 {
		payload, err := r.payloadForPatch(ctx, storeID, eventID, patch)
		if err != nil {
			return err
		}
		updates["payload_json"] = payload
	}

	res := r.DB(ctx).Model(&models.TrackingEvent{}).
		Where("store_id = ? AND event_id = ?", storeID, eventID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "tracking event not found")
	}
	return nil
}

// payloadForPatch keeps the stored attribution section when the patch carries
// no entity ids for a row that is already mapped.
func (r *repository) payloadForPatch(ctx context.Context, storeID uuid.UUID, eventID string, patch Patch) (datatypes.JSON, error) {
	if patch.CampaignID != "" || patch.AdSetID != "" || patch.AdID != "" {
		return patch.PayloadJSON, nil
	}

	var stored models.TrackingEvent
	err := r.DB(ctx).
		Select("campaign_id", "adset_id", "ad_id", "payload_json").
		Where("store_id = ? AND event_id = ?", storeID, eventID).
		Take(&stored).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return patch.PayloadJSON, nil
		}
		return nil, err
	}
	if !stored.IsMapped() {
		return patch.PayloadJSON, nil
	}
	return mergeSection(patch.PayloadJSON, stored.PayloadJSON, attributionSection), nil
}

// mergeSection copies key from stored into incoming. Payloads that are not
// JSON objects are returned unchanged.
func mergeSection(incoming, stored datatypes.JSON, key string) datatypes.JSON {
	var storedFields map[string]json.RawMessage
	if err := json.Unmarshal(stored, &storedFields); err != nil {
		return incoming
	}
	section, ok := storedFields[key]
	if !ok {
		return incoming
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(incoming, &fields); err != nil || fields == nil {
		return incoming
	}
	fields[key] = section

	merged, err := json.Marshal(fields)
	if err != nil {
		return incoming
	}
	return datatypes.JSON(merged)
}

func (r *repository) FindByEventID(ctx context.Context, storeID uuid.UUID, eventID string) (*models.TrackingEvent, error) {
	var event models.TrackingEvent
	err := r.DB(ctx).
		Where("store_id = ? AND event_id = ?", storeID, eventID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tracking event not found")
		}
		return nil, err
	}
	return &event, nil
}

// QueryBySignal returns mapped events sharing one signal value.
func (r *repository) QueryBySignal(ctx context.Context, storeID uuid.UUID, signal enums.SignalType, value string, excludeEventName enums.EventName, before *time.Time, limit int) ([]models.TrackingEvent, error) {
	return r.QueryBySignals(ctx, storeID, map[enums.SignalType]string{signal: value}, excludeEventName, before, limit)
}

// QueryBySignals returns mapped events of the store that share at least one of
// the present signal values, newest first.
func (r *repository) QueryBySignals(ctx context.Context, storeID uuid.UUID, present map[enums.SignalType]string, excludeEventName enums.EventName, before *time.Time, limit int) ([]models.TrackingEvent, error) {
	conditions := make([]string, 0, len(present))
	args := make([]any, 0, len(present))
	for _, signal := range enums.MatchSignals {
		value := strings.TrimSpace(present[signal])
		if value == "" {
			continue
		}
		conditions = append(conditions, signal.Column()+" = ?")
		args = append(args, value)
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	query := r.DB(ctx).
		Where("store_id = ?", storeID).
		Where("("+strings.Join(conditions, " OR ")+")", args...).
		Where(mappedClause)
	if excludeEventName != "" {
		query = query.Where("event_name <> ?", excludeEventName)
	}
	if before != nil {
		query = query.Where("occurred_at <= ?", before.UTC())
	}

	var rows []models.TrackingEvent
	if err := query.Order("occurred_at DESC").Limit(normalizeLimit(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryByTimeWindow returns events with occurred_at in [from, to], newest first.
func (r *repository) QueryByTimeWindow(ctx context.Context, storeID uuid.UUID, eventName enums.EventName, mappedOnly bool, from, to time.Time, limit int) ([]models.TrackingEvent, error) {
	query := r.DB(ctx).
		Where("store_id = ?", storeID).
		Where("occurred_at >= ? AND occurred_at <= ?", from.UTC(), to.UTC())
	if eventName != "" {
		query = query.Where("event_name = ?", eventName)
	}
	if mappedOnly {
		query = query.Where(mappedClause)
	}

	var rows []models.TrackingEvent
	if err := query.Order("occurred_at DESC").Limit(normalizeLimit(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryRange returns one page of events with occurred_at in [from, to),
// oldest first.
func (r *repository) QueryRange(ctx context.Context, storeID uuid.UUID, from, to time.Time, filter RangeFilter) ([]models.TrackingEvent, error) {
	query := r.DB(ctx).
		Where("store_id = ?", storeID).
		Where("occurred_at >= ? AND occurred_at < ?", from.UTC(), to.UTC())
	if filter.EventName != "" {
		query = query.Where("event_name = ?", filter.EventName)
	}
	if len(filter.Sources) > 0 {
		query = query.Where("source IN ?", filter.Sources)
	}
	if filter.MappedOnly {
		query = query.Where(mappedClause)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = maxQueryLimit
	}

	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []models.TrackingEvent
	if err := query.Order("occurred_at ASC").Order("id ASC").Limit(normalizeLimit(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindUnmappedPurchases returns unmapped purchases carrying at least one
// matchable signal, newest first.
func (r *repository) FindUnmappedPurchases(ctx context.Context, storeID uuid.UUID, since time.Time, limit int) ([]models.TrackingEvent, error) {
	var rows []models.TrackingEvent
	err := r.DB(ctx).
		Where("store_id = ? AND event_name = ? AND occurred_at >= ?", storeID, enums.EventNamePurchase, since.UTC()).
		Where(unmappedClause).
		Where(signalClause).
		Order("occurred_at DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindMapped returns mapped events carrying at least one matchable signal,
// newest first.
func (r *repository) FindMapped(ctx context.Context, storeID uuid.UUID, since time.Time, limit int) ([]models.TrackingEvent, error) {
	var rows []models.TrackingEvent
	err := r.DB(ctx).
		Where("store_id = ? AND occurred_at >= ?", storeID, since.UTC()).
		Where(mappedClause).
		Where(signalClause).
		Order("occurred_at DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// StoresWithUnmapped lists stores holding unmapped purchases since the cutoff.
func (r *repository) StoresWithUnmapped(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB(ctx).Model(&models.TrackingEvent{}).
		Distinct("store_id").
		Where("event_name = ? AND occurred_at >= ?", enums.EventNamePurchase, since.UTC()).
		Where(unmappedClause).
		Where(signalClause).
		Order("store_id").
		Limit(normalizeLimit(limit)).
		Pluck("store_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListForExport returns events of every store with occurred_at in [from, to).
func (r *repository) ListForExport(ctx context.Context, from, to time.Time, limit int) ([]models.TrackingEvent, error) {
	var rows []models.TrackingEvent
	err := r.DB(ctx).
		Where("occurred_at >= ? AND occurred_at < ?", from.UTC(), to.UTC()).
		Order("occurred_at ASC").
		Order("id ASC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListUnmapped returns a page of unmapped purchases keyed by (occurred_at, id).
func (r *repository) ListUnmapped(ctx context.Context, q UnmappedQuery) ([]models.TrackingEvent, error) {
	query := r.DB(ctx).
		Where("store_id = ? AND event_name = ?", q.StoreID, enums.EventNamePurchase).
		Where("occurred_at >= ? AND occurred_at < ?", q.From.UTC(), q.To.UTC()).
		Where(unmappedClause)
	if q.Cursor != nil {
		at := q.Cursor.CreatedAt.UTC()
		query = query.Where("(occurred_at < ?) OR (occurred_at = ? AND id < ?)", at, at, q.Cursor.ID)
	}

	var rows []models.TrackingEvent
	if err := query.Order("occurred_at DESC").Order("id DESC").Limit(normalizeLimit(q.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkDelivery records the outcome of a forwarding attempt.
func (r *repository) MarkDelivery(ctx context.Context, storeID uuid.UUID, eventID string, delivery Delivery) error {
	attemptedAt := delivery.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now()
	}
	var lastError any
	if delivery.Error != "" {
		lastError = delivery.Error
	}

	res := r.DB(ctx).Model(&models.TrackingEvent{}).
		Where("store_id = ? AND event_id = ?", storeID, eventID).
		Updates(map[string]any{
			"meta_forwarded":       delivery.Forwarded,
			"meta_last_attempt_at": attemptedAt.UTC(),
			"meta_last_error":      lastError,
			"updated_at":           time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "tracking event not found")
	}
	return nil
}
