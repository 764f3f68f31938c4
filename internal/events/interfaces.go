package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

// Repository is the tracking event store.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.TrackingEvent) (InsertResult, error)
	Update(ctx context.Context, storeID uuid.UUID, eventID string, patch Patch) error
	FindByEventID(ctx context.Context, storeID uuid.UUID, eventID string) (*models.TrackingEvent, error)
	QueryBySignal(ctx context.Context, storeID uuid.UUID, signal enums.SignalType, value string, excludeEventName enums.EventName, before *time.Time, limit int) ([]models.TrackingEvent, error)
	QueryBySignals(ctx context.Context, storeID uuid.UUID, present map[enums.SignalType]string, excludeEventName enums.EventName, before *time.Time, limit int) ([]models.TrackingEvent, error)
	QueryByTimeWindow(ctx context.Context, storeID uuid.UUID, eventName enums.EventName, mappedOnly bool, from, to time.Time, limit int) ([]models.TrackingEvent, error)
	QueryRange(ctx context.Context, storeID uuid.UUID, from, to time.Time, filter RangeFilter) ([]models.TrackingEvent, error)
	FindUnmappedPurchases(ctx context.Context, storeID uuid.UUID, since time.Time, limit int) ([]models.TrackingEvent, error)
	FindMapped(ctx context.Context, storeID uuid.UUID, since time.Time, limit int) ([]models.TrackingEvent, error)
	StoresWithUnmapped(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
	ListForExport(ctx context.Context, from, to time.Time, limit int) ([]models.TrackingEvent, error)
	ListUnmapped(ctx context.Context, query UnmappedQuery) ([]models.TrackingEvent, error)
	MarkDelivery(ctx context.Context, storeID uuid.UUID, eventID string, delivery Delivery) error
}
