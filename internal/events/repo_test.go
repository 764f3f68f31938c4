package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/pagination"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupEventsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	trackingEvents := `
CREATE TABLE IF NOT EXISTS tracking_events (
  id TEXT PRIMARY KEY,
  store_id TEXT NOT NULL,
  event_id TEXT NOT NULL,
  event_name TEXT NOT NULL,
  source TEXT NOT NULL,
  occurred_at DATETIME NOT NULL,
  click_id TEXT,
  fbc TEXT,
  fbp TEXT,
  email_hash TEXT,
  phone_hash TEXT,
  ip_hash TEXT,
  user_agent TEXT,
  value NUMERIC NOT NULL DEFAULT 0,
  currency TEXT,
  order_id TEXT,
  campaign_id TEXT,
  adset_id TEXT,
  ad_id TEXT,
  meta_forwarded INTEGER NOT NULL DEFAULT 0,
  meta_last_attempt_at DATETIME,
  meta_last_error TEXT,
  payload_json TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (store_id, event_id)
);`
	require.NoError(t, db.Exec(trackingEvents).Error)
	return db
}

func strPtr(v string) *string { return &v }

type eventOption func(*models.TrackingEvent)

func withClick(v string) eventOption {
	return func(e *models.TrackingEvent) { e.ClickID = strPtr(v) }
}

func withFBC(v string) eventOption {
	return func(e *models.TrackingEvent) { e.FBC = strPtr(v) }
}

func withEmail(v string) eventOption {
	return func(e *models.TrackingEvent) { e.EmailHash = strPtr(v) }
}

func withCampaign(v string) eventOption {
	return func(e *models.TrackingEvent) { e.CampaignID = strPtr(v) }
}

func withName(name enums.EventName) eventOption {
	return func(e *models.TrackingEvent) { e.EventName = name }
}

func newEvent(storeID uuid.UUID, eventID string, at time.Time, opts ...eventOption) *models.TrackingEvent {
	event := &models.TrackingEvent{
		StoreID:    storeID,
		EventID:    eventID,
		EventName:  enums.EventNamePurchase,
		Source:     enums.EventSourceShopify,
		OccurredAt: at,
		Value:      decimal.RequireFromString("10.00"),
		Currency:   strPtr("USD"),
	}
	for _, opt := range opts {
		opt(event)
	}
	return event
}

func insert(t *testing.T, repo Repository, event *models.TrackingEvent) {
	t.Helper()
	res, err := repo.Insert(context.Background(), event)
	require.NoError(t, err)
	require.True(t, res.Inserted)
}

func TestInsertIsIdempotentPerStoreAndEvent(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	storeID := uuid.New()

	first := newEvent(storeID, "order_1", baseTime, withFBC("fb.1.1.original"))
	res, err := repo.Insert(ctx, first)
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	second := newEvent(storeID, "order_1", baseTime, withFBC("fb.1.1.replacement"), withClick("late-click"), withCampaign("c-1"))
	second.Value = decimal.RequireFromString("25.50")
	res, err = repo.Insert(ctx, second)
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.False(t, res.Inserted)

	var count int64
	require.NoError(t, db.Model(&models.TrackingEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := repo.FindByEventID(ctx, storeID, "order_1")
	require.NoError(t, err)
	assert.True(t, stored.Value.Equal(decimal.RequireFromString("25.50")))
	assert.Equal(t, "fb.1.1.original", *stored.FBC, "identity signals are not replaced")
	assert.Equal(t, "late-click", *stored.ClickID, "missing click id is filled")
	assert.Equal(t, "c-1", *stored.CampaignID)
}

func TestInsertKeepsStoredClickIDAndEntities(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	storeID := uuid.New()

	insert(t, repo, newEvent(storeID, "order_1", baseTime, withClick("first"), withCampaign("c-1")))

	_, err := repo.Insert(ctx, newEvent(storeID, "order_1", baseTime, withClick("second")))
	require.NoError(t, err)

	stored, err := repo.FindByEventID(ctx, storeID, "order_1")
	require.NoError(t, err)
	assert.Equal(t, "first", *stored.ClickID)
	assert.Equal(t, "c-1", *stored.CampaignID, "empty entity ids never clear stored ones")
}

func withPayload(topic string, method enums.AttributionMethod) eventOption {
	return func(e *models.TrackingEvent) {
		e.PayloadJSON = signals.Payload{
			Topic:       topic,
			Attribution: signals.AttributionMeta{Method: method},
		}.JSON()
	}
}

func TestInsertRedeliveryWithoutEntitiesKeepsStoredAttributionMeta(t *testing.T) {
	cases := []struct {
		name   string
		source enums.EventSource
		topic  string
	}{
		{name: "orders/create", source: enums.EventSourceShopify, topic: "orders/create"},
		{name: "collect", source: enums.EventSourceBrowser, topic: "collect"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := setupEventsTestDB(t)
			repo := NewRepository(db)
			ctx := context.Background()
			storeID := uuid.New()

			first := newEvent(storeID, "evt_1", baseTime, withCampaign("c-1"), withPayload(tc.topic, enums.AttributionMethodModeled))
			first.Source = tc.source
			insert(t, repo, first)

			redelivery := newEvent(storeID, "evt_1", baseTime, withPayload(tc.topic, enums.AttributionMethodNone))
			redelivery.Source = tc.source
			res, err := repo.Insert(ctx, redelivery)
			require.NoError(t, err)
			require.True(t, res.Updated)

			stored, err := repo.FindByEventID(ctx, storeID, "evt_1")
			require.NoError(t, err)
			assert.True(t, stored.IsMapped())
			assert.Equal(t, "c-1", *stored.CampaignID)

			payload := signals.DecodePayload(stored.PayloadJSON)
			assert.Equal(t, enums.AttributionMethodModeled, payload.Attribution.Method)
			assert.Equal(t, tc.topic, payload.Topic)
		})
	}
}

func TestInsertRedeliveryWithEntitiesReplacesAttributionMeta(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	storeID := uuid.New()

	insert(t, repo, newEvent(storeID, "order_1", baseTime, withCampaign("c-1"), withPayload("orders/create", enums.AttributionMethodModeled)))

	_, err := repo.Insert(ctx, newEvent(storeID, "order_1", baseTime, withCampaign("c-2"), withPayload("orders/updated", enums.AttributionMethodDeterministic)))
	require.NoError(t, err)

	stored, err := repo.FindByEventID(ctx, storeID, "order_1")
	require.NoError(t, err)
	assert.Equal(t, "c-2", *stored.CampaignID)
	payload := signals.DecodePayload(stored.PayloadJSON)
	assert.Equal(t, enums.AttributionMethodDeterministic, payload.Attribution.Method)
	assert.Equal(t, "orders/updated", payload.Topic)
}

func TestInsertRedeliveryOfUnmappedRowTakesNewPayload(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	storeID := uuid.New()

	insert(t, repo, newEvent(storeID, "order_1", baseTime, withPayload("orders/create", enums.AttributionMethodNone)))

	_, err := repo.Insert(ctx, newEvent(storeID, "order_1", baseTime, withPayload("orders/updated", enums.AttributionMethodNone)))
	require.NoError(t, err)

	stored, err := repo.FindByEventID(ctx, storeID, "order_1")
	require.NoError(t, err)
	assert.False(t, stored.IsMapped())
	assert.Equal(t, "orders/updated", signals.DecodePayload(stored.PayloadJSON).Topic)
}

func TestInsertSameEventIDAcrossStores(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)

	insert(t, repo, newEvent(uuid.New(), "order_1", baseTime))
	insert(t, repo, newEvent(uuid.New(), "order_1", baseTime))

	var count int64
	require.NoError(t, db.Model(&models.TrackingEvent{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestInsertRequiresIdentity(t *testing.T) {
	repo := NewRepository(setupEventsTestDB(t))

	_, err := repo.Insert(context.Background(), newEvent(uuid.Nil, "order_1", baseTime))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdateMissingEvent(t *testing.T) {
	repo := NewRepository(setupEventsTestDB(t))

	err := repo.Update(context.Background(), uuid.New(), "order_404", Patch{CampaignID: "c-1"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestFindByEventIDNotFound(t *testing.T) {
	repo := NewRepository(setupEventsTestDB(t))

	_, err := repo.FindByEventID(context.Background(), uuid.New(), "order_404")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestQueryBySignals(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	storeID := uuid.New()

	insert(t, repo, newEvent(storeID, "pixel_old", baseTime.Add(-3*time.Hour), withClick("abc"), withCampaign("c-old")))
	insert(t, repo, newEvent(storeID, "pixel_new", baseTime.Add(-1*time.Hour), withEmail("hash-1"), withCampaign("c-new")))
	insert(t, repo, newEvent(storeID, "pixel_unmapped", baseTime.Add(-2*time.Hour), withClick("abc")))
	insert(t, repo, newEvent(storeID, "refund_1", baseTime.Add(-30*time.Minute), withClick("abc"), withCampaign("c-ref"), withName(enums.EventNameRefund)))
	insert(t, repo, newEvent(storeID, "pixel_future", baseTime.Add(time.Hour), withClick("abc"), withCampaign("c-future")))
	insert(t, repo, newEvent(uuid.New(), "pixel_other_store", baseTime.Add(-time.Hour), withClick("abc"), withCampaign("c-other")))

	present := map[enums.SignalType]string{
		enums.SignalClickID:   "abc",
		enums.SignalEmailHash: "hash-1",
	}
	before := baseTime
	rows, err := repo.QueryBySignals(ctx, storeID, present, enums.EventNameRefund, &before, 10)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "pixel_new", rows[0].EventID)
	assert.Equal(t, "pixel_old", rows[1].EventID)

	rows, err = repo.QueryBySignal(ctx, storeID, enums.SignalClickID, "abc", "", nil, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = repo.QueryBySignals(ctx, storeID, map[enums.SignalType]string{enums.SignalFBP: "  "}, "", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQueryByTimeWindow(t *testing.T) {
	repo := NewRepository(setupEventsTestDB(t))
	ctx := context.Background()
	storeID := uuid.New()

	insert(t, repo, newEvent(storeID, "order_a", baseTime.Add(-10*time.Minute), withCampaign("c-1")))
	insert(t, repo, newEvent(storeID, "order_b", baseTime.Add(5*time.Minute)))
	insert(t, repo, newEvent(storeID, "order_c", baseTime.Add(3*time.Hour), withCampaign("c-2")))

	rows, err := repo.QueryByTimeWindow(ctx, storeID, enums.EventNamePurchase, false, baseTime.Add(-time.Hour), baseTime.Add(time.Hour), 8)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "order_b", rows[0].EventID)

	rows, err = repo.QueryByTimeWindow(ctx, storeID, enums.EventNamePurchase, true, baseTime.Add(-time.Hour), baseTime.Add(time.Hour), 8)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "order_a", rows[0].EventID)
}

func TestQueryRangeFilters(t *testing.T) {
	repo := NewRepository(setupEventsTestDB(t))
	ctx := context.Background()
	storeID := uuid.New()

	insert(t, repo, newEvent(storeID, "order_1", baseTime.Add(-2*time.Hour)))
	browser := newEvent(storeID, "pixel_1", baseTime.Add(-time.Hour), withCampaign("c-1"))
	browser.Source = enums.EventSourceBrowser
	insert(t, repo, browser)
	insert(t, repo, newEvent(storeID, "refund_1", baseTime.Add(-30*time.Minute), withName(enums.EventNameRefund)))
	insert(t, repo, newEvent(storeID, "order_late", baseTime))

	rows, err := repo.QueryRange(ctx, storeID, baseTime.Add(-24*time.Hour), baseTime, RangeFilter{EventName: enums.EventNamePurchase})
	require.NoError(t, err)
	require.Len(t, rows, 2, "upper bound is exclusive")
	assert.Equal(t, "order_1", rows[0].EventID)

	rows, err = repo.QueryRange(ctx, storeID, baseTime.Add(-24*time.Hour), baseTime, RangeFilter{
		Sources: []enums.EventSource{enums.EventSourceBrowser},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pixel_1", rows[0].EventID)

	rows, err = repo.QueryRange(ctx, storeID, baseTime.Add(-24*time.Hour), baseTime.Add(time.Hour), RangeFilter{MappedOnly: true})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestQueryRangePagesWithOffset(t *testing.T) {
	repo := NewRepository(setupEventsTestDB(t))
	ctx := context.Background()
	storeID := uuid.New()

	for i := 0; i < 5; i++ {
		insert(t, repo, newEvent(storeID, fmt.Sprintf("order_%d", i), baseTime.Add(time.Duration(i)*time.Minute)))
	}

	from, to := baseTime.Add(-time.Hour), baseTime.Add(time.Hour)
	first, err := repo.QueryRange(ctx, storeID, from, to, RangeFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "order_0", first[0].EventID)

	last, err := repo.QueryRange(ctx, storeID, from, to, RangeFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "order_4", last[0].EventID, "the newest row is reachable past the first page")
}

func TestRemapQueries(t *testing.T) {
	repo := NewRepository(setupEventsTestDB(t))
	ctx := context.Background()
	storeA := uuid.New()
	storeB := uuid.New()
	since := baseTime.Add(-168 * time.Hour)

	insert(t, repo, newEvent(storeA, "order_1", baseTime.Add(-time.Hour), withClick("abc")))
	insert(t, repo, newEvent(storeA, "order_2", baseTime.Add(-2*time.Hour)))
	insert(t, repo, newEvent(storeA, "order_3", baseTime.Add(-200*time.Hour), withClick("old")))
	insert(t, repo, newEvent(storeA, "pixel_1", baseTime.Add(-3*time.Hour), withClick("abc"), withCampaign("c-1")))
	insert(t, repo, newEvent(storeB, "order_9", baseTime.Add(-time.Hour), withEmail("hash")))

	unmapped, err := repo.FindUnmappedPurchases(ctx, storeA, since, 500)
	require.NoError(t, err)
	require.Len(t, unmapped, 1)
	assert.Equal(t, "order_1", unmapped[0].EventID)

	mapped, err := repo.FindMapped(ctx, storeA, since, 5000)
	require.NoError(t, err)
	require.Len(t, mapped, 1)
	assert.Equal(t, "pixel_1", mapped[0].EventID)

	stores, err := repo.StoresWithUnmapped(ctx, since, 200)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{storeA, storeB}, stores)
}

func TestListUnmappedPaginates(t *testing.T) {
	repo := NewRepository(setupEventsTestDB(t))
	ctx := context.Background()
	storeID := uuid.New()

	for i := 0; i < 3; i++ {
		insert(t, repo, newEvent(storeID, fmt.Sprintf("order_%d", i), baseTime.Add(-time.Duration(i)*time.Hour)))
	}
	insert(t, repo, newEvent(storeID, "order_mapped", baseTime, withCampaign("c-1")))

	query := UnmappedQuery{StoreID: storeID, From: baseTime.Add(-24 * time.Hour), To: baseTime.Add(time.Hour), Limit: 2}
	page, err := repo.ListUnmapped(ctx, query)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "order_0", page[0].EventID)
	assert.Equal(t, "order_1", page[1].EventID)

	query.Cursor = &pagination.Cursor{CreatedAt: page[1].OccurredAt, ID: page[1].ID}
	page, err = repo.ListUnmapped(ctx, query)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "order_2", page[0].EventID)
}

func TestMarkDelivery(t *testing.T) {
	repo := NewRepository(setupEventsTestDB(t))
	ctx := context.Background()
	storeID := uuid.New()
	insert(t, repo, newEvent(storeID, "order_1", baseTime, withCampaign("c-1")))

	require.NoError(t, repo.MarkDelivery(ctx, storeID, "order_1", Delivery{AttemptedAt: baseTime, Error: "status 500"}))
	stored, err := repo.FindByEventID(ctx, storeID, "order_1")
	require.NoError(t, err)
	assert.False(t, stored.MetaForwarded)
	require.NotNil(t, stored.MetaLastError)
	assert.Equal(t, "status 500", *stored.MetaLastError)

	require.NoError(t, repo.MarkDelivery(ctx, storeID, "order_1", Delivery{Forwarded: true, AttemptedAt: baseTime.Add(time.Minute)}))
	stored, err = repo.FindByEventID(ctx, storeID, "order_1")
	require.NoError(t, err)
	assert.True(t, stored.MetaForwarded)
	assert.Nil(t, stored.MetaLastError)
	require.NotNil(t, stored.MetaLastAttemptAt)
	assert.True(t, stored.MetaLastAttemptAt.Equal(baseTime.Add(time.Minute)))

	err = repo.MarkDelivery(ctx, storeID, "order_404", Delivery{Forwarded: true})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestWithTxRollsBack(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)
	storeID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		insert(t, repo.WithTx(tx), newEvent(storeID, "order_1", baseTime))
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	_, err = repo.FindByEventID(context.Background(), storeID, "order_1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
