package remap

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/attribution-backend/internal/events"
	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/metrics"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	unmapped    []models.TrackingEvent
	mapped      []models.TrackingEvent
	findErr     error
	failFor     map[string]error
	updates     map[string]events.Patch
	lastSince   time.Time
	lastLimits  [2]int
	mappedCalls int
}

func (f *fakeStore) FindUnmappedPurchases(_ context.Context, _ uuid.UUID, since time.Time, limit int) ([]models.TrackingEvent, error) {
	f.lastSince = since
	f.lastLimits[0] = limit
	return f.unmapped, f.findErr
}

func (f *fakeStore) FindMapped(_ context.Context, _ uuid.UUID, _ time.Time, limit int) ([]models.TrackingEvent, error) {
	f.mappedCalls++
	f.lastLimits[1] = limit
	return f.mapped, nil
}

func (f *fakeStore) Update(_ context.Context, _ uuid.UUID, eventID string, patch events.Patch) error {
	if err := f.failFor[eventID]; err != nil {
		return err
	}
	if f.updates == nil {
		f.updates = map[string]events.Patch{}
	}
	f.updates[eventID] = patch
	return nil
}

func str(value string) *string { return &value }

func row(eventID string, mutate func(*models.TrackingEvent)) models.TrackingEvent {
	event := models.TrackingEvent{
		ID:         uuid.New(),
		StoreID:    uuid.MustParse("00000000-0000-0000-0000-00000000000a"),
		EventID:    eventID,
		EventName:  enums.EventNamePurchase,
		Source:     enums.EventSourceShopify,
		OccurredAt: fixedNow,
	}
	if mutate != nil {
		mutate(&event)
	}
	return event
}

func newTestService(t *testing.T, store *fakeStore, m *metrics.AttributionMetrics) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Events:  store,
		Config:  config.RemapConfig{Lookback: 48 * time.Hour},
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Metrics: m,
		Now:     func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return svc
}

func TestRunPrefersClickIDMatch(t *testing.T) {
	store := &fakeStore{
		mapped: []models.TrackingEvent{
			row("pixel_email", func(e *models.TrackingEvent) {
				e.EmailHash = str("hash")
				e.CampaignID = str("by-email")
			}),
			row("pixel_click", func(e *models.TrackingEvent) {
				e.ClickID = str("click-1")
				e.CampaignID = str("by-click")
				e.AdID = str("ad-click")
			}),
		},
		unmapped: []models.TrackingEvent{
			row("order_1", func(e *models.TrackingEvent) {
				e.EmailHash = str("hash")
				e.ClickID = str("click-1")
				e.PayloadJSON = signals.Payload{UTM: signals.UTM{Campaign: "spring"}}.JSON()
			}),
		},
	}
	svc := newTestService(t, store, nil)

	result, err := svc.Run(context.Background(), uuid.New(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, fixedNow.Add(-48*time.Hour), store.lastSince)
	assert.Equal(t, [2]int{500, 5000}, store.lastLimits)

	patch := store.updates["order_1"]
	assert.Equal(t, "by-click", patch.CampaignID)
	assert.Equal(t, "ad-click", patch.AdID)
	assert.Empty(t, patch.AdSetID)

	payload := signals.DecodePayload(patch.PayloadJSON)
	assert.Equal(t, "spring", payload.UTM.Campaign, "existing payload is preserved")
	assert.Equal(t, enums.AttributionMethodRetroactive, payload.Attribution.Method)
	assert.Equal(t, []enums.SignalType{enums.SignalClickID}, payload.Attribution.MatchedSignals)
	assert.Equal(t, "pixel_click", payload.Attribution.MatchedEventID)
}

func TestRunFirstSeenMappedRowWins(t *testing.T) {
	store := &fakeStore{
		mapped: []models.TrackingEvent{
			row("newest", func(e *models.TrackingEvent) { e.FBP = str("fbp-1"); e.CampaignID = str("first") }),
			row("older", func(e *models.TrackingEvent) { e.FBP = str("fbp-1"); e.CampaignID = str("second") }),
		},
		unmapped: []models.TrackingEvent{
			row("order_2", func(e *models.TrackingEvent) { e.FBP = str("fbp-1") }),
		},
	}
	svc := newTestService(t, store, nil)

	_, err := svc.Run(context.Background(), uuid.New(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "first", store.updates["order_2"].CampaignID)
	assert.Equal(t, fixedNow.Add(-time.Hour), store.lastSince)
}

func TestRunContinuesPastRowFailures(t *testing.T) {
	store := &fakeStore{
		mapped: []models.TrackingEvent{
			row("pixel", func(e *models.TrackingEvent) { e.FBC = str("fbc-1"); e.AdSetID = str("s-1") }),
		},
		unmapped: []models.TrackingEvent{
			row("order_a", func(e *models.TrackingEvent) { e.FBC = str("fbc-1") }),
			row("order_b", func(e *models.TrackingEvent) { e.FBC = str("fbc-1") }),
			row("order_c", func(e *models.TrackingEvent) { e.FBC = str("other") }),
		},
		failFor: map[string]error{"order_a": errors.New("deadlock detected")},
	}
	reg := prometheus.NewRegistry()
	svc := newTestService(t, store, metrics.NewAttributionMetrics(reg))

	result, err := svc.Run(context.Background(), uuid.New(), 0)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "deadlock detected", result.LastError)
	assert.Contains(t, store.updates, "order_b")

	expected := `
# HELP attribution_remapped_events_total Purchases mapped retroactively by the bulk remapper.
# TYPE attribution_remapped_events_total counter
attribution_remapped_events_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "attribution_remapped_events_total"))
}

func TestRunSkipsMappedLookupWhenNothingToRemap(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(t, store, nil)

	result, err := svc.Run(context.Background(), uuid.New(), 0)
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)
	assert.Zero(t, store.mappedCalls)
}

func TestRunQueryFailure(t *testing.T) {
	svc := newTestService(t, &fakeStore{findErr: errors.New("db down")}, nil)

	_, err := svc.Run(context.Background(), uuid.New(), 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	_, err = svc.Run(context.Background(), uuid.Nil, 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
