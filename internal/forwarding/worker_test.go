package forwarding

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/attribution-backend/internal/adplatform"
	"github.com/angelmondragon/attribution-backend/internal/events"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/metrics"
)

var workerNow = time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

type fakeStores struct {
	store *models.Store
	err   error
}

func (f fakeStores) GetByID(context.Context, uuid.UUID) (*models.Store, error) {
	return f.store, f.err
}

type fakeEvents struct {
	event      *models.TrackingEvent
	findErr    error
	markErr    error
	deliveries []events.Delivery
}

func (f *fakeEvents) FindByEventID(context.Context, uuid.UUID, string) (*models.TrackingEvent, error) {
	return f.event, f.findErr
}

func (f *fakeEvents) MarkDelivery(_ context.Context, _ uuid.UUID, _ string, delivery events.Delivery) error {
	f.deliveries = append(f.deliveries, delivery)
	return f.markErr
}

type fakeSender struct {
	err         error
	calls       int
	creds       adplatform.Credentials
	conversions []adplatform.Conversion
}

func (f *fakeSender) SendConversion(_ context.Context, creds adplatform.Credentials, conversion adplatform.Conversion) error {
	f.calls++
	f.creds = creds
	f.conversions = append(f.conversions, conversion)
	return f.err
}

func strPtr(v string) *string { return &v }

func readyStore() *models.Store {
	return &models.Store{
		ID:                uuid.New(),
		ShopDomain:        "demo.myshopify.com",
		ForwardingEnabled: true,
		PixelID:           strPtr("pixel-1"),
		AdsAccessToken:    strPtr("token-1"),
	}
}

func mappedPurchase() *models.TrackingEvent {
	return &models.TrackingEvent{
		EventID:    "order_1",
		EventName:  enums.EventNamePurchase,
		Source:     enums.EventSourceShopify,
		OccurredAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		FBC:        strPtr("fb.1.1.abc"),
		EmailHash:  strPtr("hash"),
		Value:      decimal.RequireFromString("49.90"),
		Currency:   strPtr("USD"),
		OrderID:    strPtr("1001"),
		CampaignID: strPtr("c-1"),
	}
}

func newTestWorker(t *testing.T, stores storeLookup, store eventStore, sender ConversionSender, m *metrics.AttributionMetrics) *Worker {
	t.Helper()
	worker, err := NewWorker(WorkerParams{
		Stores:         stores,
		Events:         store,
		Sender:         sender,
		Logger:         testLogger(),
		Metrics:        m,
		MaxErrorLength: 16,
		Now:            func() time.Time { return workerNow },
	})
	require.NoError(t, err)
	return worker
}

func TestWorkerForwardsMappedPurchase(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAttributionMetrics(reg)
	store := readyStore()
	eventsRepo := &fakeEvents{event: mappedPurchase()}
	sender := &fakeSender{}
	worker := newTestWorker(t, fakeStores{store: store}, eventsRepo, sender, m)

	require.NoError(t, worker.Handle(context.Background(), Job{StoreID: store.ID, EventID: "order_1"}))

	require.Equal(t, 1, sender.calls)
	assert.Equal(t, adplatform.Credentials{PixelID: "pixel-1", AccessToken: "token-1"}, sender.creds)
	conversion := sender.conversions[0]
	assert.Equal(t, "order_1", conversion.EventID)
	assert.Equal(t, int64(1740830400), conversion.EventTime)
	assert.Equal(t, []string{"hash"}, conversion.UserData.Email)
	assert.InDelta(t, 49.9, conversion.CustomData.Value, 0.0001)

	require.Len(t, eventsRepo.deliveries, 1)
	assert.True(t, eventsRepo.deliveries[0].Forwarded)
	assert.Equal(t, workerNow, eventsRepo.deliveries[0].AttemptedAt)
	expected := `
# HELP attribution_forwarding_total Conversion forwarding attempts by outcome.
# TYPE attribution_forwarding_total counter
attribution_forwarding_total{outcome="sent"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "attribution_forwarding_total"))
}

func TestWorkerRecordsTruncatedFailure(t *testing.T) {
	store := readyStore()
	eventsRepo := &fakeEvents{event: mappedPurchase()}
	sender := &fakeSender{err: &adplatform.APIError{Status: http.StatusBadRequest, Message: strings.Repeat("x", 64)}}
	worker := newTestWorker(t, fakeStores{store: store}, eventsRepo, sender, nil)

	require.NoError(t, worker.Handle(context.Background(), Job{StoreID: store.ID, EventID: "order_1"}), "permanent failures are not retried")

	require.Len(t, eventsRepo.deliveries, 1)
	assert.False(t, eventsRepo.deliveries[0].Forwarded)
	assert.Len(t, eventsRepo.deliveries[0].Error, 16)
}

func TestWorkerReturnsRetryableFailures(t *testing.T) {
	store := readyStore()
	eventsRepo := &fakeEvents{event: mappedPurchase()}
	sender := &fakeSender{err: &adplatform.APIError{Status: http.StatusServiceUnavailable}}
	worker := newTestWorker(t, fakeStores{store: store}, eventsRepo, sender, nil)

	err := worker.Handle(context.Background(), Job{StoreID: store.ID, EventID: "order_1"})
	var retryable *RetryableError
	require.True(t, errors.As(err, &retryable))
	assert.Len(t, eventsRepo.deliveries, 1)
}

func TestWorkerSkips(t *testing.T) {
	forwarded := mappedPurchase()
	forwarded.MetaForwarded = true
	unmapped := mappedPurchase()
	unmapped.CampaignID = nil
	refund := mappedPurchase()
	refund.EventName = enums.EventNameRefund
	notReady := readyStore()
	notReady.PixelID = nil

	cases := []struct {
		name   string
		stores fakeStores
		events *fakeEvents
	}{
		{"store missing", fakeStores{err: pkgerrors.New(pkgerrors.CodeNotFound, "store not found")}, &fakeEvents{}},
		{"forwarding not configured", fakeStores{store: notReady}, &fakeEvents{event: mappedPurchase()}},
		{"event missing", fakeStores{store: readyStore()}, &fakeEvents{findErr: pkgerrors.New(pkgerrors.CodeNotFound, "tracking event not found")}},
		{"already forwarded", fakeStores{store: readyStore()}, &fakeEvents{event: forwarded}},
		{"unmapped", fakeStores{store: readyStore()}, &fakeEvents{event: unmapped}},
		{"refund", fakeStores{store: readyStore()}, &fakeEvents{event: refund}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &fakeSender{}
			worker := newTestWorker(t, tc.stores, tc.events, sender, nil)

			require.NoError(t, worker.Handle(context.Background(), Job{StoreID: uuid.New(), EventID: "order_1"}))
			assert.Zero(t, sender.calls)
			assert.Empty(t, tc.events.deliveries)
		})
	}
}

func TestWorkerReturnsInfrastructureErrors(t *testing.T) {
	worker := newTestWorker(t, fakeStores{err: errors.New("db down")}, &fakeEvents{}, &fakeSender{}, nil)
	assert.Error(t, worker.Handle(context.Background(), Job{StoreID: uuid.New(), EventID: "order_1"}))

	eventsRepo := &fakeEvents{event: mappedPurchase(), markErr: errors.New("db down")}
	worker = newTestWorker(t, fakeStores{store: readyStore()}, eventsRepo, &fakeSender{}, nil)
	assert.Error(t, worker.Handle(context.Background(), Job{StoreID: uuid.New(), EventID: "order_1"}))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "ab", Truncate("ab✓", 4))
	assert.Equal(t, "anything", Truncate("anything", 0))
}

type recordingHandler struct {
	err  error
	jobs []Job
}

func (h *recordingHandler) Handle(_ context.Context, job Job) error {
	h.jobs = append(h.jobs, job)
	return h.err
}

func TestConsumerProcess(t *testing.T) {
	handler := &recordingHandler{}
	consumer := &Consumer{handler: handler, logg: testLogger()}

	data, err := Job{StoreID: uuid.New(), EventID: "order_1"}.Encode()
	require.NoError(t, err)

	assert.False(t, consumer.process(context.Background(), "m-1", data).nack)
	assert.Len(t, handler.jobs, 1)

	assert.False(t, consumer.process(context.Background(), "m-2", []byte("garbage")).nack, "undecodable jobs are dropped")

	handler.err = errors.New("transient")
	assert.True(t, consumer.process(context.Background(), "m-3", data).nack)
}
