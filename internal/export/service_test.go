package export

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

var fixedNow = time.Date(2025, 3, 2, 0, 17, 0, 0, time.UTC)

type fakeLister struct {
	rows     []models.TrackingEvent
	from, to time.Time
}

func (f *fakeLister) ListForExport(_ context.Context, from, to time.Time, _ int) ([]models.TrackingEvent, error) {
	f.from, f.to = from, to
	return f.rows, nil
}

type fakeInserter struct {
	batches [][]Row
	errs    []error
}

func (f *fakeInserter) InsertRows(_ context.Context, rows any) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.batches = append(f.batches, rows.([]Row))
	return nil
}

func str(value string) *string { return &value }

func TestRunExportsDedupedPurchases(t *testing.T) {
	storeA, storeB := uuid.New(), uuid.New()
	payload := signals.Payload{
		UTM:         signals.UTM{Campaign: "spring", Source: "facebook"},
		Attribution: signals.AttributionMeta{Method: enums.AttributionMethodModeled, Strategy: enums.AttributionStrategySignalMatch, Confidence: 0.8},
	}
	lister := &fakeLister{rows: []models.TrackingEvent{
		{StoreID: storeA, EventID: "order_1", OrderID: str("1"), EventName: enums.EventNamePurchase, Source: enums.EventSourceShopify, Value: decimal.RequireFromString("12.50"), CampaignID: str("c"), PayloadJSON: payload.JSON()},
		{StoreID: storeA, EventID: "pixel_1", OrderID: str("1"), EventName: enums.EventNamePurchase, Source: enums.EventSourceBrowser},
		{StoreID: storeA, EventID: "refund_9", EventName: enums.EventNameRefund, Source: enums.EventSourceShopify},
		{StoreID: storeB, EventID: "order_1", OrderID: str("1"), EventName: enums.EventNamePurchase, Source: enums.EventSourceShopify},
	}}
	inserter := &fakeInserter{}
	writer, err := NewWriter(inserter, 0, RetryPolicy{})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Events: lister,
		Writer: writer,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Now:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	result, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), lister.from)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), lister.to)
	assert.Equal(t, 4, result.Loaded)
	assert.Equal(t, 2, result.Exported)
	require.Len(t, inserter.batches, 1)

	first := inserter.batches[0][0]
	assert.Equal(t, storeA.String(), first.StoreID)
	assert.Equal(t, 12.5, first.Value)
	assert.True(t, first.Mapped)
	assert.Equal(t, "modeled", first.Method)
	assert.Equal(t, "signal_match", first.Strategy.StringVal)
	assert.Equal(t, "spring", first.UTMCampaign.StringVal)
	assert.True(t, first.Attribution.Valid)

	second := inserter.batches[0][1]
	assert.Equal(t, storeB.String(), second.StoreID)
	assert.Equal(t, "none", second.Method)
	assert.False(t, second.CampaignID.Valid)
}

func TestWriterBatchesAndStopsOnPermanentError(t *testing.T) {
	inserter := &fakeInserter{errs: []error{nil, errors.New("schema mismatch")}}
	writer, err := NewWriter(inserter, 2, RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond})
	require.NoError(t, err)

	written, err := writer.Write(context.Background(), make([]Row, 5))
	require.Error(t, err)
	assert.Equal(t, 2, written)
	assert.Len(t, inserter.batches, 1)
}

func TestSchemaInference(t *testing.T) {
	schema, err := Schema()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, field := range schema {
		names[field.Name] = true
	}
	assert.True(t, names["occurred_at"])
	assert.True(t, names["campaign_id"])
	assert.True(t, names["attribution"])
}

func TestRunWrapsWriterFailure(t *testing.T) {
	lister := &fakeLister{rows: []models.TrackingEvent{{StoreID: uuid.New(), EventID: "order_1", EventName: enums.EventNamePurchase}}}
	writer, err := NewWriter(&fakeInserter{errs: []error{errors.New("denied")}}, 0, RetryPolicy{})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{Events: lister, Writer: writer, Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)

	_, err = svc.Run(context.Background())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
