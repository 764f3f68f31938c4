package forwarding

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/internal/adplatform"
	"github.com/angelmondragon/attribution-backend/internal/events"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/metrics"
)

const (
	defaultMaxErrorLength = 500

	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

type storeLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
}

type eventStore interface {
	FindByEventID(ctx context.Context, storeID uuid.UUID, eventID string) (*models.TrackingEvent, error)
	MarkDelivery(ctx context.Context, storeID uuid.UUID, eventID string, delivery events.Delivery) error
}

// ConversionSender delivers conversions to the ads platform.
type ConversionSender interface {
	SendConversion(ctx context.Context, creds adplatform.Credentials, conversion adplatform.Conversion) error
}

// RetryableError marks a delivery failure worth redelivering the job for.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

type WorkerParams struct {
	Stores         storeLookup
	Events         eventStore
	Sender         ConversionSender
	Logger         *logger.Logger
	Metrics        *metrics.AttributionMetrics
	MaxErrorLength int
	Now            func() time.Time
}

// Worker sends stored, mapped purchases to the ads platform and records the
// outcome on the event row.
type Worker struct {
	stores    storeLookup
	events    eventStore
	sender    ConversionSender
	logg      *logger.Logger
	metrics   *metrics.AttributionMetrics
	maxErrLen int
	now       func() time.Time
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Stores == nil {
		return nil, errors.New("store lookup is required")
	}
	if params.Events == nil {
		return nil, errors.New("event store is required")
	}
	if params.Sender == nil {
		return nil, errors.New("conversion sender is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	maxLen := params.MaxErrorLength
	if maxLen <= 0 {
		maxLen = defaultMaxErrorLength
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Worker{
		stores:    params.Stores,
		events:    params.Events,
		sender:    params.Sender,
		logg:      params.Logger,
		metrics:   params.Metrics,
		maxErrLen: maxLen,
		now:       now,
	}, nil
}

// Handle delivers one job. Only infrastructure failures and retryable
// platform errors are returned; every other outcome is recorded and dropped.
func (w *Worker) Handle(ctx context.Context, job Job) error {
	ctx = w.logg.WithStoreID(ctx, job.StoreID.String())
	ctx = w.logg.WithEventID(ctx, job.EventID)

	store, err := w.stores.GetByID(ctx, job.StoreID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			w.skip(ctx, "store not found")
			return nil
		}
		return fmt.Errorf("load store: %w", err)
	}
	if !store.CanForward() {
		w.skip(ctx, "forwarding not configured")
		return nil
	}

	event, err := w.events.FindByEventID(ctx, job.StoreID, job.EventID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			w.skip(ctx, "event not found")
			return nil
		}
		return fmt.Errorf("load event: %w", err)
	}
	if event.MetaForwarded {
		w.skip(ctx, "event already forwarded")
		return nil
	}
	if event.EventName != enums.EventNamePurchase || !event.IsMapped() {
		w.skip(ctx, "event not eligible")
		return nil
	}

	creds := adplatform.Credentials{PixelID: deref(store.PixelID), AccessToken: deref(store.AdsAccessToken)}
	sendErr := w.sender.SendConversion(ctx, creds, BuildConversion(event))

	delivery := events.Delivery{Forwarded: sendErr == nil, AttemptedAt: w.now().UTC()}
	if sendErr != nil {
		delivery.Error = Truncate(sendErr.Error(), w.maxErrLen)
	}
	if err := w.events.MarkDelivery(ctx, job.StoreID, job.EventID, delivery); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}

	if sendErr == nil {
		w.metrics.IncForwarding(OutcomeSent)
		w.logg.Info(ctx, "conversion forwarded")
		return nil
	}

	w.metrics.IncForwarding(OutcomeFailed)
	w.logg.Warn(w.logg.WithField(ctx, "error", delivery.Error), "conversion forwarding failed")
	var apiErr *adplatform.APIError
	if errors.As(sendErr, &apiErr) && !apiErr.Retryable() {
		return nil
	}
	return &RetryableError{Err: sendErr}
}

func (w *Worker) skip(ctx context.Context, reason string) {
	w.metrics.IncForwarding(OutcomeSkipped)
	w.logg.Info(w.logg.WithField(ctx, "reason", reason), "forwarding skipped")
}

// BuildConversion maps a stored purchase onto the conversions payload. The
// event id doubles as the platform's dedup key against browser pixel events.
func BuildConversion(event *models.TrackingEvent) adplatform.Conversion {
	value, _ := event.Value.Float64()
	conversion := adplatform.Conversion{
		EventName: "Purchase",
		EventTime: event.OccurredAt.Unix(),
		EventID:   event.EventID,
		UserData: adplatform.UserData{
			FBC:       deref(event.FBC),
			FBP:       deref(event.FBP),
			UserAgent: deref(event.UserAgent),
		},
		CustomData: adplatform.CustomData{
			Value:    value,
			Currency: deref(event.Currency),
			OrderID:  deref(event.OrderID),
		},
	}
	if email := deref(event.EmailHash); email != "" {
		conversion.UserData.Email = []string{email}
	}
	if phone := deref(event.PhoneHash); phone != "" {
		conversion.UserData.Phone = []string{phone}
	}
	return conversion
}

// Truncate shortens s to at most max bytes without splitting a rune.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
