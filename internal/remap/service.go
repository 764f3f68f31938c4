package remap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/attribution-backend/internal/events"
	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/metrics"
)

const (
	defaultLookback    = 7 * 24 * time.Hour
	defaultUnmappedCap = 500
	defaultMappedCap   = 5000
)

type eventStore interface {
	FindUnmappedPurchases(ctx context.Context, storeID uuid.UUID, since time.Time, limit int) ([]models.TrackingEvent, error)
	FindMapped(ctx context.Context, storeID uuid.UUID, since time.Time, limit int) ([]models.TrackingEvent, error)
	Update(ctx context.Context, storeID uuid.UUID, eventID string, patch events.Patch) error
}

// Result summarizes one remap pass over a store.
type Result struct {
	StoreID   uuid.UUID `json:"store_id"`
	Scanned   int       `json:"scanned"`
	Updated   int       `json:"updated"`
	Failed    int       `json:"failed"`
	LastError string    `json:"last_error,omitempty"`
}

type ServiceParams struct {
	Events  eventStore
	Config  config.RemapConfig
	Logger  *logger.Logger
	Metrics *metrics.AttributionMetrics
	Now     func() time.Time
}

// Service copies entity ids from mapped events onto unmapped purchases that
// share an identity signal.
type Service struct {
	events      eventStore
	lookback    time.Duration
	unmappedCap int
	mappedCap   int
	logg        *logger.Logger
	metrics     *metrics.AttributionMetrics
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Events == nil {
		return nil, errors.New("event store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	lookback := params.Config.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}
	unmappedCap := params.Config.UnmappedCap
	if unmappedCap <= 0 {
		unmappedCap = defaultUnmappedCap
	}
	mappedCap := params.Config.MappedCap
	if mappedCap <= 0 {
		mappedCap = defaultMappedCap
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		events:      params.Events,
		lookback:    lookback,
		unmappedCap: unmappedCap,
		mappedCap:   mappedCap,
		logg:        params.Logger,
		metrics:     params.Metrics,
		now:         now,
	}, nil
}

// Run remaps one store. lookback overrides the configured window when
// positive. Per-row update failures are counted and skipped; the returned
// error is reserved for failed candidate queries.
func (s *Service) Run(ctx context.Context, storeID uuid.UUID, lookback time.Duration) (Result, error) {
	result := Result{StoreID: storeID}
	if storeID == uuid.Nil {
		return result, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	if lookback <= 0 {
		lookback = s.lookback
	}
	ctx = s.logg.WithStoreID(ctx, storeID.String())
	since := s.now().UTC().Add(-lookback)

	unmapped, err := s.events.FindUnmappedPurchases(ctx, storeID, since, s.unmappedCap)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unmapped purchases")
	}
	result.Scanned = len(unmapped)
	if len(unmapped) == 0 {
		return result, nil
	}

	mapped, err := s.events.FindMapped(ctx, storeID, since, s.mappedCap)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load mapped events")
	}
	index := newSignalIndex(mapped)

	var errs error
	for _, row := range unmapped {
		source, signal := index.match(row)
		if source == nil {
			continue
		}
		if err := s.apply(ctx, row, source, signal); err != nil {
			result.Failed++
			result.LastError = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", row.EventID, err))
			continue
		}
		result.Updated++
	}

	s.metrics.AddRemapped(result.Updated)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"scanned": result.Scanned,
		"updated": result.Updated,
		"failed":  result.Failed,
	})
	if errs != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "errors", errs.Error()), "remap finished with failures")
	} else {
		s.logg.Info(logCtx, "remap finished")
	}
	return result, nil
}

func (s *Service) apply(ctx context.Context, row models.TrackingEvent, source *models.TrackingEvent, signal enums.SignalType) error {
	campaignID, adSetID, adID := source.EntityIDs()
	payload := signals.DecodePayload(row.PayloadJSON)
	payload.Attribution = signals.AttributionMeta{
		Method:         enums.AttributionMethodRetroactive,
		Strategy:       enums.AttributionStrategyRemap,
		Confidence:     1,
		MatchedSignals: []enums.SignalType{signal},
		MatchedEventID: source.EventID,
	}
	return s.events.Update(ctx, row.StoreID, row.EventID, events.Patch{
		CampaignID:  campaignID,
		AdSetID:     adSetID,
		AdID:        adID,
		PayloadJSON: payload.JSON(),
	})
}

// signalIndex maps each signal value to the first mapped event carrying it.
type signalIndex map[enums.SignalType]map[string]*models.TrackingEvent

func newSignalIndex(mapped []models.TrackingEvent) signalIndex {
	index := make(signalIndex, len(enums.MatchSignals))
	for _, signal := range enums.MatchSignals {
		index[signal] = map[string]*models.TrackingEvent{}
	}
	for i := range mapped {
		row := &mapped[i]
		for _, signal := range enums.MatchSignals {
			value := row.Signal(signal)
			if value == "" {
				continue
			}
			if _, exists := index[signal][value]; !exists {
				index[signal][value] = row
			}
		}
	}
	return index
}

func (idx signalIndex) match(row models.TrackingEvent) (*models.TrackingEvent, enums.SignalType) {
	for _, signal := range enums.MatchSignals {
		value := row.Signal(signal)
		if value == "" {
			continue
		}
		if hit, ok := idx[signal][value]; ok && hit.EventID != row.EventID {
			return hit, signal
		}
	}
	return nil, ""
}
