package export

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/internal/diagnostics"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

const (
	defaultWindow = 24 * time.Hour
	exportLimit   = 20000
)

type eventLister interface {
	ListForExport(ctx context.Context, from, to time.Time, limit int) ([]models.TrackingEvent, error)
}

type rowWriter interface {
	Write(ctx context.Context, rows []Row) (int, error)
}

// Result reports one export run.
type Result struct {
	From     time.Time
	To       time.Time
	Loaded   int
	Exported int
}

type ServiceParams struct {
	Events eventLister
	Writer rowWriter
	Window time.Duration
	Logger *logger.Logger
	Now    func() time.Time
}

// Service copies the previous window's purchase facts into the warehouse.
type Service struct {
	events eventLister
	writer rowWriter
	window time.Duration
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Events == nil {
		return nil, errors.New("event lister is required")
	}
	if params.Writer == nil {
		return nil, errors.New("row writer is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultWindow
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		events: params.Events,
		writer: params.Writer,
		window: window,
		logg:   params.Logger,
		now:    now,
	}, nil
}

// Run exports the last complete window ending at the current hour.
func (s *Service) Run(ctx context.Context) (Result, error) {
	to := s.now().UTC().Truncate(time.Hour)
	from := to.Add(-s.window)
	result := Result{From: from, To: to}

	rows, err := s.events.ListForExport(ctx, from, to, exportLimit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load events for export")
	}
	result.Loaded = len(rows)
	if len(rows) == exportLimit {
		s.logg.Warn(s.logg.WithField(ctx, "limit", exportLimit), "export window hit the row limit; later events are skipped")
	}

	facts := purchaseFacts(rows)
	if len(facts) == 0 {
		return result, nil
	}

	exportedAt := s.now().UTC()
	out := make([]Row, 0, len(facts))
	for _, event := range facts {
		out = append(out, FromEvent(event, exportedAt))
	}

	written, err := s.writer.Write(ctx, out)
	result.Exported = written
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write attribution rows")
	}
	return result, nil
}

// purchaseFacts deduplicates purchases per store, keeping store order stable.
func purchaseFacts(rows []models.TrackingEvent) []models.TrackingEvent {
	var order []uuid.UUID
	byStore := map[uuid.UUID][]models.TrackingEvent{}
	for _, row := range rows {
		if row.EventName != enums.EventNamePurchase {
			continue
		}
		if _, ok := byStore[row.StoreID]; !ok {
			order = append(order, row.StoreID)
		}
		byStore[row.StoreID] = append(byStore[row.StoreID], row)
	}

	var out []models.TrackingEvent
	for _, storeID := range order {
		out = append(out, diagnostics.Dedupe(byStore[storeID])...)
	}
	return out
}
