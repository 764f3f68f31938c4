package attribution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/metrics"
)

// EventFinder is the read side of the event store the matchers query.
type EventFinder interface {
	QueryBySignals(ctx context.Context, storeID uuid.UUID, present map[enums.SignalType]string, excludeEventName enums.EventName, before *time.Time, limit int) ([]models.TrackingEvent, error)
	QueryByTimeWindow(ctx context.Context, storeID uuid.UUID, eventName enums.EventName, mappedOnly bool, from, to time.Time, limit int) ([]models.TrackingEvent, error)
}

// Request describes the event being attributed.
type Request struct {
	StoreID    uuid.UUID
	EventID    string
	OccurredAt time.Time
	Extraction signals.Extraction
}

// Resolution is the outcome of the pipeline. Entities is empty when nothing
// was accepted; Candidate then holds the rejected best guess, if any.
type Resolution struct {
	Entities  signals.EntityIDs
	Meta      signals.AttributionMeta
	Candidate *Candidate
}

// Mapped reports whether the resolution carries entity ids.
func (r Resolution) Mapped() bool {
	return !r.Entities.Empty()
}

type ResolverParams struct {
	Finder  EventFinder
	Scorer  SignalScorer
	Policy  Policy
	Config  config.AttributionConfig
	Logger  *logger.Logger
	Metrics *metrics.AttributionMetrics
}

// Resolver runs direct mapping, signal matching and the time-proximity
// fallback in that order.
type Resolver struct {
	finder        EventFinder
	scorer        SignalScorer
	proximity     Proximity
	policy        Policy
	windowMinutes int
	signalLimit   int
	logg          *logger.Logger
	metrics       *metrics.AttributionMetrics
}

// NewResolver wires the pipeline. Zero-valued config fields fall back to the
// built-in thresholds.
func NewResolver(params ResolverParams) (*Resolver, error) {
	if params.Finder == nil {
		return nil, errors.New("event finder is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	scorer := params.Scorer
	if scorer == nil {
		scorer = Scorer{}
	}
	policy := params.Policy
	if policy == (Policy{}) {
		policy = PolicyFromConfig(params.Config)
	}
	proximity := NewProximity(params.Config.AmbiguitySeconds)
	window := params.Config.ProximityWindowMinutes
	if window <= 0 {
		window = WebhookProximityWindowMinutes
	}
	limit := params.Config.SignalCandidateLimit
	if limit <= 0 {
		limit = defaultSignalLimit
	}
	return &Resolver{
		finder:        params.Finder,
		scorer:        scorer,
		proximity:     proximity,
		policy:        policy,
		windowMinutes: window,
		signalLimit:   limit,
		logg:          params.Logger,
		metrics:       params.Metrics,
	}, nil
}

// Resolve attributes one event. Store lookups that fail are logged and the
// event is treated as unmatched so ingestion can still record it.
func (r *Resolver) Resolve(ctx context.Context, req Request) Resolution {
	ctx = r.logg.WithEventID(ctx, req.EventID)

	if direct := req.Extraction.Direct; !direct.Empty() {
		r.metrics.IncResolution(string(enums.AttributionMethodDeterministic), string(enums.AttributionStrategyDirect))
		return Resolution{
			Entities: direct,
			Meta: signals.AttributionMeta{
				Method:     enums.AttributionMethodDeterministic,
				Strategy:   enums.AttributionStrategyDirect,
				Confidence: 1,
			},
		}
	}

	current := req.Extraction.Signals
	if !current.HasAny() {
		r.metrics.IncResolution(string(enums.AttributionMethodNone), "no_signal")
		return Resolution{Meta: signals.AttributionMeta{Method: enums.AttributionMethodNone}}
	}

	occurredAt := req.OccurredAt.UTC()
	var rejected *Candidate

	if candidate := r.signalMatch(ctx, req, current, occurredAt); candidate != nil {
		if r.policy.Accept(candidate) {
			return r.accept(candidate)
		}
		r.logg.Debug(r.logg.WithFields(ctx, map[string]any{
			"strategy":   candidate.Strategy,
			"confidence": candidate.Confidence,
		}), "signal match rejected by policy")
		rejected = candidate
	}

	if candidate := r.proximityMatch(ctx, req, occurredAt); candidate != nil {
		if r.policy.Accept(candidate) {
			return r.accept(candidate)
		}
		rejected = candidate
	}

	r.metrics.IncResolution(string(enums.AttributionMethodNone), "unresolved")
	return Resolution{
		Meta:      signals.AttributionMeta{Method: enums.AttributionMethodNone},
		Candidate: rejected,
	}
}

func (r *Resolver) signalMatch(ctx context.Context, req Request, current signals.Signals, occurredAt time.Time) *Candidate {
	rows, err := r.finder.QueryBySignals(ctx, req.StoreID, current.Present(), enums.EventNameRefund, &occurredAt, r.signalLimit)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "signal candidate lookup failed")
		return nil
	}
	return r.scorer.Best(current, withoutEvent(rows, req.EventID), &occurredAt)
}

func (r *Resolver) proximityMatch(ctx context.Context, req Request, occurredAt time.Time) *Candidate {
	window := time.Duration(r.windowMinutes) * time.Minute
	rows, err := r.finder.QueryByTimeWindow(ctx, req.StoreID, enums.EventNamePurchase, true, occurredAt.Add(-window), occurredAt.Add(window), candidateLimit(req.EventID))
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "proximity candidate lookup failed")
		return nil
	}
	return r.proximity.Best(occurredAt, rows, req.EventID)
}

func (r *Resolver) accept(candidate *Candidate) Resolution {
	r.metrics.IncResolution(string(enums.AttributionMethodModeled), string(candidate.Strategy))
	return Resolution{
		Entities:  candidate.Entities,
		Meta:      candidate.Meta(),
		Candidate: candidate,
	}
}

func withoutEvent(rows []models.TrackingEvent, eventID string) []models.TrackingEvent {
	if eventID == "" {
		return rows
	}
	out := rows[:0:0]
	for _, row := range rows {
		if row.EventID != eventID {
			out = append(out, row)
		}
	}
	return out
}

// Lookup runs only the time-proximity matcher around at, for diagnostics.
func (r *Resolver) Lookup(ctx context.Context, storeID uuid.UUID, at time.Time, windowMinutes int, excludeEventID string) (*Candidate, bool, error) {
	at = at.UTC()
	window := time.Duration(ClampWindowMinutes(windowMinutes)) * time.Minute
	rows, err := r.finder.QueryByTimeWindow(ctx, storeID, enums.EventNamePurchase, true, at.Add(-window), at.Add(window), candidateLimit(excludeEventID))
	if err != nil {
		return nil, false, err
	}
	candidate := r.proximity.Best(at, rows, excludeEventID)
	return candidate, r.policy.Accept(candidate), nil
}

// candidateLimit leaves room for the excluded row so it never displaces a
// real candidate.
func candidateLimit(excludeEventID string) int {
	if excludeEventID != "" {
		return ProximityCandidateLimit + 1
	}
	return ProximityCandidateLimit
}
