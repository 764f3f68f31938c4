package attribution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

type fakeFinder struct {
	signalRows    []models.TrackingEvent
	windowRows    []models.TrackingEvent
	signalErr     error
	signalCalls   int
	windowCalls   int
	lastExclude   enums.EventName
	lastWindowArg [2]time.Time
	lastLimit     int
}

func (f *fakeFinder) QueryBySignals(_ context.Context, _ uuid.UUID, _ map[enums.SignalType]string, exclude enums.EventName, _ *time.Time, _ int) ([]models.TrackingEvent, error) {
	f.signalCalls++
	f.lastExclude = exclude
	return f.signalRows, f.signalErr
}

func (f *fakeFinder) QueryByTimeWindow(_ context.Context, _ uuid.UUID, _ enums.EventName, _ bool, from, to time.Time, limit int) ([]models.TrackingEvent, error) {
	f.windowCalls++
	f.lastWindowArg = [2]time.Time{from, to}
	f.lastLimit = limit
	if limit > 0 && len(f.windowRows) > limit {
		return f.windowRows[:limit], nil
	}
	return f.windowRows, nil
}

type fakeScorer struct {
	candidate *Candidate
	calls     int
}

func (f *fakeScorer) Best(signals.Signals, []models.TrackingEvent, *time.Time) *Candidate {
	f.calls++
	return f.candidate
}

func newTestResolver(t *testing.T, finder EventFinder, scorer SignalScorer) *Resolver {
	t.Helper()
	resolver, err := NewResolver(ResolverParams{
		Finder: finder,
		Scorer: scorer,
		Config: config.AttributionConfig{ProximityWindowMinutes: 120, AmbiguitySeconds: 120},
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return resolver
}

func TestResolveDirectMappingShortCircuits(t *testing.T) {
	finder := &fakeFinder{}
	scorer := &fakeScorer{candidate: candidateWith(0.9, enums.SignalClickID)}
	resolver := newTestResolver(t, finder, scorer)

	extraction := signals.Extraction{
		Signals: signals.Signals{ClickID: "click", FBC: "fbc", FBP: "fbp"},
		Direct:  signals.EntityIDs{CampaignID: "111", AdID: "333"},
	}
	res := resolver.Resolve(context.Background(), Request{StoreID: uuid.New(), EventID: "order_1", OccurredAt: refTime, Extraction: extraction})

	assert.Equal(t, signals.EntityIDs{CampaignID: "111", AdID: "333"}, res.Entities)
	assert.Equal(t, enums.AttributionMethodDeterministic, res.Meta.Method)
	assert.Zero(t, scorer.calls)
	assert.Zero(t, finder.signalCalls)
	assert.Zero(t, finder.windowCalls)
}

func TestResolveWithoutSignalsSkipsMatching(t *testing.T) {
	finder := &fakeFinder{}
	resolver := newTestResolver(t, finder, &fakeScorer{})

	res := resolver.Resolve(context.Background(), Request{StoreID: uuid.New(), EventID: "order_1", OccurredAt: refTime})

	assert.False(t, res.Mapped())
	assert.Equal(t, enums.AttributionMethodNone, res.Meta.Method)
	assert.Zero(t, finder.signalCalls)
	assert.Zero(t, finder.windowCalls)
}

func TestResolveAcceptsClickIDAtFloor(t *testing.T) {
	finder := &fakeFinder{}
	scorer := &fakeScorer{candidate: candidateWith(0.20, enums.SignalClickID)}
	scorer.candidate.Strategy = enums.AttributionStrategySignalMatch
	resolver := newTestResolver(t, finder, scorer)

	res := resolver.Resolve(context.Background(), Request{
		StoreID:    uuid.New(),
		EventID:    "order_1",
		OccurredAt: refTime,
		Extraction: signals.Extraction{Signals: signals.Signals{ClickID: "click"}},
	})

	assert.True(t, res.Mapped())
	assert.Equal(t, enums.AttributionMethodModeled, res.Meta.Method)
	assert.Equal(t, enums.AttributionStrategySignalMatch, res.Meta.Strategy)
	assert.Equal(t, enums.EventNameRefund, finder.lastExclude)
	assert.Zero(t, finder.windowCalls, "accepted signal match never falls back")
}

func TestResolveRejectedSignalMatchFallsBackToProximity(t *testing.T) {
	finder := &fakeFinder{
		windowRows: []models.TrackingEvent{
			mappedRow("order_near", refTime.Add(-90*time.Second), withEntities("c-prox", "s-prox", "a-prox")),
		},
	}
	scorer := &fakeScorer{candidate: candidateWith(0.199, enums.SignalClickID)}
	resolver := newTestResolver(t, finder, scorer)

	res := resolver.Resolve(context.Background(), Request{
		StoreID:    uuid.New(),
		EventID:    "order_1",
		OccurredAt: refTime,
		Extraction: signals.Extraction{Signals: signals.Signals{ClickID: "click"}},
	})

	assert.Equal(t, 1, finder.windowCalls)
	assert.Equal(t, refTime.Add(-120*time.Minute), finder.lastWindowArg[0])
	assert.Equal(t, refTime.Add(120*time.Minute), finder.lastWindowArg[1])
	assert.Equal(t, ProximityCandidateLimit+1, finder.lastLimit, "the own row gets a slot of its own")
	require.True(t, res.Mapped())
	assert.Equal(t, "c-prox", res.Entities.CampaignID)
	assert.Equal(t, enums.AttributionStrategyTimeProximity, res.Meta.Strategy)
	assert.Equal(t, 0.72, res.Meta.Confidence)
}

func TestResolveUnresolvedKeepsRejectedCandidate(t *testing.T) {
	finder := &fakeFinder{}
	scorer := &fakeScorer{candidate: candidateWith(0.1, enums.SignalFBP)}
	resolver := newTestResolver(t, finder, scorer)

	res := resolver.Resolve(context.Background(), Request{
		StoreID:    uuid.New(),
		EventID:    "order_1",
		OccurredAt: refTime,
		Extraction: signals.Extraction{Signals: signals.Signals{FBP: "fbp"}},
	})

	assert.False(t, res.Mapped())
	assert.Equal(t, enums.AttributionMethodNone, res.Meta.Method)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, 0.1, res.Candidate.Confidence)
}

func TestResolveSignalLookupFailureDegrades(t *testing.T) {
	finder := &fakeFinder{signalErr: errors.New("db down")}
	resolver := newTestResolver(t, finder, nil)

	res := resolver.Resolve(context.Background(), Request{
		StoreID:    uuid.New(),
		EventID:    "order_1",
		OccurredAt: refTime,
		Extraction: signals.Extraction{Signals: signals.Signals{ClickID: "click"}},
	})

	assert.False(t, res.Mapped())
	assert.Equal(t, 1, finder.windowCalls)
}

func TestResolveIgnoresOwnStoredRow(t *testing.T) {
	finder := &fakeFinder{
		signalRows: []models.TrackingEvent{
			mappedRow("order_1", refTime, withSignals("click", "", "", "")),
		},
	}
	resolver := newTestResolver(t, finder, nil)

	res := resolver.Resolve(context.Background(), Request{
		StoreID:    uuid.New(),
		EventID:    "order_1",
		OccurredAt: refTime,
		Extraction: signals.Extraction{Signals: signals.Signals{ClickID: "click"}},
	})

	assert.False(t, res.Mapped())
}

func TestLookupClampsWindow(t *testing.T) {
	finder := &fakeFinder{
		windowRows: []models.TrackingEvent{mappedRow("order_2", refTime.Add(30*time.Second))},
	}
	resolver := newTestResolver(t, finder, nil)

	candidate, accepted, err := resolver.Lookup(context.Background(), uuid.New(), refTime, 500, "")

	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.True(t, accepted)
	assert.Equal(t, refTime.Add(-60*time.Minute), finder.lastWindowArg[0])
}

func TestProximityExcludedRowDoesNotConsumeCandidateSlot(t *testing.T) {
	// Newest first, the way the store returns window rows.
	rows := []models.TrackingEvent{mappedRow("order_self", refTime.Add(11*time.Minute), withEntities("c-self", "s-self", "a-self"))}
	for i := 0; i < ProximityCandidateLimit-1; i++ {
		rows = append(rows, mappedRow(fmt.Sprintf("order_far_%d", i), refTime.Add(time.Duration(10-i)*time.Minute), withEntities("c-far", "s-far", "a-far")))
	}
	rows = append(rows, mappedRow("order_near", refTime.Add(-30*time.Second), withEntities("c-near", "s-near", "a-near")))
	finder := &fakeFinder{windowRows: rows}
	resolver := newTestResolver(t, finder, nil)

	candidate, _, err := resolver.Lookup(context.Background(), uuid.New(), refTime, 60, "order_self")
	require.NoError(t, err)
	assert.Equal(t, ProximityCandidateLimit+1, finder.lastLimit)
	require.NotNil(t, candidate)
	assert.Equal(t, "order_near", candidate.MatchedEventID)
	assert.Equal(t, "c-near", candidate.Entities.CampaignID)

	_, _, err = resolver.Lookup(context.Background(), uuid.New(), refTime, 60, "")
	require.NoError(t, err)
	assert.Equal(t, ProximityCandidateLimit, finder.lastLimit)
}
