package attribution

import (
	"math"
	"sort"
	"time"

	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

const (
	// WebhookProximityWindowMinutes is the window used on the webhook path.
	WebhookProximityWindowMinutes = 120
	// DefaultProximityWindowMinutes is the standalone lookup default.
	DefaultProximityWindowMinutes = 10
	minStandaloneWindowMinutes    = 2
	maxStandaloneWindowMinutes    = 60
	// ProximityCandidateLimit caps rows fetched around the target time.
	ProximityCandidateLimit = 8
	// DefaultAmbiguitySeconds is the near-tie window that rejects a match.
	DefaultAmbiguitySeconds = 120
)

var proximityTiers = []struct {
	maxSeconds int64
	confidence float64
}{
	{60, 0.76},
	{180, 0.72},
	{300, 0.67},
	{600, 0.60},
	{900, 0.53},
}

const distantConfidence = 0.42

// ClampWindowMinutes normalizes a caller supplied window for standalone lookups.
func ClampWindowMinutes(minutes int) int {
	if minutes <= 0 {
		return DefaultProximityWindowMinutes
	}
	if minutes < minStandaloneWindowMinutes {
		return minStandaloneWindowMinutes
	}
	if minutes > maxStandaloneWindowMinutes {
		return maxStandaloneWindowMinutes
	}
	return minutes
}

// Proximity matches an event to the mapped purchase closest in time.
type Proximity struct {
	AmbiguitySeconds int64
}

// NewProximity builds a matcher; non-positive ambiguity uses the default.
func NewProximity(ambiguitySeconds int) Proximity {
	if ambiguitySeconds <= 0 {
		ambiguitySeconds = DefaultAmbiguitySeconds
	}
	return Proximity{AmbiguitySeconds: int64(ambiguitySeconds)}
}

type timedRow struct {
	row   models.TrackingEvent
	delta int64
}

// Best returns the closest mapped row to target, skipping excludeEventID. It
// returns nil when nothing qualifies or when a row with a different entity
// triple sits within the ambiguity window of the best one.
func (p Proximity) Best(target time.Time, rows []models.TrackingEvent, excludeEventID string) *Candidate {
	timed := make([]timedRow, 0, len(rows))
	for _, row := range rows {
		if !row.IsMapped() || (excludeEventID != "" && row.EventID == excludeEventID) {
			continue
		}
		delta := int64(math.Abs(target.Sub(row.OccurredAt).Seconds()))
		timed = append(timed, timedRow{row: row, delta: delta})
	}
	if len(timed) == 0 {
		return nil
	}

	sort.SliceStable(timed, func(i, j int) bool {
		if timed[i].delta != timed[j].delta {
			return timed[i].delta < timed[j].delta
		}
		return timed[i].row.OccurredAt.After(timed[j].row.OccurredAt)
	})

	best := timed[0]
	bestEntities := entitiesOf(best.row)
	for _, other := range timed[1:] {
		if entitiesOf(other.row).Key() == bestEntities.Key() {
			continue
		}
		if other.delta-best.delta <= p.AmbiguitySeconds {
			return nil
		}
		break
	}

	confidence := proximityConfidence(best.delta)
	hours := float64(best.delta) / 3600
	return &Candidate{
		Entities:       bestEntities,
		Confidence:     confidence,
		Score:          math.Round(confidence * 100),
		MatchedAt:      best.row.OccurredAt.UTC(),
		MatchedEventID: best.row.EventID,
		Source:         best.row.Source,
		AgeHours:       &hours,
		Strategy:       enums.AttributionStrategyTimeProximity,
	}
}

func proximityConfidence(deltaSeconds int64) float64 {
	for _, tier := range proximityTiers {
		if deltaSeconds <= tier.maxSeconds {
			return tier.confidence
		}
	}
	return distantConfidence
}
