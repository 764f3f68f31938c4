package attribution

import (
	"time"

	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

// Candidate is a proposed mapping produced by one of the fallback matchers.
// It is never persisted directly.
type Candidate struct {
	Entities       signals.EntityIDs
	Confidence     float64
	Score          float64
	MatchedSignals []enums.SignalType
	MatchedAt      time.Time
	MatchedEventID string
	Source         enums.EventSource
	AgeHours       *float64
	Strategy       enums.AttributionStrategy
}

// HasSignal reports whether signal contributed to the match.
func (c *Candidate) HasSignal(signal enums.SignalType) bool {
	if c == nil {
		return false
	}
	for _, matched := range c.MatchedSignals {
		if matched == signal {
			return true
		}
	}
	return false
}

// Meta converts the candidate into the persisted attribution metadata.
func (c *Candidate) Meta() signals.AttributionMeta {
	if c == nil {
		return signals.AttributionMeta{Method: enums.AttributionMethodNone}
	}
	return signals.AttributionMeta{
		Method:         enums.AttributionMethodModeled,
		Strategy:       c.Strategy,
		Confidence:     c.Confidence,
		Score:          c.Score,
		MatchedSignals: c.MatchedSignals,
		MatchedEventID: c.MatchedEventID,
	}
}

func entitiesOf(row models.TrackingEvent) signals.EntityIDs {
	campaignID, adSetID, adID := row.EntityIDs()
	return signals.EntityIDs{CampaignID: campaignID, AdSetID: adSetID, AdID: adID}
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
