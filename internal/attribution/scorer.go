package attribution

import (
	"time"

	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

var signalWeights = map[enums.SignalType]float64{
	enums.SignalClickID:   72,
	enums.SignalFBC:       58,
	enums.SignalFBP:       24,
	enums.SignalEmailHash: 12,
}

const (
	comboBonus         = 18
	breadthBonus       = 6
	shopifyDampening   = 0.72
	confidenceDivisor  = 120
	minConfidence      = 0.05
	maxConfidence      = 0.98
	weakEmailMaxHours  = 120
	weakEmailPenalty   = 0.35
	weakFBPMaxHours    = 48
	weakFBPPenalty     = 0.6
	defaultSignalLimit = 250
)

// recencyTiers map candidate age (hours, inclusive upper bound) to a score multiplier.
var recencyTiers = []struct {
	maxHours   float64
	multiplier float64
}{
	{1, 1.0},
	{6, 0.97},
	{24, 0.90},
	{72, 0.75},
	{168, 0.55},
}

const staleMultiplier = 0.35

// SignalScorer ranks stored rows sharing identity signals with the current event.
type SignalScorer interface {
	Best(current signals.Signals, rows []models.TrackingEvent, before *time.Time) *Candidate
}

// Scorer is the additive signal-overlap scorer. It is pure: the same inputs
// always produce the same candidate.
type Scorer struct{}

// Best scores every row and returns the highest-scoring candidate, or nil when
// no row shares a signal and carries entity ids. Ties go to the later match.
func (Scorer) Best(current signals.Signals, rows []models.TrackingEvent, before *time.Time) *Candidate {
	var best *Candidate
	for _, row := range rows {
		candidate := scoreRow(current, row, before)
		if candidate == nil {
			continue
		}
		if best == nil ||
			candidate.Score > best.Score ||
			(candidate.Score == best.Score && candidate.MatchedAt.After(best.MatchedAt)) {
			best = candidate
		}
	}
	return best
}

func scoreRow(current signals.Signals, row models.TrackingEvent, before *time.Time) *Candidate {
	if !row.IsMapped() {
		return nil
	}

	matched := []enums.SignalType{}
	for _, signal := range enums.MatchSignals {
		value := current.Get(signal)
		if value != "" && value == row.Signal(signal) {
			matched = append(matched, signal)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	score := 0.0
	for _, signal := range matched {
		score += signalWeights[signal]
	}
	if contains(matched, enums.SignalClickID) && contains(matched, enums.SignalFBC) {
		score += comboBonus
	}
	if len(matched) >= 2 {
		score += breadthBonus * float64(len(matched)-1)
	}

	var age *float64
	if before != nil {
		hours := before.Sub(row.OccurredAt).Hours()
		if hours < 0 {
			hours = 0
		}
		age = &hours
		score *= recencyMultiplier(hours)

		if len(matched) == 1 {
			switch matched[0] {
			case enums.SignalEmailHash:
				if hours > weakEmailMaxHours {
					score *= weakEmailPenalty
				}
			case enums.SignalFBP:
				if hours > weakFBPMaxHours {
					score *= weakFBPPenalty
				}
			}
		}
	}

	if row.Source == enums.EventSourceShopify {
		score *= shopifyDampening
	}

	return &Candidate{
		Entities:       entitiesOf(row),
		Confidence:     clamp(score/confidenceDivisor, minConfidence, maxConfidence),
		Score:          score,
		MatchedSignals: matched,
		MatchedAt:      row.OccurredAt.UTC(),
		MatchedEventID: row.EventID,
		Source:         row.Source,
		AgeHours:       age,
		Strategy:       enums.AttributionStrategySignalMatch,
	}
}

func recencyMultiplier(hours float64) float64 {
	for _, tier := range recencyTiers {
		if hours <= tier.maxHours {
			return tier.multiplier
		}
	}
	return staleMultiplier
}

func contains(list []enums.SignalType, target enums.SignalType) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
