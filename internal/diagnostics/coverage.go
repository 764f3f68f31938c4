package diagnostics

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

// Coverage summarizes how many deduplicated purchases in a window carry entity ids.
type Coverage struct {
	TotalPurchases  int                          `json:"total_purchases"`
	MappedPurchases int                          `json:"mapped_purchases"`
	MappedCampaign  int                          `json:"mapped_campaign"`
	MappedAdSet     int                          `json:"mapped_adset"`
	MappedAd        int                          `json:"mapped_ad"`
	Percent         float64                      `json:"percent"`
	Unmapped        map[enums.UnmappedReason]int `json:"unmapped_reasons"`
}

// Dedupe collapses rows describing the same order. Rows are keyed by order id,
// falling back to event id; the most authoritative source wins and ties go to
// the latest occurrence. Output keeps first-seen key order.
func Dedupe(rows []models.TrackingEvent) []models.TrackingEvent {
	index := make(map[string]int, len(rows))
	out := make([]models.TrackingEvent, 0, len(rows))
	for _, row := range rows {
		key := dedupeKey(row)
		pos, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, row)
			continue
		}
		if preferred(row, out[pos]) {
			out[pos] = row
		}
	}
	return out
}

func dedupeKey(row models.TrackingEvent) string {
	if row.OrderID != nil && *row.OrderID != "" {
		return "order:" + *row.OrderID
	}
	return "event:" + row.EventID
}

func preferred(candidate, current models.TrackingEvent) bool {
	if cr, kr := candidate.Source.Rank(), current.Source.Rank(); cr != kr {
		return cr > kr
	}
	return candidate.OccurredAt.After(current.OccurredAt)
}

// ComputeCoverage aggregates already deduplicated purchase rows.
func ComputeCoverage(rows []models.TrackingEvent) Coverage {
	out := Coverage{
		TotalPurchases: len(rows),
		Unmapped:       make(map[enums.UnmappedReason]int, len(enums.UnmappedReasons)),
	}
	for _, reason := range enums.UnmappedReasons {
		out.Unmapped[reason] = 0
	}
	for _, row := range rows {
		campaignID, adSetID, adID := row.EntityIDs()
		if campaignID != "" {
			out.MappedCampaign++
		}
		if adSetID != "" {
			out.MappedAdSet++
		}
		if adID != "" {
			out.MappedAd++
		}
		if row.IsMapped() {
			out.MappedPurchases++
			continue
		}
		out.Unmapped[ClassifyUnmapped(row)]++
	}
	out.Percent = Percent(out.MappedPurchases, out.TotalPurchases)
	return out
}

// Percent returns part/total as a percentage rounded to two decimals, or 0
// when total is zero.
func Percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// ClassifyUnmapped explains why an unmapped purchase carries no entity ids.
// The first matching rule wins.
func ClassifyUnmapped(row models.TrackingEvent) enums.UnmappedReason {
	payload := signals.DecodePayload(row.PayloadJSON)
	hasSignal := row.HasSignal()
	hasUTM := payload.UTM.Present()
	hasFirstTouch := payload.FirstTouch.Present()

	switch {
	case !hasSignal && !hasUTM && !hasFirstTouch:
		return enums.UnmappedReasonNoSignal
	case hasUTM && !hasSignal:
		return enums.UnmappedReasonUTMOnly
	case hasSignal && !hasUTM:
		return enums.UnmappedReasonSignalOnly
	case hasFirstTouch && !hasSignal:
		return enums.UnmappedReasonFirstTouchOnly
	default:
		return enums.UnmappedReasonUnresolvedMapping
	}
}

// EntityStat is one row of the top-entities report.
type EntityStat struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Purchases int             `json:"purchases"`
	Value     decimal.Decimal `json:"value"`
}

// TopEntities buckets mapped purchases by the id at level and returns the
// top n by purchase count, then summed value. Ties fall back to id order.
func TopEntities(rows []models.TrackingEvent, level enums.EntityLevel, n int) []EntityStat {
	buckets := map[string]*EntityStat{}
	for _, row := range rows {
		id := entityID(row, level)
		if id == "" {
			continue
		}
		stat, ok := buckets[id]
		if !ok {
			stat = &EntityStat{ID: id, Name: id, Value: decimal.Zero}
			buckets[id] = stat
		}
		stat.Purchases++
		stat.Value = stat.Value.Add(row.Value)
	}

	out := make([]EntityStat, 0, len(buckets))
	for _, stat := range buckets {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Purchases != out[j].Purchases {
			return out[i].Purchases > out[j].Purchases
		}
		if cmp := out[i].Value.Cmp(out[j].Value); cmp != 0 {
			return cmp > 0
		}
		return out[i].ID < out[j].ID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func entityID(row models.TrackingEvent, level enums.EntityLevel) string {
	campaignID, adSetID, adID := row.EntityIDs()
	switch level {
	case enums.EntityLevelAdSet:
		return adSetID
	case enums.EntityLevelAd:
		return adID
	default:
		return campaignID
	}
}
