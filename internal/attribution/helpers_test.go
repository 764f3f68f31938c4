package attribution

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

var refTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(value string) *string {
	return &value
}

type rowOption func(*models.TrackingEvent)

func withSignals(clickID, fbc, fbp, emailHash string) rowOption {
	return func(row *models.TrackingEvent) {
		if clickID != "" {
			row.ClickID = strPtr(clickID)
		}
		if fbc != "" {
			row.FBC = strPtr(fbc)
		}
		if fbp != "" {
			row.FBP = strPtr(fbp)
		}
		if emailHash != "" {
			row.EmailHash = strPtr(emailHash)
		}
	}
}

func withSource(source enums.EventSource) rowOption {
	return func(row *models.TrackingEvent) {
		row.Source = source
	}
}

func withEntities(campaignID, adSetID, adID string) rowOption {
	return func(row *models.TrackingEvent) {
		row.CampaignID, row.AdSetID, row.AdID = nil, nil, nil
		if campaignID != "" {
			row.CampaignID = strPtr(campaignID)
		}
		if adSetID != "" {
			row.AdSetID = strPtr(adSetID)
		}
		if adID != "" {
			row.AdID = strPtr(adID)
		}
	}
}

func mappedRow(eventID string, occurredAt time.Time, opts ...rowOption) models.TrackingEvent {
	row := models.TrackingEvent{
		ID:         uuid.New(),
		EventID:    eventID,
		EventName:  enums.EventNamePurchase,
		Source:     enums.EventSourceBrowser,
		OccurredAt: occurredAt,
		CampaignID: strPtr("c-1"),
		AdSetID:    strPtr("s-1"),
		AdID:       strPtr("a-1"),
	}
	for _, opt := range opts {
		opt(&row)
	}
	return row
}
