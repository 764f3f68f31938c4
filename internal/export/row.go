package export

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

// Row is one purchase attribution fact in the warehouse table.
type Row struct {
	StoreID     string                `bigquery:"store_id"`
	EventID     string                `bigquery:"event_id"`
	OrderID     cbigquery.NullString  `bigquery:"order_id"`
	Source      string                `bigquery:"source"`
	OccurredAt  time.Time             `bigquery:"occurred_at"`
	Value       float64               `bigquery:"value"`
	Currency    cbigquery.NullString  `bigquery:"currency"`
	CampaignID  cbigquery.NullString  `bigquery:"campaign_id"`
	AdSetID     cbigquery.NullString  `bigquery:"adset_id"`
	AdID        cbigquery.NullString  `bigquery:"ad_id"`
	Mapped      bool                  `bigquery:"mapped"`
	Method      string                `bigquery:"method"`
	Strategy    cbigquery.NullString  `bigquery:"strategy"`
	Confidence  cbigquery.NullFloat64 `bigquery:"confidence"`
	UTMCampaign cbigquery.NullString  `bigquery:"utm_campaign"`
	UTMSource   cbigquery.NullString  `bigquery:"utm_source"`
	Forwarded   bool                  `bigquery:"forwarded"`
	ExportedAt  time.Time             `bigquery:"exported_at"`
	Attribution cbigquery.NullJSON    `bigquery:"attribution"`
}

// Schema is the table schema inferred from Row.
func Schema() (cbigquery.Schema, error) {
	return cbigquery.InferSchema(Row{})
}

// FromEvent flattens a stored purchase into a warehouse row.
func FromEvent(event models.TrackingEvent, exportedAt time.Time) Row {
	payload := signals.DecodePayload(event.PayloadJSON)
	campaignID, adSetID, adID := event.EntityIDs()
	value, _ := event.Value.Float64()

	row := Row{
		StoreID:     event.StoreID.String(),
		EventID:     event.EventID,
		OrderID:     nullString(event.OrderID),
		Source:      string(event.Source),
		OccurredAt:  event.OccurredAt.UTC(),
		Value:       value,
		Currency:    nullString(event.Currency),
		CampaignID:  nullValue(campaignID),
		AdSetID:     nullValue(adSetID),
		AdID:        nullValue(adID),
		Mapped:      event.IsMapped(),
		Method:      string(payload.Attribution.Method),
		Strategy:    nullValue(string(payload.Attribution.Strategy)),
		UTMCampaign: nullValue(payload.UTM.Campaign),
		UTMSource:   nullValue(payload.UTM.Source),
		Forwarded:   event.MetaForwarded,
		ExportedAt:  exportedAt.UTC(),
	}
	if row.Method == "" {
		row.Method = string(enums.AttributionMethodNone)
	}
	if payload.Attribution.Confidence > 0 {
		row.Confidence = cbigquery.NullFloat64{Float64: payload.Attribution.Confidence, Valid: true}
	}
	if len(event.PayloadJSON) > 0 {
		row.Attribution = cbigquery.NullJSON{JSONVal: string(event.PayloadJSON), Valid: true}
	}
	return row
}

func nullString(value *string) cbigquery.NullString {
	if value == nil {
		return cbigquery.NullString{}
	}
	return nullValue(*value)
}

func nullValue(value string) cbigquery.NullString {
	if value == "" {
		return cbigquery.NullString{}
	}
	return cbigquery.NullString{StringVal: value, Valid: true}
}
