package signals

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

// UTM holds the campaign tagging seen on the converting session.
type UTM struct {
	Campaign string `json:"campaign,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Content  string `json:"content,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Present reports whether any UTM value is set.
func (u UTM) Present() bool {
	return u.Campaign != "" || u.Medium != "" || u.Content != "" || u.Source != ""
}

// FirstTouch holds attributes recorded on the customer's first visit.
type FirstTouch struct {
	ClickID     string `json:"click_id,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMSource   string `json:"utm_source,omitempty"`
	Landing     string `json:"landing,omitempty"`
}

// Present reports whether any first-touch attribute is set.
func (f FirstTouch) Present() bool {
	return f.ClickID != "" || f.UTMCampaign != "" || f.UTMSource != "" || f.Landing != ""
}

// AttributionMeta records how the stored entity ids were obtained.
type AttributionMeta struct {
	Method         enums.AttributionMethod   `json:"method"`
	Strategy       enums.AttributionStrategy `json:"strategy,omitempty"`
	Confidence     float64                   `json:"confidence,omitempty"`
	Score          float64                   `json:"score,omitempty"`
	MatchedSignals []enums.SignalType        `json:"matched_signals,omitempty"`
	MatchedEventID string                    `json:"matched_event_id,omitempty"`
}

// Payload is the diagnostic document persisted in payload_json.
type Payload struct {
	Topic       string          `json:"topic,omitempty"`
	UTM         UTM             `json:"utm"`
	FirstTouch  FirstTouch      `json:"first_touch"`
	Attribution AttributionMeta `json:"attribution"`
}

// NewPayload seeds a document from an extraction.
func NewPayload(topic string, extraction Extraction) Payload {
	return Payload{
		Topic:       topic,
		UTM:         extraction.UTM,
		FirstTouch:  extraction.FirstTouch,
		Attribution: AttributionMeta{Method: enums.AttributionMethodNone},
	}
}

// JSON encodes the document for the payload_json column.
func (p Payload) JSON() datatypes.JSON {
	encoded, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return datatypes.JSON(encoded)
}

// DecodePayload reads a stored document. Missing or unreadable JSON yields an
// empty document rather than an error.
func DecodePayload(raw datatypes.JSON) Payload {
	var payload Payload
	if len(raw) == 0 {
		return payload
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}
	}
	return payload
}
