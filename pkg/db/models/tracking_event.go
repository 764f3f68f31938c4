package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

// TrackingEvent is one observed purchase or refund, unique per (store, event id).
type TrackingEvent struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StoreID           uuid.UUID         `gorm:"column:store_id;type:uuid;not null;uniqueIndex:ux_tracking_events_store_event"`
	EventID           string            `gorm:"column:event_id;not null;uniqueIndex:ux_tracking_events_store_event"`
	EventName         enums.EventName   `gorm:"column:event_name;not null"`
	Source            enums.EventSource `gorm:"column:source;not null"`
	OccurredAt        time.Time         `gorm:"column:occurred_at;not null"`
	ClickID           *string           `gorm:"column:click_id"`
	FBC               *string           `gorm:"column:fbc"`
	FBP               *string           `gorm:"column:fbp"`
	EmailHash         *string           `gorm:"column:email_hash"`
	PhoneHash         *string           `gorm:"column:phone_hash"`
	IPHash            *string           `gorm:"column:ip_hash"`
	UserAgent         *string           `gorm:"column:user_agent"`
	Value             decimal.Decimal   `gorm:"column:value;type:numeric(14,2);not null;default:0"`
	Currency          *string           `gorm:"column:currency"`
	OrderID           *string           `gorm:"column:order_id"`
	CampaignID        *string           `gorm:"column:campaign_id"`
	AdSetID           *string           `gorm:"column:adset_id"`
	AdID              *string           `gorm:"column:ad_id"`
	MetaForwarded     bool              `gorm:"column:meta_forwarded;not null;default:false"`
	MetaLastAttemptAt *time.Time        `gorm:"column:meta_last_attempt_at"`
	MetaLastError     *string           `gorm:"column:meta_last_error"`
	PayloadJSON       datatypes.JSON    `gorm:"column:payload_json;type:jsonb"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (TrackingEvent) TableName() string { return "tracking_events" }

// IsMapped reports whether any entity id is set.
func (e TrackingEvent) IsMapped() bool {
	return nonEmpty(e.CampaignID) || nonEmpty(e.AdSetID) || nonEmpty(e.AdID)
}

// Signal returns the stored value for a matchable signal, or "" when absent.
func (e TrackingEvent) Signal(signal enums.SignalType) string {
	switch signal {
	case enums.SignalClickID:
		return deref(e.ClickID)
	case enums.SignalFBC:
		return deref(e.FBC)
	case enums.SignalFBP:
		return deref(e.FBP)
	case enums.SignalEmailHash:
		return deref(e.EmailHash)
	default:
		return ""
	}
}

// HasSignal reports whether any matchable signal is present.
func (e TrackingEvent) HasSignal() bool {
	for _, signal := range enums.MatchSignals {
		if e.Signal(signal) != "" {
			return true
		}
	}
	return false
}

// EntityIDs returns the campaign, ad set and ad ids with nil mapped to "".
func (e TrackingEvent) EntityIDs() (campaignID, adSetID, adID string) {
	return deref(e.CampaignID), deref(e.AdSetID), deref(e.AdID)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nonEmpty(value *string) bool {
	return value != nil && *value != ""
}
