package models

import (
	"time"

	"github.com/google/uuid"
)

// Store is a connected commerce shop. Rows are written by the connection
// management service; the attribution engine only reads them.
type Store struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShopDomain        string    `gorm:"column:shop_domain;not null;uniqueIndex:ux_stores_shop_domain"`
	WebhookSecret     string    `gorm:"column:webhook_secret;not null"`
	ForwardingEnabled bool      `gorm:"column:forwarding_enabled;not null;default:false"`
	PixelID           *string   `gorm:"column:pixel_id"`
	AdsAccessToken    *string   `gorm:"column:ads_access_token"`
	Timezone          string    `gorm:"column:timezone;not null;default:'UTC'"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Store) TableName() string { return "stores" }

// CanForward reports whether conversions for the store may be sent to the ads platform.
func (s Store) CanForward() bool {
	return s.ForwardingEnabled && s.PixelID != nil && *s.PixelID != "" && s.AdsAccessToken != nil && *s.AdsAccessToken != ""
}
