package stores

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/pkg/db/models"
)

// StoreDTO exposes safe store data in API responses. Secrets and tokens are
// never serialized.
type StoreDTO struct {
	ID                uuid.UUID `json:"id"`
	ShopDomain        string    `json:"shop_domain"`
	ForwardingEnabled bool      `json:"forwarding_enabled"`
	ForwardingReady   bool      `json:"forwarding_ready"`
	Timezone          string    `json:"timezone"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// FromModel maps the persisted store into a DTO.
func FromModel(m *models.Store) *StoreDTO {
	if m == nil {
		return nil
	}
	return &StoreDTO{
		ID:                m.ID,
		ShopDomain:        m.ShopDomain,
		ForwardingEnabled: m.ForwardingEnabled,
		ForwardingReady:   m.CanForward(),
		Timezone:          m.Timezone,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
