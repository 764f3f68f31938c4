package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/attribution-backend/internal/repo"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
)

// Repository handles store persistence.
type Repository struct {
	repo.Base
}

// NewRepository binds a GORM DB to store operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create persists a new store row.
func (r *Repository) Create(ctx context.Context, store *models.Store) error {
	if store == nil {
		return fmt.Errorf("store is required")
	}
	if store.ID == uuid.Nil {
		store.ID = uuid.New()
	}
	store.ShopDomain = NormalizeShopDomain(store.ShopDomain)
	return r.DB(ctx).Create(store).Error
}

// FindByID loads a store by its UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	var store models.Store
	if err := r.DB(ctx).Where("id = ?", id).First(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// FindByShopDomain loads a store by its shop domain, ignoring case.
func (r *Repository) FindByShopDomain(ctx context.Context, domain string) (*models.Store, error) {
	var store models.Store
	if err := r.DB(ctx).
		Where("lower(shop_domain) = ?", NormalizeShopDomain(domain)).
		First(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// NormalizeShopDomain trims and lower-cases a shop domain header value.
func NormalizeShopDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
