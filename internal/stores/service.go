package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
)

type storeRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
	FindByShopDomain(ctx context.Context, domain string) (*models.Store, error)
}

// Service exposes store lookups.
type Service interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
	GetByShopDomain(ctx context.Context, domain string) (*models.Store, error)
	Describe(ctx context.Context, id uuid.UUID) (*StoreDTO, error)
}

type service struct {
	repo storeRepository
}

// NewService builds a store service with the provided repository.
func NewService(repo storeRepository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	store, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return store, nil
}

func (s *service) GetByShopDomain(ctx context.Context, domain string) (*models.Store, error) {
	domain = NormalizeShopDomain(domain)
	if domain == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop domain is required")
	}
	store, err := s.repo.FindByShopDomain(ctx, domain)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return store, nil
}

func (s *service) Describe(ctx context.Context, id uuid.UUID) (*StoreDTO, error) {
	store, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromModel(store), nil
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
}
