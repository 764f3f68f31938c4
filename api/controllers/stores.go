package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/api/responses"
	"github.com/angelmondragon/attribution-backend/internal/stores"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

// StoreDescriber returns the public view of a store.
type StoreDescriber interface {
	Describe(ctx context.Context, id uuid.UUID) (*stores.StoreDTO, error)
}

// StoreProfile returns the store behind the dashboard token, including
// whether conversions can be forwarded for it.
func StoreProfile(svc StoreDescriber, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "store service unavailable"))
			return
		}

		storeID, ok := requireStore(w, r, logg)
		if !ok {
			return
		}

		profile, err := svc.Describe(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, profile)
	}
}
