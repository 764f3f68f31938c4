package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/api/responses"
	"github.com/angelmondragon/attribution-backend/api/validators"
	"github.com/angelmondragon/attribution-backend/internal/remap"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

const maxRemapLookback = 31 * 24 * time.Hour

// Remapper runs the bulk remapper for one store.
type Remapper interface {
	Run(ctx context.Context, storeID uuid.UUID, lookback time.Duration) (remap.Result, error)
}

// AttributionRemap runs the bulk remapper for the token's store. The optional
// lookback query overrides the configured window.
func AttributionRemap(svc Remapper, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "remap service unavailable"))
			return
		}
		storeID, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		lookback, err := validators.ParseQueryDuration(r, "lookback", 0, maxRemapLookback)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Run(ctx, storeID, lookback)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
