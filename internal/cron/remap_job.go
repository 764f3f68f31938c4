package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/attribution-backend/internal/remap"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

const (
	defaultRemapLookback   = 7 * 24 * time.Hour
	defaultRemapStoreLimit = 200
)

type RemapJobParams struct {
	Logger     *logger.Logger
	Stores     unmappedStoreLister
	Remapper   storeRemapper
	Lookback   time.Duration
	StoreLimit int
}

type unmappedStoreLister interface {
	StoresWithUnmapped(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

type storeRemapper interface {
	Run(ctx context.Context, storeID uuid.UUID, lookback time.Duration) (remap.Result, error)
}

// NewRemapJob builds the job that runs the bulk remapper for every store
// with unmapped purchases inside the lookback window.
func NewRemapJob(params RemapJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Stores == nil {
		return nil, fmt.Errorf("store lister required")
	}
	if params.Remapper == nil {
		return nil, fmt.Errorf("remapper required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultRemapLookback
	}
	limit := params.StoreLimit
	if limit <= 0 {
		limit = defaultRemapStoreLimit
	}
	return &remapJob{
		logg:       params.Logger,
		stores:     params.Stores,
		remapper:   params.Remapper,
		lookback:   lookback,
		storeLimit: limit,
		now:        time.Now,
	}, nil
}

type remapJob struct {
	logg       *logger.Logger
	stores     unmappedStoreLister
	remapper   storeRemapper
	lookback   time.Duration
	storeLimit int
	now        func() time.Time
}

func (j *remapJob) Name() string { return "attribution-remap" }

func (j *remapJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	storeIDs, err := j.stores.StoresWithUnmapped(ctx, since, j.storeLimit)
	if err != nil {
		return fmt.Errorf("list stores with unmapped purchases: %w", err)
	}

	var errs error
	updated, failed := 0, 0
	for _, storeID := range storeIDs {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		result, err := j.remapper.Run(ctx, storeID, j.lookback)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store %s: %w", storeID, err))
			continue
		}
		updated += result.Updated
		failed += result.Failed
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stores":  len(storeIDs),
		"updated": updated,
		"failed":  failed,
	})
	j.logg.Info(logCtx, "remap loop complete")
	return errs
}
