package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/attribution-backend/api/middleware"
	"github.com/angelmondragon/attribution-backend/api/responses"
	"github.com/angelmondragon/attribution-backend/api/validators"
	"github.com/angelmondragon/attribution-backend/internal/diagnostics"
	"github.com/angelmondragon/attribution-backend/pkg/db/models"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/attribution-backend/pkg/errors"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/pagination"
)

const (
	defaultDiagnosticsWindow = 30 * 24 * time.Hour
	defaultTopLimit          = 10
	maxTopLimit              = 50
	maxProximityMinutes      = 24 * 60
)

// DiagnosticsService is the read-only reporting surface of the dashboard.
type DiagnosticsService interface {
	Coverage(ctx context.Context, storeID uuid.UUID, window diagnostics.Window) (diagnostics.Coverage, error)
	TopEntities(ctx context.Context, store *models.Store, window diagnostics.Window, level enums.EntityLevel, limit int) ([]diagnostics.EntityStat, error)
	Proximity(ctx context.Context, storeID uuid.UUID, at time.Time, windowMinutes int, excludeEventID string) (diagnostics.ProximityResult, error)
	Unmapped(ctx context.Context, storeID uuid.UUID, window diagnostics.Window, params pagination.Params) (*diagnostics.UnmappedPage, error)
}

// StoreByID loads the store behind a dashboard token.
type StoreByID interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
}

type windowDTO struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type coverageResponse struct {
	Window windowDTO `json:"window"`
	diagnostics.Coverage
}

type topEntitiesResponse struct {
	Window   windowDTO                `json:"window"`
	Level    enums.EntityLevel        `json:"level"`
	Entities []diagnostics.EntityStat `json:"entities"`
}

type unmappedResponse struct {
	Window windowDTO `json:"window"`
	*diagnostics.UnmappedPage
}

// AttributionCoverage reports how many purchases in the window carry entity ids.
func AttributionCoverage(svc DiagnosticsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "diagnostics service unavailable"))
			return
		}
		storeID, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		window, err := parseWindow(r, time.Now())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		coverage, err := svc.Coverage(ctx, storeID, window)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, coverageResponse{Window: toWindowDTO(window), Coverage: coverage})
	}
}

// AttributionTopEntities ranks campaigns, ad sets or ads by mapped purchases.
func AttributionTopEntities(svc DiagnosticsService, stores StoreByID, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || stores == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "diagnostics service unavailable"))
			return
		}
		storeID, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		window, err := parseWindow(r, time.Now())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		level := enums.EntityLevelCampaign
		if raw := strings.TrimSpace(r.URL.Query().Get("level")); raw != "" {
			parsed, err := enums.ParseEntityLevel(strings.ToLower(raw))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "level must be campaign, adset or ad"))
				return
			}
			level = parsed
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultTopLimit, 1, maxTopLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		store, err := stores.GetByID(ctx, storeID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		stats, err := svc.TopEntities(ctx, store, window, level, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if stats == nil {
			stats = []diagnostics.EntityStat{}
		}
		responses.WriteSuccess(w, topEntitiesResponse{Window: toWindowDTO(window), Level: level, Entities: stats})
	}
}

// AttributionProximity runs the standalone time-proximity lookup around at.
func AttributionProximity(svc DiagnosticsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "diagnostics service unavailable"))
			return
		}
		storeID, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		at, err := validators.ParseQueryTime(r, "at", true)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		minutes, err := validators.ParseQueryInt(r, "window_minutes", 0, 0, maxProximityMinutes)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		exclude := validators.SanitizeString(r.URL.Query().Get("exclude_event_id"), 255)

		result, err := svc.Proximity(ctx, storeID, at, minutes, exclude)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AttributionUnmapped pages through unmapped purchases with their reasons.
func AttributionUnmapped(svc DiagnosticsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "diagnostics service unavailable"))
			return
		}
		storeID, ok := requireStore(w, r, logg)
		if !ok {
			return
		}
		window, err := parseWindow(r, time.Now())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.Unmapped(ctx, storeID, window, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, unmappedResponse{Window: toWindowDTO(window), UnmappedPage: page})
	}
}

func requireStore(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	storeID := middleware.StoreIDFromContext(r.Context())
	if storeID == uuid.Nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing"))
		return uuid.Nil, false
	}
	return storeID, true
}

// parseWindow reads from/to, defaulting to the 30 days ending at now.
func parseWindow(r *http.Request, now time.Time) (diagnostics.Window, error) {
	from, err := validators.ParseQueryTime(r, "from", false)
	if err != nil {
		return diagnostics.Window{}, err
	}
	to, err := validators.ParseQueryTime(r, "to", false)
	if err != nil {
		return diagnostics.Window{}, err
	}
	if to.IsZero() {
		to = now.UTC()
	}
	if from.IsZero() {
		from = to.Add(-defaultDiagnosticsWindow)
	}
	return diagnostics.Window{From: from, To: to}, nil
}

func toWindowDTO(window diagnostics.Window) windowDTO {
	return windowDTO{From: window.From, To: window.To}
}
