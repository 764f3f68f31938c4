package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/attribution-backend/internal/export"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

type ExportJobParams struct {
	Logger   *logger.Logger
	Exporter attributionExporter
}

type attributionExporter interface {
	Run(ctx context.Context) (export.Result, error)
}

// NewExportJob builds the job that streams attribution facts to BigQuery.
func NewExportJob(params ExportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Exporter == nil {
		return nil, fmt.Errorf("exporter required")
	}
	return &exportJob{logg: params.Logger, exporter: params.Exporter}, nil
}

type exportJob struct {
	logg     *logger.Logger
	exporter attributionExporter
}

func (j *exportJob) Name() string { return "attribution-export" }

func (j *exportJob) Run(ctx context.Context) error {
	result, err := j.exporter.Run(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"from":     result.From,
		"to":       result.To,
		"loaded":   result.Loaded,
		"exported": result.Exported,
	})
	if err != nil {
		return fmt.Errorf("export attribution facts: %w", err)
	}
	j.logg.Info(logCtx, "attribution export complete")
	return nil
}
