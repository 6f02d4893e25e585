package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fencecraft/crmbridge/internal/jobs"
)

// CatalogRefreshInterval is the cron spec of the catalog cache refresh.
const CatalogRefreshInterval = "*/30 * * * *"

// Refresher invalidates cached data.
type Refresher interface {
	Refresh(ctx context.Context) (int64, error)
}

// CatalogRefreshJob bumps the catalog cache version so the next picker
// request reloads items and dictionaries from the ERP.
type CatalogRefreshJob struct {
	Catalog Refresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCatalogRefreshJob wires dependencies for the refresh handler.
func NewCatalogRefreshJob(catalog Refresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogRefreshJob {
	return &CatalogRefreshJob{Catalog: catalog, Logger: logger, Metrics: metrics}
}

// Handle processes TaskCatalogRefresh tasks.
func (j *CatalogRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("catalog refresh: handler not configured")
	}
	var payload CatalogRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := metrics.Track(TaskCatalogRefresh)
	version, err := j.Catalog.Refresh(ctx)
	if err != nil {
		logger.Error("catalog refresh", slog.String("reason", payload.Reason), slog.Any("error", err))
	} else {
		logger.Info("catalog cache refreshed", slog.String("reason", payload.Reason), slog.Int64("version", version))
	}
	return tracker.End(err)
}
