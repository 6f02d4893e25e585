package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/fencecraft/crmbridge/internal/bitrix"
	jobmetrics "github.com/fencecraft/crmbridge/internal/jobs"
	"github.com/fencecraft/crmbridge/internal/money"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DealUpdater writes deal fields.
type DealUpdater interface {
	UpdateDeal(ctx context.Context, id int64, fields map[string]any) error
}

// DealEstimateJob stores calculator totals on deals.
type DealEstimateJob struct {
	CRM     DealUpdater
	Field   string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDealEstimateJob wires dependencies for the estimate handler. field is the
// deal field receiving the total; OPPORTUNITY when empty.
func NewDealEstimateJob(crm DealUpdater, field string, logger *slog.Logger, metrics *jobmetrics.Metrics) *DealEstimateJob {
	if field == "" {
		field = "OPPORTUNITY"
	}
	return &DealEstimateJob{CRM: crm, Field: field, Logger: logger, Metrics: metrics}
}

// Handle processes TaskDealEstimate tasks.
func (j *DealEstimateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.CRM == nil {
		return errors.New("deal estimate: handler not configured")
	}
	var payload DealEstimatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DealID <= 0 {
		return fmt.Errorf("deal estimate: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskDealEstimate)
	logger := j.logger().With(slog.Int64("deal_id", payload.DealID))
	total := money.Round2(payload.Total)
	err := j.CRM.UpdateDeal(ctx, payload.DealID, map[string]any{j.Field: total})
	switch {
	case err == nil:
		logger.Info("deal estimate stored", slog.Float64("total", total))
	case bitrix.IsNotFound(err):
		logger.Warn("deal gone, dropping estimate", slog.Any("error", err))
		err = fmt.Errorf("deal estimate: %w: %w", err, asynq.SkipRetry)
	default:
		logger.Error("store deal estimate", slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *DealEstimateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *DealEstimateJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
