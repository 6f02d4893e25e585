package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDealEstimate writes a calculator total onto a deal.
	TaskDealEstimate = "crm:deal.estimate"
	// TaskCatalogRefresh invalidates the cached picker data.
	TaskCatalogRefresh = "catalog:refresh"
)

// DealEstimateMaxRetry bounds CRM write attempts of one estimate.
const DealEstimateMaxRetry = 3

// DealEstimatePayload carries the estimate of one deal.
type DealEstimatePayload struct {
	DealID int64   `json:"deal_id"`
	Total  float64 `json:"total"`
}

// NewDealEstimateTask constructs an Asynq task writing total onto a deal.
func NewDealEstimateTask(dealID int64, total float64) (*asynq.Task, error) {
	if dealID <= 0 {
		return nil, fmt.Errorf("jobs: deal estimate: invalid deal id %d", dealID)
	}
	body, err := json.Marshal(DealEstimatePayload{DealID: dealID, Total: total})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDealEstimate, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(DealEstimateMaxRetry),
		asynq.Timeout(time.Minute),
	), nil
}

// CatalogRefreshPayload carries scheduling metadata.
type CatalogRefreshPayload struct {
	Reason string `json:"reason"`
}

// NewCatalogRefreshTask constructs an Asynq task bumping the catalog cache.
func NewCatalogRefreshTask(reason string) (*asynq.Task, error) {
	body, err := json.Marshal(CatalogRefreshPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogRefresh, body, asynq.Queue(QueueDefault)), nil
}
