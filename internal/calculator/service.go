package calculator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// EstimatePublisher hands the calculated total over for writing onto a deal.
// Implementations must not block on the CRM write.
type EstimatePublisher interface {
	PublishDealEstimate(ctx context.Context, dealID int64, total float64) error
}

// Service wraps the engine with the deal write-back.
type Service struct {
	engine    *Engine
	publisher EstimatePublisher
	logger    *slog.Logger
}

// NewService constructs the calculator service. publisher may be nil, in which
// case estimates are only calculated.
func NewService(engine *Engine, publisher EstimatePublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, publisher: publisher, logger: logger}
}

// Quote prices the input without side effects.
func (s *Service) Quote(in Input) (Result, error) {
	if err := httpx.Validate(in); err != nil {
		return Result{}, err
	}
	return s.engine.Calculate(in), nil
}

// Estimate prices the input and schedules the write of the total onto the deal.
// A failed hand-over is logged; the calculation result is returned regardless.
func (s *Service) Estimate(ctx context.Context, dealID int64, in Input) (Result, bool, error) {
	if dealID <= 0 {
		return Result{}, false, fmt.Errorf("%w: deal id required", httpx.ErrValidation)
	}
	res, err := s.Quote(in)
	if err != nil {
		return Result{}, false, err
	}
	if s.publisher == nil {
		return res, false, nil
	}
	if err := s.publisher.PublishDealEstimate(ctx, dealID, res.Total); err != nil {
		s.logger.Warn("publish deal estimate", slog.Int64("deal_id", dealID), slog.Any("error", err))
		return res, false, nil
	}
	return res, true, nil
}

// Table exposes the active price table.
func (s *Service) Table() PriceTable {
	return s.engine.Table()
}
