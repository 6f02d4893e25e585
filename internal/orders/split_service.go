package orders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fencecraft/crmbridge/internal/bitrix"
)

// SplitError reports a split that failed after the sub-order quote was
// created. Orphaned is set when the compensating delete failed too, leaving
// SubQuoteID behind in the CRM.
type SplitError struct {
	QuoteID    int64
	SubQuoteID int64
	Orphaned   bool
	Err        error
}

func (e *SplitError) Error() string {
	if e.Orphaned {
		return fmt.Sprintf("orders: split quote %d: %v (sub-order quote %d left behind)", e.QuoteID, e.Err, e.SubQuoteID)
	}
	return fmt.Sprintf("orders: split quote %d: %v", e.QuoteID, e.Err)
}

func (e *SplitError) Unwrap() error {
	return e.Err
}

// SplitResult is the outcome of a split.
type SplitResult struct {
	Original   *Order `json:"original"`
	SubQuoteID int64  `json:"subQuoteId"`
}

// Split moves the allocated quantities of a quote's items into a new quote
// cloned from it. When writing rows fails after the clone exists, the clone
// is deleted again.
func (s *Service) Split(ctx context.Context, quoteID int64, allocation map[int64]float64) (*SplitResult, error) {
	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	positional := AllocationByID(snap.items, allocation)
	if err := checkLive(snap.items, keys(allocation)); err != nil {
		return nil, err
	}
	remainder, suborder, err := Split(snap.items, positional)
	if err != nil {
		return nil, err
	}
	keptSrc, movedSrc := splitSources(snap.items, positional)

	clone := snap.quote.Clone()
	if s.fields.Document != "" {
		delete(clone, s.fields.Document)
	}
	subID, err := s.crm.AddQuote(ctx, clone)
	if err != nil {
		s.logger.Error("crm.quote.add failed", slog.Int64("quote_id", quoteID), slog.Any("error", err))
		return nil, fmt.Errorf("orders: crm.quote.add: %w", err)
	}
	logger := s.logger.With(slog.Int64("quote_id", quoteID), slog.Int64("sub_quote_id", subID))

	if err := s.crm.SetQuoteProductRows(ctx, subID, toRows(suborder)); err != nil {
		return nil, s.compensate(ctx, logger, quoteID, subID, fmt.Errorf("crm.quote.productrows.set on sub-order: %w", err))
	}
	if err := s.crm.SetQuoteProductRows(ctx, quoteID, toRows(remainder)); err != nil {
		return nil, s.compensate(ctx, logger, quoteID, subID, fmt.Errorf("crm.quote.productrows.set on original: %w", err))
	}
	logger.Info("quote split", slog.Int("moved_items", len(suborder)), slog.Int("kept_items", len(remainder)))

	// Rows are consistent from here on; side data failures are logged but
	// do not undo the split.
	if err := s.carrySide(ctx, subID, withoutReturns(snap.side), movedSrc); err != nil {
		logger.Error("sub-order side data not saved", slog.Any("error", err))
	}
	if err := s.carrySide(ctx, quoteID, snap.side, keptSrc); err != nil {
		logger.Error("original side data not saved", slog.Any("error", err))
	}
	original, err := s.load(ctx, quoteID)
	if err != nil {
		return &SplitResult{SubQuoteID: subID}, err
	}
	return &SplitResult{Original: s.view(quoteID, original), SubQuoteID: subID}, nil
}

// carrySide re-keys side entries of the source ids onto the rows the quote
// now has, matched by position, and saves them over whatever the quote holds.
func (s *Service) carrySide(ctx context.Context, quoteID int64, side SideData, src []int64) error {
	rows, err := s.crm.GetQuoteProductRows(ctx, quoteID)
	if err != nil {
		return fmt.Errorf("crm.quote.productrows.get: %w", err)
	}
	items := make([]OrderItem, len(rows))
	for i, row := range rows {
		items[i] = ItemFromRow(row)
	}
	current, err := s.side.Load(ctx, quoteID)
	if err != nil {
		return err
	}
	next := Reconcile(items, Rekey(side, src, itemIDs(items)))
	next.Version = current.Version
	return s.side.Save(ctx, quoteID, next)
}

func (s *Service) compensate(ctx context.Context, logger *slog.Logger, quoteID, subID int64, cause error) error {
	logger.Error("split failed, deleting sub-order quote", slog.Any("error", cause))
	splitErr := &SplitError{QuoteID: quoteID, SubQuoteID: subID, Err: cause}
	if err := s.crm.DeleteQuote(ctx, subID); err != nil {
		logger.Error("crm.quote.delete failed, sub-order quote orphaned", slog.Any("error", err))
		splitErr.Orphaned = true
	}
	return splitErr
}

func toRows(items []OrderItem) []bitrix.ProductRow {
	rows := make([]bitrix.ProductRow, len(items))
	for i, item := range items {
		rows[i] = item.Row(i)
	}
	return rows
}

func withoutReturns(side SideData) SideData {
	side.Returns = nil
	return side
}
