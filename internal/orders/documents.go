package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fencecraft/crmbridge/internal/comarch"
	"github.com/fencecraft/crmbridge/internal/money"
	"github.com/fencecraft/crmbridge/internal/platform/httpx"
	"github.com/fencecraft/crmbridge/internal/sqlsvc"
)

// QuoteAttribute is the ERP document attribute linking a document to its quote.
const QuoteAttribute = "BITRIX_QUOTE_ID"

// InvoiceRequest issues an ERP document from a quote.
type InvoiceRequest struct {
	DocumentType   string `json:"documentType" validate:"required,oneof=FS WZ"`
	Warehouse      string `json:"warehouse"`
	Description    string `json:"description" validate:"max=500"`
	IdempotencyKey string `json:"-"`
}

// InvoiceResult identifies the issued document.
type InvoiceResult struct {
	DocumentID int64  `json:"documentId"`
	Number     string `json:"number"`
	Type       string `json:"type"`
	Exported   bool   `json:"exported"`
}

// Invoice builds an ERP document from the quote's items, tags it with the
// quote id, queues it for export and stores its number on the quote.
func (s *Service) Invoice(ctx context.Context, quoteID int64, req InvoiceRequest) (*InvoiceResult, error) {
	if err := httpx.Validate(req); err != nil {
		return nil, err
	}
	if s.erp == nil {
		return nil, fmt.Errorf("orders: erp: %w", httpx.ErrUnavailable)
	}
	key := req.IdempotencyKey
	if key == "" {
		key = strconv.FormatInt(quoteID, 10) + ":" + req.DocumentType
	}
	scope := "invoice"
	if s.idem != nil {
		if err := s.idem.Claim(ctx, scope, key); err != nil {
			return nil, err
		}
	}
	release := func() {
		if s.idem == nil {
			return
		}
		if err := s.idem.Release(ctx, scope, key); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}

	snap, err := s.load(ctx, quoteID)
	if err != nil {
		release()
		return nil, err
	}
	if len(snap.items) == 0 {
		release()
		return nil, httpx.NewValidationError(map[string]string{"items": "required"})
	}
	nip, err := s.companyNIP(ctx, snap)
	if err != nil {
		release()
		return nil, err
	}
	customer, err := s.erp.CustomerByNIP(ctx, nip)
	if err != nil {
		release()
		s.logger.Error("comarch customer lookup failed", slog.String("nip", nip), slog.Any("error", err))
		return nil, fmt.Errorf("orders: comarch customers: %w", err)
	}

	warehouse := req.Warehouse
	if warehouse == "" {
		warehouse = s.warehouse
	}
	doc := BuildDocument(snap.items, req.DocumentType, customer.Code, warehouse, s.now())
	doc.Description = strings.TrimSpace(req.Description)
	if doc.Description == "" {
		doc.Description = fmt.Sprintf("Oferta %d %s", quoteID, snap.quote.String("TITLE"))
	}
	created, err := s.erp.CreateDocument(ctx, doc)
	if err != nil {
		release()
		s.logger.Error("comarch document create failed", slog.Int64("quote_id", quoteID), slog.Any("error", err))
		return nil, fmt.Errorf("orders: comarch documents: %w", err)
	}

	// The document exists from here on, so the key stays claimed.
	logger := s.logger.With(slog.Int64("quote_id", quoteID), slog.String("document", created.Number))
	result := &InvoiceResult{DocumentID: created.ID, Number: created.Number, Type: req.DocumentType}
	var errs []error
	if err := s.erp.SetDocumentAttribute(ctx, comarch.DocumentAttribute{
		DocumentID: created.ID,
		Code:       QuoteAttribute,
		Value:      strconv.FormatInt(quoteID, 10),
	}); err != nil {
		errs = append(errs, fmt.Errorf("documents attribute: %w", err))
	}
	if err := s.erp.ExportDocument(ctx, created.ID); err != nil {
		errs = append(errs, fmt.Errorf("documents export: %w", err))
	} else {
		result.Exported = true
	}
	if s.fields.Document != "" {
		if err := s.crm.UpdateQuote(ctx, quoteID, map[string]any{s.fields.Document: created.Number}); err != nil {
			errs = append(errs, fmt.Errorf("crm.quote.update: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("document issued with follow-up failures", slog.Any("error", err))
		return result, fmt.Errorf("orders: document %s issued: %w", created.Number, err)
	}
	logger.Info("document issued", slog.String("type", req.DocumentType))
	return result, nil
}

// BuildDocument maps order items onto an ERP document. Item codes default to
// the row name when an item carries no ERP code.
func BuildDocument(items []OrderItem, docType, customerCode, warehouse string, issued time.Time) comarch.Document {
	doc := comarch.Document{
		Type:         docType,
		CustomerCode: customerCode,
		Warehouse:    warehouse,
		IssueDate:    issued,
		Items:        make([]comarch.DocumentItem, 0, len(items)),
	}
	for _, item := range items {
		code := item.ItemCode
		if code == "" {
			code = item.Name
		}
		wh := item.WarehouseCode
		if wh != "" && doc.Warehouse == "" {
			doc.Warehouse = wh
		}
		doc.Items = append(doc.Items, comarch.DocumentItem{
			ItemCode:     code,
			Name:         item.Name,
			Quantity:     item.Quantity,
			Unit:         item.Unit,
			NetPrice:     item.Price,
			VATRate:      item.tax(),
			DiscountRate: item.discount(),
		})
	}
	return doc
}

// CreditView is the customer's credit standing against the order.
type CreditView struct {
	sqlsvc.CreditBalance
	Available  float64 `json:"available"`
	OrderTotal float64 `json:"orderTotal"`
	Exceeded   bool    `json:"exceeded"`
}

// CustomerCredit reports the quote company's credit balance.
func (s *Service) CustomerCredit(ctx context.Context, quoteID int64) (*CreditView, error) {
	if s.credit == nil {
		return nil, fmt.Errorf("orders: credit service: %w", httpx.ErrUnavailable)
	}
	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	nip, err := s.companyNIP(ctx, snap)
	if err != nil {
		return nil, err
	}
	balance, err := s.credit.CreditBalance(ctx, nip)
	if err != nil {
		return nil, err
	}
	total := ComputeTotals(snap.items).Gross
	return &CreditView{
		CreditBalance: *balance,
		Available:     money.Round2(balance.Available()),
		OrderTotal:    total,
		Exceeded:      balance.Blocked || total > balance.Available(),
	}, nil
}

func (s *Service) companyNIP(ctx context.Context, snap *snapshot) (string, error) {
	companyID := snap.quote.Int("COMPANY_ID")
	if companyID == 0 {
		return "", httpx.NewValidationError(map[string]string{"companyId": "required"})
	}
	company, err := s.crm.GetCompany(ctx, companyID)
	if err != nil {
		return "", fmt.Errorf("orders: crm.company.get: %w", err)
	}
	nip := normaliseNIP(company.String(s.fields.CompanyNIP))
	if nip == "" {
		return "", httpx.NewValidationError(map[string]string{"nip": "required"})
	}
	return nip, nil
}

func normaliseNIP(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
