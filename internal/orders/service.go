package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fencecraft/crmbridge/internal/bitrix"
	"github.com/fencecraft/crmbridge/internal/catalog"
	"github.com/fencecraft/crmbridge/internal/comarch"
	"github.com/fencecraft/crmbridge/internal/money"
	"github.com/fencecraft/crmbridge/internal/platform/httpx"
	"github.com/fencecraft/crmbridge/internal/platform/idempotency"
	"github.com/fencecraft/crmbridge/internal/pricing"
	"github.com/fencecraft/crmbridge/internal/sqlsvc"
)

// CRM is the part of the Bitrix24 client the order workflows use.
type CRM interface {
	QuoteStore
	AddQuote(ctx context.Context, fields map[string]any) (int64, error)
	DeleteQuote(ctx context.Context, id int64) error
	GetQuoteProductRows(ctx context.Context, quoteID int64) ([]bitrix.ProductRow, error)
	SetQuoteProductRows(ctx context.Context, quoteID int64, rows []bitrix.ProductRow) error
	GetCompany(ctx context.Context, id int64) (bitrix.Entity, error)
	UploadFile(ctx context.Context, folderID int64, name string, content []byte) (bitrix.DiskFile, error)
	DeleteFile(ctx context.Context, fileID int64) error
}

// Catalog resolves picker items.
type Catalog interface {
	Lookup(ctx context.Context, code string, q catalog.Query) (catalog.Product, error)
}

// ERP issues documents in Comarch.
type ERP interface {
	CustomerByNIP(ctx context.Context, nip string) (*comarch.Customer, error)
	CreateDocument(ctx context.Context, doc comarch.Document) (*comarch.Document, error)
	SetDocumentAttribute(ctx context.Context, attr comarch.DocumentAttribute) error
	ExportDocument(ctx context.Context, documentID int64) error
}

// CreditSource reports customer credit balances.
type CreditSource interface {
	CreditBalance(ctx context.Context, nip string) (*sqlsvc.CreditBalance, error)
}

// Renderer converts HTML to PDF.
type Renderer interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// QuoteFields names quote and company fields the workflows read or write.
type QuoteFields struct {
	// Document receives the ERP document number after invoicing.
	Document string
	// CompanyNIP is the company field holding the tax id.
	CompanyNIP string
}

// Config wires a Service.
type Config struct {
	CRM          CRM
	Side         SideStore
	Catalog      Catalog
	ERP          ERP
	Credit       CreditSource
	Renderer     Renderer
	Idempotency  idempotency.Store
	Fields       QuoteFields
	DiskFolderID int64
	Warehouse    string
	Logger       *slog.Logger
}

// Service implements the order workflows.
type Service struct {
	crm          CRM
	side         SideStore
	catalog      Catalog
	erp          ERP
	credit       CreditSource
	renderer     Renderer
	idem         idempotency.Store
	fields       QuoteFields
	diskFolderID int64
	warehouse    string
	logger       *slog.Logger
	now          func() time.Time
}

// NewService constructs the service.
func NewService(cfg Config) *Service {
	return &Service{
		crm:          cfg.CRM,
		side:         cfg.Side,
		catalog:      cfg.Catalog,
		erp:          cfg.ERP,
		credit:       cfg.Credit,
		renderer:     cfg.Renderer,
		idem:         cfg.Idempotency,
		fields:       cfg.Fields,
		diskFolderID: cfg.DiskFolderID,
		warehouse:    cfg.Warehouse,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

type quoteSideDecoder interface {
	FromQuote(quote bitrix.Entity) SideData
}

// snapshot is a quote with its rows and reconciled side data.
type snapshot struct {
	quote bitrix.Entity
	items []OrderItem
	side  SideData
}

func (s *Service) load(ctx context.Context, quoteID int64) (*snapshot, error) {
	if s.crm == nil {
		return nil, bitrix.ErrUnavailable
	}
	var (
		snap   snapshot
		rows   []bitrix.ProductRow
		stored SideData
	)
	decoder, fromQuote := s.side.(quoteSideDecoder)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		quote, err := s.crm.GetQuote(gctx, quoteID)
		if err != nil {
			return fmt.Errorf("orders: crm.quote.get: %w", err)
		}
		snap.quote = quote
		return nil
	})
	g.Go(func() error {
		var err error
		rows, err = s.crm.GetQuoteProductRows(gctx, quoteID)
		if err != nil {
			return fmt.Errorf("orders: crm.quote.productrows.get: %w", err)
		}
		return nil
	})
	if !fromQuote {
		g.Go(func() error {
			var err error
			stored, err = s.side.Load(gctx, quoteID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if fromQuote {
		stored = decoder.FromQuote(snap.quote)
	}
	snap.items = make([]OrderItem, len(rows))
	for i, row := range rows {
		snap.items[i] = ItemFromRow(row)
	}
	snap.side = Reconcile(snap.items, stored)
	snap.items = MergeItems(snap.items, snap.side.Additional)
	return &snap, nil
}

func (s *Service) view(quoteID int64, snap *snapshot) *Order {
	order := &Order{
		QuoteID:      quoteID,
		Title:        snap.quote.String("TITLE"),
		DealID:       snap.quote.Int("DEAL_ID"),
		CompanyID:    snap.quote.Int("COMPANY_ID"),
		Currency:     snap.quote.String("CURRENCY_ID"),
		Items:        snap.items,
		Packaging:    snap.side.Packaging,
		Verification: snap.side.Verification,
		Returns:      snap.side.Returns,
		Totals:       ComputeTotals(snap.items),
		Version:      snap.side.Version,
	}
	if s.fields.Document != "" {
		order.Document = snap.quote.String(s.fields.Document)
	}
	if order.Currency == "" {
		order.Currency = "PLN"
	}
	if order.Items == nil {
		order.Items = []OrderItem{}
	}
	return order
}

func (s *Service) saveSide(ctx context.Context, quoteID int64, snap *snapshot) error {
	if err := s.side.Save(ctx, quoteID, snap.side); err != nil {
		return err
	}
	snap.side.Version++
	return nil
}

// Load returns the reconciled order of a quote.
func (s *Service) Load(ctx context.Context, quoteID int64) (*Order, error) {
	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	return s.view(quoteID, snap), nil
}

// SaveItems replaces the product rows of a quote. Side entries follow their
// items onto the row ids the CRM assigns during the write.
func (s *Service) SaveItems(ctx context.Context, quoteID int64, items []OrderItem) (*Order, error) {
	if err := httpx.Validate(itemList{Items: items}); err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if err := s.writeRows(ctx, quoteID, snap, items); err != nil {
		return nil, err
	}
	return s.view(quoteID, snap), nil
}

type itemList struct {
	Items []OrderItem `validate:"dive"`
}

// writeRows stores items as the quote's rows, re-reads the assigned ids and
// persists the side data re-keyed onto them.
func (s *Service) writeRows(ctx context.Context, quoteID int64, snap *snapshot, items []OrderItem) error {
	live := map[int64]bool{}
	for _, item := range snap.items {
		live[item.ID] = true
	}
	before := make([]int64, len(items))
	for i, item := range items {
		if live[item.ID] {
			before[i] = item.ID
		}
	}
	rows := make([]bitrix.ProductRow, len(items))
	for i, item := range items {
		rows[i] = item.Row(i)
	}
	if err := s.crm.SetQuoteProductRows(ctx, quoteID, rows); err != nil {
		s.logger.Error("crm.quote.productrows.set failed", slog.Int64("quote_id", quoteID), slog.Any("error", err))
		return fmt.Errorf("orders: crm.quote.productrows.set: %w", err)
	}
	written, err := s.crm.GetQuoteProductRows(ctx, quoteID)
	if err != nil {
		return fmt.Errorf("orders: crm.quote.productrows.get: %w", err)
	}
	after := make([]int64, len(written))
	fresh := make([]OrderItem, len(written))
	for i, row := range written {
		after[i] = int64(row.ID)
		fresh[i] = ItemFromRow(row)
		if i < len(items) {
			fresh[i] = fresh[i].WithAdditional(items[i].Additional())
		}
	}

	side := Rekey(snap.side, before, after)
	side.Additional = map[int64]AdditionalDataItem{}
	for _, item := range fresh {
		side.Additional[item.ID] = item.Additional()
	}
	snap.items = fresh
	snap.side = Reconcile(fresh, side)
	return s.saveSide(ctx, quoteID, snap)
}

// AddItemRequest picks a catalog item onto a quote.
type AddItemRequest struct {
	ItemCode  string  `json:"itemCode" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"gt=0"`
	PriceName string  `json:"priceName"`
	PriceType string  `json:"priceType" validate:"omitempty,oneof=NETTO BRUTTO netto brutto"`
	Discount  float64 `json:"discount" validate:"gte=0,lte=100"`
	Warehouse string  `json:"warehouse"`
}

// AddItem appends a catalog item with a discount bounded by the item's
// margin and the user's cap.
func (s *Service) AddItem(ctx context.Context, quoteID int64, req AddItemRequest) (*Order, error) {
	if err := httpx.Validate(req); err != nil {
		return nil, err
	}
	if s.catalog == nil {
		return nil, fmt.Errorf("orders: catalog: %w", httpx.ErrUnavailable)
	}
	priceName := req.PriceName
	if priceName == "" {
		priceName = catalog.DefaultPriceName
	}
	product, err := s.catalog.Lookup(ctx, req.ItemCode, catalog.Query{
		PriceName: priceName,
		PriceType: pricing.ParsePriceType(req.PriceType),
		Warehouse: req.Warehouse,
	})
	if err != nil {
		return nil, err
	}
	if req.Discount > product.MaxDiscount {
		return nil, httpx.NewValidationError(map[string]string{"discount": "max"})
	}
	price, ok := product.SellPrice(priceName)
	if !ok {
		return nil, httpx.NewValidationError(map[string]string{"priceName": "oneof"})
	}

	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	vat := product.VATRate
	// Product rows are stored net; a gross pick is converted back.
	net := price.Value
	if price.Type == pricing.Brutto {
		net = money.Round2(pricing.ConvertItemPrice(price.Value, vat, pricing.Brutto, pricing.Netto))
	}
	warehouse := req.Warehouse
	if warehouse == "" {
		warehouse = s.warehouse
	}
	item := OrderItem{
		Name:          product.Name,
		Quantity:      req.Quantity,
		Unit:          product.Unit,
		Price:         net,
		TaxRate:       &vat,
		WarehouseCode: warehouse,
		GroupCode:     product.GroupCode,
		ItemCode:      product.Code,
	}
	if req.Discount > 0 {
		discount := req.Discount
		item.DiscountRate = &discount
	}
	items := append(append([]OrderItem{}, snap.items...), item)
	if err := s.writeRows(ctx, quoteID, snap, items); err != nil {
		return nil, err
	}
	return s.view(quoteID, snap), nil
}

// SavePackaging merges submitted packaging entries, marking them saved.
func (s *Service) SavePackaging(ctx context.Context, quoteID int64, entries map[int64]PackagingDataItem) (*Order, error) {
	if err := httpx.Validate(packagingInput{Entries: entries}); err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if err := checkLive(snap.items, keys(entries)); err != nil {
		return nil, err
	}
	for id, entry := range entries {
		entry.Saved = true
		snap.side.Packaging[id] = entry
	}
	if err := s.saveSide(ctx, quoteID, snap); err != nil {
		return nil, err
	}
	return s.view(quoteID, snap), nil
}

type packagingInput struct {
	Entries map[int64]PackagingDataItem `validate:"dive"`
}

// SaveVerification merges submitted verification entries.
func (s *Service) SaveVerification(ctx context.Context, quoteID int64, entries map[int64]VerificationDataItem) (*Order, error) {
	if err := httpx.Validate(verificationInput{Entries: entries}); err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if err := checkLive(snap.items, keys(entries)); err != nil {
		return nil, err
	}
	for id, entry := range entries {
		snap.side.Verification[id] = entry
	}
	if err := s.saveSide(ctx, quoteID, snap); err != nil {
		return nil, err
	}
	return s.view(quoteID, snap), nil
}

type verificationInput struct {
	Entries map[int64]VerificationDataItem `validate:"dive"`
}

func keys[T any](m map[int64]T) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

func checkLive(items []OrderItem, ids []int64) error {
	live := make(map[int64]bool, len(items))
	for _, item := range items {
		live[item.ID] = true
	}
	fields := map[string]string{}
	for _, id := range ids {
		if !live[id] {
			fields[itemKey(id)] = "unknown_item"
		}
	}
	if len(fields) > 0 {
		return httpx.NewValidationError(fields)
	}
	return nil
}

func findItem(items []OrderItem, id int64) (OrderItem, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return OrderItem{}, false
}

// SaveReturn creates or replaces the return entry of an item.
func (s *Service) SaveReturn(ctx context.Context, quoteID, itemID int64, in ReturnInput) (*Order, error) {
	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	item, ok := findItem(snap.items, itemID)
	if !ok {
		return nil, fmt.Errorf("orders: item %d: %w", itemID, httpx.ErrNotFound)
	}
	if err := ValidateReturn(in, item); err != nil {
		return nil, err
	}
	var previous *ReturnDataItem
	if existing, ok := snap.side.Returns[itemID]; ok {
		previous = &existing
	}
	snap.side.Returns[itemID] = ApplyReturn(in, item, previous, s.now())
	if err := s.saveSide(ctx, quoteID, snap); err != nil {
		return nil, err
	}
	return s.view(quoteID, snap), nil
}

// DeleteReturn removes the return entry of an item together with its images.
func (s *Service) DeleteReturn(ctx context.Context, quoteID, itemID int64) (*Order, error) {
	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	entry, ok := snap.side.Returns[itemID]
	if !ok {
		return nil, fmt.Errorf("orders: return %d: %w", itemID, httpx.ErrNotFound)
	}
	for _, img := range entry.Images {
		if err := s.crm.DeleteFile(ctx, img.FileID); err != nil && !errors.Is(err, httpx.ErrNotFound) {
			s.logger.Warn("disk.file.delete failed", slog.Int64("file_id", img.FileID), slog.Any("error", err))
		}
	}
	delete(snap.side.Returns, itemID)
	if err := s.saveSide(ctx, quoteID, snap); err != nil {
		return nil, err
	}
	return s.view(quoteID, snap), nil
}

// UploadReturnImage stores a photo on Bitrix24 Drive and attaches it to a return.
func (s *Service) UploadReturnImage(ctx context.Context, quoteID, itemID int64, name string, content []byte) (*ReturnImage, error) {
	if len(content) == 0 {
		return nil, httpx.NewValidationError(map[string]string{"file": "required"})
	}
	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	entry, ok := snap.side.Returns[itemID]
	if !ok {
		return nil, fmt.Errorf("orders: return %d: %w", itemID, httpx.ErrNotFound)
	}
	file, err := s.crm.UploadFile(ctx, s.diskFolderID, imageName(quoteID, itemID, name), content)
	if err != nil {
		s.logger.Error("disk.folder.uploadfile failed", slog.Int64("quote_id", quoteID), slog.Any("error", err))
		return nil, fmt.Errorf("orders: disk.folder.uploadfile: %w", err)
	}
	img := ReturnImage{FileID: int64(file.ID), Name: file.Name, URL: file.DetailURL}
	entry.Images = append(entry.Images, img)
	snap.side.Returns[itemID] = entry
	if err := s.saveSide(ctx, quoteID, snap); err != nil {
		if delErr := s.crm.DeleteFile(ctx, img.FileID); delErr != nil {
			s.logger.Warn("orphaned return image", slog.Int64("file_id", img.FileID), slog.Any("error", delErr))
		}
		return nil, err
	}
	return &img, nil
}

// DeleteReturnImage removes a photo from a return and from Drive.
func (s *Service) DeleteReturnImage(ctx context.Context, quoteID, itemID, fileID int64) (*Order, error) {
	snap, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	entry, ok := snap.side.Returns[itemID]
	if !ok {
		return nil, fmt.Errorf("orders: return %d: %w", itemID, httpx.ErrNotFound)
	}
	entry, found := RemoveImage(entry, fileID)
	if !found {
		return nil, fmt.Errorf("orders: image %d: %w", fileID, httpx.ErrNotFound)
	}
	snap.side.Returns[itemID] = entry
	if err := s.saveSide(ctx, quoteID, snap); err != nil {
		return nil, err
	}
	// The reference is gone; a file left on Drive is only an orphan.
	if err := s.crm.DeleteFile(ctx, fileID); err != nil && !errors.Is(err, httpx.ErrNotFound) {
		s.logger.Warn("orphaned return image", slog.Int64("file_id", fileID), slog.Any("error", err))
	}
	return s.view(quoteID, snap), nil
}

func imageName(quoteID, itemID int64, name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		name = "image.jpg"
	}
	return fmt.Sprintf("return-%d-%d-%s-%s", quoteID, itemID, uuid.NewString()[:8], name)
}
