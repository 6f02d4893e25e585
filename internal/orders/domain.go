// Package orders manages quote line items and the per-item side tables kept
// next to them: packaging, verification, returns and ERP codes.
package orders

import (
	"strconv"

	"github.com/fencecraft/crmbridge/internal/bitrix"
	"github.com/fencecraft/crmbridge/internal/money"
	"github.com/fencecraft/crmbridge/internal/pricing"
)

// OrderItem is a line item of a quote. Price is the net unit list price;
// the discount is applied on top of it.
type OrderItem struct {
	ID            int64    `json:"id"`
	ProductID     int64    `json:"productId,omitempty"`
	Name          string   `json:"name" validate:"required"`
	Quantity      float64  `json:"quantity" validate:"gt=0"`
	Unit          string   `json:"unit,omitempty"`
	MeasureCode   int64    `json:"measureCode,omitempty"`
	Price         float64  `json:"price" validate:"gte=0"`
	TaxRate       *float64 `json:"taxRate,omitempty" validate:"omitempty,gte=0,lte=100"`
	DiscountRate  *float64 `json:"discountRate,omitempty" validate:"omitempty,gte=0,lte=100"`
	WarehouseCode string   `json:"warehouseCode,omitempty"`
	GroupCode     string   `json:"groupCode,omitempty"`
	ItemCode      string   `json:"itemCode,omitempty"`
}

func (i OrderItem) discount() float64 {
	if i.DiscountRate == nil {
		return 0
	}
	return *i.DiscountRate
}

func (i OrderItem) tax() float64 {
	if i.TaxRate == nil {
		return 0
	}
	return *i.TaxRate
}

// UnitNet is the discounted net unit price.
func (i OrderItem) UnitNet() float64 {
	return pricing.CalculateDiscountPrice(i.Price, i.discount())
}

// LineNet is the discounted net value of the line.
func (i OrderItem) LineNet() float64 {
	return money.Round2(i.UnitNet() * i.Quantity)
}

// LineGross is LineNet with tax.
func (i OrderItem) LineGross() float64 {
	return money.Round2(pricing.ConvertItemPrice(i.LineNet(), i.tax(), pricing.Netto, pricing.Brutto))
}

// Additional returns the ERP codes of the item as a side entry.
func (i OrderItem) Additional() AdditionalDataItem {
	return AdditionalDataItem{WarehouseCode: i.WarehouseCode, GroupCode: i.GroupCode, ItemCode: i.ItemCode}
}

// WithAdditional copies ERP codes from a side entry onto the item.
func (i OrderItem) WithAdditional(a AdditionalDataItem) OrderItem {
	i.WarehouseCode = a.WarehouseCode
	i.GroupCode = a.GroupCode
	i.ItemCode = a.ItemCode
	return i
}

// ItemFromRow maps a CRM product row onto an OrderItem.
func ItemFromRow(row bitrix.ProductRow) OrderItem {
	item := OrderItem{
		ID:          int64(row.ID),
		ProductID:   int64(row.ProductID),
		Name:        row.ProductName,
		Quantity:    float64(row.Quantity),
		Unit:        row.MeasureName,
		MeasureCode: int64(row.MeasureCode),
	}
	if row.TaxRate != nil {
		tax := float64(*row.TaxRate)
		item.TaxRate = &tax
	}
	switch {
	case row.PriceNetto > 0:
		item.Price = float64(row.PriceNetto)
	case row.PriceExclusive > 0:
		item.Price = float64(row.PriceExclusive)
	default:
		item.Price = float64(row.Price)
	}
	if rate := float64(row.DiscountRate); rate > 0 {
		item.DiscountRate = &rate
	}
	return item
}

// Row maps the item onto a CRM product row. Prices are sent tax-exclusive.
func (i OrderItem) Row(sort int) bitrix.ProductRow {
	unitNet := i.UnitNet()
	row := bitrix.ProductRow{
		ProductID:      bitrix.Int(i.ProductID),
		ProductName:    i.Name,
		Quantity:       bitrix.Number(i.Quantity),
		PriceNetto:     bitrix.Number(i.Price),
		PriceExclusive: bitrix.Number(unitNet),
		PriceBrutto:    bitrix.Number(money.Round2(pricing.ConvertItemPrice(i.Price, i.tax(), pricing.Netto, pricing.Brutto))),
		Price:          bitrix.Number(money.Round2(pricing.ConvertItemPrice(unitNet, i.tax(), pricing.Netto, pricing.Brutto))),
		DiscountTypeID: bitrix.DiscountPercent,
		DiscountRate:   bitrix.Number(i.discount()),
		DiscountSum:    bitrix.Number(money.Round2(i.Price - unitNet)),
		TaxIncluded:    "N",
		MeasureCode:    bitrix.Int(i.MeasureCode),
		MeasureName:    i.Unit,
		Sort:           bitrix.Int((sort + 1) * 10),
	}
	if i.TaxRate != nil {
		tax := bitrix.Number(*i.TaxRate)
		row.TaxRate = &tax
	}
	return row
}

// PackagingDataItem records how an item was packed.
type PackagingDataItem struct {
	Quality int    `json:"quality" validate:"min=1,max=10"`
	Packer  string `json:"packer"`
	Date    string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Saved   bool   `json:"saved"`
}

// DefaultPackaging is the entry synthesised for items without one.
func DefaultPackaging() PackagingDataItem {
	return PackagingDataItem{Quality: 10}
}

// VerificationDataItem records a stock check of an item.
type VerificationDataItem struct {
	ActualStock  float64 `json:"actualStock" validate:"gte=0"`
	QualityGoods float64 `json:"qualityGoods" validate:"gte=0"`
	Comment      string  `json:"comment" validate:"max=2000"`
}

// ReturnImage is a photo attached to a return, stored on Bitrix24 Drive.
type ReturnImage struct {
	FileID int64  `json:"fileId"`
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`
}

// ReturnDataItem records a customer return of an item.
type ReturnDataItem struct {
	ReleaseDocument string        `json:"releaseDocument"`
	Item            OrderItem     `json:"item"`
	Quantity        float64       `json:"quantity"`
	Reason          string        `json:"reason"`
	Date            string        `json:"date"`
	Images          []ReturnImage `json:"images"`
}

// AdditionalDataItem carries ERP codes the CRM row has no fields for.
type AdditionalDataItem struct {
	WarehouseCode string `json:"warehouseCode,omitempty"`
	GroupCode     string `json:"groupCode,omitempty"`
	ItemCode      string `json:"itemCode,omitempty"`
}

// SideData is every side table of one quote. Version increases on each save.
type SideData struct {
	Version      int64                          `json:"version"`
	Packaging    map[int64]PackagingDataItem    `json:"packaging"`
	Verification map[int64]VerificationDataItem `json:"verification"`
	Returns      map[int64]ReturnDataItem       `json:"returns"`
	Additional   map[int64]AdditionalDataItem   `json:"additional"`
}

// Totals summarises the order value.
type Totals struct {
	Net   float64 `json:"net"`
	Tax   float64 `json:"tax"`
	Gross float64 `json:"gross"`
}

// Order is the reconciled view of a quote.
type Order struct {
	QuoteID      int64                          `json:"quoteId"`
	Title        string                         `json:"title"`
	DealID       int64                          `json:"dealId,omitempty"`
	CompanyID    int64                          `json:"companyId,omitempty"`
	Currency     string                         `json:"currency"`
	Document     string                         `json:"document,omitempty"`
	Items        []OrderItem                    `json:"items"`
	Packaging    map[int64]PackagingDataItem    `json:"packaging"`
	Verification map[int64]VerificationDataItem `json:"verification"`
	Returns      map[int64]ReturnDataItem       `json:"returns"`
	Totals       Totals                         `json:"totals"`
	Version      int64                          `json:"version"`
}

// ComputeTotals sums the line values of items.
func ComputeTotals(items []OrderItem) Totals {
	var t Totals
	for _, item := range items {
		t.Net += item.LineNet()
		t.Gross += item.LineGross()
	}
	t.Net = money.Round2(t.Net)
	t.Gross = money.Round2(t.Gross)
	t.Tax = money.Round2(t.Gross - t.Net)
	return t
}

func itemKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
