package orders

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/fencecraft/crmbridge/internal/money"
	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

var itemHeaders = []string{
	"Lp.", "Nazwa", "Kod", "Magazyn", "Ilość", "J.m.", "Cena netto", "Rabat %", "Wartość netto", "VAT %", "Wartość brutto",
	"Jakość", "Pakował", "Data pakowania", "Stan faktyczny", "Towar pełnowartościowy", "Uwagi",
}

var returnHeaders = []string{"Lp.", "Nazwa", "Dokument WZ", "Ilość zamówiona", "Ilość zwracana", "Powód", "Data", "Zdjęcia"}

// ExportXLSX renders the order as a workbook with an items sheet and a returns sheet.
func (s *Service) ExportXLSX(ctx context.Context, quoteID int64) ([]byte, string, error) {
	order, err := s.Load(ctx, quoteID)
	if err != nil {
		return nil, "", err
	}
	raw, err := WriteWorkbook(order)
	if err != nil {
		return nil, "", err
	}
	return raw, fmt.Sprintf("zamowienie-%d.xlsx", quoteID), nil
}

// WriteWorkbook renders an order into XLSX bytes.
func WriteWorkbook(order *Order) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	const itemsSheet = "Pozycje"
	const returnsSheet = "Zwroty"
	if err := f.SetSheetName("Sheet1", itemsSheet); err != nil {
		return nil, fmt.Errorf("orders: xlsx: %w", err)
	}
	if _, err := f.NewSheet(returnsSheet); err != nil {
		return nil, fmt.Errorf("orders: xlsx: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return nil, fmt.Errorf("orders: xlsx style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, fmt.Errorf("orders: xlsx style: %w", err)
	}

	if err := writeHeader(f, itemsSheet, itemHeaders, headerStyle); err != nil {
		return nil, err
	}
	for i, item := range order.Items {
		pack := order.Packaging[item.ID]
		verify := order.Verification[item.ID]
		row := []any{
			i + 1, item.Name, item.ItemCode, item.WarehouseCode, item.Quantity, item.Unit,
			item.Price, item.discount(), item.LineNet(), item.tax(), item.LineGross(),
			pack.Quality, pack.Packer, pack.Date, verify.ActualStock, verify.QualityGoods, verify.Comment,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(itemsSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("orders: xlsx row: %w", err)
		}
	}
	last := len(order.Items) + 1
	if last > 1 {
		from, _ := excelize.CoordinatesToCellName(7, 2)
		to, _ := excelize.CoordinatesToCellName(11, last)
		if err := f.SetCellStyle(itemsSheet, from, to, moneyStyle); err != nil {
			return nil, fmt.Errorf("orders: xlsx style: %w", err)
		}
	}
	totalsRow := last + 2
	for col, v := range map[int]any{8: "Razem", 9: order.Totals.Net, 11: order.Totals.Gross} {
		cell, _ := excelize.CoordinatesToCellName(col, totalsRow)
		if err := f.SetCellValue(itemsSheet, cell, v); err != nil {
			return nil, fmt.Errorf("orders: xlsx totals: %w", err)
		}
	}

	if err := writeHeader(f, returnsSheet, returnHeaders, headerStyle); err != nil {
		return nil, err
	}
	n := 0
	for _, item := range order.Items {
		entry, ok := order.Returns[item.ID]
		if !ok {
			continue
		}
		n++
		row := []any{n, item.Name, entry.ReleaseDocument, entry.Item.Quantity, entry.Quantity, entry.Reason, entry.Date, len(entry.Images)}
		cell, _ := excelize.CoordinatesToCellName(1, n+1)
		if err := f.SetSheetRow(returnsSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("orders: xlsx row: %w", err)
		}
	}

	for _, sheet := range []string{itemsSheet, returnsSheet} {
		if err := f.SetColWidth(sheet, "A", "Q", 14); err != nil {
			return nil, fmt.Errorf("orders: xlsx width: %w", err)
		}
		if err := f.SetColWidth(sheet, "B", "B", 40); err != nil {
			return nil, fmt.Errorf("orders: xlsx width: %w", err)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("orders: xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("orders: xlsx header: %w", err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("orders: xlsx header: %w", err)
		}
	}
	return nil
}

var packingSlipTemplate = template.Must(template.New("slip").Funcs(template.FuncMap{
	"qty": func(v float64) string { return money.FormatNumber(v, 2) },
}).Parse(`<!DOCTYPE html>
<html lang="pl"><head><meta charset="utf-8"><title>Lista pakowania {{.Order.QuoteID}}</title>
<style>
body{font-family:sans-serif;font-size:11px}
table{border-collapse:collapse;width:100%}
th,td{border:1px solid #999;padding:4px;text-align:left}
th{background:#eee}
</style></head><body>
<h1>Lista pakowania</h1>
<p>Oferta {{.Order.QuoteID}}: {{.Order.Title}}</p>
<table>
<thead><tr><th>Lp.</th><th>Nazwa</th><th>Kod</th><th>Ilość</th><th>J.m.</th><th>Jakość</th><th>Pakował</th><th>Data</th></tr></thead>
<tbody>
{{range .Lines}}<tr><td>{{.No}}</td><td>{{.Item.Name}}</td><td>{{.Item.ItemCode}}</td><td>{{qty .Item.Quantity}}</td><td>{{.Item.Unit}}</td><td>{{.Packaging.Quality}}</td><td>{{.Packaging.Packer}}</td><td>{{.Packaging.Date}}</td></tr>
{{end}}</tbody>
</table>
</body></html>`))

type slipLine struct {
	No        int
	Item      OrderItem
	Packaging PackagingDataItem
}

// RenderPackingSlip renders the packing slip HTML of an order.
func RenderPackingSlip(order *Order) ([]byte, error) {
	lines := make([]slipLine, len(order.Items))
	for i, item := range order.Items {
		lines[i] = slipLine{No: i + 1, Item: item, Packaging: order.Packaging[item.ID]}
	}
	var buf bytes.Buffer
	if err := packingSlipTemplate.Execute(&buf, struct {
		Order *Order
		Lines []slipLine
	}{order, lines}); err != nil {
		return nil, fmt.Errorf("orders: packing slip: %w", err)
	}
	return buf.Bytes(), nil
}

// PackingSlip renders the packing slip of a quote to PDF.
func (s *Service) PackingSlip(ctx context.Context, quoteID int64) ([]byte, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("orders: renderer: %w", httpx.ErrUnavailable)
	}
	order, err := s.Load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	html, err := RenderPackingSlip(order)
	if err != nil {
		return nil, err
	}
	pdf, err := s.renderer.RenderHTML(ctx, html)
	if err != nil {
		s.logger.Error("packing slip render failed", slog.Int64("quote_id", quoteID), slog.Any("error", err))
		return nil, err
	}
	return pdf, nil
}
