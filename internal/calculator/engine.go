package calculator

import (
	"math"

	"github.com/fencecraft/crmbridge/internal/money"
)

// Engine prices calculator input against a fixed price table.
type Engine struct {
	table PriceTable
}

// NewEngine constructs an engine. A non-positive panel width falls back to the masonry spacing.
func NewEngine(table PriceTable) *Engine {
	if table.PanelWidth <= 0 {
		table.PanelWidth = MasonrySectionWidth
	}
	return &Engine{table: table}
}

// Table exposes the price table, e.g. for rendering the calculator form.
func (e *Engine) Table() PriceTable {
	return e.table
}

// Calculate prices the input. It never fails: unknown patterns, element types
// and motors price at zero.
func (e *Engine) Calculate(in Input) Result {
	var res Result

	panels := 0
	enteredLength := 0.0
	for _, el := range in.Elements {
		if el.Type == ElementPanel {
			panels++
			enteredLength += el.Width
		}
	}
	panelLength := enteredLength
	derivedWidth := 0.0
	if !in.Mode.IsDefault() {
		panelLength = in.RunLength
		if panels > 0 {
			derivedWidth = in.RunLength / float64(panels)
		}
	}

	for _, el := range in.Elements {
		width := el.Width
		if el.Type == ElementPanel && !in.Mode.IsDefault() {
			width = derivedWidth
		}
		entry := e.table.Entry(in.Pattern, el.Type)
		area := el.Height * width
		cost := money.Round2(area*entry.PerM2 + entry.Fixed)
		res.Elements = append(res.Elements, ElementCost{
			Type:  el.Type,
			Area:  money.Round(area, 4),
			Cost:  cost,
			Width: width,
		})
		res.ElementsTotal += cost
	}

	if panels > 0 && panelLength > 0 {
		res.PanelSections = int(math.Round(panelLength/e.table.PanelWidth + 1))
		res.PanelFixed = money.Round2(float64(res.PanelSections) * e.table.PricePerPanel[in.Pattern])
	}

	for _, motor := range in.Motors {
		if qty := motor.Count(); qty > 0 {
			res.MotorsTotal += e.table.Motors[motor.Type] * float64(qty)
		}
	}

	if !in.Mode.IsDefault() && in.RunLength > 0 {
		if spec, ok := e.table.Masonry[in.Mode]; ok {
			breakdown := Masonry(in.RunLength, spec)
			res.Masonry = &breakdown
		}
	}

	res.ElementsTotal = money.Round2(res.ElementsTotal)
	res.MotorsTotal = money.Round2(res.MotorsTotal)
	res.Total = res.ElementsTotal + res.PanelFixed + res.MotorsTotal
	if res.Masonry != nil {
		res.Total += res.Masonry.Total
	}
	res.Total = money.Round2(res.Total)
	return res
}

// Masonry computes the block work for a fence of the given length.
func Masonry(fenceLength float64, spec MasonrySpec) MasonryBreakdown {
	sections := int(math.Round(fenceLength / MasonrySectionWidth))
	posts := sections + 1
	blocks := posts*spec.BlocksPerPost + sections*spec.BlocksPerSection
	blocksCost := money.Round2(float64(blocks) * spec.BlockPrice)
	foundation := money.Round2(fenceLength * spec.FoundationPerMeter)
	return MasonryBreakdown{
		Sections:       sections,
		Posts:          posts,
		Blocks:         blocks,
		BlocksCost:     blocksCost,
		FoundationCost: foundation,
		Total:          money.Round2(blocksCost + foundation),
	}
}
