package calculator

import (
	"encoding/json"
	"fmt"
	"os"
)

// MasonrySectionWidth is the post spacing of block fences in metres.
const MasonrySectionWidth = 2.5

// PriceEntry prices one element type in one pattern.
type PriceEntry struct {
	PerM2 float64 `json:"perM2"`
	Fixed float64 `json:"fixed"`
}

// MasonrySpec prices the block work of a non-standard mode.
type MasonrySpec struct {
	BlocksPerPost      int     `json:"blocksPerPost"`
	BlocksPerSection   int     `json:"blocksPerSection"`
	BlockPrice         float64 `json:"blockPrice"`
	FoundationPerMeter float64 `json:"foundationPerMeter"`
}

// PriceTable holds every price the calculator uses.
type PriceTable struct {
	Patterns      map[string]map[ElementType]PriceEntry `json:"patterns"`
	PanelWidth    float64                               `json:"panelWidth"`
	PricePerPanel map[string]float64                    `json:"pricePerPanel"`
	Motors        map[string]float64                    `json:"motors"`
	Masonry       map[Mode]MasonrySpec                  `json:"masonry"`
}

// Entry looks up the pricing of an element type; missing entries price at zero.
func (t PriceTable) Entry(pattern string, elementType ElementType) PriceEntry {
	byType, ok := t.Patterns[pattern]
	if !ok {
		return PriceEntry{}
	}
	return byType[elementType]
}

// LoadPriceTable reads a JSON price table from path.
func LoadPriceTable(path string) (PriceTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PriceTable{}, fmt.Errorf("calculator: read price table: %w", err)
	}
	var table PriceTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return PriceTable{}, fmt.Errorf("calculator: decode price table: %w", err)
	}
	if table.PanelWidth <= 0 {
		table.PanelWidth = MasonrySectionWidth
	}
	return table, nil
}

// DefaultPriceTable is the 2024 catalogue price list in PLN net.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Patterns: map[string]map[ElementType]PriceEntry{
			"horizon": {
				ElementPanel:       {PerM2: 420, Fixed: 0},
				ElementWicket:      {PerM2: 520, Fixed: 350},
				ElementSwingGate:   {PerM2: 480, Fixed: 900},
				ElementSlidingGate: {PerM2: 510, Fixed: 1800},
			},
			"lamella": {
				ElementPanel:       {PerM2: 560, Fixed: 0},
				ElementWicket:      {PerM2: 640, Fixed: 350},
				ElementSwingGate:   {PerM2: 600, Fixed: 900},
				ElementSlidingGate: {PerM2: 630, Fixed: 1800},
			},
			"classic": {
				ElementPanel:       {PerM2: 310, Fixed: 0},
				ElementWicket:      {PerM2: 400, Fixed: 300},
				ElementSwingGate:   {PerM2: 380, Fixed: 800},
				ElementSlidingGate: {PerM2: 410, Fixed: 1600},
			},
		},
		PanelWidth: MasonrySectionWidth,
		PricePerPanel: map[string]float64{
			"horizon": 85,
			"lamella": 95,
			"classic": 70,
		},
		Motors: map[string]float64{
			"swing":         2450,
			"sliding":       1990,
			"sliding_heavy": 2890,
		},
		Masonry: map[Mode]MasonrySpec{
			ModeBlock: {BlocksPerPost: 12, BlocksPerSection: 20, BlockPrice: 14.5, FoundationPerMeter: 95},
			ModeSlab:  {BlocksPerPost: 12, BlocksPerSection: 8, BlockPrice: 14.5, FoundationPerMeter: 140},
		},
	}
}
