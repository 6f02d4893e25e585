package calculator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() PriceTable {
	return PriceTable{
		Patterns: map[string]map[ElementType]PriceEntry{
			"horizon": {
				ElementPanel:     {PerM2: 100},
				ElementSwingGate: {PerM2: 200, Fixed: 500},
			},
		},
		PanelWidth:    2.5,
		PricePerPanel: map[string]float64{"horizon": 10},
		Motors:        map[string]float64{"swing": 1000, "sliding": 800},
		Masonry: map[Mode]MasonrySpec{
			ModeBlock: {BlocksPerPost: 12, BlocksPerSection: 20, BlockPrice: 10, FoundationPerMeter: 50},
		},
	}
}

func TestMasonryTenMetres(t *testing.T) {
	spec := MasonrySpec{BlocksPerPost: 12, BlocksPerSection: 20, BlockPrice: 10, FoundationPerMeter: 50}
	got := Masonry(10, spec)
	assert.Equal(t, 4, got.Sections)
	assert.Equal(t, 5, got.Posts)
	assert.Equal(t, 5*12+4*20, got.Blocks)
	assert.Equal(t, 1400.0, got.BlocksCost)
	assert.Equal(t, 500.0, got.FoundationCost)
	assert.Equal(t, 1900.0, got.Total)
}

func TestCalculateStandardMode(t *testing.T) {
	engine := NewEngine(testTable())
	res := engine.Calculate(Input{
		Pattern: "horizon",
		Mode:    ModeStandard,
		Elements: []Element{
			{Type: ElementPanel, Height: 1.5, Width: 5},
			{Type: ElementPanel, Height: 1.5, Width: 5},
			{Type: ElementSwingGate, Height: 1.5, Width: 4},
		},
		Motors: []MotorSelection{{Type: "swing", Quantity: qty(1)}},
	})

	require.Len(t, res.Elements, 3)
	assert.Equal(t, 750.0, res.Elements[0].Cost)
	assert.Equal(t, 1700.0, res.Elements[2].Cost)
	assert.Equal(t, 3200.0, res.ElementsTotal)
	// round(10/2.5 + 1) sections at 10 each.
	assert.Equal(t, 5, res.PanelSections)
	assert.Equal(t, 50.0, res.PanelFixed)
	assert.Equal(t, 1000.0, res.MotorsTotal)
	assert.Nil(t, res.Masonry)
	assert.Equal(t, 4250.0, res.Total)
}

func TestCalculateBlockModeDerivesPanelWidth(t *testing.T) {
	engine := NewEngine(testTable())
	res := engine.Calculate(Input{
		Pattern:   "horizon",
		Mode:      ModeBlock,
		RunLength: 10,
		Elements: []Element{
			{Type: ElementPanel, Height: 1.2, Width: 99},
		},
	})

	require.Len(t, res.Elements, 1)
	assert.Equal(t, 10.0, res.Elements[0].Width)
	assert.Equal(t, 1200.0, res.Elements[0].Cost)
	assert.Equal(t, 50.0, res.PanelFixed)
	require.NotNil(t, res.Masonry)
	assert.Equal(t, 1900.0, res.Masonry.Total)
	assert.Equal(t, 3150.0, res.Total)
}

func TestCalculateUnknownPricesAreZero(t *testing.T) {
	engine := NewEngine(testTable())
	res := engine.Calculate(Input{
		Pattern:  "unknown",
		Elements: []Element{{Type: ElementWicket, Height: 1, Width: 1}},
		Motors:   []MotorSelection{{Type: "hover"}},
	})
	assert.Zero(t, res.Total)
}

func TestCalculateMotorQuantities(t *testing.T) {
	engine := NewEngine(testTable())
	res := engine.Calculate(Input{
		Pattern: "horizon",
		Motors: []MotorSelection{
			{Type: "swing", Quantity: qty(2)},
			{Type: "sliding"},
		},
	})
	assert.Equal(t, 2800.0, res.MotorsTotal)
	assert.Equal(t, 2800.0, res.Total)
}

func qty(n int) *int { return &n }

func TestCalculateZeroMotorsChargesNothing(t *testing.T) {
	engine := NewEngine(testTable())

	var in Input
	require.NoError(t, json.Unmarshal([]byte(`{"pattern":"horizon","motors":[{"type":"swing","quantity":0},{"type":"sliding"}]}`), &in))
	res := engine.Calculate(in)
	assert.Equal(t, 800.0, res.MotorsTotal)

	res = engine.Calculate(Input{Pattern: "horizon", Motors: []MotorSelection{{Type: "swing", Quantity: qty(0)}}})
	assert.Zero(t, res.MotorsTotal)
	assert.Zero(t, res.Total)
}

func TestModeWithoutMasonrySpecSkipsMasonry(t *testing.T) {
	engine := NewEngine(testTable())
	res := engine.Calculate(Input{Pattern: "horizon", Mode: ModeSlab, RunLength: 5})
	assert.Nil(t, res.Masonry)
}

func TestDefaultPriceTableCoversPatterns(t *testing.T) {
	table := DefaultPriceTable()
	for pattern := range table.Patterns {
		assert.Contains(t, table.PricePerPanel, pattern)
	}
	assert.Contains(t, table.Masonry, ModeBlock)
	assert.Contains(t, table.Masonry, ModeSlab)
}
