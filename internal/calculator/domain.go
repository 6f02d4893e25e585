// Package calculator prices fences and gates from their dimensions, the chosen
// decorative pattern, gate motors and, for block fences, the masonry work.
package calculator

// Mode selects how the fence is built.
type Mode string

const (
	// ModeStandard prices standalone panels whose widths are entered directly.
	ModeStandard Mode = "standard"
	// ModeBlock mounts panels between split-face concrete block posts.
	ModeBlock Mode = "block"
	// ModeSlab mounts panels on a precast foundation slab with block posts.
	ModeSlab Mode = "slab"
)

// IsDefault reports whether m is the standard mode. An empty mode is standard.
func (m Mode) IsDefault() bool {
	return m == "" || m == ModeStandard
}

// ElementType identifies a priced fence element.
type ElementType string

const (
	ElementPanel       ElementType = "panel"
	ElementWicket      ElementType = "wicket"
	ElementSwingGate   ElementType = "swing_gate"
	ElementSlidingGate ElementType = "sliding_gate"
)

// Element is one fence element with dimensions in metres.
type Element struct {
	Type   ElementType `json:"type" validate:"required"`
	Height float64     `json:"height" validate:"gte=0"`
	Width  float64     `json:"width" validate:"gte=0"`
}

// MotorSelection is a number of gate motors of one kind. A missing quantity
// means one motor; an explicit zero means none.
type MotorSelection struct {
	Type     string `json:"type" validate:"required"`
	Quantity *int   `json:"quantity,omitempty" validate:"omitempty,gte=0"`
}

// Count is the number of motors priced.
func (m MotorSelection) Count() int {
	if m.Quantity == nil {
		return 1
	}
	return *m.Quantity
}

// Input describes the fence the customer asked for.
type Input struct {
	Pattern  string           `json:"pattern" validate:"required"`
	Mode     Mode             `json:"mode" validate:"omitempty,oneof=standard block slab"`
	Elements []Element        `json:"elements" validate:"dive"`
	Motors   []MotorSelection `json:"motors" validate:"dive"`
	// RunLength is the total fence-panel run in metres. Outside the standard
	// mode it replaces the entered panel widths.
	RunLength float64 `json:"runLength" validate:"gte=0"`
}

// ElementCost is the priced form of an Element.
type ElementCost struct {
	Type  ElementType `json:"type"`
	Area  float64     `json:"area"`
	Cost  float64     `json:"cost"`
	Width float64     `json:"width"`
}

// MasonryBreakdown details the block and foundation work of a block fence.
type MasonryBreakdown struct {
	Sections       int     `json:"sections"`
	Posts          int     `json:"posts"`
	Blocks         int     `json:"blocks"`
	BlocksCost     float64 `json:"blocksCost"`
	FoundationCost float64 `json:"foundationCost"`
	Total          float64 `json:"total"`
}

// Result is the full price breakdown. Total is what gets written onto the deal.
type Result struct {
	Elements      []ElementCost     `json:"elements"`
	ElementsTotal float64           `json:"elementsTotal"`
	PanelSections int               `json:"panelSections"`
	PanelFixed    float64           `json:"panelFixed"`
	MotorsTotal   float64           `json:"motorsTotal"`
	Masonry       *MasonryBreakdown `json:"masonry,omitempty"`
	Total         float64           `json:"total"`
}
