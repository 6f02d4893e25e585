// Package pricing converts prices between net and gross representations and
// derives the discounts a salesperson may grant on a line item.
package pricing

import "strings"

// PriceType tags a price as net or gross.
type PriceType string

const (
	Netto  PriceType = "NETTO"
	Brutto PriceType = "BRUTTO"
)

// BuyPriceName is the price bucket holding the purchase price of an item.
const BuyPriceName = "zakupu"

// ParsePriceType normalises user input; anything unrecognised is NETTO.
func ParsePriceType(raw string) PriceType {
	if strings.EqualFold(strings.TrimSpace(raw), string(Brutto)) {
		return Brutto
	}
	return Netto
}

// Price is one named price tier of an item, e.g. "hurtowa 1" or "detaliczna".
type Price struct {
	Name     string    `json:"name"`
	Value    float64   `json:"value"`
	Currency string    `json:"currency"`
	Type     PriceType `json:"type"`
}

// Prices indexes price tiers by name.
type Prices map[string]Price

// Value returns the value of the named tier, or zero when the tier is absent.
func (p Prices) Value(name string) float64 {
	price, ok := p[name]
	if !ok {
		return 0
	}
	return price.Value
}

// Names lists tier names other than the purchase price.
func (p Prices) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		if name == BuyPriceName {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Item is the minimal view of a catalogue item the discount engine needs.
type Item struct {
	Prices  Prices  `json:"prices"`
	VATRate float64 `json:"vatRate"`
}
