// Package catalog serves the product picker: ERP items with stock levels,
// price overrides and the discount the current user may grant.
package catalog

import (
	"strings"

	"github.com/fencecraft/crmbridge/internal/bitrix"
	"github.com/fencecraft/crmbridge/internal/comarch"
	"github.com/fencecraft/crmbridge/internal/pricing"
)

// Product is an item as shown in the picker.
type Product struct {
	Code        string             `json:"code"`
	Name        string             `json:"name"`
	Unit        string             `json:"unit"`
	GroupCode   string             `json:"groupCode"`
	Tags        []string           `json:"tags,omitempty"`
	VATRate     float64            `json:"vatRate"`
	PriceType   pricing.PriceType  `json:"priceType"`
	Prices      pricing.Prices     `json:"prices"`
	Stock       map[string]float64 `json:"stock"`
	StockTotal  float64            `json:"stockTotal"`
	MaxDiscount float64            `json:"maxDiscount"`
}

// SellPrice returns the named tier, falling back to the first tier by name
// when the tier is absent.
func (p Product) SellPrice(name string) (pricing.Price, bool) {
	if price, ok := p.Prices[name]; ok && name != pricing.BuyPriceName {
		return price, true
	}
	names := p.Prices.Names()
	if len(names) == 0 {
		return pricing.Price{}, false
	}
	best := names[0]
	for _, n := range names[1:] {
		if n < best {
			best = n
		}
	}
	return p.Prices[best], true
}

// Query filters Search.
type Query struct {
	Text      string
	GroupCode string
	PriceType pricing.PriceType
	// PriceName selects the tier MaxDiscount is computed against.
	PriceName string
	Warehouse string
	Limit     int
}

// Dictionaries are the slow-changing lookup lists of the picker.
type Dictionaries struct {
	Warehouses []comarch.Warehouse  `json:"warehouses"`
	Groups     []comarch.ItemsGroup `json:"groups"`
	Measures   []bitrix.Measure     `json:"measures"`
}

// DefaultPriceName is the tier used when a query does not name one.
const DefaultPriceName = "detaliczna"

func toPrices(list []comarch.Price) pricing.Prices {
	prices := make(pricing.Prices, len(list))
	for _, p := range list {
		prices[p.Name] = pricing.Price{
			Name:     p.Name,
			Value:    p.Value,
			Currency: p.Currency,
			Type:     pricing.ParsePriceType(p.Type),
		}
	}
	return prices
}

func normalise(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
