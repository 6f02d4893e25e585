package pricing

// ConvertItemPrice converts value between net and gross using vatRate in percent.
// Every pair other than NETTO→BRUTTO and BRUTTO→NETTO returns value unchanged.
func ConvertItemPrice(value, vatRate float64, from, to PriceType) float64 {
	switch {
	case from == Netto && to == Brutto:
		return value * (1 + vatRate/100)
	case from == Brutto && to == Netto:
		return value * 100 / (100 + vatRate)
	default:
		return value
	}
}

// ConvertPrices converts every tier to the target representation. Tiers already
// in the target representation are copied. The input is not modified.
func ConvertPrices(prices Prices, vatRate float64, to PriceType) Prices {
	out := make(Prices, len(prices))
	for name, price := range prices {
		from := price.Type
		if from == "" {
			from = Netto
		}
		price.Value = ConvertItemPrice(price.Value, vatRate, from, to)
		price.Type = to
		out[name] = price
	}
	return out
}
