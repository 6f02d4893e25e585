package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemWith(buy, sell float64) Item {
	return Item{Prices: Prices{
		BuyPriceName: {Name: BuyPriceName, Value: buy, Type: Netto},
		"hurtowa 1":  {Name: "hurtowa 1", Value: sell, Type: Netto},
	}}
}

func TestCalculateMaxDiscountWithoutMargin(t *testing.T) {
	cases := []struct {
		name      string
		buy, sell float64
	}{
		{"no buy price", 0, 100},
		{"no sell price", 50, 0},
		{"negative buy", -5, 100},
		{"sell equals buy", 80, 80},
		{"sell below buy", 90, 70},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Zero(t, CalculateMaxDiscount(itemWith(tc.buy, tc.sell), "hurtowa 1", 100))
		})
	}
}

func TestCalculateMaxDiscountUserCap(t *testing.T) {
	item := itemWith(50, 100)
	assert.InDelta(t, 30, CalculateMaxDiscount(item, "hurtowa 1", 30), 1e-9)
	assert.InDelta(t, 50, CalculateMaxDiscount(item, "hurtowa 1", 80), 1e-9)
	assert.InDelta(t, 50, CalculateMaxDiscount(item, "hurtowa 1", 250), 1e-9)
	assert.Zero(t, CalculateMaxDiscount(item, "hurtowa 1", -10))
}

func TestCalculateMaxDiscountMissingTier(t *testing.T) {
	assert.Zero(t, CalculateMaxDiscount(itemWith(50, 100), "detaliczna", 30))
}

func TestCalculateDiscountPrice(t *testing.T) {
	assert.Equal(t, 90.0, CalculateDiscountPrice(100, 10))
	assert.Equal(t, 66.67, CalculateDiscountPrice(100, 33.333))
	assert.Equal(t, 100.0, CalculateDiscountPrice(100, 0))
}

func TestConvertItemPrice(t *testing.T) {
	assert.InDelta(t, 123, ConvertItemPrice(100, 23, Netto, Brutto), 1e-9)
	assert.InDelta(t, 100, ConvertItemPrice(123, 23, Brutto, Netto), 1e-9)
	assert.Equal(t, 100.0, ConvertItemPrice(100, 23, Netto, Netto))
	assert.Equal(t, 100.0, ConvertItemPrice(100, 23, Brutto, Brutto))
	assert.Equal(t, 100.0, ConvertItemPrice(100, 23, "", Brutto))
}

func TestConvertItemPriceRoundTrip(t *testing.T) {
	for _, vat := range []float64{0, 5, 8, 23} {
		gross := ConvertItemPrice(249.99, vat, Netto, Brutto)
		assert.InDelta(t, 249.99, ConvertItemPrice(gross, vat, Brutto, Netto), 1e-9)
	}
}

func TestConvertPricesPerBucket(t *testing.T) {
	in := Prices{
		"hurtowa 1":  {Name: "hurtowa 1", Value: 100, Currency: "PLN", Type: Netto},
		"detaliczna": {Name: "detaliczna", Value: 246, Currency: "PLN", Type: Brutto},
	}
	out := ConvertPrices(in, 23, Brutto)
	require.Len(t, out, 2)
	assert.InDelta(t, 123, out["hurtowa 1"].Value, 1e-9)
	assert.Equal(t, Brutto, out["hurtowa 1"].Type)
	assert.InDelta(t, 246, out["detaliczna"].Value, 1e-9)
	assert.Equal(t, Netto, in["hurtowa 1"].Type, "input must not change")
}

func TestParsePriceType(t *testing.T) {
	assert.Equal(t, Brutto, ParsePriceType(" brutto "))
	assert.Equal(t, Netto, ParsePriceType("NETTO"))
	assert.Equal(t, Netto, ParsePriceType("whatever"))
}
