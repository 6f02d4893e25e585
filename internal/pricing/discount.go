package pricing

import (
	"math"

	"github.com/fencecraft/crmbridge/internal/money"
)

// MarginCap is the highest discount in percent that keeps the sell price
// above the buy price. It is zero whenever either price is missing or the
// item is already sold at or below cost.
func MarginCap(buy, sell float64) float64 {
	if buy <= 0 || sell <= 0 || buy >= sell {
		return 0
	}
	return math.Min((1-buy/sell)*100, 100)
}

// CalculateMaxDiscount bounds the user's discount privilege by the item margin
// for the given sell tier. Caps above 100 are left to the margin cap.
func CalculateMaxDiscount(item Item, priceType string, userMaxDiscount float64) float64 {
	marginCap := MarginCap(item.Prices.Value(BuyPriceName), item.Prices.Value(priceType))
	if userMaxDiscount < 0 {
		userMaxDiscount = 0
	}
	return math.Min(userMaxDiscount, marginCap)
}

// CalculateDiscountPrice applies discount percent to price, rounded to grosze.
func CalculateDiscountPrice(price, discount float64) float64 {
	return money.Round2(price * (1 - discount/100))
}
