// Package money formats and rounds monetary amounts for Polish-locale documents.
package money

import (
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// epsilon nudges values like 1.005 that sit just below the half-way point in binary.
const epsilon = 2.220446049250313e-16

// DefaultCurrency is used when a price carries no currency code.
const DefaultCurrency = "PLN"

var symbols = map[string]string{
	"PLN": "zł",
	"EUR": "€",
	"USD": "$",
	"GBP": "£",
	"CZK": "Kč",
}

// Round rounds half-up to the given number of decimal places.
func Round(value float64, places int) float64 {
	if places < 0 {
		places = 0
	}
	factor := math.Pow(10, float64(places))
	return math.Round((value+epsilon)*factor) / factor
}

// Round2 is Round with two decimal places, the precision used for unit prices.
func Round2(value float64) float64 {
	return Round(value, 2)
}

// Formatter renders numbers and amounts in a fixed locale.
type Formatter struct {
	tag     language.Tag
	printer *message.Printer
}

// NewFormatter builds a formatter for the given BCP 47 locale, falling back to Polish.
func NewFormatter(locale string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil || locale == "" {
		tag = language.Polish
	}
	return &Formatter{tag: tag, printer: message.NewPrinter(tag)}
}

// FormatNumber renders value with exactly places fraction digits.
func (f *Formatter) FormatNumber(value float64, places int) string {
	if places < 0 {
		places = 0
	}
	return f.printer.Sprint(number.Decimal(Round(value, places),
		number.MinFractionDigits(places),
		number.MaxFractionDigits(places),
	))
}

// Format renders value as an amount in the given ISO currency, e.g. "1 234,50 zł".
func (f *Formatter) Format(value float64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = DefaultCurrency
	}
	symbol := code
	if unit, err := currency.ParseISO(code); err == nil {
		if s, ok := symbols[unit.String()]; ok {
			symbol = s
		}
	}
	return f.FormatNumber(value, 2) + " " + symbol
}

var defaultFormatter = NewFormatter("pl-PL")

// Format renders value using the default Polish formatter.
func Format(value float64, code string) string {
	return defaultFormatter.Format(value, code)
}

// FormatNumber renders value using the default Polish formatter.
func FormatNumber(value float64, places int) string {
	return defaultFormatter.FormatNumber(value, places)
}
