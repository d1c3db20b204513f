package terminal

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ISO 4217 numeric codes for the currencies the binary terminal protocols
// accept. Unknown currencies fall back to EUR, which is what the legacy
// Telium firmware does when handed a code it does not know.
var currencyNumeric = map[string]int{
	"PLN": 985,
	"EUR": 978,
	"USD": 840,
	"GBP": 826,
	"CHF": 756,
	"CZK": 203,
	"DKK": 208,
	"HUF": 348,
	"JPY": 392,
	"NOK": 578,
	"SEK": 752,
}

const numericEUR = 978

// Currencies whose minor unit is the unit itself (exponent 0).
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"VND": {},
}

// CurrencyNumeric returns the ISO 4217 numeric code for an alpha code,
// defaulting to EUR (978) for anything unrecognized.
func CurrencyNumeric(alpha string) int {
	if n, ok := currencyNumeric[strings.ToUpper(alpha)]; ok {
		return n
	}
	return numericEUR
}

// CurrencyExponent returns the number of minor-unit digits for a currency.
func CurrencyExponent(alpha string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(alpha)]; ok {
		return 0
	}
	return 2
}

// MinorUnits converts a decimal amount to the integer minor units every
// vendor wire format expects (100.00 PLN -> 10000).
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(CurrencyExponent(currency)).Round(0).IntPart()
}

// FromMinorUnits converts integer minor units back to a decimal amount.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -CurrencyExponent(currency))
}
