package gateway

import (
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponents lists ISO 4217 minor-unit exponents that differ from
// the default of 2.
var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

func currencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// minorUnitsToValue renders a minor-unit amount as the provider-facing
// decimal string for its currency, e.g. 1050 USD cents -> "10.50" but
// 1000 JPY -> "1000".
func minorUnitsToValue(amount int64, currency string) string {
	exp := currencyExponent(currency)
	return decimal.New(amount, -exp).StringFixed(exp)
}
