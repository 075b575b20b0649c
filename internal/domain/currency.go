package domain

import "github.com/shopspring/decimal"

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyCHF Currency = "CHF"
	CurrencyJPY Currency = "JPY"
)

// minorUnits maps each supported currency to its ISO 4217 minor unit exponent.
var minorUnits = map[Currency]int32{
	CurrencyUSD: 2,
	CurrencyEUR: 2,
	CurrencyGBP: 2,
	CurrencyCHF: 2,
	CurrencyJPY: 0,
}

func (c Currency) Supported() bool {
	_, ok := minorUnits[c]
	return ok
}

func (c Currency) MinorUnits() int32 {
	return minorUnits[c]
}

// FitsMinorUnits reports whether amount carries no more precision than the
// currency's minor unit allows, e.g. 10.001 does not fit USD.
func (c Currency) FitsMinorUnits(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(c.MinorUnits()))
}
