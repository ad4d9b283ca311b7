package price

import "strings"

// minorUnits lists ISO 4217 currencies whose precision differs from 2.
var minorUnits = map[string]int32{
	"BHD": 3,
	"BIF": 0,
	"CLP": 0,
	"DJF": 0,
	"GNF": 0,
	"IQD": 3,
	"ISK": 0,
	"JOD": 3,
	"JPY": 0,
	"KMF": 0,
	"KRW": 0,
	"KWD": 3,
	"LYD": 3,
	"OMR": 3,
	"PYG": 0,
	"RWF": 0,
	"TND": 3,
	"UGX": 0,
	"UYI": 0,
	"VND": 0,
	"VUV": 0,
	"XAF": 0,
	"XOF": 0,
	"XPF": 0,
}

const defaultPrecision int32 = 2

// Precision returns the number of minor-unit digits for a currency code.
func Precision(currencyCode string) int32 {
	if p, ok := minorUnits[strings.ToUpper(strings.TrimSpace(currencyCode))]; ok {
		return p
	}
	return defaultPrecision
}

// Rounder rounds prices to their currency precision, half away from zero.
// The zero value is ready to use and safe for concurrent use.
type Rounder struct {
	// Overrides replaces the precision of individual currencies.
	Overrides map[string]int32
}

// Round returns p rounded to its currency's precision.
func (r Rounder) Round(p Price) Price {
	precision := Precision(p.CurrencyCode)
	if v, ok := r.Overrides[strings.ToUpper(p.CurrencyCode)]; ok {
		precision = v
	}
	return Price{Number: p.Number.Round(precision), CurrencyCode: p.CurrencyCode}
}
