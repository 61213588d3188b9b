package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MinorUnitsFromFloat converts a major-unit amount (e.g. 200.5) to minor units (20050).
func MinorUnitsFromFloat(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(hundred).Round(0).IntPart()
}

// MinorUnitsFromRat converts an exact rational amount to minor units.
func MinorUnitsFromRat(amount *big.Rat) int64 {
	if amount == nil {
		return 0
	}
	return decimal.NewFromBigRat(amount, 4).Mul(hundred).Round(0).IntPart()
}

// MinorUnitsFromString parses a decimal string such as "200.50".
func MinorUnitsFromString(amount string) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, err
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}

// FormatMinorUnits renders minor units as a two-decimal string.
func FormatMinorUnits(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}
