package domain

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept for balances and payouts.
const MoneyPlaces = 2

var (
	// MinMultiplier is the floor of every crash point and multiplier.
	MinMultiplier = decimal.NewFromInt(1)
	hundred       = decimal.NewFromInt(100)
)

// Payout returns stake x odds rounded to cents.
func Payout(stake, odds decimal.Decimal) decimal.Decimal {
	return stake.Mul(odds).Round(MoneyPlaces)
}

// CombineOdds multiplies the odds of every selection.
func CombineOdds(sels []Selection) decimal.Decimal {
	combined := decimal.NewFromInt(1)
	for _, s := range sels {
		combined = combined.Mul(s.Odds)
	}
	return combined
}

// MultiplierFromCents converts hundredths (e.g. 247) into a multiplier (2.47).
func MultiplierFromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// MultiplierCents converts a multiplier into hundredths, truncating extra precision.
func MultiplierCents(m decimal.Decimal) int64 {
	return m.Mul(hundred).IntPart()
}
