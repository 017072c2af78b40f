// Package money provides the fixed-point decimal type used for every
// monetary and margin computation in the engine. Floats are acceptable
// for display-only P&L but never for balance or margin arithmetic.
package money

import (
	"github.com/shopspring/decimal"
)

// Amount wraps decimal.Decimal so the rest of the engine imports one
// type instead of scattering decimal.Decimal everywhere and risking a
// stray float64 conversion.
type Amount = decimal.Decimal

// Zero is the additive identity.
var Zero = decimal.Zero

// FromFloat converts an external float (quote prices, config values)
// into an Amount. Never use this on a running balance or margin figure.
func FromFloat(f float64) Amount {
	return decimal.NewFromFloat(f)
}

// FromInt converts a whole number into an Amount.
func FromInt(i int64) Amount {
	return decimal.NewFromInt(i)
}

// BasisPoints converts an integer bps value (e.g. 5 = 5bps = 0.0005) to
// an Amount multiplier.
func BasisPoints(bps int64) Amount {
	return decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
}

// Max returns the larger of two Amounts.
func Max(a, b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of two Amounts.
func Min(a, b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxZero clamps an Amount to be non-negative.
func MaxZero(a Amount) Amount {
	return Max(a, Zero)
}

// Round rounds to the given number of decimal places, halves away from
// zero, matching decimal.Decimal's default Round semantics.
func Round(a Amount, places int32) Amount {
	return a.Round(places)
}
