/*
Package generic provides the domain-agnostic primitives of the leave engine.

PURPOSE:
  Leave is granted in days by policy tables, converted to minutes for storage,
  and consumed in minutes. This package holds the pieces that do not care what
  kind of leave is being tracked: calendar dates, day/minute conversion,
  FIFO allocation of draws against dated buckets, and the error vocabulary.

KEY CONCEPTS IN THIS FILE (types.go):
  - DaysToMinutes: the single conversion from a day entitlement to stored minutes
  - MinutesToDays: its display inverse, used by balance summaries
  - RoundToStep: rounding minutes to a policy-configured step

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so 11 days * 7.5 hours never drifts
  2. Minutes are integers once committed; days stay decimal until conversion

USAGE:
  minutes := generic.DaysToMinutes(decimal.NewFromInt(11), decimal.NewFromInt(8)) // 5280

SEE ALSO:
  - time.go: Date and service-duration arithmetic
  - allocation.go: FIFO allocation
  - errors.go: Error kinds
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MINUTES - Stored quantities
// =============================================================================

var (
	sixty  = decimal.NewFromInt(60)
	twelve = decimal.NewFromInt(12)
)

// MonthsPerYear is exported for monthly proration.
func MonthsPerYear() decimal.Decimal { return twelve }

// DaysToMinutes is round(days * dayHours * 60), half away from zero.
func DaysToMinutes(days, dayHours decimal.Decimal) int64 {
	return days.Mul(dayHours).Mul(sixty).Round(0).IntPart()
}

// MinutesToDays is the display inverse of DaysToMinutes.
func MinutesToDays(minutes int64, dayHours decimal.Decimal) decimal.Decimal {
	if dayHours.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(minutes).Div(dayHours.Mul(sixty))
}

// RoundToStep rounds minutes to the nearest multiple of step (half up).
// A step of zero or less returns minutes unchanged.
func RoundToStep(minutes int64, step int) int64 {
	if step <= 0 {
		return minutes
	}
	s := decimal.NewFromInt(int64(step))
	return decimal.NewFromInt(minutes).Div(s).Round(0).Mul(s).IntPart()
}
