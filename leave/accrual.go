/*
accrual.go - Policy-driven grant sizing

PURPOSE:
  Given a policy, a grant date and a roster, decide for every employee whether
  a grant is due on that date and how many minutes it is worth. The result is
  a preview; nothing is persisted here.

PER-EMPLOYEE STEPS:
  1. Service: whole years from hire date to grant date. Hired after the grant
     date -> ineligible "not yet hired". Unparsable hire date -> ineligible row,
     the batch continues.
  2. Method:
     anniversary   eligible iff grantDate == hire + N years + offset days
     fiscal_fixed  eligible iff grantDate == (fiscalStartMonth/1 of some year) + offset;
                   service is measured at the unshifted fiscal boundary
     monthly       eligible on any date; base = annual entry / 12, scaled by the
                   attendance ratio when proration is on
  3. Minutes = round(baseDays * dayHours * 60), then rounded to RoundingMinutes.
     Zero -> ineligible "computed amount is zero".

FAILURE SEMANTICS:
  A policy that fails Validate() aborts before any employee is looked at.
  Everything about a single employee is reported on that employee's row.

EXAMPLE:
  policy:   anniversary, 8h days, {0: 10, 1: 11}
  employee: hired 2024-01-15
  grant:    2025-01-15 -> serviceYears 1, baseDays 11, 5280 minutes

SEE ALSO:
  - duplicate.go: Flags rows that were already granted
  - commit.go: Persists committable rows
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

var one = decimal.NewFromInt(1)

// ComputeGrants returns one preview row per employee, in roster order.
func ComputeGrants(policy Policy, grantDate generic.Date, employees []Employee) ([]PreviewRow, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if grantDate.IsZero() {
		return nil, &generic.ConfigurationError{Field: "grant_date", Reason: "required"}
	}

	rows := make([]PreviewRow, 0, len(employees))
	for _, emp := range employees {
		rows = append(rows, computeRow(policy, grantDate, emp))
	}
	return rows, nil
}

func computeRow(p Policy, grantDate generic.Date, emp Employee) PreviewRow {
	row := PreviewRow{
		UserID:      emp.ID,
		LeaveTypeID: p.LeaveTypeID,
		GrantedOn:   grantDate,
		BaseDays:    decimal.Zero,
	}
	if emp.ID == "" {
		row.Reason = ReasonMissingEmployeeID
		return row
	}

	hire, err := generic.ParseDate(emp.HireDate)
	if err != nil {
		row.Reason = ReasonBadHireDate
		return row
	}
	if hire.After(grantDate) {
		row.Reason = ReasonNotYetHired
		return row
	}

	service := generic.ServiceBetween(hire, grantDate)
	row.ServiceYears = service.Years

	var baseDays decimal.Decimal
	switch p.AccrualMethod {
	case AccrualAnniversary:
		n, ok := anniversaryIndex(hire, grantDate, p.AnniversaryOffsetDays)
		if !ok {
			row.Reason = ReasonNotAnniversary
			return row
		}
		row.ServiceYears = n
		if p.BaseDays.Unit == UnitYear {
			service = generic.ServiceDuration{Years: n}
		}
		entry, found := p.BaseDays.Lookup(service)
		if !found {
			row.Reason = ReasonNoBaseDays
			return row
		}
		baseDays = entry

	case AccrualFiscalFixed:
		boundary, ok := fiscalBoundary(grantDate, p.FiscalStartMonth, p.AnniversaryOffsetDays)
		if !ok {
			row.Reason = ReasonNotFiscalBoundary
			return row
		}
		service = generic.ServiceBetween(hire, boundary)
		if service.Years < 0 {
			// Hired inside the offset window after the boundary: first fiscal year.
			service = generic.ServiceDuration{}
		}
		row.ServiceYears = service.Years
		entry, found := p.BaseDays.Lookup(service)
		if !found {
			row.Reason = ReasonNoBaseDays
			return row
		}
		baseDays = entry

	case AccrualMonthly:
		annual, found := p.BaseDays.Lookup(service)
		if !found {
			row.Reason = ReasonNoBaseDays
			return row
		}
		ratio := attendanceRatio(p, emp)
		if p.MonthlyProration && ratio.LessThan(p.MonthlyMinAttendanceRate) {
			row.Reason = ReasonAttendanceTooLow
			return row
		}
		baseDays = annual.Mul(ratio).Div(generic.MonthsPerYear())
	}

	row.BaseDays = baseDays
	row.QuantityMinutes = generic.RoundToStep(generic.DaysToMinutes(baseDays, p.DayHours), p.RoundingMinutes)
	if row.QuantityMinutes <= 0 {
		row.Reason = ReasonZeroAmount
		return row
	}
	row.Eligible = true
	return row
}

// anniversaryIndex finds N >= 0 with hire + N years + offset days == grantDate.
func anniversaryIndex(hire, grantDate generic.Date, offsetDays int) (int, bool) {
	unshifted := grantDate.AddDays(-offsetDays)
	n := generic.WholeYearsBetween(hire, unshifted)
	if n < 0 {
		return 0, false
	}
	if !hire.AddYears(n).AddDays(offsetDays).Equal(grantDate) {
		return 0, false
	}
	return n, true
}

// fiscalBoundary returns the unshifted boundary whose shifted date is grantDate.
func fiscalBoundary(grantDate generic.Date, startMonth, offsetDays int) (generic.Date, bool) {
	for year := grantDate.Year() - 1; year <= grantDate.Year()+1; year++ {
		boundary := generic.StartOfMonth(year, time.Month(startMonth))
		if boundary.AddDays(offsetDays).Equal(grantDate) {
			return boundary, true
		}
	}
	return generic.Date{}, false
}

// attendanceRatio is the employee's ratio for the policy's basis, 1 when
// proration is off or the roster supplies none, clamped to [0, 1].
func attendanceRatio(p Policy, emp Employee) decimal.Decimal {
	if !p.MonthlyProration {
		return one
	}
	r := emp.Attendance.ratio(p.MonthlyProrationBasis)
	if r == nil {
		return one
	}
	switch {
	case r.GreaterThan(one):
		return one
	case r.IsNegative():
		return decimal.Zero
	}
	return *r
}
