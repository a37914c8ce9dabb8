/*
policies.go - Pre-built leave policy configurations

PURPOSE:
  Ready-to-use policies for the common patterns. They are starting points:
  UpdatePolicy with a PolicyPatch adjusts any field afterwards.

AVAILABLE POLICIES:
  AnnualLeavePolicy:  Granted on each hire anniversary, statutory table
  FiscalLeavePolicy:  Granted to everyone on the fiscal year boundary
  MonthlyLeavePolicy: 1/12 of the annual table every month, prorated by attendance

STATUTORY TABLE:
  service years  0   1   2   3   4   5   6+
  days          10  11  12  14  16  18  20

EXAMPLE:
  p := leave.AnnualLeavePolicy("acme", "annual")
  p.ExpireMonths = 12
*/
package leave

import "github.com/shopspring/decimal"

// statutoryMaxYears bounds the table; year-unit lookups beyond it find no entry.
const statutoryMaxYears = 40

// StatutoryBaseDays returns the year-unit statutory entitlement table.
func StatutoryBaseDays() BaseDaysTable {
	days := map[int]float64{0: 10, 1: 11, 2: 12, 3: 14, 4: 16, 5: 18}
	for y := 6; y <= statutoryMaxYears; y++ {
		days[y] = 20
	}
	return YearTable(days)
}

// AnnualLeavePolicy grants on every hire anniversary, expiring after two years.
func AnnualLeavePolicy(companyID, leaveTypeID string) Policy {
	p := DefaultPolicy(companyID, leaveTypeID)
	p.Name = "Annual leave"
	p.BaseDays = StatutoryBaseDays()
	return p
}

// FiscalLeavePolicy grants everyone on day 1 of fiscalStartMonth.
func FiscalLeavePolicy(companyID, leaveTypeID string, fiscalStartMonth int) Policy {
	p := DefaultPolicy(companyID, leaveTypeID)
	p.Name = "Annual leave (fiscal year)"
	p.AccrualMethod = AccrualFiscalFixed
	p.FiscalStartMonth = fiscalStartMonth
	p.BaseDays = StatutoryBaseDays()
	return p
}

// MonthlyLeavePolicy accrues monthly, prorated by attended days, with nothing
// granted for months under 80% attendance. Carryover is capped at maxCarryoverDays.
func MonthlyLeavePolicy(companyID, leaveTypeID string, maxCarryoverDays float64) Policy {
	p := DefaultPolicy(companyID, leaveTypeID)
	p.Name = "Monthly accrual"
	p.AccrualMethod = AccrualMonthly
	p.BaseDays = StatutoryBaseDays()
	p.MonthlyProration = true
	p.MonthlyProrationBasis = BasisDays
	p.MonthlyMinAttendanceRate = decimal.NewFromFloat(0.8)
	limit := decimal.NewFromFloat(maxCarryoverDays)
	p.CarryoverMaxDays = &limit
	p.ExpireMonths = 12
	return p
}
