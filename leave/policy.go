/*
policy.go - Leave policy model

PURPOSE:
  One Policy per (company, leave type) describes how leave accrues: the accrual
  method, the base-day table keyed by service duration, proration, expiry and
  the booking rules the request workflow enforces.

ACCRUAL METHODS:
  anniversary:  granted on hire date + N years + offset days
  fiscal_fixed: granted on the fiscal boundary (fiscal start month, day 1) + offset
  monthly:      granted every month, 1/12 of the annual entitlement, optionally
                scaled by attendance

BASE-DAY TABLE:
  A tagged structure: the Unit says which service-duration granularity the keys
  use. Lookups are exact. A 1-year-6-month employee under a year_month table
  uses key "1-6"; if it is absent the employee has no entitlement, there is no
  fallback to the "1" entry.

  Stored JSON has two historical shapes, both accepted by UnmarshalJSON:
    {"0": 10, "1": 11}                                  bare map, unit=year
    {"unit": "year_month", "data": {"0-6": 10}}         wrapper
  MarshalJSON always writes the wrapper.

LIFECYCLE:
  Policies are never deleted. An update writes a new version and marks the
  previous row inactive with deleted_at set; at most one row per
  (company, leave type) is active.

SEE ALSO:
  - patch.go: Validated partial updates
  - accrual.go: Uses the policy to size grants
  - factory/policy.go: JSON representation
*/
package leave

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ENUMS
// =============================================================================

type AccrualMethod string

const (
	AccrualAnniversary AccrualMethod = "anniversary"
	AccrualFiscalFixed AccrualMethod = "fiscal_fixed"
	AccrualMonthly     AccrualMethod = "monthly"
)

type ProrationBasis string

const (
	BasisDays  ProrationBasis = "days"
	BasisHours ProrationBasis = "hours"
)

type DeductionTiming string

const (
	DeductOnApply   DeductionTiming = "apply"
	DeductOnApprove DeductionTiming = "approve"
)

// ServiceUnit selects the granularity of base-day table keys.
type ServiceUnit string

const (
	UnitYear         ServiceUnit = "year"
	UnitYearMonth    ServiceUnit = "year_month"
	UnitYearMonthDay ServiceUnit = "year_month_day"
)

// =============================================================================
// BASE-DAY TABLE
// =============================================================================

// ServiceKey is a service duration truncated to a table's unit.
type ServiceKey struct {
	Years  int
	Months int
	Days   int
}

func (k ServiceKey) format(unit ServiceUnit) string {
	switch unit {
	case UnitYearMonth:
		return fmt.Sprintf("%d-%d", k.Years, k.Months)
	case UnitYearMonthDay:
		return fmt.Sprintf("%d-%d-%d", k.Years, k.Months, k.Days)
	default:
		return strconv.Itoa(k.Years)
	}
}

// ParseServiceKey parses "Y", "Y-M" or "Y-M-D" according to unit.
func ParseServiceKey(unit ServiceUnit, s string) (ServiceKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	want := map[ServiceUnit]int{UnitYear: 1, UnitYearMonth: 2, UnitYearMonthDay: 3}[unit]
	if want == 0 {
		return ServiceKey{}, fmt.Errorf("unknown service unit %q", unit)
	}
	if len(parts) != want {
		return ServiceKey{}, fmt.Errorf("key %q does not match unit %s", s, unit)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return ServiceKey{}, fmt.Errorf("key %q: %q is not a non-negative integer", s, p)
		}
		nums[i] = n
	}
	if unit != UnitYear && nums[1] > 11 {
		return ServiceKey{}, fmt.Errorf("key %q: months must be 0-11", s)
	}
	if unit == UnitYearMonthDay && nums[2] > 30 {
		return ServiceKey{}, fmt.Errorf("key %q: days must be 0-30", s)
	}
	return ServiceKey{Years: nums[0], Months: nums[1], Days: nums[2]}, nil
}

// BaseDaysTable maps service durations to full-day entitlements.
type BaseDaysTable struct {
	Unit    ServiceUnit
	Entries map[ServiceKey]decimal.Decimal
}

// YearTable builds a year-unit table from index -> days.
func YearTable(days map[int]float64) BaseDaysTable {
	t := BaseDaysTable{Unit: UnitYear, Entries: make(map[ServiceKey]decimal.Decimal, len(days))}
	for y, d := range days {
		t.Entries[ServiceKey{Years: y}] = decimal.NewFromFloat(d)
	}
	return t
}

// KeyFor truncates a service duration to the table's unit.
func (t BaseDaysTable) KeyFor(d generic.ServiceDuration) ServiceKey {
	switch t.Unit {
	case UnitYearMonth:
		return ServiceKey{Years: d.Years, Months: d.Months}
	case UnitYearMonthDay:
		return ServiceKey{Years: d.Years, Months: d.Months, Days: d.Days}
	default:
		return ServiceKey{Years: d.Years}
	}
}

// Lookup returns the entry for exactly the key of d. No coarser fallback.
func (t BaseDaysTable) Lookup(d generic.ServiceDuration) (decimal.Decimal, bool) {
	v, ok := t.Entries[t.KeyFor(d)]
	return v, ok
}

type baseDaysWire struct {
	Unit ServiceUnit                `json:"unit"`
	Data map[string]decimal.Decimal `json:"data"`
}

func (t BaseDaysTable) MarshalJSON() ([]byte, error) {
	unit := t.Unit
	if unit == "" {
		unit = UnitYear
	}
	data := make(map[string]float64, len(t.Entries))
	for k, v := range t.Entries {
		data[k.format(unit)] = v.InexactFloat64()
	}
	return json.Marshal(struct {
		Unit ServiceUnit        `json:"unit"`
		Data map[string]float64 `json:"data"`
	}{Unit: unit, Data: data})
}

func (t *BaseDaysTable) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return fmt.Errorf("base_days_by_service: %w", err)
	}

	var w baseDaysWire
	if _, wrapped := probe["data"]; wrapped {
		if err := json.Unmarshal(b, &w); err != nil {
			return fmt.Errorf("base_days_by_service: %w", err)
		}
		if w.Unit == "" {
			w.Unit = UnitYear
		}
	} else {
		w.Unit = UnitYear
		if err := json.Unmarshal(b, &w.Data); err != nil {
			return fmt.Errorf("base_days_by_service: %w", err)
		}
	}

	out := BaseDaysTable{Unit: w.Unit, Entries: make(map[ServiceKey]decimal.Decimal, len(w.Data))}
	for raw, v := range w.Data {
		k, err := ParseServiceKey(w.Unit, raw)
		if err != nil {
			return fmt.Errorf("base_days_by_service: %w", err)
		}
		out.Entries[k] = v
	}
	*t = out
	return nil
}

// sortedKeys returns keys in ascending service order, for stable output.
func (t BaseDaysTable) sortedKeys() []ServiceKey {
	keys := make([]ServiceKey, 0, len(t.Entries))
	for k := range t.Entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Years != b.Years {
			return a.Years < b.Years
		}
		if a.Months != b.Months {
			return a.Months < b.Months
		}
		return a.Days < b.Days
	})
	return keys
}

// =============================================================================
// POLICY
// =============================================================================

type Policy struct {
	CompanyID   string
	LeaveTypeID string
	Name        string

	AccrualMethod         AccrualMethod
	FiscalStartMonth      int
	DayHours              decimal.Decimal
	AnniversaryOffsetDays int
	BaseDays              BaseDaysTable

	MonthlyProration         bool
	MonthlyProrationBasis    ProrationBasis
	MonthlyMinAttendanceRate decimal.Decimal

	CarryoverMaxDays *decimal.Decimal // nil = unlimited
	ExpireMonths     int

	// Booking rules, enforced by the request workflow.
	AllowNegative         bool
	MinBookingUnitMinutes int
	RoundingMinutes       int
	HoldOnApply           bool
	DeductionTiming       DeductionTiming
	BusinessDayOnly       bool
	BlackoutDates         []generic.Date

	// Lifecycle
	Version   int
	IsActive  bool
	DeletedAt *time.Time
	UpdatedAt time.Time
}

// DefaultPolicy is the starting point for a (company, leave type) that has
// never been configured.
func DefaultPolicy(companyID, leaveTypeID string) Policy {
	return Policy{
		CompanyID:             companyID,
		LeaveTypeID:           leaveTypeID,
		AccrualMethod:         AccrualAnniversary,
		FiscalStartMonth:      4,
		DayHours:              decimal.NewFromInt(8),
		BaseDays:              BaseDaysTable{Unit: UnitYear, Entries: map[ServiceKey]decimal.Decimal{}},
		ExpireMonths:          24,
		MinBookingUnitMinutes: 60,
		DeductionTiming:       DeductOnApprove,
		IsActive:              true,
	}
}

var maxDayHours = decimal.NewFromInt(24)

// Validate checks every range rule. It returns a *generic.ConfigurationError
// for the first violation found.
func (p Policy) Validate() error {
	fail := func(field, reason string) error {
		return &generic.ConfigurationError{Field: field, Reason: reason}
	}

	switch p.AccrualMethod {
	case AccrualAnniversary, AccrualFiscalFixed, AccrualMonthly:
	default:
		return fail("accrual_method", fmt.Sprintf("unknown method %q", p.AccrualMethod))
	}
	if p.FiscalStartMonth < 1 || p.FiscalStartMonth > 12 {
		return fail("fiscal_start_month", "must be 1-12")
	}
	if !p.DayHours.IsPositive() || p.DayHours.GreaterThan(maxDayHours) {
		return fail("day_hours", "must be greater than 0 and at most 24")
	}

	switch p.BaseDays.Unit {
	case UnitYear, UnitYearMonth, UnitYearMonthDay:
	default:
		return fail("base_days_by_service", fmt.Sprintf("unknown unit %q", p.BaseDays.Unit))
	}
	for _, k := range p.BaseDays.sortedKeys() {
		if p.BaseDays.Entries[k].IsNegative() {
			return fail("base_days_by_service", fmt.Sprintf("entry %s is negative", k.format(p.BaseDays.Unit)))
		}
	}

	if p.MonthlyProration {
		switch p.MonthlyProrationBasis {
		case BasisDays, BasisHours:
		default:
			return fail("monthly_proration_basis", "required when monthly proration is enabled (days or hours)")
		}
	}
	if p.MonthlyMinAttendanceRate.IsNegative() || p.MonthlyMinAttendanceRate.GreaterThan(decimal.NewFromInt(1)) {
		return fail("monthly_min_attendance_rate", "must be between 0 and 1")
	}
	if p.CarryoverMaxDays != nil && p.CarryoverMaxDays.IsNegative() {
		return fail("carryover_max_days", "must be non-negative")
	}
	if p.ExpireMonths < 0 || p.ExpireMonths > 120 {
		return fail("expire_months", "must be 0-120")
	}
	if p.MinBookingUnitMinutes < 1 || p.MinBookingUnitMinutes > 1440 {
		return fail("min_booking_unit_minutes", "must be 1-1440")
	}
	if p.RoundingMinutes < 0 || p.RoundingMinutes > 120 {
		return fail("rounding_minutes", "must be 0-120")
	}
	switch p.DeductionTiming {
	case DeductOnApply, DeductOnApprove:
	default:
		return fail("deduction_timing", "must be apply or approve")
	}
	for _, d := range p.BlackoutDates {
		if d.IsZero() {
			return fail("blackout_dates", "contains an empty date")
		}
	}
	return nil
}

// ExpiryFor returns the expiry date of a grant made on grantedOn, or the zero
// Date when grants under this policy never expire.
func (p Policy) ExpiryFor(grantedOn generic.Date) generic.Date {
	if p.ExpireMonths <= 0 {
		return generic.Date{}
	}
	return grantedOn.AddMonths(p.ExpireMonths)
}

// CarryoverCapMinutes converts CarryoverMaxDays to minutes; ok is false when unlimited.
func (p Policy) CarryoverCapMinutes() (int64, bool) {
	if p.CarryoverMaxDays == nil {
		return 0, false
	}
	return generic.DaysToMinutes(*p.CarryoverMaxDays, p.DayHours), true
}

// CountsToward reports whether a consumption reduces balance under this policy.
// Pending requests count only when deduction happens on apply.
func (p *Policy) CountsToward(c Consumption) bool {
	switch c.Status {
	case StatusApproved:
		return true
	case StatusPending:
		return p != nil && p.DeductionTiming == DeductOnApply
	default:
		return false
	}
}
