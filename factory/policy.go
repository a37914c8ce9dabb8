/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON policy definitions into leave.Policy values and back. The
  same document is what the stores keep in their config_json column, what
  GET /policies returns and what `leavectl policy set` reads from a file.

JSON SCHEMA:
  {
    "company_id": "acme",
    "leave_type_id": "annual",
    "name": "Annual leave",
    "accrual_method": "anniversary",
    "fiscal_start_month": 4,
    "day_hours": 8,
    "anniversary_offset_days": 0,
    "base_days_by_service": {"unit": "year", "data": {"0": 10, "1": 11}},
    "monthly_proration": false,
    "carryover_max_days": 5,
    "expire_months": 24,
    "min_booking_unit_minutes": 60,
    "deduction_timing": "approve",
    "blackout_dates": ["2025-12-31"]
  }

  base_days_by_service may also be the older bare map {"0": 10, "1": 11}.

DEFAULTS:
  Missing fields take DefaultPolicy's values. carryover_max_days absent means
  unlimited; expire_months absent means 24, an explicit 0 means never.

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(jsonString) // validated
  doc := f.ToJSON(policy)

SEE ALSO:
  - leave/policy.go: Policy type definition
  - leave/policies.go: Go-based presets
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a policy.
type PolicyJSON struct {
	CompanyID   string `json:"company_id"`
	LeaveTypeID string `json:"leave_type_id"`
	Name        string `json:"name,omitempty"`

	AccrualMethod         string               `json:"accrual_method"`
	FiscalStartMonth      int                  `json:"fiscal_start_month,omitempty"` // 1-12
	DayHours              float64              `json:"day_hours,omitempty"`
	AnniversaryOffsetDays int                  `json:"anniversary_offset_days"`
	BaseDaysByService     *leave.BaseDaysTable `json:"base_days_by_service,omitempty"`

	MonthlyProration         bool    `json:"monthly_proration"`
	MonthlyProrationBasis    string  `json:"monthly_proration_basis,omitempty"`
	MonthlyMinAttendanceRate float64 `json:"monthly_min_attendance_rate"`

	CarryoverMaxDays *float64 `json:"carryover_max_days,omitempty"` // nil = unlimited
	ExpireMonths     *int     `json:"expire_months,omitempty"`

	AllowNegative         bool     `json:"allow_negative"`
	MinBookingUnitMinutes int      `json:"min_booking_unit_minutes,omitempty"`
	RoundingMinutes       int      `json:"rounding_minutes"`
	HoldOnApply           bool     `json:"hold_on_apply"`
	DeductionTiming       string   `json:"deduction_timing,omitempty"`
	BusinessDayOnly       bool     `json:"business_day_only"`
	BlackoutDates         []string `json:"blackout_dates,omitempty"`

	Version   int    `json:"version,omitempty"`
	IsActive  bool   `json:"is_active"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to Go structs.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses and validates a JSON policy document.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (leave.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return leave.Policy{}, &generic.ConfigurationError{Field: "policy", Reason: err.Error()}
	}

	p, err := f.FromJSON(pj)
	if err != nil {
		return leave.Policy{}, err
	}
	if err := p.Validate(); err != nil {
		return leave.Policy{}, err
	}
	return p, nil
}

// FromJSON converts PolicyJSON to leave.Policy without range validation, so
// that a stored policy that is no longer valid still loads and is reported
// when a grant run validates it.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (leave.Policy, error) {
	p := leave.DefaultPolicy(pj.CompanyID, pj.LeaveTypeID)
	p.Name = pj.Name
	p.AnniversaryOffsetDays = pj.AnniversaryOffsetDays
	p.MonthlyProration = pj.MonthlyProration
	p.MonthlyProrationBasis = leave.ProrationBasis(pj.MonthlyProrationBasis)
	p.MonthlyMinAttendanceRate = decimal.NewFromFloat(pj.MonthlyMinAttendanceRate)
	p.AllowNegative = pj.AllowNegative
	p.RoundingMinutes = pj.RoundingMinutes
	p.HoldOnApply = pj.HoldOnApply
	p.BusinessDayOnly = pj.BusinessDayOnly
	p.Version = pj.Version
	p.IsActive = pj.IsActive

	if pj.AccrualMethod != "" {
		p.AccrualMethod = leave.AccrualMethod(pj.AccrualMethod)
	}
	if pj.FiscalStartMonth != 0 {
		p.FiscalStartMonth = pj.FiscalStartMonth
	}
	if pj.DayHours != 0 {
		p.DayHours = decimal.NewFromFloat(pj.DayHours)
	}
	if pj.BaseDaysByService != nil {
		p.BaseDays = *pj.BaseDaysByService
	}
	if pj.CarryoverMaxDays != nil {
		d := decimal.NewFromFloat(*pj.CarryoverMaxDays)
		p.CarryoverMaxDays = &d
	}
	if pj.ExpireMonths != nil {
		p.ExpireMonths = *pj.ExpireMonths
	}
	if pj.MinBookingUnitMinutes != 0 {
		p.MinBookingUnitMinutes = pj.MinBookingUnitMinutes
	}
	if pj.DeductionTiming != "" {
		p.DeductionTiming = leave.DeductionTiming(pj.DeductionTiming)
	}

	for _, s := range pj.BlackoutDates {
		d, err := generic.ParseDate(s)
		if err != nil {
			return leave.Policy{}, &generic.ConfigurationError{Field: "blackout_dates", Reason: err.Error()}
		}
		p.BlackoutDates = append(p.BlackoutDates, d)
	}

	if pj.UpdatedAt != "" {
		t, err := time.Parse(time.RFC3339, pj.UpdatedAt)
		if err != nil {
			return leave.Policy{}, fmt.Errorf("updated_at: %w", err)
		}
		p.UpdatedAt = t
	}
	return p, nil
}

// ToJSON converts a Policy to PolicyJSON.
func (f *PolicyFactory) ToJSON(p leave.Policy) PolicyJSON {
	base := p.BaseDays
	expire := p.ExpireMonths
	pj := PolicyJSON{
		CompanyID:                p.CompanyID,
		LeaveTypeID:              p.LeaveTypeID,
		Name:                     p.Name,
		AccrualMethod:            string(p.AccrualMethod),
		FiscalStartMonth:         p.FiscalStartMonth,
		DayHours:                 p.DayHours.InexactFloat64(),
		AnniversaryOffsetDays:    p.AnniversaryOffsetDays,
		BaseDaysByService:        &base,
		MonthlyProration:         p.MonthlyProration,
		MonthlyProrationBasis:    string(p.MonthlyProrationBasis),
		MonthlyMinAttendanceRate: p.MonthlyMinAttendanceRate.InexactFloat64(),
		ExpireMonths:             &expire,
		AllowNegative:            p.AllowNegative,
		MinBookingUnitMinutes:    p.MinBookingUnitMinutes,
		RoundingMinutes:          p.RoundingMinutes,
		HoldOnApply:              p.HoldOnApply,
		DeductionTiming:          string(p.DeductionTiming),
		BusinessDayOnly:          p.BusinessDayOnly,
		Version:                  p.Version,
		IsActive:                 p.IsActive,
	}
	if p.CarryoverMaxDays != nil {
		v := p.CarryoverMaxDays.InexactFloat64()
		pj.CarryoverMaxDays = &v
	}
	for _, d := range p.BlackoutDates {
		pj.BlackoutDates = append(pj.BlackoutDates, d.String())
	}
	if !p.UpdatedAt.IsZero() {
		pj.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return pj
}

// Marshal is ToJSON followed by json.Marshal.
func (f *PolicyFactory) Marshal(p leave.Policy) ([]byte, error) {
	return json.Marshal(f.ToJSON(p))
}

// Unmarshal is the inverse of Marshal; it does not validate.
func (f *PolicyFactory) Unmarshal(b []byte) (leave.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal(b, &pj); err != nil {
		return leave.Policy{}, err
	}
	return f.FromJSON(pj)
}
