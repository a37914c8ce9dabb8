/*
patch.go - Validated partial policy updates

PURPOSE:
  Admins change one or two policy fields at a time. A PolicyPatch carries only
  the fields being changed (nil = keep). Validation happens twice: struct tags
  on the patch itself, then Policy.Validate on the merged result, so that
  cross-field rules (basis required once proration is on) see the final state.

  Every failure is a generic.FieldErrors keyed by JSON field name. Nothing is
  written when validation fails.

SEE ALSO:
  - policy.go: Policy.Validate
  - service.go: UpdatePolicy persists the merged policy
*/
package leave

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags on s and returns nil when they pass.
func validateStruct(s any) generic.FieldErrors {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return generic.FieldErrors{"_": err.Error()}
	}
	out := make(generic.FieldErrors, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = tagMessage(fe)
	}
	return out
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "datetime":
		return "must be a date (YYYY-MM-DD)"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

// fieldErrorReason flattens field errors into one row-error reason.
func fieldErrorReason(fe generic.FieldErrors) string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + fe[k]
	}
	return strings.Join(parts, "; ")
}

// =============================================================================
// POLICY PATCH
// =============================================================================

type PolicyPatch struct {
	Name                     *string        `json:"name" validate:"omitempty,max=200"`
	AccrualMethod            *string        `json:"accrual_method" validate:"omitempty,oneof=anniversary fiscal_fixed monthly"`
	FiscalStartMonth         *int           `json:"fiscal_start_month" validate:"omitempty,min=1,max=12"`
	DayHours                 *float64       `json:"day_hours" validate:"omitempty,gt=0,lte=24"`
	AnniversaryOffsetDays    *int           `json:"anniversary_offset_days" validate:"omitempty,min=0,max=365"`
	BaseDaysByService        *BaseDaysTable `json:"base_days_by_service" validate:"-"`
	MonthlyProration         *bool          `json:"monthly_proration"`
	MonthlyProrationBasis    *string        `json:"monthly_proration_basis" validate:"omitempty,oneof=days hours"`
	MonthlyMinAttendanceRate *float64       `json:"monthly_min_attendance_rate" validate:"omitempty,gte=0,lte=1"`
	CarryoverMaxDays         *float64       `json:"carryover_max_days" validate:"omitempty,gte=0"`
	CarryoverUnlimited       *bool          `json:"carryover_unlimited"`
	ExpireMonths             *int           `json:"expire_months" validate:"omitempty,min=0,max=120"`
	AllowNegative            *bool          `json:"allow_negative"`
	MinBookingUnitMinutes    *int           `json:"min_booking_unit_minutes" validate:"omitempty,min=1,max=1440"`
	RoundingMinutes          *int           `json:"rounding_minutes" validate:"omitempty,min=0,max=120"`
	HoldOnApply              *bool          `json:"hold_on_apply"`
	DeductionTiming          *string        `json:"deduction_timing" validate:"omitempty,oneof=apply approve"`
	BusinessDayOnly          *bool          `json:"business_day_only"`
	BlackoutDates            *[]string      `json:"blackout_dates" validate:"omitempty,dive,datetime=2006-01-02"`
}

// Validate checks the patch on its own. It returns nil or generic.FieldErrors.
func (p PolicyPatch) Validate() error {
	errs := validateStruct(p)
	if errs == nil {
		errs = generic.FieldErrors{}
	}

	if p.BaseDaysByService != nil {
		for k, v := range p.BaseDaysByService.Entries {
			if v.IsNegative() {
				errs["base_days_by_service"] = fmt.Sprintf("entry %s is negative", k.format(p.BaseDaysByService.Unit))
				break
			}
		}
	}
	if p.CarryoverUnlimited != nil && *p.CarryoverUnlimited && p.CarryoverMaxDays != nil {
		errs["carryover_max_days"] = "cannot be set together with carryover_unlimited"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Apply merges the patch onto base and validates the result. base is the
// current active policy, or DefaultPolicy when none exists.
func (p PolicyPatch) Apply(base Policy) (Policy, error) {
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}

	out := base
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.AccrualMethod != nil {
		out.AccrualMethod = AccrualMethod(*p.AccrualMethod)
	}
	if p.FiscalStartMonth != nil {
		out.FiscalStartMonth = *p.FiscalStartMonth
	}
	if p.DayHours != nil {
		out.DayHours = decimal.NewFromFloat(*p.DayHours)
	}
	if p.AnniversaryOffsetDays != nil {
		out.AnniversaryOffsetDays = *p.AnniversaryOffsetDays
	}
	if p.BaseDaysByService != nil {
		out.BaseDays = *p.BaseDaysByService
	}
	if p.MonthlyProration != nil {
		out.MonthlyProration = *p.MonthlyProration
	}
	if p.MonthlyProrationBasis != nil {
		out.MonthlyProrationBasis = ProrationBasis(*p.MonthlyProrationBasis)
	}
	if p.MonthlyMinAttendanceRate != nil {
		out.MonthlyMinAttendanceRate = decimal.NewFromFloat(*p.MonthlyMinAttendanceRate)
	}
	if p.CarryoverUnlimited != nil && *p.CarryoverUnlimited {
		out.CarryoverMaxDays = nil
	}
	if p.CarryoverMaxDays != nil {
		d := decimal.NewFromFloat(*p.CarryoverMaxDays)
		out.CarryoverMaxDays = &d
	}
	if p.ExpireMonths != nil {
		out.ExpireMonths = *p.ExpireMonths
	}
	if p.AllowNegative != nil {
		out.AllowNegative = *p.AllowNegative
	}
	if p.MinBookingUnitMinutes != nil {
		out.MinBookingUnitMinutes = *p.MinBookingUnitMinutes
	}
	if p.RoundingMinutes != nil {
		out.RoundingMinutes = *p.RoundingMinutes
	}
	if p.HoldOnApply != nil {
		out.HoldOnApply = *p.HoldOnApply
	}
	if p.DeductionTiming != nil {
		out.DeductionTiming = DeductionTiming(*p.DeductionTiming)
	}
	if p.BusinessDayOnly != nil {
		out.BusinessDayOnly = *p.BusinessDayOnly
	}
	if p.BlackoutDates != nil {
		dates := make([]generic.Date, 0, len(*p.BlackoutDates))
		for _, s := range *p.BlackoutDates {
			d, err := generic.ParseDate(s)
			if err != nil {
				return Policy{}, generic.FieldErrors{"blackout_dates": err.Error()}
			}
			dates = append(dates, d)
		}
		out.BlackoutDates = dates
	}

	if err := out.Validate(); err != nil {
		var ce *generic.ConfigurationError
		if errors.As(err, &ce) {
			return Policy{}, generic.FieldErrors{ce.Field: ce.Reason}
		}
		return Policy{}, err
	}

	out.DeletedAt = nil
	out.IsActive = true
	return out, nil
}

// Empty reports whether the patch changes nothing.
func (p PolicyPatch) Empty() bool {
	return p == PolicyPatch{}
}
