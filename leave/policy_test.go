package leave

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// BASE-DAY TABLE
// =============================================================================

func TestBaseDaysTable_BareMapIsYearUnit(t *testing.T) {
	var table BaseDaysTable
	require.NoError(t, json.Unmarshal([]byte(`{"0": 10, "1": 11.5}`), &table))

	assert.Equal(t, UnitYear, table.Unit)
	v, ok := table.Lookup(generic.ServiceDuration{Years: 1, Months: 7})
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromFloat(11.5)))
}

func TestBaseDaysTable_WrapperRoundTrip(t *testing.T) {
	var table BaseDaysTable
	require.NoError(t, json.Unmarshal([]byte(`{"unit": "year_month_day", "data": {"0-6-0": 5}}`), &table))
	assert.Equal(t, UnitYearMonthDay, table.Unit)

	b, err := json.Marshal(table)
	require.NoError(t, err)
	assert.JSONEq(t, `{"unit": "year_month_day", "data": {"0-6-0": 5}}`, string(b))
}

func TestBaseDaysTable_ExactLookupNoFallback(t *testing.T) {
	var table BaseDaysTable
	require.NoError(t, json.Unmarshal([]byte(`{"unit": "year_month", "data": {"1-0": 11}}`), &table))

	_, ok := table.Lookup(generic.ServiceDuration{Years: 1, Months: 6})
	assert.False(t, ok)

	v, ok := table.Lookup(generic.ServiceDuration{Years: 1, Months: 0, Days: 20})
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(11)))
}

func TestBaseDaysTable_BadKeys(t *testing.T) {
	for _, body := range []string{
		`{"unit": "year", "data": {"1-6": 10}}`,
		`{"unit": "year_month", "data": {"1-12": 10}}`,
		`{"unit": "decade", "data": {"1": 10}}`,
		`{"x": 10}`,
		`[1, 2]`,
	} {
		var table BaseDaysTable
		assert.Error(t, json.Unmarshal([]byte(body), &table), body)
	}
}

// =============================================================================
// POLICY
// =============================================================================

func TestPolicy_PresetsAreValid(t *testing.T) {
	assert.NoError(t, DefaultPolicy("acme", "annual").Validate())
	assert.NoError(t, AnnualLeavePolicy("acme", "annual").Validate())
	assert.NoError(t, FiscalLeavePolicy("acme", "annual", 4).Validate())
	assert.NoError(t, MonthlyLeavePolicy("acme", "annual", 5).Validate())
}

func TestPolicy_ValidateReportsField(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*Policy)
	}{
		{"accrual_method", func(p *Policy) { p.AccrualMethod = "weekly" }},
		{"fiscal_start_month", func(p *Policy) { p.FiscalStartMonth = 13 }},
		{"day_hours", func(p *Policy) { p.DayHours = decimal.NewFromInt(25) }},
		{"base_days_by_service", func(p *Policy) { p.BaseDays.Entries[ServiceKey{Years: 2}] = decimal.NewFromInt(-1) }},
		{"monthly_proration_basis", func(p *Policy) { p.MonthlyProration = true }},
		{"expire_months", func(p *Policy) { p.ExpireMonths = 121 }},
		{"min_booking_unit_minutes", func(p *Policy) { p.MinBookingUnitMinutes = 0 }},
		{"rounding_minutes", func(p *Policy) { p.RoundingMinutes = -5 }},
		{"deduction_timing", func(p *Policy) { p.DeductionTiming = "later" }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			p := AnnualLeavePolicy("acme", "annual")
			tt.mutate(&p)

			err := p.Validate()

			var ce *generic.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestPolicy_ExpiryFor(t *testing.T) {
	p := AnnualLeavePolicy("acme", "annual")
	assert.Equal(t, generic.MustDate("2027-04-01"), p.ExpiryFor(generic.MustDate("2025-04-01")))

	p.ExpireMonths = 0
	assert.True(t, p.ExpiryFor(generic.MustDate("2025-04-01")).IsZero())
}

func TestPolicy_CountsToward(t *testing.T) {
	var none *Policy
	assert.True(t, none.CountsToward(Consumption{Status: StatusApproved}))
	assert.False(t, none.CountsToward(Consumption{Status: StatusPending}))

	p := AnnualLeavePolicy("acme", "annual")
	p.DeductionTiming = DeductOnApply
	assert.True(t, p.CountsToward(Consumption{Status: StatusPending}))
	assert.False(t, p.CountsToward(Consumption{Status: StatusCanceled}))
}
