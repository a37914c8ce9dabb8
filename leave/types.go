// Package leave implements paid-leave grant accrual, ingestion and balances.
// It uses the generic primitives for dates, minutes and FIFO allocation and
// talks to persistence only through the Repository interface.
package leave

import (
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// GRANT - Leave minutes given to one employee for one leave type
// =============================================================================

// Source records how a grant came into existence.
type Source string

const (
	SourcePolicy Source = "policy"
	SourceCSV    Source = "csv"
	SourceManual Source = "manual"
)

func (s Source) Valid() bool {
	switch s {
	case SourcePolicy, SourceCSV, SourceManual:
		return true
	}
	return false
}

type Grant struct {
	ID              string       `json:"id"`
	CompanyID       string       `json:"company_id"`
	UserID          string       `json:"user_id"`
	LeaveTypeID     string       `json:"leave_type_id"`
	QuantityMinutes int64        `json:"quantity_minutes"`
	GrantedOn       generic.Date `json:"granted_on"`
	ExpiresOn       generic.Date `json:"expires_on"` // zero = never
	Source          Source       `json:"source"`
	Note            string       `json:"note,omitempty"`
}

// GrantKey is the uniqueness key enforced by every repository.
type GrantKey struct {
	UserID      string
	LeaveTypeID string
	GrantedOn   generic.Date
	Source      Source
}

func (g Grant) Key() GrantKey {
	return GrantKey{UserID: g.UserID, LeaveTypeID: g.LeaveTypeID, GrantedOn: g.GrantedOn, Source: g.Source}
}

// Expired reports whether the grant's expiry date is strictly before asOf.
func (g Grant) Expired(asOf generic.Date) bool {
	return !g.ExpiresOn.IsZero() && g.ExpiresOn.Before(asOf)
}

// =============================================================================
// CONSUMPTION - Leave minutes used (produced by the request workflow)
// =============================================================================

type ConsumptionStatus string

const (
	StatusPending  ConsumptionStatus = "pending"
	StatusApproved ConsumptionStatus = "approved"
	StatusRejected ConsumptionStatus = "rejected"
	StatusCanceled ConsumptionStatus = "canceled"
)

type Consumption struct {
	ID              string            `json:"id"`
	CompanyID       string            `json:"company_id"`
	UserID          string            `json:"user_id"`
	LeaveTypeID     string            `json:"leave_type_id"`
	QuantityMinutes int64             `json:"quantity_minutes"`
	ConsumedOn      generic.Date      `json:"consumed_on"`
	Status          ConsumptionStatus `json:"status"`
	StartDate       generic.Date      `json:"start_date"`
	EndDate         generic.Date      `json:"end_date"`
}

// =============================================================================
// EMPLOYEE - Roster entry (read-only to the engine)
// =============================================================================

// Employee carries the raw hire date so that a malformed roster record becomes
// an ineligible preview row instead of failing the whole batch.
type Employee struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	HireDate   string     `json:"hire_date"`
	Attendance Attendance `json:"attendance"`
}

// Attendance ratios for the month being granted, 0..1. Nil means not supplied.
type Attendance struct {
	Days  *decimal.Decimal `json:"days,omitempty"`
	Hours *decimal.Decimal `json:"hours,omitempty"`
}

func (a Attendance) ratio(basis ProrationBasis) *decimal.Decimal {
	switch basis {
	case BasisDays:
		return a.Days
	case BasisHours:
		return a.Hours
	}
	return nil
}

// =============================================================================
// PREVIEW ROW - Per-employee result of a grant computation (not persisted)
// =============================================================================

type PreviewRow struct {
	UserID          string          `json:"user_id"`
	LeaveTypeID     string          `json:"leave_type_id"`
	GrantedOn       generic.Date    `json:"granted_on"`
	Eligible        bool            `json:"eligible"`
	ServiceYears    int             `json:"service_years"`
	BaseDays        decimal.Decimal `json:"base_days"`
	QuantityMinutes int64           `json:"quantity_minutes"`
	Duplicate       bool            `json:"duplicate"`
	Reason          string          `json:"reason,omitempty"`
}

// Committable is true for rows that a commit would insert.
func (r PreviewRow) Committable() bool {
	return r.Eligible && r.QuantityMinutes > 0 && !r.Duplicate
}

// Ineligibility reasons.
const (
	ReasonNotYetHired       = "not yet hired"
	ReasonBadHireDate       = "invalid hire date"
	ReasonNotAnniversary    = "grant date is not a service anniversary"
	ReasonNotFiscalBoundary = "grant date is not the fiscal boundary"
	ReasonNoBaseDays        = "no base-day entry for this service year"
	ReasonAttendanceTooLow  = "attendance below minimum"
	ReasonZeroAmount        = "computed amount is zero"
	ReasonMissingEmployeeID = "missing employee id"
)
