/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Employee:    EmployeeDTO
  Consumption: ConsumptionRequest
  Policy:      factory.PolicyJSON (responses), leave.PolicyPatch (PUT body)
  Grants:      PreviewResponse, RunGrantRequest, ImportResponse
  Balances:    leave.BalanceReport

VALIDATION:
  PUT /policies and POST /grants bodies are validated by the leave package
  (validator struct tags); the DTOs here only convert.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO is a roster entry. Attendance ratios are 0..1 and optional.
type EmployeeDTO struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	HireDate        string   `json:"hire_date"`
	AttendanceDays  *float64 `json:"attendance_days,omitempty"`
	AttendanceHours *float64 `json:"attendance_hours,omitempty"`
}

func toEmployeeDTO(e leave.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:              e.ID,
		Name:            e.Name,
		HireDate:        e.HireDate,
		AttendanceDays:  floatPtr(e.Attendance.Days),
		AttendanceHours: floatPtr(e.Attendance.Hours),
	}
}

func (d EmployeeDTO) toEmployee() leave.Employee {
	return leave.Employee{
		ID:       d.ID,
		Name:     d.Name,
		HireDate: d.HireDate,
		Attendance: leave.Attendance{
			Days:  decimalPtr(d.AttendanceDays),
			Hours: decimalPtr(d.AttendanceHours),
		},
	}
}

// =============================================================================
// CONSUMPTIONS
// =============================================================================

// ConsumptionRequest records leave taken (or requested) by an employee.
type ConsumptionRequest struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	LeaveTypeID     string `json:"leave_type_id"`
	QuantityMinutes int64  `json:"quantity_minutes"`
	ConsumedOn      string `json:"consumed_on"`
	Status          string `json:"status"`
	StartDate       string `json:"start_date,omitempty"`
	EndDate         string `json:"end_date,omitempty"`
}

func (r ConsumptionRequest) toConsumption(companyID string) (leave.Consumption, error) {
	c := leave.Consumption{
		ID:              r.ID,
		CompanyID:       companyID,
		UserID:          r.UserID,
		LeaveTypeID:     r.LeaveTypeID,
		QuantityMinutes: r.QuantityMinutes,
		Status:          leave.ConsumptionStatus(r.Status),
	}
	var err error
	if c.ConsumedOn, err = generic.ParseDate(r.ConsumedOn); err != nil {
		return c, &generic.RowError{UserID: r.UserID, Reason: "consumed_on: " + err.Error()}
	}
	if c.StartDate, err = generic.ParseOptionalDate(r.StartDate); err != nil {
		return c, &generic.RowError{UserID: r.UserID, Reason: "start_date: " + err.Error()}
	}
	if c.EndDate, err = generic.ParseOptionalDate(r.EndDate); err != nil {
		return c, &generic.RowError{UserID: r.UserID, Reason: "end_date: " + err.Error()}
	}
	switch c.Status {
	case "", leave.StatusPending, leave.StatusApproved, leave.StatusRejected, leave.StatusCanceled:
	default:
		return c, &generic.RowError{UserID: r.UserID, Reason: "status: must be pending, approved, rejected or canceled"}
	}
	return c, nil
}

// =============================================================================
// GRANTS
// =============================================================================

// PreviewRowDTO is leave.PreviewRow with base days as a number.
type PreviewRowDTO struct {
	UserID          string  `json:"user_id"`
	LeaveTypeID     string  `json:"leave_type_id"`
	GrantedOn       string  `json:"granted_on"`
	Eligible        bool    `json:"eligible"`
	ServiceYears    int     `json:"service_years"`
	BaseDays        float64 `json:"base_days"`
	QuantityMinutes int64   `json:"quantity_minutes"`
	Duplicate       bool    `json:"duplicate"`
	Reason          string  `json:"reason,omitempty"`
}

type PreviewResponse struct {
	GrantDate string              `json:"grant_date"`
	Totals    leave.PreviewTotals `json:"totals"`
	Rows      []PreviewRowDTO     `json:"rows"`
}

func toPreviewResponse(grantDate generic.Date, rows []leave.PreviewRow) PreviewResponse {
	resp := PreviewResponse{
		GrantDate: grantDate.String(),
		Totals:    leave.Totals(rows),
		Rows:      make([]PreviewRowDTO, len(rows)),
	}
	for i, r := range rows {
		resp.Rows[i] = PreviewRowDTO{
			UserID:          r.UserID,
			LeaveTypeID:     r.LeaveTypeID,
			GrantedOn:       r.GrantedOn.String(),
			Eligible:        r.Eligible,
			ServiceYears:    r.ServiceYears,
			BaseDays:        r.BaseDays.InexactFloat64(),
			QuantityMinutes: r.QuantityMinutes,
			Duplicate:       r.Duplicate,
			Reason:          r.Reason,
		}
	}
	return resp
}

// RunGrantRequest is the POST /grants/run body. An empty grant_date means today.
type RunGrantRequest struct {
	LeaveTypeID string `json:"leave_type_id"`
	GrantDate   string `json:"grant_date"`
}

type RowErrorDTO struct {
	Line   int    `json:"line"`
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason"`
}

type ImportResponse struct {
	Inserted  int           `json:"inserted"`
	Skipped   int           `json:"skipped"`
	ErrorRows int           `json:"error_rows"`
	Errors    []RowErrorDTO `json:"errors"`
}

func toImportResponse(r leave.ImportResult) ImportResponse {
	resp := ImportResponse{
		Inserted:  r.Inserted,
		Skipped:   r.Skipped,
		ErrorRows: r.ErrorRows,
		Errors:    make([]RowErrorDTO, len(r.Errors)),
	}
	for i, e := range r.Errors {
		resp.Errors[i] = RowErrorDTO{Line: e.Line, UserID: e.UserID, Reason: e.Reason}
	}
	return resp
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func floatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

func decimalPtr(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}
