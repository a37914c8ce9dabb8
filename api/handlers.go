/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes leave.Service over REST. Handles HTTP request/response, JSON and
  CSV serialization, and delegates everything else to the service.

ENDPOINTS (all under /api/companies/{companyID}):
  Roster:
    GET    /employees                  List roster
    POST   /employees                  Add or replace an employee
    POST   /consumptions               Record leave taken or requested

  Policies:
    GET    /policies                   Active policies
    GET    /policies/{leaveTypeID}     One active policy
    PUT    /policies/{leaveTypeID}     Partial update (new version)

  Grants:
    GET    /grants/preview             ?leave_type_id=&grant_date=
    POST   /grants/run                 {"leave_type_id", "grant_date"}
    POST   /grants                     Manual grant
    POST   /grants/import              text/csv body
    GET    /grants/export              ?leave_type_id= (optional)
    GET    /grants/template            Empty CSV with an example row

  Balances:
    GET    /balances                   ?user_id=&leave_type_id=&as_of=

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid policy, row or patch (field errors listed under "fields")
  - 404: No active policy
  - 409: Duplicate grant, grant run already in progress
  - 500: Persistence and other internal errors

SECURITY NOTE:
  No authentication or authorization. Deploy behind a gateway that does both.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

const maxImportBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service       *leave.Service
	PolicyFactory *factory.PolicyFactory
	Logger        *slog.Logger
}

// NewHandler creates a new handler for the given service.
func NewHandler(svc *leave.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service:       svc,
		PolicyFactory: factory.NewPolicyFactory(),
		Logger:        logger,
	}
}

func companyID(r *http.Request) string { return chi.URLParam(r, "companyID") }

// =============================================================================
// ROSTER HANDLERS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	roster, err := h.Service.Roster(r.Context(), companyID(r))
	if err != nil {
		h.fail(w, r, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(roster))
	for i, e := range roster {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Service.SaveEmployee(r.Context(), companyID(r), req.toEmployee()); err != nil {
		h.fail(w, r, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) RecordConsumption(w http.ResponseWriter, r *http.Request) {
	var req ConsumptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := req.toConsumption(companyID(r))
	if err != nil {
		h.fail(w, r, "Invalid consumption", err)
		return
	}
	if err := h.Service.RecordConsumption(r.Context(), c); err != nil {
		h.fail(w, r, "Failed to record consumption", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Service.Policies(r.Context(), companyID(r))
	if err != nil {
		h.fail(w, r, "Failed to list policies", err)
		return
	}

	dtos := make([]factory.PolicyJSON, len(policies))
	for i, p := range policies {
		dtos[i] = h.PolicyFactory.ToJSON(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Policy(r.Context(), companyID(r), chi.URLParam(r, "leaveTypeID"))
	if err != nil {
		h.fail(w, r, "Policy not available", err)
		return
	}
	writeJSON(w, http.StatusOK, h.PolicyFactory.ToJSON(p))
}

// UpdatePolicy applies a partial update. Unknown fields are rejected so that
// a typo cannot silently leave a setting unchanged.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var patch leave.PolicyPatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Service.UpdatePolicy(r.Context(), companyID(r), chi.URLParam(r, "leaveTypeID"), patch)
	if err != nil {
		h.fail(w, r, "Failed to update policy", err)
		return
	}
	writeJSON(w, http.StatusOK, h.PolicyFactory.ToJSON(p))
}

// =============================================================================
// GRANT HANDLERS
// =============================================================================

func (h *Handler) PreviewGrants(w http.ResponseWriter, r *http.Request) {
	leaveTypeID := r.URL.Query().Get("leave_type_id")
	grantDate, ok := h.grantDate(w, r.URL.Query().Get("grant_date"))
	if !ok {
		return
	}

	rows, err := h.Service.PreviewGrant(r.Context(), companyID(r), leaveTypeID, grantDate)
	if err != nil {
		h.fail(w, r, "Failed to preview grants", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewResponse(grantDate, rows))
}

func (h *Handler) RunGrants(w http.ResponseWriter, r *http.Request) {
	var req RunGrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grantDate, ok := h.grantDate(w, req.GrantDate)
	if !ok {
		return
	}

	result, err := h.Service.RunGrant(r.Context(), companyID(r), req.LeaveTypeID, grantDate)
	if err != nil {
		h.fail(w, r, "Grant run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CreateManualGrant(w http.ResponseWriter, r *http.Request) {
	var req leave.ManualGrant
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.Service.CreateManualGrant(r.Context(), companyID(r), req)
	if err != nil {
		h.fail(w, r, "Failed to create grant", err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *Handler) ImportGrants(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	result, err := h.Service.ImportCSV(r.Context(), companyID(r), body)
	if err != nil {
		h.fail(w, r, "Import failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toImportResponse(result))
}

func (h *Handler) ExportGrants(w http.ResponseWriter, r *http.Request) {
	leaveTypeID := r.URL.Query().Get("leave_type_id")
	name := "grants.csv"
	if leaveTypeID != "" {
		name = fmt.Sprintf("grants-%s.csv", leaveTypeID)
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := h.Service.ExportGrants(r.Context(), companyID(r), leaveTypeID, w); err != nil {
		// Headers may already be sent; log only.
		h.Logger.Error("grant export failed", "company_id", companyID(r), "error", err)
	}
}

func (h *Handler) GrantTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="grants-template.csv"`)
	if err := leave.WriteCSVTemplate(w); err != nil {
		h.Logger.Error("template write failed", "error", err)
	}
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asOf, err := generic.ParseOptionalDate(q.Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}

	report, err := h.Service.GetBalances(r.Context(), companyID(r), q.Get("user_id"), q.Get("leave_type_id"), asOf)
	if err != nil {
		h.fail(w, r, "Failed to compute balances", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

// grantDate parses s, defaulting to the service's today when empty.
func (h *Handler) grantDate(w http.ResponseWriter, s string) (generic.Date, bool) {
	if s == "" {
		return h.Service.Today(), true
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid grant_date", err)
		return generic.Date{}, false
	}
	return d, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		var fe generic.FieldErrors
		if errors.As(err, &fe) {
			resp.Fields = fe
		}
	}
	writeJSON(w, status, resp)
}

// fail maps err to a status, logs server-side failures and writes the response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), message, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrDuplicateGrant), errors.Is(err, generic.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
