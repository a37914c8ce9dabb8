/*
csv.go - Bulk grant ingestion and export

PURPOSE:
  Operators load grants from spreadsheets and pull them back out in the same
  shape. Import inserts rows with source=csv; export writes any grants.

FORMAT:
  user_id,leave_type_id,quantity_minutes,granted_on,expires_on,note
  u-1,annual,480,2025-04-01,2027-04-01,carried from legacy system

  Columns may come in any order. A UTF-8 BOM on the header is ignored.
  expires_on and note may be empty; dates are YYYY-MM-DD.

ROW HANDLING:
  - Malformed fields or a user_id not in the company roster -> error row,
    the import continues
  - Same (user, leave type, granted_on) already imported from CSV, earlier in
    the same file or in a previous import -> skipped
  - A repository failure other than a duplicate aborts with the counts so far
*/
package leave

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/generic"
)

// CSVHeader is the column order written by export and the template.
var CSVHeader = []string{"user_id", "leave_type_id", "quantity_minutes", "granted_on", "expires_on", "note"}

var requiredColumns = []string{"user_id", "leave_type_id", "quantity_minutes", "granted_on"}

type ImportResult struct {
	Inserted  int                 `json:"inserted"`
	Skipped   int                 `json:"skipped"`
	ErrorRows int                 `json:"error_rows"`
	Errors    []*generic.RowError `json:"errors,omitempty"`
}

func (r *ImportResult) reject(line int, userID, reason string) {
	r.ErrorRows++
	r.Errors = append(r.Errors, &generic.RowError{Line: line, UserID: userID, Reason: reason})
}

// ImportGrantsCSV reads grants for companyID from r.
// A missing or incomplete header is a *generic.RowError on line 1.
func ImportGrantsCSV(ctx context.Context, repo Repository, companyID string, r io.Reader) (ImportResult, error) {
	var result ImportResult

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return result, &generic.RowError{Line: 1, Reason: "empty file"}
	}
	if err != nil {
		return result, &generic.RowError{Line: 1, Reason: err.Error()}
	}
	cols, err := columnIndex(header)
	if err != nil {
		return result, err
	}

	roster, err := repo.FetchRoster(ctx, companyID)
	if err != nil {
		return result, generic.Persistence("fetch roster", err)
	}
	known := make(map[string]struct{}, len(roster))
	for _, e := range roster {
		known[e.ID] = struct{}{}
	}

	existing, err := repo.FetchGrants(ctx, companyID, "")
	if err != nil {
		return result, generic.Persistence("fetch grants", err)
	}
	seen := make(map[GrantKey]struct{})
	for _, g := range existing {
		if g.Source == SourceCSV {
			seen[g.Key()] = struct{}{}
		}
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
				result.reject(line, "", pe.Err.Error())
				continue
			}
			return result, &generic.RowError{Line: line + 1, Reason: err.Error()}
		}
		// Physical line, so that numbers match the file even past blank lines.
		line, _ = reader.FieldPos(0)
		if blankRecord(record) {
			continue
		}

		g, reason := parseGrantRecord(record, cols)
		if reason != "" {
			result.reject(line, g.UserID, reason)
			continue
		}
		if _, ok := known[g.UserID]; !ok {
			result.reject(line, g.UserID, "user_id: not in company roster")
			continue
		}
		g.ID = uuid.NewString()
		g.CompanyID = companyID
		g.Source = SourceCSV

		if _, dup := seen[g.Key()]; dup {
			result.Skipped++
			continue
		}

		_, err = repo.InsertGrant(ctx, g)
		switch {
		case errors.Is(err, generic.ErrDuplicateGrant):
			result.Skipped++
		case err != nil:
			return result, generic.Persistence("insert grant", err)
		default:
			result.Inserted++
		}
		seen[g.Key()] = struct{}{}
	}
	return result, nil
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		cols[name] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &generic.RowError{Line: 1, Reason: "missing columns: " + strings.Join(missing, ", ")}
	}
	return cols, nil
}

func blankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// parseGrantRecord returns the grant and an empty reason, or the first problem found.
func parseGrantRecord(record []string, cols map[string]int) (Grant, string) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	g := Grant{
		UserID:      field("user_id"),
		LeaveTypeID: field("leave_type_id"),
		Note:        field("note"),
	}
	if g.UserID == "" {
		return g, "user_id: required"
	}
	if g.LeaveTypeID == "" {
		return g, "leave_type_id: required"
	}

	qty, err := strconv.ParseInt(field("quantity_minutes"), 10, 64)
	if err != nil {
		return g, fmt.Sprintf("quantity_minutes: %q is not an integer", field("quantity_minutes"))
	}
	if qty < 0 {
		return g, "quantity_minutes: must be non-negative"
	}
	g.QuantityMinutes = qty

	if g.GrantedOn, err = generic.ParseDate(field("granted_on")); err != nil {
		return g, "granted_on: " + err.Error()
	}
	if g.ExpiresOn, err = generic.ParseOptionalDate(field("expires_on")); err != nil {
		return g, "expires_on: " + err.Error()
	}
	if !g.ExpiresOn.IsZero() && g.ExpiresOn.Before(g.GrantedOn) {
		return g, "expires_on: must not precede granted_on"
	}
	return g, ""
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportGrantsCSV writes grants in the import format, so that an export can be
// re-imported into another company unchanged.
func ExportGrantsCSV(w io.Writer, grants []Grant) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, g := range grants {
		err := cw.Write([]string{
			g.UserID,
			g.LeaveTypeID,
			strconv.FormatInt(g.QuantityMinutes, 10),
			g.GrantedOn.String(),
			g.ExpiresOn.String(),
			g.Note,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVTemplate writes the header and one example row.
func WriteCSVTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		CSVHeader,
		{"EMPLOYEE_ID", "LEAVE_TYPE_ID", "480", "2025-04-01", "2027-04-01", "optional note"},
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
