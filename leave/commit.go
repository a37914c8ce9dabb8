/*
commit.go - Persisting grants

PURPOSE:
  Turns preview rows into Grant records (source=policy) and accepts manually
  entered grants (source=manual).

RE-RUN SAFETY:
  CommitGrants re-reads existing grants and re-runs the duplicate guard right
  before inserting, so a commit repeated after a partial failure only inserts
  what is still missing. The check is a pre-flight optimization; the
  authoritative guard is the repository's unique key on
  (user_id, leave_type_id, granted_on, source). An insert rejected by that key
  (a concurrent run won the race) is counted as skipped, not as a failure.

SEE ALSO:
  - duplicate.go: The in-memory guard
  - store/sqlite/sqlite.go: The unique index
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/generic"
)

// CommitResult counts what a commit did. Skipped covers ineligible,
// zero-amount and duplicate rows.
type CommitResult struct {
	Granted int `json:"granted"`
	Skipped int `json:"skipped"`
}

// CommitGrants inserts every committable row as a policy grant dated grantDate.
// On a repository failure it returns the counts so far together with the error.
func CommitGrants(ctx context.Context, repo Repository, rows []PreviewRow, policy Policy, grantDate generic.Date) (CommitResult, error) {
	var result CommitResult

	existing, err := repo.FetchGrants(ctx, policy.CompanyID, policy.LeaveTypeID)
	if err != nil {
		return result, generic.Persistence("fetch grants", err)
	}
	rows = DetectDuplicates(rows, existing)

	expiresOn := policy.ExpiryFor(grantDate)
	for _, row := range rows {
		if !row.Committable() || !grantedOnMatches(row, grantDate) || row.LeaveTypeID != policy.LeaveTypeID {
			result.Skipped++
			continue
		}

		_, err := repo.InsertGrant(ctx, Grant{
			ID:              uuid.NewString(),
			CompanyID:       policy.CompanyID,
			UserID:          row.UserID,
			LeaveTypeID:     policy.LeaveTypeID,
			QuantityMinutes: row.QuantityMinutes,
			GrantedOn:       grantDate,
			ExpiresOn:       expiresOn,
			Source:          SourcePolicy,
			Note:            fmt.Sprintf("%s accrual, %d service years", policy.AccrualMethod, row.ServiceYears),
		})
		switch {
		case errors.Is(err, generic.ErrDuplicateGrant):
			result.Skipped++
		case err != nil:
			return result, generic.Persistence("insert grant", err)
		default:
			result.Granted++
		}
	}
	return result, nil
}

// =============================================================================
// MANUAL GRANTS
// =============================================================================

// ManualGrant is an operator-entered grant. Dates are raw strings so that
// validation can report them per field.
type ManualGrant struct {
	UserID          string `json:"user_id" validate:"required"`
	LeaveTypeID     string `json:"leave_type_id" validate:"required"`
	QuantityMinutes int64  `json:"quantity_minutes" validate:"gte=0"`
	GrantedOn       string `json:"granted_on" validate:"required,datetime=2006-01-02"`
	ExpiresOn       string `json:"expires_on" validate:"omitempty,datetime=2006-01-02"`
	Note            string `json:"note" validate:"max=500"`
}

// CreateManualGrant validates in and inserts it with source=manual.
// Identifiers are trimmed before validation, so blank ones are rejected.
func CreateManualGrant(ctx context.Context, repo Repository, companyID string, in ManualGrant) (Grant, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.LeaveTypeID = strings.TrimSpace(in.LeaveTypeID)
	if fe := validateStruct(in); fe != nil {
		return Grant{}, &generic.RowError{UserID: in.UserID, Reason: fieldErrorReason(fe)}
	}

	grantedOn, _ := generic.ParseDate(in.GrantedOn)
	expiresOn, _ := generic.ParseOptionalDate(in.ExpiresOn)
	if !expiresOn.IsZero() && expiresOn.Before(grantedOn) {
		return Grant{}, &generic.RowError{UserID: in.UserID, Reason: "expires_on: must not precede granted_on"}
	}

	g, err := repo.InsertGrant(ctx, Grant{
		ID:              uuid.NewString(),
		CompanyID:       companyID,
		UserID:          in.UserID,
		LeaveTypeID:     in.LeaveTypeID,
		QuantityMinutes: in.QuantityMinutes,
		GrantedOn:       grantedOn,
		ExpiresOn:       expiresOn,
		Source:          SourceManual,
		Note:            in.Note,
	})
	if err != nil {
		if errors.Is(err, generic.ErrDuplicateGrant) {
			return Grant{}, err
		}
		return Grant{}, generic.Persistence("insert grant", err)
	}
	return g, nil
}
