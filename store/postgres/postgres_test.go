package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

var grantCols = []string{"id", "company_id", "user_id", "leave_type_id", "quantity_minutes",
	"granted_on", "expires_on", "source", "note"}

var policyCols = []string{"config_json", "version", "is_active", "deleted_at", "updated_at"}

func sampleGrant() leave.Grant {
	return leave.Grant{
		ID: "g-1", CompanyID: "acme", UserID: "u-1", LeaveTypeID: "annual",
		QuantityMinutes: 5280,
		GrantedOn:       generic.MustDate("2025-01-15"),
		ExpiresOn:       generic.MustDate("2027-01-15"),
		Source:          leave.SourcePolicy,
	}
}

// =============================================================================
// GRANTS
// =============================================================================

func TestInsertGrant(t *testing.T) {
	s, mock := newMockStore(t)
	g := sampleGrant()

	mock.ExpectExec(q(insertGrantSQL)).
		WithArgs("g-1", "acme", "u-1", "annual", int64(5280),
			g.GrantedOn.Time(), g.ExpiresOn.Time(), "policy", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.InsertGrant(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func TestInsertGrant_ConflictIsDuplicate(t *testing.T) {
	// GIVEN: ON CONFLICT DO NOTHING affected no rows
	s, mock := newMockStore(t)
	g := sampleGrant()
	g.ExpiresOn = generic.Date{}

	mock.ExpectExec(q(insertGrantSQL)).
		WithArgs("g-1", "acme", "u-1", "annual", int64(5280),
			g.GrantedOn.Time(), nil, "policy", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// WHEN / THEN
	_, err := s.InsertGrant(context.Background(), g)
	assert.True(t, errors.Is(err, generic.ErrDuplicateGrant))
}

func TestInsertGrant_DriverError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectExec(q(insertGrantSQL)).WillReturnError(boom)

	_, err := s.InsertGrant(context.Background(), sampleGrant())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, errors.Is(err, generic.ErrDuplicateGrant))
}

func TestFetchGrants(t *testing.T) {
	s, mock := newMockStore(t)
	granted := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q(selectGrantsSQL)).
		WithArgs("acme", "").
		WillReturnRows(sqlmock.NewRows(grantCols).
			AddRow("g-1", "acme", "u-1", "annual", int64(5280), granted, granted.AddDate(2, 0, 0), "policy", "").
			AddRow("g-2", "acme", "u-1", "annual", int64(600), granted, nil, "manual", "correction"))

	grants, err := s.FetchGrants(context.Background(), "acme", "")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, sampleGrant(), grants[0])
	assert.True(t, grants[1].ExpiresOn.IsZero())
	assert.Equal(t, leave.SourceManual, grants[1].Source)
	assert.Equal(t, "correction", grants[1].Note)
}

// =============================================================================
// CONSUMPTIONS
// =============================================================================

func TestSaveConsumption(t *testing.T) {
	s, mock := newMockStore(t)
	c := leave.Consumption{
		ID: "c-1", CompanyID: "acme", UserID: "u-1", LeaveTypeID: "annual",
		QuantityMinutes: 480, ConsumedOn: generic.MustDate("2025-02-03"), Status: leave.StatusApproved,
	}

	mock.ExpectExec(q(upsertConsumptionSQL)).
		WithArgs("c-1", "acme", "u-1", "annual", int64(480), c.ConsumedOn.Time(), "approved", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveConsumption(context.Background(), c))
}

// =============================================================================
// POLICIES
// =============================================================================

func TestFetchPolicy_NoneActive(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT config_json::text`).
		WithArgs("acme", "annual").
		WillReturnRows(sqlmock.NewRows(policyCols))

	p, err := s.FetchPolicy(context.Background(), "acme", "annual")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFetchPolicy_DecodesStoredConfig(t *testing.T) {
	s, mock := newMockStore(t)
	stored := leave.FiscalLeavePolicy("acme", "annual", 4)
	config, err := factory.NewPolicyFactory().Marshal(stored)
	require.NoError(t, err)
	updated := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT config_json::text`).
		WithArgs("acme", "annual").
		WillReturnRows(sqlmock.NewRows(policyCols).AddRow(string(config), 3, true, nil, updated))

	p, err := s.FetchPolicy(context.Background(), "acme", "annual")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3, p.Version)
	assert.True(t, p.IsActive)
	assert.Equal(t, leave.AccrualFiscalFixed, p.AccrualMethod)
	assert.Equal(t, 4, p.FiscalStartMonth)
	assert.True(t, updated.Equal(p.UpdatedAt))
	assert.Nil(t, p.DeletedAt)
}

func TestUpsertPolicy_SupersedesInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	// GIVEN: Version 1 already exists
	mock.ExpectBegin()
	mock.ExpectExec(q(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("acme:annual").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`SELECT COALESCE(MAX(version), 0) FROM policies`)).
		WithArgs("acme", "annual").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
	mock.ExpectExec(q(`UPDATE policies SET is_active = FALSE`)).
		WithArgs("acme", "annual", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`INSERT INTO policies`)).
		WithArgs("acme", "annual", "Annual leave", sqlmock.AnyArg(), 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// WHEN: Writing a new version
	p, err := s.UpsertPolicy(context.Background(), "acme", "annual", leave.AnnualLeavePolicy("acme", "annual"))

	// THEN: It becomes version 2 and active
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
	assert.True(t, p.IsActive)
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestUpsertPolicy_RollsBackOnInsertFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`SELECT COALESCE(MAX(version), 0) FROM policies`)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectExec(q(`UPDATE policies SET is_active = FALSE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`INSERT INTO policies`)).
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	_, err := s.UpsertPolicy(context.Background(), "acme", "annual", leave.AnnualLeavePolicy("acme", "annual"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert policy")
}

// =============================================================================
// ROSTER
// =============================================================================

func TestSaveEmployee(t *testing.T) {
	s, mock := newMockStore(t)
	days := decimal.RequireFromString("0.9")

	mock.ExpectExec(q(upsertEmployeeSQL)).
		WithArgs("acme", "u-1", "Ada", "2024-01-15", "0.9", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveEmployee(context.Background(), "acme", leave.Employee{
		ID: "u-1", Name: "Ada", HireDate: "2024-01-15", Attendance: leave.Attendance{Days: &days},
	})
	require.NoError(t, err)
}

func TestFetchRoster(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q(selectRosterSQL)).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "hire_date", "attendance_days", "attendance_hours"}).
			AddRow("u-1", "Ada", "2024-01-15", "0.9", nil).
			AddRow("u-2", "", "15/01/2023", nil, "1"))

	roster, err := s.FetchRoster(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	require.NotNil(t, roster[0].Attendance.Days)
	assert.Equal(t, "0.9", roster[0].Attendance.Days.String())
	assert.Nil(t, roster[0].Attendance.Hours)
	// Malformed hire dates are passed through for the accrual step to report.
	assert.Equal(t, "15/01/2023", roster[1].HireDate)
	require.NotNil(t, roster[1].Attendance.Hours)
	assert.True(t, decimal.NewFromInt(1).Equal(*roster[1].Attendance.Hours))
}
