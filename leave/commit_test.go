package leave_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// flakyRepo fails every InsertGrant after the first failAfter successes.
type flakyRepo struct {
	*memory.Memory
	failAfter int
	inserts   int
}

var errDiskFull = errors.New("disk full")

func (r *flakyRepo) InsertGrant(ctx context.Context, g leave.Grant) (leave.Grant, error) {
	if r.inserts >= r.failAfter {
		return leave.Grant{}, errDiskFull
	}
	r.inserts++
	return r.Memory.InsertGrant(ctx, g)
}

func seedRoster(t *testing.T, m *memory.Memory, company string, employees ...leave.Employee) {
	t.Helper()
	for _, e := range employees {
		require.NoError(t, m.SaveEmployee(context.Background(), company, e))
	}
}

func anniversaryRows(t *testing.T, p leave.Policy, date string, roster []leave.Employee) []leave.PreviewRow {
	t.Helper()
	rows, err := leave.ComputeGrants(p, generic.MustDate(date), roster)
	require.NoError(t, err)
	return rows
}

var januaryHires = []leave.Employee{
	{ID: "u-1", HireDate: "2024-01-15"},
	{ID: "u-2", HireDate: "2023-01-15"},
	{ID: "u-3", HireDate: "2022-01-15"},
}

// =============================================================================
// POLICY COMMITS
// =============================================================================

func TestCommitGrants_InsertsPolicyGrantsWithExpiry(t *testing.T) {
	// GIVEN: Three employees with an anniversary on 2025-01-15
	ctx := context.Background()
	m := memory.NewMemory()
	p := leave.AnnualLeavePolicy("acme", "annual")
	rows := anniversaryRows(t, p, "2025-01-15", januaryHires)

	// WHEN: Committing
	result, err := leave.CommitGrants(ctx, m, rows, p, generic.MustDate("2025-01-15"))

	// THEN: Three policy grants expiring after 24 months
	require.NoError(t, err)
	assert.Equal(t, leave.CommitResult{Granted: 3}, result)

	grants, err := m.FetchGrants(ctx, "acme", "annual")
	require.NoError(t, err)
	require.Len(t, grants, 3)
	for _, g := range grants {
		assert.Equal(t, leave.SourcePolicy, g.Source)
		assert.Equal(t, "acme", g.CompanyID)
		assert.Equal(t, generic.MustDate("2027-01-15"), g.ExpiresOn)
		assert.NotEmpty(t, g.ID)
	}
}

func TestCommitGrants_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := memory.NewMemory()
	p := leave.AnnualLeavePolicy("acme", "annual")
	rows := anniversaryRows(t, p, "2025-01-15", januaryHires)
	date := generic.MustDate("2025-01-15")

	_, err := leave.CommitGrants(ctx, m, rows, p, date)
	require.NoError(t, err)

	// Stale rows (computed before the first commit) are still caught.
	again, err := leave.CommitGrants(ctx, m, rows, p, date)
	require.NoError(t, err)
	assert.Equal(t, leave.CommitResult{Granted: 0, Skipped: 3}, again)

	grants, _ := m.FetchGrants(ctx, "acme", "annual")
	assert.Len(t, grants, 3)
}

func TestCommitGrants_PartialFailureThenRetry(t *testing.T) {
	// GIVEN: A repository that fails after the first insert
	ctx := context.Background()
	m := memory.NewMemory()
	repo := &flakyRepo{Memory: m, failAfter: 1}
	p := leave.AnnualLeavePolicy("acme", "annual")
	rows := anniversaryRows(t, p, "2025-01-15", januaryHires)
	date := generic.MustDate("2025-01-15")

	// WHEN: Committing
	result, err := leave.CommitGrants(ctx, repo, rows, p, date)

	// THEN: The error is a persistence failure carrying the partial count
	assert.ErrorIs(t, err, generic.ErrPersistence)
	assert.ErrorIs(t, err, errDiskFull)
	assert.True(t, generic.IsRetryable(err))
	assert.Equal(t, 1, result.Granted)

	// AND: A retry after recovery inserts only what is missing
	retry, err := leave.CommitGrants(ctx, m, rows, p, date)
	require.NoError(t, err)
	assert.Equal(t, leave.CommitResult{Granted: 2, Skipped: 1}, retry)
}

func TestCommitGrants_SkipsRowsForOtherDates(t *testing.T) {
	ctx := context.Background()
	m := memory.NewMemory()
	p := leave.AnnualLeavePolicy("acme", "annual")
	rows := anniversaryRows(t, p, "2025-01-15", januaryHires)

	result, err := leave.CommitGrants(ctx, m, rows, p, generic.MustDate("2025-01-16"))

	require.NoError(t, err)
	assert.Equal(t, leave.CommitResult{Skipped: 3}, result)
}

// =============================================================================
// MANUAL GRANTS
// =============================================================================

func TestCreateManualGrant(t *testing.T) {
	ctx := context.Background()
	m := memory.NewMemory()
	in := leave.ManualGrant{UserID: "u-1", LeaveTypeID: "annual", QuantityMinutes: 480,
		GrantedOn: "2025-02-01", ExpiresOn: "2026-02-01", Note: "goodwill"}

	g, err := leave.CreateManualGrant(ctx, m, "acme", in)
	require.NoError(t, err)
	assert.Equal(t, leave.SourceManual, g.Source)
	assert.Equal(t, generic.MustDate("2026-02-01"), g.ExpiresOn)

	_, err = leave.CreateManualGrant(ctx, m, "acme", in)
	assert.ErrorIs(t, err, generic.ErrDuplicateGrant)
}

func TestCreateManualGrant_Validation(t *testing.T) {
	ctx := context.Background()
	m := memory.NewMemory()

	tests := []struct {
		name   string
		in     leave.ManualGrant
		reason string
	}{
		{"missing user", leave.ManualGrant{LeaveTypeID: "annual", GrantedOn: "2025-02-01"}, "user_id: required"},
		{"blank user", leave.ManualGrant{UserID: "   ", LeaveTypeID: "annual", GrantedOn: "2025-02-01"}, "user_id: required"},
		{"blank leave type", leave.ManualGrant{UserID: "u-1", LeaveTypeID: "\t", GrantedOn: "2025-02-01"}, "leave_type_id: required"},
		{"negative minutes", leave.ManualGrant{UserID: "u-1", LeaveTypeID: "annual", QuantityMinutes: -1, GrantedOn: "2025-02-01"}, "quantity_minutes"},
		{"bad date", leave.ManualGrant{UserID: "u-1", LeaveTypeID: "annual", GrantedOn: "2025-2-1"}, "granted_on"},
		{"expires before granted", leave.ManualGrant{UserID: "u-1", LeaveTypeID: "annual", GrantedOn: "2025-02-01", ExpiresOn: "2025-01-01"}, "expires_on"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := leave.CreateManualGrant(ctx, m, "acme", tt.in)

			assert.ErrorIs(t, err, generic.ErrRowValidation)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}

	// Nothing was stored by any rejected input
	grants, err := m.FetchGrants(ctx, "acme", "")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestCreateManualGrant_TrimsIdentifiers(t *testing.T) {
	ctx := context.Background()
	m := memory.NewMemory()

	g, err := leave.CreateManualGrant(ctx, m, "acme", leave.ManualGrant{
		UserID: " u-1 ", LeaveTypeID: "annual\n", QuantityMinutes: 60, GrantedOn: "2025-02-01"})

	require.NoError(t, err)
	assert.Equal(t, "u-1", g.UserID)
	assert.Equal(t, "annual", g.LeaveTypeID)
}
