package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// seedDB creates a SQLite file with the annual preset for acme and two
// employees: u-1 has an anniversary on 2025-01-15, u-2 does not.
func seedDB(t *testing.T, extra func(t *testing.T, dir string, s *sqlite.Store)) (dir, dbPath string) {
	t.Helper()
	t.Setenv("LEAVE_DATABASE_DRIVER", "sqlite")
	t.Setenv("LEAVE_REDIS_ADDR", "")

	ctx := context.Background()
	dir = t.TempDir()
	dbPath = filepath.Join(dir, "leave.db")

	s, err := sqlite.New(dbPath)
	require.NoError(t, err)
	_, err = s.UpsertPolicy(ctx, "acme", "annual", leave.AnnualLeavePolicy("acme", "annual"))
	require.NoError(t, err)
	require.NoError(t, s.SaveEmployee(ctx, "acme", leave.Employee{ID: "u-1", HireDate: "2024-01-15"}))
	require.NoError(t, s.SaveEmployee(ctx, "acme", leave.Employee{ID: "u-2", HireDate: "2024-06-01"}))
	if extra != nil {
		extra(t, dir, s)
	}
	require.NoError(t, s.Close())
	return dir, dbPath
}

func withGrant(t *testing.T, _ string, s *sqlite.Store) {
	_, err := s.InsertGrant(context.Background(), leave.Grant{
		ID: "g-1", CompanyID: "acme", UserID: "u-1", LeaveTypeID: "annual",
		QuantityMinutes: 5280,
		GrantedOn:       generic.MustDate("2025-01-15"),
		ExpiresOn:       generic.MustDate("2027-01-15"),
		Source:          leave.SourcePolicy,
	})
	require.NoError(t, err)
}

func withFile(name, content string) func(t *testing.T, dir string, s *sqlite.Store) {
	return func(t *testing.T, dir string, _ *sqlite.Store) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
}

// runCLI executes the root command with args; {dir} in an argument is
// replaced by the database directory.
func runCLI(t *testing.T, dir, dbPath string, args ...string) (string, error) {
	t.Helper()
	full := []string{"--db", dbPath, "--env-file", filepath.Join(dir, "none.env")}
	for _, a := range args {
		full = append(full, strings.ReplaceAll(a, "{dir}", dir))
	}

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(full)
	err := cmd.Execute()
	return stdout.String(), err
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestCommands(t *testing.T) {
	monthly, err := factory.NewPolicyFactory().Marshal(leave.MonthlyLeavePolicy("acme", "monthly", 5))
	require.NoError(t, err)

	tests := []struct {
		name    string
		setup   func(t *testing.T, dir string, s *sqlite.Store)
		args    []string
		wantErr string
		check   func(t *testing.T, out string)
	}{
		{
			name: "preview totals",
			args: []string{"--company", "acme", "preview", "--type", "annual", "--date", "2025-01-15", "--totals"},
			check: func(t *testing.T, out string) {
				got := decode[previewOutput](t, out)
				assert.Equal(t, "2025-01-15", got.GrantDate)
				assert.Equal(t, leave.PreviewTotals{Rows: 2, Grantable: 1, Ineligible: 1, Minutes: 5280}, got.Totals)
				assert.Empty(t, got.Rows)
			},
		},
		{
			name:  "preview rows mark duplicates",
			setup: withGrant,
			args:  []string{"--company", "acme", "preview", "--type", "annual", "--date", "2025-01-15"},
			check: func(t *testing.T, out string) {
				got := decode[previewOutput](t, out)
				require.Len(t, got.Rows, 2)
				assert.Equal(t, 1, got.Totals.Duplicates)
				assert.Equal(t, 0, got.Totals.Grantable)
			},
		},
		{
			name: "run",
			args: []string{"--company", "acme", "run", "--type", "annual", "--date", "2025-01-15"},
			check: func(t *testing.T, out string) {
				got := decode[struct {
					Command string             `json:"command"`
					Result  leave.CommitResult `json:"result"`
				}](t, out)
				assert.Equal(t, "run", got.Command)
				assert.Equal(t, 1, got.Result.Granted)
			},
		},
		{
			name:  "run skips what was already granted",
			setup: withGrant,
			args:  []string{"--company", "acme", "run", "--type", "annual", "--date", "2025-01-15"},
			check: func(t *testing.T, out string) {
				got := decode[struct {
					Result leave.CommitResult `json:"result"`
				}](t, out)
				assert.Equal(t, leave.CommitResult{Granted: 0, Skipped: 1}, got.Result)
			},
		},
		{
			name:  "export",
			setup: withGrant,
			args:  []string{"--company", "acme", "export", "--type", "annual"},
			check: func(t *testing.T, out string) {
				assert.Equal(t,
					"user_id,leave_type_id,quantity_minutes,granted_on,expires_on,note\n"+
						"u-1,annual,5280,2025-01-15,2027-01-15,\n", out)
			},
		},
		{
			name: "import",
			setup: withFile("grants.csv",
				"user_id,leave_type_id,quantity_minutes,granted_on,expires_on,note\n"+
					"u-2,annual,480,2025-04-01,,opening balance\n"),
			args: []string{"--company", "acme", "import", "-f", "{dir}/grants.csv"},
			check: func(t *testing.T, out string) {
				got := decode[leave.ImportResult](t, out)
				assert.Equal(t, 1, got.Inserted)
				assert.Equal(t, 0, got.ErrorRows)
			},
		},
		{
			name: "import with rejected rows",
			setup: withFile("grants.csv",
				"user_id,leave_type_id,quantity_minutes,granted_on\n"+
					"u-1,annual,480,2025-04-01\n"+
					"u-9,annual,480,2025-04-01\n"),
			args:    []string{"--company", "acme", "import", "-f", "{dir}/grants.csv"},
			wantErr: "1 rows rejected",
			check: func(t *testing.T, out string) {
				got := decode[leave.ImportResult](t, out)
				assert.Equal(t, 1, got.Inserted)
				require.Len(t, got.Errors, 1)
				assert.Equal(t, 3, got.Errors[0].Line)
			},
		},
		{
			name:  "balances",
			setup: withGrant,
			args:  []string{"--company", "acme", "balances", "--user", "u-1", "--as-of", "2025-02-01"},
			check: func(t *testing.T, out string) {
				got := decode[leave.BalanceReport](t, out)
				assert.Equal(t, "2025-02-01", got.AsOf.String())
				require.Len(t, got.Summaries, 1)
				assert.Equal(t, int64(5280), got.Summaries[0].RemainingMinutes)
				assert.Equal(t, int64(5280), got.Summaries[0].AvailableMinutes)
			},
		},
		{
			name: "policy show",
			args: []string{"--company", "acme", "policy", "show", "--type", "annual"},
			check: func(t *testing.T, out string) {
				got := decode[factory.PolicyJSON](t, out)
				assert.Equal(t, "annual", got.LeaveTypeID)
				assert.Equal(t, "anniversary", got.AccrualMethod)
				assert.Equal(t, 1, got.Version)
			},
		},
		{
			name: "policy show all",
			args: []string{"--company", "acme", "policy", "show"},
			check: func(t *testing.T, out string) {
				got := decode[[]factory.PolicyJSON](t, out)
				require.Len(t, got, 1)
				assert.Equal(t, "annual", got[0].LeaveTypeID)
			},
		},
		{
			name:    "policy show unknown type",
			args:    []string{"--company", "acme", "policy", "show", "--type", "sick"},
			wantErr: "policy not found",
		},
		{
			name:  "policy set",
			setup: withFile("monthly.json", string(monthly)),
			args:  []string{"--company", "acme", "policy", "set", "--type", "monthly", "-f", "{dir}/monthly.json"},
			check: func(t *testing.T, out string) {
				got := decode[factory.PolicyJSON](t, out)
				assert.Equal(t, "monthly", got.AccrualMethod)
				assert.Equal(t, 1, got.Version)
				assert.True(t, got.IsActive)
			},
		},
		{
			name:  "policy patch",
			setup: withFile("patch.json", `{"day_hours": 7}`),
			args:  []string{"--company", "acme", "policy", "patch", "--type", "annual", "-f", "{dir}/patch.json"},
			check: func(t *testing.T, out string) {
				got := decode[factory.PolicyJSON](t, out)
				assert.Equal(t, 7.0, got.DayHours)
				assert.Equal(t, 2, got.Version)
			},
		},
		{
			name:    "policy patch changing nothing",
			setup:   withFile("patch.json", `{}`),
			args:    []string{"--company", "acme", "policy", "patch", "--type", "annual", "-f", "{dir}/patch.json"},
			wantErr: "patch changes nothing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, dbPath := seedDB(t, tt.setup)

			out, err := runCLI(t, dir, dbPath, tt.args...)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tt.check != nil {
				tt.check(t, out)
			}
		})
	}
}

func TestRun_GrantsAreVisibleToLaterCommands(t *testing.T) {
	dir, dbPath := seedDB(t, nil)

	// GIVEN: A run on u-1's anniversary
	_, err := runCLI(t, dir, dbPath, "--company", "acme", "run", "--type", "annual", "--date", "2025-01-15")
	require.NoError(t, err)

	// WHEN: Exporting into a file
	_, err = runCLI(t, dir, dbPath, "--company", "acme", "export", "-o", "{dir}/out.csv")
	require.NoError(t, err)

	// THEN: The file holds the policy grant
	raw, err := os.ReadFile(filepath.Join(dir, "out.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "u-1,annual,5280,2025-01-15,2027-01-15,")
}

// =============================================================================
// FLAG ERRORS
// =============================================================================

func TestFlagErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing company", []string{"preview", "--type", "annual"}, `"company"`},
		{"missing leave type", []string{"--company", "acme", "run"}, `"type"`},
		{"bad grant date", []string{"--company", "acme", "preview", "--type", "annual", "--date", "15/01/2025"}, "invalid --date"},
		{"bad as-of date", []string{"--company", "acme", "balances", "--as-of", "2025-13-01"}, "invalid --as-of"},
		{"missing import file", []string{"--company", "acme", "import", "-f", "{dir}/missing.csv"}, "missing.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, dbPath := seedDB(t, nil)

			out, err := runCLI(t, dir, dbPath, tt.args...)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, out)
		})
	}
}
