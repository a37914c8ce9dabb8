/*
Package sqlite provides a SQLite-backed implementation of leave.Repository.

PURPOSE:
  Stores grants, consumptions, policy versions and the roster in one SQLite
  file. The server uses it by default and tests run it against ":memory:".

INTERFACES IMPLEMENTED:
  leave.Repository:         Grants, consumptions, policies, roster
  leave.ActivePolicyLister: Scheduler enumeration
  leave.AdminStore:         Roster and consumption feeds

KEY TABLES:
  grants:       Leave minutes given, never updated
  consumptions: Leave minutes used, upserted by id as their status changes
  policies:     One row per policy version, config kept as JSON
  employees:    Roster, keyed by (company_id, id)

INDEXES:
  - idx_grants_unique: (company_id, user_id, leave_type_id, granted_on, source).
    This is the guard that keeps repeated or concurrent grant runs from
    double-granting; InsertGrant maps a conflict to generic.ErrDuplicateGrant.
  - idx_policies_active: partial unique index, one active version per
    (company_id, leave_type_id)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The Postgres store relies on the
  database instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block the
  single writer.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  svc := leave.NewService(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/postgres: Same contract on Postgres
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Store implements the leave persistence interfaces using SQLite.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	policies *factory.PolicyFactory
}

var (
	_ leave.Repository         = (*Store)(nil)
	_ leave.ActivePolicyLister = (*Store)(nil)
	_ leave.AdminStore         = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, policies: factory.NewPolicyFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS grants (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		quantity_minutes INTEGER NOT NULL CHECK (quantity_minutes >= 0),
		granted_on TEXT NOT NULL,
		expires_on TEXT,
		source TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- CRITICAL: a grant exists at most once per user, type, date and source
	CREATE UNIQUE INDEX IF NOT EXISTS idx_grants_unique
		ON grants(company_id, user_id, leave_type_id, granted_on, source);

	-- Balance queries (hot path)
	CREATE INDEX IF NOT EXISTS idx_grants_company_type
		ON grants(company_id, leave_type_id, granted_on);

	CREATE TABLE IF NOT EXISTS consumptions (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		quantity_minutes INTEGER NOT NULL,
		consumed_on TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date TEXT,
		end_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_consumptions_company_type
		ON consumptions(company_id, leave_type_id, consumed_on);

	-- Policies: one row per version, never deleted
	CREATE TABLE IF NOT EXISTS policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		config_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		deleted_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(company_id, leave_type_id, version)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_active
		ON policies(company_id, leave_type_id) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS employees (
		company_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		hire_date TEXT NOT NULL,
		attendance_days TEXT,
		attendance_hours TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (company_id, id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// GRANTS
// =============================================================================

const grantColumns = `id, company_id, user_id, leave_type_id, quantity_minutes, granted_on, expires_on, source, note`

// InsertGrant stores g. A conflict on the grant key returns generic.ErrDuplicateGrant.
func (s *Store) InsertGrant(ctx context.Context, g leave.Grant) (leave.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO grants (`+grantColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		g.ID, g.CompanyID, g.UserID, g.LeaveTypeID, g.QuantityMinutes,
		g.GrantedOn.String(), nullDate(g.ExpiresOn), string(g.Source), g.Note,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return leave.Grant{}, fmt.Errorf("failed to insert grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return leave.Grant{}, fmt.Errorf("failed to insert grant: %w", err)
	}
	if n == 0 {
		return leave.Grant{}, generic.ErrDuplicateGrant
	}
	return g, nil
}

// FetchGrants returns grants ordered by user, leave type and grant date.
func (s *Store) FetchGrants(ctx context.Context, companyID, leaveTypeID string) ([]leave.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + grantColumns + ` FROM grants WHERE company_id = ?`
	args := []any{companyID}
	if leaveTypeID != "" {
		query += ` AND leave_type_id = ?`
		args = append(args, leaveTypeID)
	}
	query += ` ORDER BY user_id, leave_type_id, granted_on, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var grants []leave.Grant
	for rows.Next() {
		var g leave.Grant
		var grantedOn, source string
		var expiresOn sql.NullString
		if err := rows.Scan(&g.ID, &g.CompanyID, &g.UserID, &g.LeaveTypeID, &g.QuantityMinutes,
			&grantedOn, &expiresOn, &source, &g.Note); err != nil {
			return nil, err
		}
		if g.GrantedOn, err = generic.ParseDate(grantedOn); err != nil {
			return nil, fmt.Errorf("grant %s: %w", g.ID, err)
		}
		if g.ExpiresOn, err = generic.ParseOptionalDate(expiresOn.String); err != nil {
			return nil, fmt.Errorf("grant %s: %w", g.ID, err)
		}
		g.Source = leave.Source(source)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// =============================================================================
// CONSUMPTIONS
// =============================================================================

// SaveConsumption inserts c or updates its status and quantity.
func (s *Store) SaveConsumption(ctx context.Context, c leave.Consumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consumptions
		(id, company_id, user_id, leave_type_id, quantity_minutes, consumed_on, status, start_date, end_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity_minutes = excluded.quantity_minutes,
			consumed_on = excluded.consumed_on,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			updated_at = excluded.updated_at
	`,
		c.ID, c.CompanyID, c.UserID, c.LeaveTypeID, c.QuantityMinutes, c.ConsumedOn.String(),
		string(c.Status), nullDate(c.StartDate), nullDate(c.EndDate), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save consumption: %w", err)
	}
	return nil
}

func (s *Store) FetchConsumptions(ctx context.Context, companyID, leaveTypeID string) ([]leave.Consumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, company_id, user_id, leave_type_id, quantity_minutes, consumed_on, status, start_date, end_date
		FROM consumptions WHERE company_id = ?`
	args := []any{companyID}
	if leaveTypeID != "" {
		query += ` AND leave_type_id = ?`
		args = append(args, leaveTypeID)
	}
	query += ` ORDER BY consumed_on, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumptions: %w", err)
	}
	defer rows.Close()

	var out []leave.Consumption
	for rows.Next() {
		var c leave.Consumption
		var consumedOn, status string
		var start, end sql.NullString
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.UserID, &c.LeaveTypeID, &c.QuantityMinutes,
			&consumedOn, &status, &start, &end); err != nil {
			return nil, err
		}
		// A consumption with an unreadable date is kept with a zero date; the
		// allocator orders it first rather than dropping its minutes.
		c.ConsumedOn, _ = generic.ParseDate(consumedOn)
		c.StartDate, _ = generic.ParseOptionalDate(start.String)
		c.EndDate, _ = generic.ParseOptionalDate(end.String)
		c.Status = leave.ConsumptionStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// POLICIES
// =============================================================================

// FetchPolicy returns the active policy version, or (nil, nil).
func (s *Store) FetchPolicy(ctx context.Context, companyID, leaveTypeID string) (*leave.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT config_json, version, is_active, deleted_at, updated_at
		FROM policies
		WHERE company_id = ? AND leave_type_id = ? AND is_active = 1
	`, companyID, leaveTypeID)

	p, err := s.scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActivePolicies returns the active version of every policy.
func (s *Store) ListActivePolicies(ctx context.Context) ([]leave.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT config_json, version, is_active, deleted_at, updated_at
		FROM policies WHERE is_active = 1
		ORDER BY company_id, leave_type_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []leave.Policy
	for rows.Next() {
		p, err := s.scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPolicy deactivates the current version and inserts p as the next one.
func (s *Store) UpsertPolicy(ctx context.Context, companyID, leaveTypeID string, p leave.Policy) (leave.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return leave.Policy{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM policies WHERE company_id = ? AND leave_type_id = ?`,
		companyID, leaveTypeID,
	).Scan(&current); err != nil {
		return leave.Policy{}, fmt.Errorf("failed to read policy version: %w", err)
	}

	now := time.Now().UTC()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	p.CompanyID = companyID
	p.LeaveTypeID = leaveTypeID
	p.Version = current + 1
	p.IsActive = true
	p.DeletedAt = nil

	if _, err := tx.ExecContext(ctx, `
		UPDATE policies SET is_active = 0, deleted_at = ?
		WHERE company_id = ? AND leave_type_id = ? AND is_active = 1
	`, now.Format(time.RFC3339), companyID, leaveTypeID); err != nil {
		return leave.Policy{}, fmt.Errorf("failed to supersede policy: %w", err)
	}

	config, err := s.policies.Marshal(p)
	if err != nil {
		return leave.Policy{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO policies (company_id, leave_type_id, name, config_json, version, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	`, companyID, leaveTypeID, p.Name, string(config), p.Version,
		now.Format(time.RFC3339), p.UpdatedAt.UTC().Format(time.RFC3339)); err != nil {
		return leave.Policy{}, fmt.Errorf("failed to insert policy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return leave.Policy{}, err
	}
	return p, nil
}

// PolicyHistory returns every version of a policy, newest first.
func (s *Store) PolicyHistory(ctx context.Context, companyID, leaveTypeID string) ([]leave.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT config_json, version, is_active, deleted_at, updated_at
		FROM policies WHERE company_id = ? AND leave_type_id = ?
		ORDER BY version DESC
	`, companyID, leaveTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []leave.Policy
	for rows.Next() {
		p, err := s.scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanPolicy(row scanner) (leave.Policy, error) {
	var config, updatedAt string
	var version, active int
	var deletedAt sql.NullString
	if err := row.Scan(&config, &version, &active, &deletedAt, &updatedAt); err != nil {
		return leave.Policy{}, err
	}

	p, err := s.policies.Unmarshal([]byte(config))
	if err != nil {
		return leave.Policy{}, fmt.Errorf("stored policy v%d: %w", version, err)
	}
	p.Version = version
	p.IsActive = active == 1
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, deletedAt.String)
		p.DeletedAt = &t
	}
	return p, nil
}

// =============================================================================
// ROSTER
// =============================================================================

// SaveEmployee adds or replaces a roster entry.
func (s *Store) SaveEmployee(ctx context.Context, companyID string, emp leave.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (company_id, id, name, hire_date, attendance_days, attendance_hours, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, id) DO UPDATE SET
			name = excluded.name,
			hire_date = excluded.hire_date,
			attendance_days = excluded.attendance_days,
			attendance_hours = excluded.attendance_hours
	`

	_, err := s.db.ExecContext(ctx, query,
		companyID, emp.ID, emp.Name, emp.HireDate,
		nullDecimal(emp.Attendance.Days), nullDecimal(emp.Attendance.Hours),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// FetchRoster returns the company's employees ordered by id.
func (s *Store) FetchRoster(ctx context.Context, companyID string) ([]leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, hire_date, attendance_days, attendance_hours FROM employees WHERE company_id = ? ORDER BY id",
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []leave.Employee
	for rows.Next() {
		var emp leave.Employee
		var days, hours sql.NullString
		if err := rows.Scan(&emp.ID, &emp.Name, &emp.HireDate, &days, &hours); err != nil {
			return nil, err
		}
		emp.Attendance.Days = parseNullDecimal(days)
		emp.Attendance.Hours = parseNullDecimal(hours)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// Helper functions

func nullDate(d generic.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}
