/*
store.go - Persistence interface for grants, consumptions, policies and rosters

PURPOSE:
  The engine never talks to a database directly. Everything it reads or
  writes goes through Repository, so the same logic runs on SQLite, Postgres
  or the in-memory store used by tests.

KEY INTERFACES:
  Repository:         What every grant, import and balance operation needs
  ActivePolicyLister: Enumerates active policies (used by the scheduler)
  AdminStore:         Roster and consumption feeds (used by the HTTP admin routes)
  RunLocker:          Serializes grant runs for the same (company, type, date)

GRANT UNIQUENESS:
  InsertGrant MUST return generic.ErrDuplicateGrant when
  (user_id, leave_type_id, granted_on, source) already exists. Duplicate
  detection in memory is only a pre-flight check; this constraint is what
  keeps concurrent or repeated runs from double-granting.

POLICY VERSIONS:
  UpsertPolicy never overwrites. It deactivates the current row (is_active
  false, deleted_at set) and inserts the new one with version+1. FetchPolicy
  returns only the active row, or (nil, nil) when there is none.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via mattn/go-sqlite3
  - store/postgres: Postgres via pgx's database/sql driver
  - store/memory: In-memory, for tests and the CLI's dry runs
*/
package leave

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/leave-engine/generic"
)

// Repository is the persistence contract of the engine.
type Repository interface {
	// FetchGrants returns the company's grants, all leave types when leaveTypeID is empty.
	FetchGrants(ctx context.Context, companyID, leaveTypeID string) ([]Grant, error)

	// FetchConsumptions returns consumptions in every status; callers filter.
	FetchConsumptions(ctx context.Context, companyID, leaveTypeID string) ([]Consumption, error)

	// FetchPolicy returns the active policy or (nil, nil).
	FetchPolicy(ctx context.Context, companyID, leaveTypeID string) (*Policy, error)

	// InsertGrant stores g and returns it as stored.
	InsertGrant(ctx context.Context, g Grant) (Grant, error)

	// UpsertPolicy supersedes the active policy with p and returns the stored version.
	UpsertPolicy(ctx context.Context, companyID, leaveTypeID string, p Policy) (Policy, error)

	FetchRoster(ctx context.Context, companyID string) ([]Employee, error)
}

// ActivePolicyLister is implemented by repositories that can enumerate the
// active policies of all companies.
type ActivePolicyLister interface {
	ListActivePolicies(ctx context.Context) ([]Policy, error)
}

// AdminStore accepts the data the engine only reads: employees and consumptions.
type AdminStore interface {
	SaveEmployee(ctx context.Context, companyID string, e Employee) error
	SaveConsumption(ctx context.Context, c Consumption) error
}

// =============================================================================
// RUN LOCKING
// =============================================================================

// RunLocker grants exclusive use of a key. Acquire fails with
// generic.ErrRunInProgress when the key is held; it never waits.
type RunLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RunKey is the lock key of a grant run.
func RunKey(companyID, leaveTypeID string, grantDate generic.Date) string {
	return fmt.Sprintf("%s:%s:%s", companyID, leaveTypeID, grantDate)
}

// LocalLocker is a process-local RunLocker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%w: %s", generic.ErrRunInProgress, key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
