/*
service.go - Leave engine entry points

PURPOSE:
  Service ties the pure calculations (accrual, duplicate guard, allocation)
  to a Repository. The HTTP API, the scheduler and the leavectl CLI all call
  these methods and nothing below them.

OPERATIONS:
  PreviewGrant       compute + flag duplicates, no writes
  RunGrant           compute + commit, one run per (company, type, date) at a time
  ImportCSV          bulk grants from CSV
  CreateManualGrant  one operator grant
  GetBalances        FIFO allocation report
  UpdatePolicy       validated patch, new policy version
  ExportGrants       CSV export

  Every operation logs its outcome and reports counts to the Observer.
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/generic"
)

// Observer receives operation outcomes, typically to export metrics.
type Observer interface {
	PreviewComputed(companyID, leaveTypeID string, totals PreviewTotals)
	GrantRunFinished(companyID, leaveTypeID string, result CommitResult, err error)
	ImportFinished(companyID string, result ImportResult, err error)
	PolicyUpdated(companyID, leaveTypeID string, version int)
}

type nopObserver struct{}

func (nopObserver) PreviewComputed(string, string, PreviewTotals)         {}
func (nopObserver) GrantRunFinished(string, string, CommitResult, error) {}
func (nopObserver) ImportFinished(string, ImportResult, error)           {}
func (nopObserver) PolicyUpdated(string, string, int)                    {}

type Service struct {
	repo     Repository
	locker   RunLocker
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithLocker replaces the default process-local locker, e.g. with a Redis
// lock shared by several servers.
func WithLocker(l RunLocker) Option { return func(s *Service) { s.locker = l } }

func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		locker:   NewLocalLocker(),
		observer: nopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the service clock's current date.
func (s *Service) Today() generic.Date { return generic.DateOf(s.now()) }

// Repository exposes the underlying store to surfaces that need the optional
// interfaces (AdminStore, ActivePolicyLister).
func (s *Service) Repository() Repository { return s.repo }

// =============================================================================
// POLICIES
// =============================================================================

// Policy returns the active policy or an error wrapping generic.ErrPolicyNotFound.
func (s *Service) Policy(ctx context.Context, companyID, leaveTypeID string) (Policy, error) {
	p, err := s.repo.FetchPolicy(ctx, companyID, leaveTypeID)
	if err != nil {
		return Policy{}, generic.Persistence("fetch policy", err)
	}
	if p == nil {
		return Policy{}, fmt.Errorf("%w: company %s, leave type %s", generic.ErrPolicyNotFound, companyID, leaveTypeID)
	}
	return *p, nil
}

// Policies lists the company's active policies.
func (s *Service) Policies(ctx context.Context, companyID string) ([]Policy, error) {
	lister, ok := s.repo.(ActivePolicyLister)
	if !ok {
		return nil, errors.New("repository cannot list policies")
	}
	all, err := lister.ListActivePolicies(ctx)
	if err != nil {
		return nil, generic.Persistence("list policies", err)
	}
	out := make([]Policy, 0, len(all))
	for _, p := range all {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpdatePolicy applies patch to the active policy, or to DefaultPolicy when
// the leave type has none yet, and stores the result as a new version.
func (s *Service) UpdatePolicy(ctx context.Context, companyID, leaveTypeID string, patch PolicyPatch) (Policy, error) {
	current, err := s.repo.FetchPolicy(ctx, companyID, leaveTypeID)
	if err != nil {
		return Policy{}, generic.Persistence("fetch policy", err)
	}
	base := DefaultPolicy(companyID, leaveTypeID)
	if current != nil {
		base = *current
	}

	merged, err := patch.Apply(base)
	if err != nil {
		s.logger.Warn("policy update rejected", "company_id", companyID, "leave_type_id", leaveTypeID, "error", err)
		return Policy{}, err
	}
	merged.CompanyID = companyID
	merged.LeaveTypeID = leaveTypeID
	merged.UpdatedAt = s.now().UTC()

	stored, err := s.repo.UpsertPolicy(ctx, companyID, leaveTypeID, merged)
	if err != nil {
		return Policy{}, generic.Persistence("upsert policy", err)
	}
	s.observer.PolicyUpdated(companyID, leaveTypeID, stored.Version)
	s.logger.Info("policy updated", "company_id", companyID, "leave_type_id", leaveTypeID, "version", stored.Version)
	return stored, nil
}

// =============================================================================
// GRANTS
// =============================================================================

// PreviewGrant computes what RunGrant would do on grantDate without writing.
func (s *Service) PreviewGrant(ctx context.Context, companyID, leaveTypeID string, grantDate generic.Date) ([]PreviewRow, error) {
	policy, rows, err := s.compute(ctx, companyID, leaveTypeID, grantDate)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FetchGrants(ctx, companyID, policy.LeaveTypeID)
	if err != nil {
		return nil, generic.Persistence("fetch grants", err)
	}
	rows = DetectDuplicates(rows, existing)

	totals := Totals(rows)
	s.observer.PreviewComputed(companyID, leaveTypeID, totals)
	s.logger.Debug("grant preview",
		"company_id", companyID, "leave_type_id", leaveTypeID, "grant_date", grantDate.String(),
		"rows", totals.Rows, "grantable", totals.Grantable, "duplicates", totals.Duplicates)
	return rows, nil
}

// RunGrant computes and commits grants for grantDate. Re-running is safe:
// already granted rows are skipped.
func (s *Service) RunGrant(ctx context.Context, companyID, leaveTypeID string, grantDate generic.Date) (CommitResult, error) {
	release, err := s.locker.Acquire(ctx, RunKey(companyID, leaveTypeID, grantDate))
	if err != nil {
		s.observer.GrantRunFinished(companyID, leaveTypeID, CommitResult{}, err)
		return CommitResult{}, err
	}
	defer release()

	policy, rows, err := s.compute(ctx, companyID, leaveTypeID, grantDate)
	if err != nil {
		s.observer.GrantRunFinished(companyID, leaveTypeID, CommitResult{}, err)
		return CommitResult{}, err
	}

	result, err := CommitGrants(ctx, s.repo, rows, policy, grantDate)
	s.observer.GrantRunFinished(companyID, leaveTypeID, result, err)
	if err != nil {
		s.logger.Error("grant run failed",
			"company_id", companyID, "leave_type_id", leaveTypeID, "grant_date", grantDate.String(),
			"granted", result.Granted, "skipped", result.Skipped, "error", err)
		return result, err
	}
	s.logger.Info("grant run finished",
		"company_id", companyID, "leave_type_id", leaveTypeID, "grant_date", grantDate.String(),
		"granted", result.Granted, "skipped", result.Skipped)
	return result, nil
}

func (s *Service) compute(ctx context.Context, companyID, leaveTypeID string, grantDate generic.Date) (Policy, []PreviewRow, error) {
	policy, err := s.Policy(ctx, companyID, leaveTypeID)
	if err != nil {
		return Policy{}, nil, err
	}
	roster, err := s.repo.FetchRoster(ctx, companyID)
	if err != nil {
		return Policy{}, nil, generic.Persistence("fetch roster", err)
	}
	rows, err := ComputeGrants(policy, grantDate, roster)
	if err != nil {
		return Policy{}, nil, err
	}
	return policy, rows, nil
}

func (s *Service) CreateManualGrant(ctx context.Context, companyID string, in ManualGrant) (Grant, error) {
	g, err := CreateManualGrant(ctx, s.repo, companyID, in)
	if err != nil {
		return Grant{}, err
	}
	s.logger.Info("manual grant created", "company_id", companyID, "user_id", g.UserID,
		"leave_type_id", g.LeaveTypeID, "minutes", g.QuantityMinutes)
	return g, nil
}

func (s *Service) ImportCSV(ctx context.Context, companyID string, r io.Reader) (ImportResult, error) {
	result, err := ImportGrantsCSV(ctx, s.repo, companyID, r)
	s.observer.ImportFinished(companyID, result, err)
	if err != nil {
		s.logger.Error("csv import failed", "company_id", companyID, "inserted", result.Inserted, "error", err)
		return result, err
	}
	s.logger.Info("csv import finished", "company_id", companyID,
		"inserted", result.Inserted, "skipped", result.Skipped, "error_rows", result.ErrorRows)
	return result, nil
}

// ExportGrants writes the company's grants as CSV; all leave types when leaveTypeID is empty.
func (s *Service) ExportGrants(ctx context.Context, companyID, leaveTypeID string, w io.Writer) error {
	grants, err := s.repo.FetchGrants(ctx, companyID, leaveTypeID)
	if err != nil {
		return generic.Persistence("fetch grants", err)
	}
	return ExportGrantsCSV(w, grants)
}

// =============================================================================
// BALANCES
// =============================================================================

// GetBalances builds the balance report. Empty userID or leaveTypeID means
// all; a zero asOf means today.
func (s *Service) GetBalances(ctx context.Context, companyID, userID, leaveTypeID string, asOf generic.Date) (BalanceReport, error) {
	if asOf.IsZero() {
		asOf = s.Today()
	}

	grants, err := s.repo.FetchGrants(ctx, companyID, leaveTypeID)
	if err != nil {
		return BalanceReport{}, generic.Persistence("fetch grants", err)
	}
	consumptions, err := s.repo.FetchConsumptions(ctx, companyID, leaveTypeID)
	if err != nil {
		return BalanceReport{}, generic.Persistence("fetch consumptions", err)
	}
	if userID != "" {
		grants = filterByUser(grants, func(g Grant) string { return g.UserID }, userID)
		consumptions = filterByUser(consumptions, func(c Consumption) string { return c.UserID }, userID)
	}

	policies := make(map[string]*Policy)
	load := func(typeID string) error {
		if _, done := policies[typeID]; done {
			return nil
		}
		p, err := s.repo.FetchPolicy(ctx, companyID, typeID)
		if err != nil {
			return generic.Persistence("fetch policy", err)
		}
		policies[typeID] = p
		return nil
	}
	for _, g := range grants {
		if err := load(g.LeaveTypeID); err != nil {
			return BalanceReport{}, err
		}
	}
	for _, c := range consumptions {
		if err := load(c.LeaveTypeID); err != nil {
			return BalanceReport{}, err
		}
	}

	return BuildReport(grants, consumptions, asOf, policies), nil
}

func filterByUser[T any](items []T, user func(T) string, userID string) []T {
	out := items[:0:0]
	for _, it := range items {
		if user(it) == userID {
			out = append(out, it)
		}
	}
	return out
}

// =============================================================================
// ADMIN FEEDS
// =============================================================================

func (s *Service) admin() (AdminStore, error) {
	a, ok := s.repo.(AdminStore)
	if !ok {
		return nil, errors.New("repository does not accept roster or consumption writes")
	}
	return a, nil
}

// Roster returns the company's employees.
func (s *Service) Roster(ctx context.Context, companyID string) ([]Employee, error) {
	roster, err := s.repo.FetchRoster(ctx, companyID)
	if err != nil {
		return nil, generic.Persistence("fetch roster", err)
	}
	return roster, nil
}

// SaveEmployee adds or replaces a roster entry.
func (s *Service) SaveEmployee(ctx context.Context, companyID string, e Employee) error {
	a, err := s.admin()
	if err != nil {
		return err
	}
	if e.ID == "" {
		return &generic.RowError{Reason: "id: required"}
	}
	if _, err := generic.ParseDate(e.HireDate); err != nil {
		return &generic.RowError{UserID: e.ID, Reason: "hire_date: " + err.Error()}
	}
	return generic.Persistence("save employee", a.SaveEmployee(ctx, companyID, e))
}

// RecordConsumption stores a consumption produced by the request workflow.
func (s *Service) RecordConsumption(ctx context.Context, c Consumption) error {
	a, err := s.admin()
	if err != nil {
		return err
	}
	switch {
	case c.UserID == "":
		return &generic.RowError{Reason: "user_id: required"}
	case c.LeaveTypeID == "":
		return &generic.RowError{UserID: c.UserID, Reason: "leave_type_id: required"}
	case c.QuantityMinutes <= 0:
		return &generic.RowError{UserID: c.UserID, Reason: "quantity_minutes: must be positive"}
	case c.ConsumedOn.IsZero():
		return &generic.RowError{UserID: c.UserID, Reason: "consumed_on: required"}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = StatusApproved
	}
	return generic.Persistence("save consumption", a.SaveConsumption(ctx, c))
}
