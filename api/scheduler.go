/*
scheduler.go - Automated accrual scheduler

PURPOSE:
  Periodically runs the grant for every active policy so that anniversary,
  fiscal and monthly grants land without an operator pressing "run".

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each check uses the service clock's date as the grant date
  - anniversary and fiscal_fixed policies run on every day: the accrual
    calculation itself decides who is due
  - monthly policies run only on the first day of the month
  - A (company, leave type) pair runs at most once per day; RunGrant's own
    duplicate guard covers restarts

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAccrualScheduler(svc, lister, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunGrants endpoint (manual run)
  - leave/service.go: RunGrant
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// AccrualScheduler runs due grant runs in the background.
type AccrualScheduler struct {
	Service       *leave.Service
	Lister        leave.ActivePolicyLister
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun map[string]generic.Date
}

// NewAccrualScheduler creates a scheduler with the default interval.
func NewAccrualScheduler(svc *leave.Service, lister leave.ActivePolicyLister, logger *slog.Logger) *AccrualScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccrualScheduler{
		Service:       svc,
		Lister:        lister,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Logger:        logger.With("component", "scheduler"),
		lastRun:       make(map[string]generic.Date),
	}
}

// Start begins the scheduler.
func (as *AccrualScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		as.Logger.Info("scheduler disabled, not starting")
		return
	}
	if as.ticker != nil {
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.stop = make(chan struct{})
	as.wg.Add(1)

	go as.run(as.ticker.C, as.stop)

	as.Logger.Info("scheduler started", "interval", as.CheckInterval.String())
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (as *AccrualScheduler) Stop() {
	as.mu.Lock()
	ticker, stop := as.ticker, as.stop
	as.ticker = nil
	as.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stop)
		as.wg.Wait()
		as.Logger.Info("scheduler stopped")
	}
}

// run owns tick and stop; Stop may clear the scheduler's fields while a
// check is still in flight.
func (as *AccrualScheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer as.wg.Done()

	// Run immediately on start
	as.RunNow(context.Background())

	for {
		select {
		case <-tick:
			as.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one check and returns the number of runs attempted.
func (as *AccrualScheduler) RunNow(ctx context.Context) int {
	today := as.Service.Today()

	policies, err := as.Lister.ListActivePolicies(ctx)
	if err != nil {
		as.Logger.Error("listing active policies", "error", err)
		return 0
	}

	attempted, granted := 0, 0
	for _, p := range policies {
		if !due(p, today) {
			continue
		}
		key := p.CompanyID + ":" + p.LeaveTypeID
		if as.ranOn(key, today) {
			continue
		}

		attempted++
		result, err := as.Service.RunGrant(ctx, p.CompanyID, p.LeaveTypeID, today)
		switch {
		case errors.Is(err, generic.ErrRunInProgress):
			// Someone else holds the run; try again next tick.
			continue
		case err != nil:
			as.Logger.Error("scheduled grant run failed",
				"company_id", p.CompanyID, "leave_type_id", p.LeaveTypeID, "error", err)
			if !generic.IsRetryable(err) {
				as.markRan(key, today)
			}
			continue
		}
		as.markRan(key, today)
		granted += result.Granted
	}

	if attempted > 0 {
		as.Logger.Info("scheduled check complete",
			"date", today.String(), "runs", attempted, "granted", granted)
	}
	return attempted
}

// due reports whether p should be run on today.
func due(p leave.Policy, today generic.Date) bool {
	if p.AccrualMethod == leave.AccrualMonthly {
		return today.Day() == 1
	}
	return true
}

func (as *AccrualScheduler) ranOn(key string, today generic.Date) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	last, ok := as.lastRun[key]
	return ok && last.Equal(today)
}

func (as *AccrualScheduler) markRan(key string, today generic.Date) {
	as.mu.Lock()
	as.lastRun[key] = today
	as.mu.Unlock()
}

// NextRunTime returns when the next scheduled check will occur.
func (as *AccrualScheduler) NextRunTime() time.Time {
	return time.Now().Add(as.CheckInterval)
}
