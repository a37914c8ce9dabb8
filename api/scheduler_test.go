package api

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// busyLocker refuses every key while busy is set.
type busyLocker struct {
	mu   sync.Mutex
	busy bool
}

func (l *busyLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return nil, generic.ErrRunInProgress
	}
	return func() {}, nil
}

func (l *busyLocker) set(busy bool) {
	l.mu.Lock()
	l.busy = busy
	l.mu.Unlock()
}

// gatedLister blocks ListActivePolicies until release is closed and counts calls.
type gatedLister struct {
	leave.ActivePolicyLister
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func newGatedLister(inner leave.ActivePolicyLister) *gatedLister {
	return &gatedLister{ActivePolicyLister: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (l *gatedLister) ListActivePolicies(ctx context.Context) ([]leave.Policy, error) {
	l.calls.Add(1)
	l.once.Do(func() { close(l.entered) })
	<-l.release
	return l.ActivePolicyLister.ListActivePolicies(ctx)
}

// newTestScheduler has an annual and a monthly policy for acme and a clock
// the caller can move.
func newTestScheduler(t *testing.T, locker leave.RunLocker) (*AccrualScheduler, *memory.Memory, *time.Time) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemory()

	_, err := store.UpsertPolicy(ctx, testCompany, "annual", leave.AnnualLeavePolicy(testCompany, "annual"))
	require.NoError(t, err)
	_, err = store.UpsertPolicy(ctx, testCompany, "monthly", leave.MonthlyLeavePolicy(testCompany, "monthly", 5))
	require.NoError(t, err)
	require.NoError(t, store.SaveEmployee(ctx, testCompany, leave.Employee{ID: "u-1", HireDate: "2024-02-01"}))

	now := time.Date(2025, time.February, 1, 3, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := []leave.Option{
		leave.WithLogger(logger),
		leave.WithClock(func() time.Time { return now }),
	}
	if locker != nil {
		opts = append(opts, leave.WithLocker(locker))
	}
	svc := leave.NewService(store, opts...)
	return NewAccrualScheduler(svc, store, logger), store, &now
}

// =============================================================================
// DUE POLICIES
// =============================================================================

func TestScheduler_MonthlyRunsOnlyOnFirstDay(t *testing.T) {
	ctx := context.Background()
	as, store, now := newTestScheduler(t, nil)

	// GIVEN: The first of the month, u-1's first anniversary
	// WHEN: Checking
	runs := as.RunNow(ctx)

	// THEN: Both policies ran and both granted
	assert.Equal(t, 2, runs)
	annual, err := store.FetchGrants(ctx, testCompany, "annual")
	require.NoError(t, err)
	assert.Len(t, annual, 1)
	monthly, err := store.FetchGrants(ctx, testCompany, "monthly")
	require.NoError(t, err)
	assert.Len(t, monthly, 1)

	// WHEN: The next day comes
	*now = now.AddDate(0, 0, 1)

	// THEN: Only the anniversary policy is checked
	assert.Equal(t, 1, as.RunNow(ctx))
}

func TestScheduler_RunsOncePerDay(t *testing.T) {
	ctx := context.Background()
	as, store, now := newTestScheduler(t, nil)

	require.Equal(t, 2, as.RunNow(ctx))

	// Later the same day nothing is attempted
	*now = now.Add(6 * time.Hour)
	assert.Equal(t, 0, as.RunNow(ctx))

	grants, err := store.FetchGrants(ctx, testCompany, "")
	require.NoError(t, err)
	assert.Len(t, grants, 2)
}

func TestScheduler_RetriesWhenRunInProgress(t *testing.T) {
	ctx := context.Background()
	locker := &busyLocker{busy: true}
	as, store, _ := newTestScheduler(t, locker)

	// GIVEN: Another server holds every run
	// WHEN: Checking
	assert.Equal(t, 2, as.RunNow(ctx))

	// THEN: Nothing was granted and nothing was marked as done
	grants, err := store.FetchGrants(ctx, testCompany, "")
	require.NoError(t, err)
	assert.Empty(t, grants)

	// WHEN: The lock is released and the next tick arrives
	locker.set(false)

	// THEN: Both policies run
	assert.Equal(t, 2, as.RunNow(ctx))
	grants, err = store.FetchGrants(ctx, testCompany, "")
	require.NoError(t, err)
	assert.Len(t, grants, 2)
}

func TestDue(t *testing.T) {
	monthly := leave.MonthlyLeavePolicy(testCompany, "monthly", 5)
	annual := leave.AnnualLeavePolicy(testCompany, "annual")
	fiscal := leave.FiscalLeavePolicy(testCompany, "fiscal", 4)

	assert.True(t, due(monthly, generic.MustDate("2025-03-01")))
	assert.False(t, due(monthly, generic.MustDate("2025-03-02")))
	assert.True(t, due(annual, generic.MustDate("2025-03-02")))
	assert.True(t, due(fiscal, generic.MustDate("2025-03-02")))
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	as, _, _ := newTestScheduler(t, nil)
	as.Enabled = false

	as.Start()
	as.Stop()

	assert.Nil(t, as.ticker)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestScheduler_StopDuringCheck(t *testing.T) {
	as, store, _ := newTestScheduler(t, nil)
	lister := newGatedLister(store)
	as.Lister = lister

	// GIVEN: The first check is blocked listing policies
	as.Start()
	select {
	case <-lister.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never started a check")
	}

	// WHEN: Stop is called while the check is in flight, then the check completes
	stopped := make(chan struct{})
	go func() {
		as.Stop()
		close(stopped)
	}()
	close(lister.release)

	// THEN: Stop returns once the check is done, and the check's grants are kept
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	grants, err := store.FetchGrants(context.Background(), testCompany, "")
	require.NoError(t, err)
	assert.Len(t, grants, 2)

	// AND: Stopping again is a no-op
	as.Stop()
}

func TestScheduler_TicksUntilStopped(t *testing.T) {
	as, store, _ := newTestScheduler(t, nil)
	lister := newGatedLister(store)
	close(lister.release)
	as.Lister = lister
	as.CheckInterval = 5 * time.Millisecond

	as.Start()
	require.Eventually(t, func() bool { return lister.calls.Load() >= 3 }, 5*time.Second, time.Millisecond)
	as.Stop()

	after := lister.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, lister.calls.Load())

	// Repeated checks on the same day granted only once
	grants, err := store.FetchGrants(context.Background(), testCompany, "")
	require.NoError(t, err)
	assert.Len(t, grants, 2)
}
