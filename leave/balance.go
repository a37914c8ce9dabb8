/*
balance.go - Per-grant balances from grants and consumptions

PURPOSE:
  Balances are never stored. They are derived by replaying consumptions
  against grants, oldest grant first, separately for every
  (user, leave type) pair.

RULES:
  - Grants ordered by granted_on, consumptions by consumed_on (ties keep input order)
  - Consumptions with no user, no leave type or a non-positive quantity are ignored
  - Expiry is not consulted during allocation: a consumption dated after a
    grant's expiry still draws from it when it is the oldest with minutes left
  - Which consumptions count is decided by the caller (see BuildReport)

EXAMPLE:
  g1 480 @2024-01-01, g2 480 @2025-01-01, consumption 600 @2025-02-01
  g1 consumed 480 remaining 0, g2 consumed 120 remaining 360

SEE ALSO:
  - generic/allocation.go: The FIFO allocator
*/
package leave

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// Allocation is the allocation state of one grant.
type Allocation struct {
	Consumed  int64 `json:"consumed_minutes"`
	Remaining int64 `json:"remaining_minutes"`
}

type pairKey struct {
	UserID      string
	LeaveTypeID string
}

type pairAllocation struct {
	grants      map[string]Allocation
	unallocated int64
}

// Allocate returns the allocation of every grant, keyed by grant ID.
func Allocate(grants []Grant, consumptions []Consumption) map[string]Allocation {
	out := make(map[string]Allocation, len(grants))
	for _, pa := range allocateByPair(grants, consumptions) {
		for id, a := range pa.grants {
			out[id] = a
		}
	}
	return out
}

func allocateByPair(grants []Grant, consumptions []Consumption) map[pairKey]*pairAllocation {
	buckets := make(map[pairKey][]generic.Bucket)
	for _, g := range grants {
		k := pairKey{g.UserID, g.LeaveTypeID}
		buckets[k] = append(buckets[k], generic.Bucket{ID: g.ID, At: g.GrantedOn, Quantity: g.QuantityMinutes})
	}

	draws := make(map[pairKey][]generic.Draw)
	for _, c := range consumptions {
		if c.UserID == "" || c.LeaveTypeID == "" || c.QuantityMinutes <= 0 {
			continue
		}
		k := pairKey{c.UserID, c.LeaveTypeID}
		draws[k] = append(draws[k], generic.Draw{ID: c.ID, At: c.ConsumedOn, Quantity: c.QuantityMinutes})
	}

	out := make(map[pairKey]*pairAllocation, len(buckets))
	for k, bs := range buckets {
		usage, unallocated := generic.AllocateFIFO(bs, draws[k])
		pa := &pairAllocation{grants: make(map[string]Allocation, len(usage)), unallocated: unallocated}
		for id, u := range usage {
			pa.grants[id] = Allocation{Consumed: u.Used, Remaining: u.Remaining}
		}
		out[k] = pa
	}
	for k, ds := range draws {
		if _, ok := out[k]; ok {
			continue
		}
		var total int64
		for _, d := range ds {
			total += d.Quantity
		}
		out[k] = &pairAllocation{grants: map[string]Allocation{}, unallocated: total}
	}
	return out
}

// =============================================================================
// REPORT
// =============================================================================

// GrantBalance is one grant with its allocation as of a date.
type GrantBalance struct {
	Grant
	Allocation
	Expired bool `json:"expired"`
}

// Summary totals one (user, leave type) pair. Available excludes expired
// grants and anything above the policy's carryover cap.
type Summary struct {
	UserID             string `json:"user_id"`
	LeaveTypeID        string `json:"leave_type_id"`
	GrantedMinutes     int64  `json:"granted_minutes"`
	ConsumedMinutes    int64  `json:"consumed_minutes"`
	RemainingMinutes   int64  `json:"remaining_minutes"`
	ExpiredMinutes     int64  `json:"expired_minutes"`
	ForfeitedMinutes   int64  `json:"forfeited_minutes"`
	AvailableMinutes   int64  `json:"available_minutes"`
	UnallocatedMinutes int64  `json:"unallocated_minutes"`

	// AvailableDays is AvailableMinutes in the policy's working days, zero
	// when the leave type has no policy.
	AvailableDays decimal.Decimal `json:"available_days"`
}

type BalanceReport struct {
	AsOf      generic.Date   `json:"as_of"`
	Grants    []GrantBalance `json:"grants"`
	Summaries []Summary      `json:"summaries"`
}

// BuildReport allocates consumptions to grants and summarizes per pair.
// policies is keyed by leave type; a type without a policy counts approved
// consumptions only and has no carryover cap.
func BuildReport(grants []Grant, consumptions []Consumption, asOf generic.Date, policies map[string]*Policy) BalanceReport {
	counted := make([]Consumption, 0, len(consumptions))
	for _, c := range consumptions {
		if policies[c.LeaveTypeID].CountsToward(c) {
			counted = append(counted, c)
		}
	}

	ordered := make([]Grant, len(grants))
	copy(ordered, grants)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.LeaveTypeID != b.LeaveTypeID {
			return a.LeaveTypeID < b.LeaveTypeID
		}
		return a.GrantedOn.Before(b.GrantedOn)
	})

	pairs := allocateByPair(ordered, counted)
	report := BalanceReport{AsOf: asOf, Grants: make([]GrantBalance, 0, len(ordered))}
	summaries := make(map[pairKey]*Summary)
	live := make(map[pairKey][]int64) // remaining of non-expired grants, oldest first

	summaryFor := func(k pairKey) *Summary {
		s, ok := summaries[k]
		if !ok {
			s = &Summary{UserID: k.UserID, LeaveTypeID: k.LeaveTypeID}
			summaries[k] = s
		}
		return s
	}

	for _, g := range ordered {
		k := pairKey{g.UserID, g.LeaveTypeID}
		a := pairs[k].grants[g.ID]
		gb := GrantBalance{Grant: g, Allocation: a, Expired: g.Expired(asOf)}
		report.Grants = append(report.Grants, gb)

		s := summaryFor(k)
		s.GrantedMinutes += g.QuantityMinutes
		s.ConsumedMinutes += a.Consumed
		s.RemainingMinutes += a.Remaining
		if gb.Expired {
			s.ExpiredMinutes += a.Remaining
		} else {
			live[k] = append(live[k], a.Remaining)
		}
	}

	for k, pa := range pairs {
		summaryFor(k).UnallocatedMinutes = pa.unallocated
	}

	for k, s := range summaries {
		available, forfeited := applyCarryover(live[k], policies[k.LeaveTypeID])
		s.AvailableMinutes = available
		s.ForfeitedMinutes = forfeited
		if p := policies[k.LeaveTypeID]; p != nil {
			s.AvailableDays = generic.MinutesToDays(available, p.DayHours)
		}
		report.Summaries = append(report.Summaries, *s)
	}
	sort.Slice(report.Summaries, func(i, j int) bool {
		a, b := report.Summaries[i], report.Summaries[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.LeaveTypeID < b.LeaveTypeID
	})
	return report
}

// applyCarryover keeps the newest grant's remainder in full and caps what is
// left on older grants at the policy's carryover limit.
func applyCarryover(remaining []int64, p *Policy) (available, forfeited int64) {
	if len(remaining) == 0 {
		return 0, 0
	}
	current := remaining[len(remaining)-1]
	var carried int64
	for _, r := range remaining[:len(remaining)-1] {
		carried += r
	}
	if p != nil {
		if limit, capped := p.CarryoverCapMinutes(); capped && carried > limit {
			forfeited = carried - limit
			carried = limit
		}
	}
	return current + carried, forfeited
}
