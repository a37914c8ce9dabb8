/*
allocation.go - FIFO allocation of draws against dated buckets

PURPOSE:
  A grant is a bucket of minutes available from a date; a consumption is a
  draw of minutes on a date. Balance per grant is derived by replaying draws
  against buckets, oldest bucket first.

ALGORITHM:
  1. Sort buckets by date ascending (stable: equal dates keep input order)
  2. Sort draws by date ascending (stable)
  3. For each draw, walk the buckets and take min(bucket remaining, draw left)
     until the draw is satisfied or the buckets run out
  4. Whatever a draw could not place is reported as Unallocated

  Allocation is greedy. An earlier placement is never reconsidered, and the
  allocator knows nothing about bucket expiry: a draw dated after a bucket's
  nominal expiry still drains it.

INVARIANTS:
  - sum(Used) = min(sum(bucket quantity), sum(draw quantity))
  - Used <= Quantity for every bucket
  - Allocating draws one at a time (via Allocator.Draw) in date order gives the
    same Used values as AllocateFIFO over the whole batch

EXAMPLE:
  buckets: g1 480 @2024-01-01, g2 480 @2025-01-01
  draw:    600 @2025-02-01
  result:  g1 used 480 (exhausted), g2 used 120, remaining 360

SEE ALSO:
  - leave/balance.go: Maps grants and consumptions onto this allocator
*/
package generic

import (
	"slices"
)

// =============================================================================
// TYPES
// =============================================================================

// Bucket is a dated quantity that draws are taken from.
type Bucket struct {
	ID       string
	At       Date
	Quantity int64
}

// Draw is a dated quantity to place against buckets.
type Draw struct {
	ID       string
	At       Date
	Quantity int64
}

// Usage is the allocation state of one bucket.
type Usage struct {
	Used      int64
	Remaining int64
}

// =============================================================================
// ALLOCATOR - Incremental FIFO state
// =============================================================================

// Allocator keeps buckets in FIFO order and accepts draws one at a time.
type Allocator struct {
	buckets     []Bucket
	used        []int64
	unallocated int64
}

// NewAllocator sorts a copy of buckets oldest first.
func NewAllocator(buckets []Bucket) *Allocator {
	sorted := slices.Clone(buckets)
	slices.SortStableFunc(sorted, func(a, b Bucket) int { return a.At.Compare(b.At) })
	return &Allocator{buckets: sorted, used: make([]int64, len(sorted))}
}

// Draw places one draw and returns the part that could not be placed.
// Non-positive draws are ignored.
func (a *Allocator) Draw(d Draw) int64 {
	left := d.Quantity
	if left <= 0 {
		return 0
	}

	for i, b := range a.buckets {
		if left <= 0 {
			break
		}
		available := b.Quantity - a.used[i]
		if available <= 0 {
			continue
		}
		take := min(available, left)
		a.used[i] += take
		left -= take
	}

	a.unallocated += left
	return left
}

// Usage returns per-bucket state keyed by bucket ID.
func (a *Allocator) Usage() map[string]Usage {
	out := make(map[string]Usage, len(a.buckets))
	for i, b := range a.buckets {
		out[b.ID] = Usage{Used: a.used[i], Remaining: b.Quantity - a.used[i]}
	}
	return out
}

// Unallocated is the total of all draw quantities that found no bucket.
func (a *Allocator) Unallocated() int64 { return a.unallocated }

// =============================================================================
// BATCH ENTRY POINT
// =============================================================================

// AllocateFIFO replays draws in date order against buckets in date order.
func AllocateFIFO(buckets []Bucket, draws []Draw) (map[string]Usage, int64) {
	alloc := NewAllocator(buckets)

	ordered := slices.Clone(draws)
	slices.SortStableFunc(ordered, func(a, b Draw) int { return a.At.Compare(b.At) })

	for _, d := range ordered {
		alloc.Draw(d)
	}
	return alloc.Usage(), alloc.Unallocated()
}
