package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func bucket(id, at string, qty int64) Bucket { return Bucket{ID: id, At: MustDate(at), Quantity: qty} }
func draw(id, at string, qty int64) Draw     { return Draw{ID: id, At: MustDate(at), Quantity: qty} }

func TestAllocateFIFO_OldestFirst(t *testing.T) {
	// GIVEN: Two grants a year apart
	buckets := []Bucket{bucket("g2", "2025-01-01", 480), bucket("g1", "2024-01-01", 480)}

	// WHEN: A 600 minute draw lands after both
	usage, unallocated := AllocateFIFO(buckets, []Draw{draw("c1", "2025-02-01", 600)})

	// THEN: The older grant is exhausted first
	assert.Equal(t, Usage{Used: 480, Remaining: 0}, usage["g1"])
	assert.Equal(t, Usage{Used: 120, Remaining: 360}, usage["g2"])
	assert.Zero(t, unallocated)
}

func TestAllocateFIFO_Overdraw(t *testing.T) {
	usage, unallocated := AllocateFIFO(
		[]Bucket{bucket("g1", "2024-01-01", 480)},
		[]Draw{draw("c1", "2024-02-01", 300), draw("c2", "2024-03-01", 300)},
	)

	assert.Equal(t, Usage{Used: 480, Remaining: 0}, usage["g1"])
	assert.Equal(t, int64(120), unallocated)
}

func TestAllocateFIFO_IgnoresExpiry(t *testing.T) {
	// A draw long after the bucket's nominal life still drains it.
	usage, _ := AllocateFIFO(
		[]Bucket{bucket("g1", "2020-01-01", 480), bucket("g2", "2025-01-01", 480)},
		[]Draw{draw("c1", "2025-06-01", 60)},
	)

	assert.Equal(t, int64(60), usage["g1"].Used)
	assert.Zero(t, usage["g2"].Used)
}

func TestAllocateFIFO_NonPositiveDrawsIgnored(t *testing.T) {
	usage, unallocated := AllocateFIFO(
		[]Bucket{bucket("g1", "2024-01-01", 480)},
		[]Draw{draw("c1", "2024-02-01", 0), draw("c2", "2024-02-01", -60)},
	)

	assert.Zero(t, usage["g1"].Used)
	assert.Zero(t, unallocated)
}

func TestAllocateFIFO_Conservation(t *testing.T) {
	buckets := []Bucket{
		bucket("g1", "2023-01-01", 480),
		bucket("g2", "2024-01-01", 960),
		bucket("g3", "2024-01-01", 240),
		bucket("g4", "2025-01-01", 0),
	}
	draws := []Draw{
		draw("c1", "2024-03-01", 100),
		draw("c2", "2023-06-01", 700),
		draw("c3", "2025-02-01", 555),
		draw("c4", "2025-02-01", 900),
	}

	usage, unallocated := AllocateFIFO(buckets, draws)

	var supply, demand, used int64
	for _, b := range buckets {
		supply += b.Quantity
		u := usage[b.ID]
		assert.LessOrEqual(t, u.Used, b.Quantity, b.ID)
		assert.Equal(t, b.Quantity, u.Used+u.Remaining, b.ID)
		used += u.Used
	}
	for _, d := range draws {
		demand += d.Quantity
	}
	assert.Equal(t, min(supply, demand), used)
	assert.Equal(t, demand-used, unallocated)
}

func TestAllocator_IncrementalMatchesBatch(t *testing.T) {
	// GIVEN: The same draws applied one at a time in date order
	buckets := []Bucket{
		bucket("g1", "2023-01-01", 480),
		bucket("g2", "2024-01-01", 960),
		bucket("g3", "2025-01-01", 480),
	}
	draws := []Draw{
		draw("c1", "2023-02-01", 240),
		draw("c2", "2024-02-01", 480),
		draw("c3", "2024-05-01", 600),
		draw("c4", "2025-03-01", 300),
	}

	alloc := NewAllocator(buckets)
	for _, d := range draws {
		alloc.Draw(d)
	}

	// THEN: Per-bucket usage equals the batch result
	batch, batchUnallocated := AllocateFIFO(buckets, draws)
	assert.Equal(t, batch, alloc.Usage())
	assert.Equal(t, batchUnallocated, alloc.Unallocated())
}

func TestAllocateFIFO_EqualDatesKeepInputOrder(t *testing.T) {
	usage, _ := AllocateFIFO(
		[]Bucket{bucket("a", "2024-01-01", 100), bucket("b", "2024-01-01", 100)},
		[]Draw{draw("c1", "2024-02-01", 150)},
	)

	assert.Equal(t, int64(100), usage["a"].Used)
	assert.Equal(t, int64(50), usage["b"].Used)
}
