package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelize_CoversEveryItemOnce(t *testing.T) {
	for _, n := range []int{0, 1, 7, 1000, 12345} {
		seen := make([]int32, n)
		Parallelize(n, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
		})
		for i, c := range seen {
			assert.Equal(t, int32(1), c, "item %d of %d", i, n)
		}
	}
}

func TestParallelizeWithThreshold_Sequential(t *testing.T) {
	calls := 0
	ParallelizeWithThreshold(10, 100, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	})
	assert.Equal(t, 1, calls)

	ParallelizeWithThreshold(0, 100, func(start, end int) {
		t.Fatal("must not be called for zero items")
	})
}

func TestReduceWithThreshold(t *testing.T) {
	const n = 5000
	sum := func(threshold int) []float64 {
		return ReduceWithThreshold(n, threshold, 2, func(start, end int, acc []float64) {
			for i := start; i < end; i++ {
				acc[0] += float64(i)
				acc[1]++
			}
		})
	}

	parallel := sum(10)
	sequential := sum(n)
	assert.Equal(t, float64(n*(n-1)/2), sequential[0])
	assert.Equal(t, float64(n), sequential[1])
	assert.Equal(t, sequential, parallel)

	// identical ranges give bit-identical results
	assert.Equal(t, sum(10), sum(10))
	assert.Equal(t, []float64{0, 0}, ReduceWithThreshold(0, 10, 2, nil))
}
