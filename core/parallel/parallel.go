// Package parallel splits row or column ranges across CPU cores.
package parallel

import (
	"runtime"
	"sync"
)

// chunks divides [0, items) into at most NumCPU contiguous ranges. The split
// only depends on items and the core count, so repeated calls on the same
// machine see identical ranges.
func chunks(items int) [][2]int {
	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}
	if numWorkers < 1 {
		return nil
	}

	chunkSize := (items + numWorkers - 1) / numWorkers
	out := make([][2]int, 0, numWorkers)
	for start := 0; start < items; start += chunkSize {
		end := start + chunkSize
		if end > items {
			end = items
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// Parallelize divides the specified total number (items) according to the number of CPU cores,
// and executes the specified function (fn) in parallel for each range (start, end)
func Parallelize(items int, fn func(start, end int)) {
	ranges := chunks(items)
	if len(ranges) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, r := range ranges {
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(r[0], r[1])
	}
	wg.Wait()
}

// ParallelizeWithThreshold performs parallelization only when the number of items exceeds the threshold
// If below threshold, normal sequential processing is performed
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		if items > 0 {
			fn(0, items)
		}
		return
	}
	Parallelize(items, fn)
}

// ReduceWithThreshold runs fn over row ranges, each range accumulating into
// its own zeroed buffer of length width, and returns the element-wise sum of
// the buffers. Buffers are summed in range order so the result is
// reproducible. Below the threshold a single buffer is used.
func ReduceWithThreshold(items, threshold, width int, fn func(start, end int, acc []float64)) []float64 {
	out := make([]float64, width)
	if items <= 0 {
		return out
	}
	if items <= threshold {
		fn(0, items, out)
		return out
	}

	ranges := chunks(items)
	partials := make([][]float64, len(ranges))
	var wg sync.WaitGroup
	for i, r := range ranges {
		partials[i] = make([]float64, width)
		wg.Add(1)
		go func(acc []float64, s, e int) {
			defer wg.Done()
			fn(s, e, acc)
		}(partials[i], r[0], r[1])
	}
	wg.Wait()

	for _, acc := range partials {
		for j, v := range acc {
			out[j] += v
		}
	}
	return out
}
