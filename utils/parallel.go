package utils

import "sync"

// Parallel calls f(i) for every i in [start, end), splitting the range into
// contiguous chunks across at most workers goroutines. It returns once all
// calls have finished. f must be safe to call concurrently.
func Parallel(start, end, workers int, f func(i int)) {
	n := end - start
	if n <= 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := start + w*chunk
		hi := lo + chunk
		if hi > end {
			hi = end
		}
		if lo >= hi {
			break
		}

		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				f(i)
			}
		}(lo, hi)
	}
	wg.Wait()
}
