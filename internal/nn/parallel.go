package nn

import (
	"runtime"
	"sync"
)

// numWorkers defines the default parallelism for per-batch-element work
var numWorkers = runtime.NumCPU()

// ParallelFor calls fn(i) for every i in [0, n), splitting the range across
// worker goroutines. fn must only write state owned by index i.
func ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	workers := numWorkers
	if n < workers {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup
	itemsPerWorker := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * itemsPerWorker
		if start >= n {
			break
		}
		end := start + itemsPerWorker
		if end > n {
			end = n
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}
