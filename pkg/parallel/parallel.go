// Package parallel runs slices of independent jobs on a bounded number of
// goroutines. Jobs must only read shared state.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// DefaultWorkers is the CPU count clamped to [2, 8].
func DefaultWorkers() int {
	return min(max(runtime.NumCPU(), 2), 8)
}

// Workers returns n, or DefaultWorkers when n is not positive.
func Workers(n int) int {
	if n <= 0 {
		return DefaultWorkers()
	}
	return n
}

// Result is the outcome of one job.
type Result[R any] struct {
	Value   R
	Err     error
	Elapsed time.Duration
}

// Map applies fn to every input on at most workers goroutines and blocks
// until all are done. results[i] belongs to inputs[i]. Jobs not started
// before ctx is cancelled are skipped with ctx.Err().
func Map[T, R any](ctx context.Context, workers int, inputs []T, fn func(context.Context, T) (R, error)) []Result[R] {
	if len(inputs) == 0 {
		return nil
	}
	results := make([]Result[R], len(inputs))
	next := make(chan int)

	var wg sync.WaitGroup
	for range min(Workers(workers), len(inputs)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}
				start := time.Now()
				v, err := fn(ctx, inputs[i])
				results[i] = Result[R]{Value: v, Err: err, Elapsed: time.Since(start)}
			}
		}()
	}
	for i := range inputs {
		next <- i
	}
	close(next)
	wg.Wait()
	return results
}

// ForEach runs fn over items and returns how many succeeded and the first
// error in item order.
func ForEach[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T) error) (int, error) {
	results := Map(ctx, workers, items, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	ok := 0
	var first error
	for _, r := range results {
		if r.Err == nil {
			ok++
		} else if first == nil {
			first = r.Err
		}
	}
	return ok, first
}

// Stats summarizes a Map run.
type Stats struct {
	Jobs    int
	Failed  int
	Slowest time.Duration
}

// Summarize computes Stats over results.
func Summarize[R any](results []Result[R]) Stats {
	s := Stats{Jobs: len(results)}
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
		}
		s.Slowest = max(s.Slowest, r.Elapsed)
	}
	return s
}
