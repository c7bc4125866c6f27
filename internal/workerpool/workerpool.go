// Package workerpool implements the thread-pool contract evaluation
// callers are expected to supply (parallel_for, batch_parallel_for,
// partition_work): goroutine fan-out built on golang.org/x/sync/errgroup
// so that one worker's error aborts the batch and surfaces as a single
// error instead of being silently dropped.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool is the thread pool an evaluator dispatches parallel work onto.
type Pool interface {
	// Workers reports the usable thread count P, used by regime selection.
	Workers() int
	// ParallelFor runs body(i) for every i in [0, n), propagating the
	// first worker error (if any) and cancelling outstanding work.
	ParallelFor(n int, body func(i int) error) error
	// BatchParallelFor runs body(i) for every i in [0, n), using at most
	// maxWorkers goroutines regardless of Workers().
	BatchParallelFor(n, maxWorkers int, body func(i int) error) error
}

// Static implements Pool with a fixed worker count, using errgroup for
// cancellation-on-error instead of an unbounded channel fan-out.
type Static struct {
	workers int
}

// New returns a Static pool with the given usable worker count. A
// non-positive count is treated as 1 (serial).
func New(workers int) *Static {
	if workers < 1 {
		workers = 1
	}
	return &Static{workers: workers}
}

func (p *Static) Workers() int { return p.workers }

func (p *Static) ParallelFor(n int, body func(i int) error) error {
	return p.BatchParallelFor(n, p.workers, body)
}

func (p *Static) BatchParallelFor(n, maxWorkers int, body func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers > n {
		maxWorkers = n
	}
	if maxWorkers == 1 {
		for i := 0; i < n; i++ {
			if err := body(i); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < maxWorkers; w++ {
		start, end := PartitionWork(w, maxWorkers, n)
		if start == end {
			continue
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := body(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// PartitionWork splits n_items contiguously and as evenly as possible
// across n_workers, returning the half-open range [start, end) owned by
// worker. The first n_items % n_workers workers get one extra item, so no
// worker is ever starved by more than one item relative to another.
func PartitionWork(worker, nWorkers, nItems int) (start, end int) {
	if nWorkers <= 0 || nItems <= 0 {
		return 0, 0
	}
	base := nItems / nWorkers
	rem := nItems % nWorkers
	start = worker*base + min(worker, rem)
	end = start + base
	if worker < rem {
		end++
	}
	if end > nItems {
		end = nItems
	}
	return start, end
}
