// Package baseline holds the two reference strategies the dynamic scheduler
// is measured against: a single-threaded sweep and static row partitioning.
package baseline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/gridpool/internal/app/taskpool"
	"github.com/tutu-network/gridpool/internal/domain"
	"github.com/tutu-network/gridpool/internal/infra/grid"
)

// Sequential evaluates every task in index order on the calling goroutine.
// It is also the fallback when no workers are available.
func Sequential(ctx context.Context, space domain.TaskSpace, cost domain.CostFunc) (float64, error) {
	var acc taskpool.Sum
	for i := 0; i < space.Len(); i++ {
		if i%64 == 0 && ctx.Err() != nil {
			return acc.Value(), ctx.Err()
		}
		t := space.At(i)
		acc.Add(cost(t.X, t.Y))
	}
	return acc.Value(), nil
}

// RowRange is the contiguous block of rows [From, To) owned by one worker.
type RowRange struct {
	Worker domain.WorkerID
	From   int
	To     int
}

// Rows returns how many rows the range covers.
func (r RowRange) Rows() int { return r.To - r.From }

// Partition splits size rows over workers: each gets size/workers rows and
// the first size%workers get one more. Workers past the last row get an
// empty range.
func Partition(size, workers int) []RowRange {
	if workers < 1 {
		return nil
	}
	per, extra := size/workers, size%workers
	out := make([]RowRange, 0, workers)
	from := 0
	for i := 1; i <= workers; i++ {
		rows := per
		if i <= extra {
			rows++
		}
		out = append(out, RowRange{Worker: domain.WorkerID(i), From: from, To: from + rows})
		from += rows
	}
	return out
}

// StaticReport is the outcome of a static run.
type StaticReport struct {
	Sum     float64
	Ranges  []RowRange
	Busy    map[domain.WorkerID]time.Duration
	Elapsed time.Duration
}

// WorkerStats reports tasks per worker as rows × size.
func (r StaticReport) WorkerStats(size int) []domain.WorkerStat {
	stats := make([]domain.WorkerStat, 0, len(r.Ranges))
	for _, rr := range r.Ranges {
		stats = append(stats, domain.WorkerStat{Worker: rr.Worker, Tasks: rr.Rows() * size})
	}
	return stats
}

// Imbalance returns the busy time of the slowest and the fastest worker.
// A wide gap is what dynamic scheduling removes.
func (r StaticReport) Imbalance() (slowest, fastest time.Duration) {
	first := true
	for _, d := range r.Busy {
		if first || d > slowest {
			slowest = d
		}
		if first || d < fastest {
			fastest = d
		}
		first = false
	}
	return slowest, fastest
}

// Static runs the row-partitioned baseline: one goroutine per worker sums
// its own rows, and the partial sums are combined in worker order.
func Static(ctx context.Context, space grid.Space, workers int, cost domain.CostFunc) (StaticReport, error) {
	if workers < 1 {
		return StaticReport{}, fmt.Errorf("static with %d workers: %w", workers, domain.ErrInsufficientWorkers)
	}

	start := time.Now()
	ranges := Partition(space.Size(), workers)
	partial := make([]float64, len(ranges))
	busy := make([]time.Duration, len(ranges))

	var wg sync.WaitGroup
	for i, rr := range ranges {
		wg.Add(1)
		go func(i int, rr RowRange) {
			defer wg.Done()
			t0 := time.Now()
			var acc taskpool.Sum
			for x := rr.From; x < rr.To; x++ {
				if ctx.Err() != nil {
					return
				}
				lo, hi := space.Row(x)
				for idx := lo; idx < hi; idx++ {
					t := space.At(idx)
					acc.Add(cost(t.X, t.Y))
				}
			}
			partial[i] = acc.Value()
			busy[i] = time.Since(t0)
		}(i, rr)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return StaticReport{}, err
	}

	rep := StaticReport{
		Sum:     taskpool.SumOf(partial...),
		Ranges:  ranges,
		Busy:    make(map[domain.WorkerID]time.Duration, len(ranges)),
		Elapsed: time.Since(start),
	}
	for i, rr := range ranges {
		rep.Busy[rr.Worker] = busy[i]
	}
	return rep, nil
}
