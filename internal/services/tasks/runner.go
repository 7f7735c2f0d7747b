package tasks

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"
)

// Task is one unit of work. The bool result reports whether a value was produced;
// a task with nothing to contribute returns false.
type Task[T any] func(ctx context.Context) (T, bool)

// Result is the settled outcome of one task, aligned with the task's input position
type Result[T any] struct {
	Value   T
	OK      bool // Task ran and produced a value
	Skipped bool // Task never started because a stop was requested first
}

// Runner executes task lists with a bounded number of tasks in flight and paced starts
type Runner struct {
	limit  int
	pacer  Pacer
	logger arbor.ILogger
}

// NewRunner creates a runner allowing at most limit concurrent tasks; pacer may be nil
func NewRunner(limit int, pacer Pacer, logger arbor.ILogger) *Runner {
	if limit < 1 {
		limit = 1
	}
	return &Runner{
		limit:  limit,
		pacer:  pacer,
		logger: logger,
	}
}

// Limit returns the concurrency limit
func (r *Runner) Limit() int {
	return r.limit
}

// Run starts tasks in input order, never more than the runner's limit at once, consulting the pacer
// before each start. Once stop is observed no further task is started; tasks already running are
// allowed to finish. Task contexts derive from ctx, not from stop.
//
// The returned slice has one entry per task in input order, regardless of completion order.
func Run[T any](ctx context.Context, r *Runner, stop *StopToken, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	for i := range results {
		results[i].Skipped = true
	}
	if len(tasks) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(int64(r.limit))
	var wg sync.WaitGroup
	started := 0

	for i, task := range tasks {
		if stop.Stopped() {
			break
		}

		// Acquire may succeed on an already-cancelled context, so stop is checked again below
		if err := sem.Acquire(stop.Context(), 1); err != nil {
			break
		}
		if stop.Stopped() {
			sem.Release(1)
			break
		}

		if r.pacer != nil {
			if err := r.pacer.Pace(stop.Context(), i); err != nil {
				sem.Release(1)
				break
			}
			if stop.Stopped() {
				sem.Release(1)
				break
			}
		}

		results[i].Skipped = false
		started++
		tasksStartedTotal.Inc()
		tasksInFlight.Inc()

		wg.Add(1)
		go func(index int, task Task[T]) {
			defer wg.Done()
			defer sem.Release(1)
			defer tasksInFlight.Dec()
			defer func() {
				if rec := recover(); rec != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					tasksPanicsTotal.Inc()
					if r.logger != nil {
						r.logger.Error().
							Int("task_index", index).
							Str("panic", fmt.Sprintf("%v", rec)).
							Str("stack", string(buf[:n])).
							Msg("Recovered from panic in task")
					}
					results[index] = Result[T]{}
				}
			}()

			value, ok := task(ctx)
			results[index] = Result[T]{Value: value, OK: ok}
		}(i, task)
	}

	wg.Wait()

	if skipped := len(tasks) - started; skipped > 0 {
		tasksSkippedTotal.Add(float64(skipped))
		if r.logger != nil {
			r.logger.Debug().
				Int("started", started).
				Int("skipped", skipped).
				Msg("Stop observed, remaining tasks skipped")
		}
	}

	return results
}

// Values returns the values of tasks that ran and produced one, in input order
func Values[T any](results []Result[T]) []T {
	values := make([]T, 0, len(results))
	for _, result := range results {
		if result.OK {
			values = append(values, result.Value)
		}
	}
	return values
}
