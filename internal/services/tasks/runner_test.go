package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRun_NeverExceedsLimit(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 5} {
		limit := limit
		t.Run("limit", func(t *testing.T) {
			var inFlight, maxInFlight int64
			tasks := make([]Task[int], 20)
			for i := range tasks {
				i := i
				tasks[i] = func(ctx context.Context) (int, bool) {
					current := atomic.AddInt64(&inFlight, 1)
					for {
						seen := atomic.LoadInt64(&maxInFlight)
						if current <= seen || atomic.CompareAndSwapInt64(&maxInFlight, seen, current) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt64(&inFlight, -1)
					return i, true
				}
			}

			runner := NewRunner(limit, nil, arbor.NewLogger())
			stop := NewStopToken(context.Background())
			results := Run(context.Background(), runner, stop, tasks)

			require.Len(t, results, 20)
			assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(limit))
			assert.GreaterOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(1))
		})
	}
}

func TestRun_ResultsAlignedToInputOrder(t *testing.T) {
	// Later tasks finish first
	tasks := make([]Task[string], 5)
	ids := []string{"A1", "A2", "A3", "A4", "A5"}
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (string, bool) {
			time.Sleep(time.Duration(len(tasks)-i) * 3 * time.Millisecond)
			return ids[i], true
		}
	}

	runner := NewRunner(5, nil, arbor.NewLogger())
	results := Run(context.Background(), runner, NewStopToken(context.Background()), tasks)

	assert.Equal(t, ids, Values(results))
}

func TestRun_StartsTasksInInputOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int

	tasks := make([]Task[int], 8)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (int, bool) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, true
		}
	}

	var paced []int
	pacer := PacerFunc(func(ctx context.Context, ordinal int) error {
		paced = append(paced, ordinal)
		return nil
	})

	runner := NewRunner(1, pacer, arbor.NewLogger())
	Run(context.Background(), runner, NewStopToken(context.Background()), tasks)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, paced)
}

func TestRun_StopSkipsRemainingTasks(t *testing.T) {
	stop := NewStopToken(context.Background())
	var startedCount int64

	tasks := make([]Task[int], 10)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (int, bool) {
			atomic.AddInt64(&startedCount, 1)
			if i == 2 {
				// Stop arrives while the third task is in flight
				stop.Stop()
				time.Sleep(10 * time.Millisecond)
			}
			return i, true
		}
	}

	runner := NewRunner(1, nil, arbor.NewLogger())
	results := Run(context.Background(), runner, stop, tasks)

	require.Len(t, results, 10)
	for i := 0; i < 3; i++ {
		assert.True(t, results[i].OK, "task %d should have completed", i)
		assert.False(t, results[i].Skipped)
	}
	for i := 3; i < 10; i++ {
		assert.True(t, results[i].Skipped, "task %d should have been skipped", i)
		assert.False(t, results[i].OK)
	}
	assert.Equal(t, int64(3), atomic.LoadInt64(&startedCount))
	assert.Equal(t, []int{0, 1, 2}, Values(results))
}

func TestRun_StopBeforeStartSkipsEverything(t *testing.T) {
	stop := NewStopToken(context.Background())
	stop.Stop()

	called := false
	tasks := []Task[int]{func(ctx context.Context) (int, bool) {
		called = true
		return 1, true
	}}

	results := Run(context.Background(), NewRunner(2, nil, arbor.NewLogger()), stop, tasks)

	assert.False(t, called)
	assert.True(t, results[0].Skipped)
	assert.Empty(t, Values(results))
}

func TestRun_StopDuringPacingSkipsPendingTask(t *testing.T) {
	stop := NewStopToken(context.Background())
	pacer := PacerFunc(func(ctx context.Context, ordinal int) error {
		if ordinal == 1 {
			stop.Stop()
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	tasks := make([]Task[int], 3)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (int, bool) { return i, true }
	}

	results := Run(context.Background(), NewRunner(1, pacer, arbor.NewLogger()), stop, tasks)

	assert.True(t, results[0].OK)
	assert.True(t, results[1].Skipped)
	assert.True(t, results[2].Skipped)
}

func TestRun_PanicIsolatedFromSiblings(t *testing.T) {
	tasks := []Task[int]{
		func(ctx context.Context) (int, bool) { return 1, true },
		func(ctx context.Context) (int, bool) { panic("boom") },
		func(ctx context.Context) (int, bool) { return 3, true },
	}

	results := Run(context.Background(), NewRunner(2, nil, arbor.NewLogger()), NewStopToken(context.Background()), tasks)

	assert.Equal(t, []int{1, 3}, Values(results))
	assert.False(t, results[1].OK)
	assert.False(t, results[1].Skipped)
}

func TestRun_AbsentResultsFiltered(t *testing.T) {
	tasks := []Task[int]{
		func(ctx context.Context) (int, bool) { return 1, true },
		func(ctx context.Context) (int, bool) { return 0, false },
		func(ctx context.Context) (int, bool) { return 3, true },
	}

	results := Run(context.Background(), NewRunner(1, nil, arbor.NewLogger()), NewStopToken(context.Background()), tasks)

	assert.Equal(t, []int{1, 3}, Values(results))
}

func TestRun_EmptyTaskList(t *testing.T) {
	results := Run[int](context.Background(), NewRunner(1, nil, arbor.NewLogger()), NewStopToken(context.Background()), nil)
	assert.Empty(t, results)
}

func TestNewRunner_ClampsLimit(t *testing.T) {
	assert.Equal(t, 1, NewRunner(0, nil, arbor.NewLogger()).Limit())
	assert.Equal(t, 1, NewRunner(-3, nil, arbor.NewLogger()).Limit())
	assert.Equal(t, 4, NewRunner(4, nil, arbor.NewLogger()).Limit())
}
