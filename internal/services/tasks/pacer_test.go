package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchPacer_IsBatchBoundary(t *testing.T) {
	pacer := NewBatchPacer(PacerConfig{BatchSize: 5}, nil)

	tests := []struct {
		ordinal int
		want    bool
	}{
		{0, false},
		{1, false},
		{4, false},
		{5, true},
		{6, false},
		{10, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, pacer.IsBatchBoundary(tt.ordinal), "ordinal %d", tt.ordinal)
	}

	disabled := NewBatchPacer(PacerConfig{BatchSize: 0}, nil)
	assert.False(t, disabled.IsBatchBoundary(5))
}

func TestBatchPacer_NextDelayWithinRange(t *testing.T) {
	pacer := NewBatchPacer(PacerConfig{MinDelay: 2 * time.Second, MaxDelay: 5 * time.Second}, nil)

	for i := 0; i < 200; i++ {
		d := pacer.NextDelay()
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestBatchPacer_FixedDelay(t *testing.T) {
	pacer := NewBatchPacer(PacerConfig{MinDelay: time.Second, MaxDelay: time.Second}, nil)
	assert.Equal(t, time.Second, pacer.NextDelay())

	// Max below min collapses to a fixed delay
	inverted := NewBatchPacer(PacerConfig{MinDelay: 3 * time.Second, MaxDelay: time.Second}, nil)
	assert.Equal(t, 3*time.Second, inverted.NextDelay())
}

func TestBatchPacer_PauseNotifiesAtBoundary(t *testing.T) {
	var pausedAt []int
	pacer := NewBatchPacer(PacerConfig{
		MinDelay:   time.Millisecond,
		MaxDelay:   time.Millisecond,
		BatchSize:  2,
		BatchPause: time.Millisecond,
	}, func(ordinal int, pause time.Duration) {
		pausedAt = append(pausedAt, ordinal)
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, pacer.Pace(context.Background(), i))
	}

	assert.Equal(t, []int{2, 4}, pausedAt)
}

func TestBatchPacer_PaceReturnsOnCancel(t *testing.T) {
	pacer := NewBatchPacer(PacerConfig{MinDelay: time.Hour, MaxDelay: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := pacer.Pace(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBatchPacer_MaxRate(t *testing.T) {
	pacer := NewBatchPacer(PacerConfig{MaxRate: 1000}, nil)
	require.NotNil(t, pacer.limiter)

	for i := 0; i < 3; i++ {
		require.NoError(t, pacer.Pace(context.Background(), i))
	}
}

func TestSleep_StopCutsWaitShort(t *testing.T) {
	stop := NewStopToken(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		stop.Stop()
	}()

	start := time.Now()
	assert.False(t, Sleep(stop, time.Hour))
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, stop.Stopped())
}

func TestSleep_CompletesWithoutStop(t *testing.T) {
	stop := NewStopToken(context.Background())
	assert.True(t, Sleep(stop, time.Millisecond))
	assert.True(t, Sleep(stop, 0))
	assert.False(t, stop.Stopped())
}

func TestStopToken_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	stop := NewStopToken(parent)
	assert.False(t, stop.Stopped())

	cancel()
	assert.True(t, stop.Stopped())

	// Stop after the parent fired is harmless
	stop.Stop()
	assert.True(t, stop.Stopped())
}
