package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
)

func TestWaitBeforeClick_StopDuringDelay(t *testing.T) {
	stop := make(chan struct{})
	time.AfterFunc(20*time.Millisecond, func() { close(stop) })

	start := time.Now()
	assert.False(t, waitBeforeClick(context.Background(), stop, 5*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second, "stop must cut the delay short")
}

func TestWaitBeforeClick_AlreadyStopped(t *testing.T) {
	stop := make(chan struct{})
	close(stop)
	assert.False(t, waitBeforeClick(context.Background(), stop, 0))
}

func TestWaitBeforeClick_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, waitBeforeClick(ctx, make(chan struct{}), time.Second))
}

func TestWaitBeforeClick_DelayElapses(t *testing.T) {
	assert.True(t, waitBeforeClick(context.Background(), make(chan struct{}), 10*time.Millisecond))
	assert.True(t, waitBeforeClick(context.Background(), nil, 0))
}

func TestPaginator_AdvanceAfterStopDoesNothing(t *testing.T) {
	// The session is never started, so any page access would fail with ErrNotStarted
	paginator := NewPaginator(NewSession(common.BrowserConfig{}, arbor.NewLogger()), "a.next", 0, arbor.NewLogger())
	stop := make(chan struct{})
	close(stop)

	advanced, err := paginator.Advance(context.Background(), stop)
	assert.NoError(t, err)
	assert.False(t, advanced)
}
