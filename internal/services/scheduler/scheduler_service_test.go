package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/services/export"
)

type fakeStarter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeStarter) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func TestService_StartStop(t *testing.T) {
	svc := NewService(context.Background(), &fakeStarter{}, arbor.NewLogger())

	require.NoError(t, svc.Start("0 3 * * *"))
	assert.True(t, svc.IsRunning())
	assert.Error(t, svc.Start("0 3 * * *"), "second start is rejected")

	status := svc.Status()
	assert.True(t, status.Enabled)
	assert.Equal(t, "0 3 * * *", status.Schedule)
	require.NotNil(t, status.NextRun)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.NoError(t, svc.Stop())
}

func TestService_InvalidSchedule(t *testing.T) {
	svc := NewService(context.Background(), &fakeStarter{}, arbor.NewLogger())
	assert.Error(t, svc.Start("not a schedule"))
	assert.Error(t, svc.Start(""))
	assert.False(t, svc.IsRunning())
}

func TestService_RunScheduledExport(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantError string
	}{
		{name: "started"},
		{name: "already running is not an error", err: export.ErrAlreadyRunning},
		{name: "failure is recorded", err: errors.New("browser gone"), wantError: "browser gone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &fakeStarter{err: tt.err}
			svc := NewService(context.Background(), starter, arbor.NewLogger()).(*Service)

			svc.runScheduledExport()

			assert.Equal(t, 1, starter.calls)
			status := svc.Status()
			require.NotNil(t, status.LastRun)
			assert.Equal(t, tt.wantError, status.LastError)
		})
	}
}
