package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/models"
)

func TestNewLoggerSubscriber(t *testing.T) {
	subscriber := NewLoggerSubscriber(arbor.NewLogger())
	ctx := context.Background()

	err := subscriber(ctx, interfaces.Event{
		Type:    interfaces.EventExportProgress,
		Payload: models.Progress{RunID: "run_1", Phase: models.PhaseParsing, Page: 2, Message: "正在解析第 2 页..."}.WithPercent(50),
	})
	assert.NoError(t, err)

	err = subscriber(ctx, interfaces.Event{Type: interfaces.EventExportFinished, Payload: nil})
	assert.NoError(t, err)
}

func TestSubscribeLoggerToAllEvents(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	require.NoError(t, SubscribeLoggerToAllEvents(service, arbor.NewLogger()))
	assert.NoError(t, service.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventExportStarted,
		Payload: models.Progress{RunID: "run_1", Phase: models.PhaseStarting},
	}))
}

func TestService_PublishSyncOrderAndErrors(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var order []int
	require.NoError(t, service.Subscribe(interfaces.EventExportProgress, func(ctx context.Context, e interfaces.Event) error {
		order = append(order, 1)
		return nil
	}))
	require.NoError(t, service.Subscribe(interfaces.EventExportProgress, func(ctx context.Context, e interfaces.Event) error {
		order = append(order, 2)
		return errors.New("boom")
	}))

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventExportProgress})
	assert.Error(t, err)
	assert.Equal(t, []int{1, 2}, order)

	assert.Error(t, service.Subscribe(interfaces.EventExportProgress, nil))
}

func TestService_PublishAsync(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, service.Subscribe(interfaces.EventExportFinished, func(ctx context.Context, e interfaces.Event) error {
		wg.Done()
		return nil
	}))

	require.NoError(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventExportFinished}))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler was not called")
	}
}

func TestService_SubscribeAfterClose(t *testing.T) {
	service := NewService(arbor.NewLogger())
	require.NoError(t, service.Close())
	assert.Error(t, service.Subscribe(interfaces.EventExportProgress, func(ctx context.Context, e interfaces.Event) error { return nil }))
}

func TestProgressPublisher_MapsPhasesToEvents(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var mu sync.Mutex
	seen := map[interfaces.EventType][]string{}
	record := func(ctx context.Context, e interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Type] = append(seen[e.Type], e.Payload.(models.Progress).Message)
		return nil
	}
	for _, eventType := range []interfaces.EventType{interfaces.EventExportStarted, interfaces.EventExportProgress, interfaces.EventExportFinished} {
		require.NoError(t, service.Subscribe(eventType, record))
	}

	publisher := NewProgressPublisher(service, arbor.NewLogger())
	publisher.OnProgress(models.Progress{Phase: models.PhaseStarting, Message: "start"})
	publisher.OnProgress(models.Progress{Phase: models.PhaseParsing, Message: "p1"})
	publisher.OnProgress(models.Progress{Phase: models.PhaseDetails, Message: "p2"})
	publisher.OnProgress(models.Progress{Phase: models.PhaseFinished, Message: "done"})

	assert.Equal(t, []string{"start"}, seen[interfaces.EventExportStarted])
	assert.Equal(t, []string{"p1", "p2"}, seen[interfaces.EventExportProgress])
	assert.Equal(t, []string{"done"}, seen[interfaces.EventExportFinished])
}
