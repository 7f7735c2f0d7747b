package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs export events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		progress, ok := event.Payload.(models.Progress)
		if !ok {
			logger.Debug().Str("event_type", string(event.Type)).Msg("Event published")
			return nil
		}

		logEvent := logger.Debug()
		if event.Type != interfaces.EventExportProgress {
			logEvent = logger.Info()
		}

		logEvent = logEvent.
			Str("event_type", string(event.Type)).
			Str("run_id", progress.RunID).
			Str("phase", string(progress.Phase)).
			Int("page", progress.Page).
			Int("records", progress.Records)
		if progress.Percent != nil {
			logEvent = logEvent.Int("percent", *progress.Percent)
		}

		logEvent.Msg(progress.Message)
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all export event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventExportStarted,
		interfaces.EventExportProgress,
		interfaces.EventExportFinished,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
