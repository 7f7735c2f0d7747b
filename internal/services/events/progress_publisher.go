package events

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/models"
)

// ProgressPublisher is a ProgressObserver that republishes progress on the event bus.
// The first notification of a run is also published as export_started and the finished
// phase as export_finished.
type ProgressPublisher struct {
	events interfaces.EventService
	logger arbor.ILogger
}

// NewProgressPublisher creates a publisher over the given event service
func NewProgressPublisher(events interfaces.EventService, logger arbor.ILogger) *ProgressPublisher {
	return &ProgressPublisher{events: events, logger: logger}
}

// OnProgress implements interfaces.ProgressObserver. Delivery is synchronous so subscribers see
// messages in order; publishing never fails the export.
func (p *ProgressPublisher) OnProgress(progress models.Progress) {
	eventType := interfaces.EventExportProgress
	switch progress.Phase {
	case models.PhaseStarting:
		eventType = interfaces.EventExportStarted
	case models.PhaseFinished:
		eventType = interfaces.EventExportFinished
	}

	if err := p.events.PublishSync(context.Background(), interfaces.Event{
		Type:    eventType,
		Payload: progress,
	}); err != nil {
		p.logger.Warn().Err(err).Str("run_id", progress.RunID).Msg("Failed to publish export progress")
	}
}
