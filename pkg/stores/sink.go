package stores

import (
	"context"
	"time"

	"github.com/tokei-app/tokei/pkg/engine"
	"github.com/tokei-app/tokei/pkg/telemetry"
)

// EventSink returns a subscriber that appends every run event to the
// ledger. The run row is created when its run.started event arrives.
// Ledger failures are logged and never fail the run.
func EventSink(ctx context.Context, store Store) telemetry.EventSubscriber {
	logger := telemetry.FromContext(ctx).NewComponentLogger("ledger")

	return func(event telemetry.Event) {
		if event.RunID == "" {
			return
		}

		if event.Type == telemetry.EventTypeRunStarted {
			mode, _ := event.Data["mode"].(string)
			started := event.Timestamp
			if started.IsZero() {
				started = time.Now()
			}
			if err := store.CreateRun(ctx, &Run{
				ID:        event.RunID,
				Mode:      engine.Mode(mode),
				Status:    engine.RunStatusRunning,
				StartedAt: started,
			}); err != nil {
				logger.WithError(err).Warn("failed to record run start")
				return
			}
		}

		if err := store.AppendEvent(ctx, EventFromTelemetry(event)); err != nil {
			logger.WithError(err).WithField("event_type", event.Type).Warn("failed to record run event")
		}
	}
}
