package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/polyprop/polyprop/internal/domain"
)

// publishEvent pushes a JSON event onto the signal bus. Event delivery is
// best-effort: a bus failure is logged, never propagated into the write path.
func publishEvent(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel string, event map[string]any) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.ErrorContext(ctx, "engine: marshal event",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "engine: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := bus.StreamAppend(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "engine: stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
