package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/notify"
)

// LogSink emits structured logs for every event. Useful during development or
// when no downstream delivery channel is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("kind", string(evt.Kind)),
			zap.String("group", string(evt.Group)),
			zap.String("target", evt.Target),
			zap.String("unit_id", evt.UnitID),
			zap.String("region", evt.Region),
			zap.Bool("available", evt.Available),
			zap.Duration("dur", evt.Dur),
		}
		if len(evt.Slots) > 0 {
			fields = append(fields, zap.Strings("slots", evt.Slots))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("poll event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
