package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/progress"
)

// LogSink emits one debug log line per event. It is useful during development
// or audits where a durable store is unavailable.
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
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageEntryDone:
			fields = append(fields,
				zap.String("step", evt.Step),
				zap.Int64("entry_id", evt.EntryID),
				zap.Int64("feed_id", evt.FeedID),
				zap.String("disposition", evt.Disposition),
				zap.Int64("bytes", evt.Bytes),
			)
		case progress.StageWorkerDone:
			fields = append(fields, zap.String("step", evt.Step))
		case progress.StageRunDone, progress.StageRunAborted, progress.StageRunError:
			fields = append(fields,
				zap.Int64("processed", evt.Processed),
				zap.Int64("skipped", evt.Skipped),
				zap.Int64("failed", evt.Failed),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
