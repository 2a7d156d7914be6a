package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/article-harvester/internal/progress"
)

// LogSink writes every event as a structured log line. Fetch and cycle
// events log at debug; run, breaker and resize events at info.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.DebugLevel
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageBreakerTransition, progress.StageBatchResize:
			level = zapcore.InfoLevel
		}
		ce := s.logger.Check(level, "progress event")
		if ce == nil {
			continue
		}
		ce.Write(fields(evt)...)
	}
	return nil
}

func fields(evt progress.Event) []zap.Field {
	out := []zap.Field{
		zap.String("run_id", evt.RunID),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Source != "" {
		out = append(out, zap.String("source", evt.Source))
	}
	if evt.URL != "" {
		out = append(out, zap.String("url", evt.URL))
	}
	if evt.Outcome != "" {
		out = append(out, zap.String("outcome", evt.Outcome))
	}
	if evt.Kind != "" {
		out = append(out, zap.String("kind", evt.Kind))
	}
	if evt.Attempt > 0 {
		out = append(out, zap.Int("attempt", evt.Attempt))
	}
	if evt.From != "" || evt.To != "" {
		out = append(out, zap.String("from", evt.From), zap.String("to", evt.To))
	}
	if evt.BatchSize > 0 {
		out = append(out, zap.Int("batch_size", evt.BatchSize))
	}
	if evt.PrevBatchSize > 0 {
		out = append(out, zap.Int("prev_batch_size", evt.PrevBatchSize))
	}
	if evt.Dur > 0 {
		out = append(out, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		out = append(out, zap.String("note", evt.Note))
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
