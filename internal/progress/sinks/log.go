package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/vamdc-lines/internal/progress"
)

// LogSink writes each event as a debug-level structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("request_id", evt.RequestUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Node != "" {
			fields = append(fields, zap.String("node", evt.Node))
		}
		if evt.Descriptor != "" {
			fields = append(fields, zap.String("descriptor", evt.Descriptor))
		}
		if evt.StatusClass != "" {
			fields = append(fields, zap.String("status_class", string(evt.StatusClass)))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Rows > 0 {
			fields = append(fields, zap.Int64("rows", evt.Rows))
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

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
