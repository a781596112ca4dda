package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where metrics scraping is unavailable.
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
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.CommentID != 0 {
			fields = append(fields, zap.Int64("comment_id", evt.CommentID))
		}
		if evt.BindingID != 0 {
			fields = append(fields, zap.Int64("binding_id", evt.BindingID))
		}
		if evt.Chunks != 0 {
			fields = append(fields, zap.Int64("chunks", evt.Chunks))
		}
		if evt.Admitted != 0 {
			fields = append(fields, zap.Int64("admitted", evt.Admitted))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", string(evt.Outcome)))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
