package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
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
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("issue_id", evt.IssueID),
			zap.String("state", string(evt.State)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.PDFPath != "" {
			fields = append(fields, zap.String("pdf", evt.PDFPath))
		}
		if evt.AttachmentsOK > 0 || evt.AttachmentsFailed > 0 {
			fields = append(fields,
				zap.Int("attachments_ok", evt.AttachmentsOK),
				zap.Int("attachments_failed", evt.AttachmentsFailed),
				zap.Int64("bytes", evt.Bytes),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("issue progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
