package audit

import (
	"context"
	"log/slog"
)

// LogSink writes events to the structured log. Used when no brokers are
// configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "audit",
		"event_id", event.ID,
		"type", event.Type,
		"consent_id", event.ConsentID,
		"subject", event.Subject,
		"purpose", event.Purpose,
		"reason", event.Reason,
		"request_id", event.RequestID,
		"timestamp", event.Timestamp,
	)
	return nil
}
