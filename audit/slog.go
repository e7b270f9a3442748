package audit

import (
	"context"
	"log/slog"
)

// SlogSink writes events as structured log records.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink logging through logger with component=audit.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "audit")}
}

func (s *SlogSink) Emit(ctx context.Context, e *Event) error {
	fields := e.Fields()
	attrs := make([]slog.Attr, 0, len(fields)+6)
	attrs = append(attrs,
		slog.String("app", e.ApplicationName),
		slog.String("event", e.Name),
		slog.String("status", e.Status.String()),
		slog.String("timestamp", e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")),
		slog.Int64("duration_ms", e.Duration.Milliseconds()),
	)
	for _, f := range fields {
		attrs = append(attrs, slog.String(f.Name, f.Value))
	}

	level := slog.LevelInfo
	if e.Level == LevelError {
		level = slog.LevelError
	}
	s.logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}
