package audit

import (
	"context"

	"go.uber.org/zap"
)

// LoggerSink writes entries as structured log lines: info for successes,
// warn for failures.
type LoggerSink struct {
	logger *zap.Logger
}

func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Write(_ context.Context, e Entry) error {
	fields := []zap.Field{
		zap.Time("timestamp", e.Timestamp),
		zap.String("username", e.Username),
		zap.String("role", e.Role),
		zap.String("action", e.Action),
		zap.Bool("success", e.Success),
		zap.Any("details", e.Details),
	}
	if e.Success {
		s.logger.Info("AUDIT SUCCESS", fields...)
	} else {
		s.logger.Warn("AUDIT FAILURE", fields...)
	}
	return nil
}
