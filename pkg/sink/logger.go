package sink

import (
	"go.uber.org/zap"

	"github.com/yairfalse/dropwatch/pkg/collector"
	"github.com/yairfalse/dropwatch/pkg/domain"
)

// Logger emits every drop event as a structured log entry.
type Logger struct {
	logger *zap.Logger
}

var _ collector.Sink = (*Logger)(nil)

// NewLogger creates a structured log sink.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

func (s *Logger) Emit(event domain.DropEvent) {
	s.logger.Info("Packet drop",
		zap.Uint32("pid", event.PID),
		zap.Uint32("reason_code", uint32(event.Reason)),
		zap.Stringer("reason", event.Reason))
}
