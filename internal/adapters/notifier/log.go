package notifier

import (
	"context"
	"log/slog"

	"github.com/ghalamif/AegisHealth/internal/ports"
)

// LogNotifier writes events to a logger. Used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Publish(ctx context.Context, topic, key string, payload []byte) error {
	l.logger.DebugContext(ctx, "event", "topic", topic, "key", key, "payload", string(payload))
	return nil
}

var _ ports.EventNotifier = (*LogNotifier)(nil)
