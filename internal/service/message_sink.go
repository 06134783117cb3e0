package service

import (
	"context"
	"log/slog"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

// MessageSink receives admitted visitor messages. Delivery to shop staff
// happens behind it.
type MessageSink interface {
	Publish(ctx context.Context, msg *model.VisitorMessage) error
}

// LogMessageSink only logs messages; used when no downstream is wired.
type LogMessageSink struct {
	logger *slog.Logger
}

func NewLogMessageSink(logger *slog.Logger) *LogMessageSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMessageSink{logger: logger}
}

func (s *LogMessageSink) Publish(ctx context.Context, msg *model.VisitorMessage) error {
	s.logger.InfoContext(ctx, "visitor message accepted",
		"message_id", msg.ID,
		"shop_id", msg.TenantID,
		"visitor_id", msg.VisitorID,
		"bytes", len(msg.Content),
	)
	return nil
}
