package notify

import (
	"context"
	"log/slog"
)

// LogChannel records notifications in the application log. It backs the
// in-app alert feed and always succeeds.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return ChannelLog }

func (c *LogChannel) Send(_ context.Context, msg Message) error {
	attrs := []any{slog.String("subject", msg.Subject)}
	for k, v := range msg.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	c.logger.Warn(msg.Body, attrs...)
	return nil
}
