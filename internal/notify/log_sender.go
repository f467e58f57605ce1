package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes notifications to the log. Used when no broker is
// configured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.log.Info("notification",
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}
