package sms

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes outbound messages to the log instead of a provider.
// Used for local development and smoke tests.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a log-only sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendSms logs the message and succeeds.
func (s *LogSender) SendSms(_ context.Context, phoneNumber, body string) error {
	s.logger.Info("outbound sms",
		zap.String("phone", phoneNumber),
		zap.String("body", body),
	)
	return nil
}
