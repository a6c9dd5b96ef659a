package mailer

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes emails to the log instead of delivering them. Used in dev.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", msg.Body).
		Msg("[log-mailer] email")
	return nil
}
