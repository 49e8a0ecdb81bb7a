package mail

import (
	"context"

	"github.com/rs/zerolog"
)

// Log is a Sender that only logs, for local development.
type Log struct {
	logger zerolog.Logger
}

// NewLog returns a Sender writing to logger.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Send logs the message instead of sending it.
func (l *Log) Send(_ context.Context, to, subject, body string) error {
	l.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_length", len(body)).
		Msg("digest mail (not sent)")
	l.logger.Debug().Str("to", to).Msg(body)
	return nil
}
