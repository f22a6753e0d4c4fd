// Package mail holds Mailer implementations.
package mail

import (
	"context"
	"log/slog"

	"github.com/dmehra2102/drop-checkout/internal/notification/application"
)

// LogMailer writes messages to the log instead of delivering them.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, msg application.Message) error {
	m.log.Info("notification sent", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}
