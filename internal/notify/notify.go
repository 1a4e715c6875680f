// Package notify delivers best-effort messages to ticket assignees.
package notify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/config"
)

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, subject, body string) error

func (f SenderFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

// Multi fans a message out to every sender and joins their errors.
type Multi []Sender

func (m Multi) Send(ctx context.Context, to, subject, body string) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, to, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New assembles the senders enabled by cfg. SMTP needs a host and a from
// address, the webhook needs a URL. With neither, messages are only logged.
func New(cfg config.NotificationConfig, logger *zap.Logger) Sender {
	var senders Multi
	if strings.TrimSpace(cfg.SMTPHost) != "" && strings.TrimSpace(cfg.EmailFrom) != "" {
		senders = append(senders, NewSMTPSender(cfg))
	}
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		senders = append(senders, NewWebhookSender(cfg.WebhookURL))
	}
	if len(senders) == 0 {
		logger.Info("no notification transport configured, assignee messages will be logged only")
		return NewLogSender(logger)
	}
	return senders
}
