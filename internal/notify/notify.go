// Package notify sends operator-facing alerts — a run exhausting retries
// into the dead-letter queue, a health check going down — over email.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogNotifier logs alerts instead of sending them — used when no Resend
// API key is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.logger.Warn("alert", "subject", subject, "body", body)
	return nil
}

// ResendNotifier sends alert emails via the Resend API.
type ResendNotifier struct {
	client *resend.Client
	from   string
	to     string
}

func (n *ResendNotifier) Notify(ctx context.Context, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{n.to},
		Subject: subject,
		Html:    body,
	}
	_, err := n.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

// New returns a LogNotifier when apiKey is empty, ResendNotifier otherwise.
func New(apiKey, from, to string, logger *slog.Logger) Notifier {
	if apiKey == "" {
		return &LogNotifier{logger: logger}
	}
	return &ResendNotifier{
		client: resend.NewClient(apiKey),
		from:   from,
		to:     to,
	}
}
