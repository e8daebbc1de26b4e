package notification

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// Mailer is the email boundary the pipeline depends on. Template
// rendering and transport live behind it; the consumer only decides
// whether to send.
type Mailer interface {
	SendNotificationEmail(ctx context.Context, to string, n *Notification) error
	SendSimpleEmail(ctx context.Context, to, subject, body string) error
}

// ResendMailer sends transactional email via Resend.
type ResendMailer struct {
	client *resend.Client
	from   string
}

func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// SendNotificationEmail renders the template for the notification type
// and sends it. If rendering fails, it falls back to a plain text email
// so the message still goes out.
func (m *ResendMailer) SendNotificationEmail(ctx context.Context, to string, n *Notification) error {
	html, err := RenderNotificationEmail(n)
	if err != nil {
		return m.SendSimpleEmail(ctx, to, n.Title, n.Message)
	}

	params := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: n.Title,
		Html:    html,
	}

	if _, err := m.client.Emails.SendWithContext(ctx, params); err != nil {
		emailSends.WithLabelValues(statusFailed).Inc()
		return fmt.Errorf("failed to send email via Resend: %w", err)
	}
	emailSends.WithLabelValues(statusSent).Inc()
	return nil
}

// SendSimpleEmail sends a plain text email.
func (m *ResendMailer) SendSimpleEmail(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}

	if _, err := m.client.Emails.SendWithContext(ctx, params); err != nil {
		emailSends.WithLabelValues(statusFailed).Inc()
		return fmt.Errorf("failed to send email via Resend: %w", err)
	}
	emailSends.WithLabelValues(statusSent).Inc()
	return nil
}
