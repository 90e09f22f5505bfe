package notify

import (
	"context"
	"fmt"
	"strings"
)

// Mailer is satisfied by *mail.SMTPMailer.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailSink emails customer-facing notices. Operator-only notices (no
// recipient) are skipped.
type MailSink struct {
	mailer Mailer
}

func NewMailSink(m Mailer) *MailSink {
	return &MailSink{mailer: m}
}

func (m *MailSink) Name() string { return "mail" }

func (m *MailSink) Send(ctx context.Context, n Notification) error {
	if strings.TrimSpace(n.Recipient) == "" {
		return nil
	}
	subject := n.Title
	if subject == "" {
		subject = fmt.Sprintf("AGI Staffers: %s", n.Kind)
	}
	return m.mailer.Send(ctx, n.Recipient, subject, n.Body)
}
