// Package notify delivers outbound mail for the worker.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds connection settings for the outbound relay.
type SMTPConfig struct {
	Host string
	Port int
	From string
	User string
	Pass string
}

// SMTPMailer delivers mail over a plain SMTP relay. Auth is used only when
// a user is configured, matching local Mailpit-style relays.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *slog.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer constructs a mailer.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) *SMTPMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{cfg: cfg, logger: logger, send: smtp.SendMail}
}

// Send delivers one message.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	raw := buildMessage(m.cfg.From, msg)
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("notify: send to %s: %w", msg.To, err)
	}
	m.logger.Info("mail sent", slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

func buildMessage(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}
