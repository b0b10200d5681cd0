// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"

	"github.com/jordan-wright/email"
	"github.com/samber/oops"

	"github.com/holomush/identity/internal/auth"
)

// SMTPConfig addresses an SMTP relay. Authentication is skipped when
// Username is empty.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPTransport delivers mail through an SMTP relay.
type SMTPTransport struct {
	addr string
	auth smtp.Auth
}

// NewSMTPTransport creates an SMTPTransport.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").
			With("host", cfg.Host).
			With("port", cfg.Port).
			Errorf("smtp host and port are required")
	}
	t := &SMTPTransport{addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}
	if cfg.Username != "" {
		t.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return t, nil
}

// Deliver sends mail. The SMTP client does not observe ctx; cancellation
// is honored between attempts by the dispatcher.
func (t *SMTPTransport) Deliver(ctx context.Context, mail auth.Mail) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SMTP_FAILED").Wrap(err)
	}
	if err := toEmail(mail).Send(t.addr, t.auth); err != nil {
		return oops.Code("MAIL_SMTP_FAILED").
			With("addr", t.addr).
			With("subject", mail.Subject).
			Wrap(err)
	}
	return nil
}

func toEmail(mail auth.Mail) *email.Email {
	e := email.NewEmail()
	e.From = mail.From
	e.To = []string{mail.To}
	e.Subject = mail.Subject
	e.HTML = []byte(mail.HTML)
	return e
}

// LogTransport writes mail to the log instead of sending it. It is meant
// for development, where the links in the body are all anyone needs.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a LogTransport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

// Deliver logs mail.
func (t *LogTransport) Deliver(ctx context.Context, mail auth.Mail) error {
	t.logger.InfoContext(ctx, "mail",
		"from", mail.From,
		"to", mail.To,
		"subject", mail.Subject,
		"html", mail.HTML)
	return nil
}

var (
	_ Transport = (*SMTPTransport)(nil)
	_ Transport = (*LogTransport)(nil)
)
