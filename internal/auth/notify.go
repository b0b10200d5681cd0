// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"bytes"
	"context"
	"html/template"
	"net/url"
	"strings"

	"github.com/samber/oops"
)

// Mail is an outbound notification.
type Mail struct {
	To      string
	From    string
	Subject string
	HTML    string
}

// Notifier delivers mail. The lifecycle service never branches on the
// result; delivery guarantees belong to the implementation.
type Notifier interface {
	Send(ctx context.Context, mail Mail) error
}

// Mail subjects.
const (
	SubjectVerification  = "Account Verification Token"
	SubjectResetRequest  = "Password change request"
	SubjectResetComplete = "Your password has been changed"
)

var mailTemplates = template.Must(template.New("mail").Parse(`
{{define "verification"}}<p>Hi {{.FirstName}}</p><br><p>Please click on the following <a href="{{.Link}}">link</a> to verify your account.</p>
<br><p>If you did not request this, please ignore this email.</p>{{end}}
{{define "reset_request"}}<p>Hi {{.FirstName}}</p>
<p>Please click on the following <a href="{{.Link}}">link</a> to reset your password.</p>
<p>If you did not request this, please ignore this email and your password will remain unchanged.</p>{{end}}
{{define "reset_complete"}}<p>Hi {{.FirstName}}</p><p>This is a confirmation that the password for your account {{.Email}} has just been changed.</p>{{end}}
`))

type mailData struct {
	FirstName string
	Email     string
	Link      string
}

// MailComposer renders lifecycle mails.
type MailComposer struct {
	from      string
	publicURL *url.URL
}

// NewMailComposer creates a MailComposer. publicURL is the externally
// reachable base URL used to build verification and reset links.
func NewMailComposer(from, publicURL string) (*MailComposer, error) {
	if from == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("sender address is required")
	}
	u, err := url.Parse(publicURL)
	if err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("public_url", publicURL).Wrap(err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").
			With("public_url", publicURL).
			Errorf("public URL must be absolute")
	}
	return &MailComposer{from: from, publicURL: u}, nil
}

// VerificationLink returns the link that consumes a verification token.
func (c *MailComposer) VerificationLink(token string) string {
	return c.link("api/auth/verify", token)
}

// ResetLink returns the link that consumes a reset token.
func (c *MailComposer) ResetLink(token string) string {
	return c.link("api/auth/reset", token)
}

func (c *MailComposer) link(prefix, token string) string {
	u := *c.publicURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + prefix + "/" + url.PathEscape(token)
	u.RawQuery = ""
	return u.String()
}

// Verification renders the email-verification mail.
func (c *MailComposer) Verification(account *Account, token string) (Mail, error) {
	return c.render("verification", SubjectVerification, account, c.VerificationLink(token))
}

// ResetRequest renders the password-reset mail.
func (c *MailComposer) ResetRequest(account *Account, token string) (Mail, error) {
	return c.render("reset_request", SubjectResetRequest, account, c.ResetLink(token))
}

// ResetComplete renders the password-changed confirmation.
func (c *MailComposer) ResetComplete(account *Account) (Mail, error) {
	return c.render("reset_complete", SubjectResetComplete, account, "")
}

func (c *MailComposer) render(name, subject string, account *Account, link string) (Mail, error) {
	var buf bytes.Buffer
	data := mailData{FirstName: account.FirstName, Email: account.Email, Link: link}
	if err := mailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return Mail{}, oops.Code("MAIL_RENDER_FAILED").With("template", name).Wrap(err)
	}
	return Mail{
		To:      account.Email,
		From:    c.from,
		Subject: subject,
		HTML:    buf.String(),
	}, nil
}
