package auth

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	mail "github.com/go-mail/mail"
	goerrors "github.com/goliatone/go-errors"
)

// MagicLinkMessage is what gets delivered to the account holder.
type MagicLinkMessage struct {
	To        string
	Link      string
	ExpiresIn string
}

// Mailer delivers magic links out of band.
type Mailer interface {
	SendMagicLink(ctx context.Context, msg MagicLinkMessage) error
}

// SMTPMailer sends magic links through an SMTP relay.
type SMTPMailer struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	Subject            string
	TLSMode            string // "auto" | "ssl" | "none"
	InsecureSkipVerify bool
}

func NewSMTPMailer(host string, port int, from, user, pass string) *SMTPMailer {
	return &SMTPMailer{
		Host:    host,
		Port:    port,
		From:    from,
		User:    user,
		Pass:    pass,
		Subject: "Your sign-in link",
		TLSMode: "auto",
	}
}

func (s *SMTPMailer) SendMagicLink(ctx context.Context, msg MagicLinkMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", s.Subject)
	m.SetBody("text/plain", magicLinkText(msg))
	m.AddAlternative("text/html", magicLinkHTML(msg))

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: s.InsecureSkipVerify,
	}

	switch strings.ToLower(s.TLSMode) {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.InsecureSkipVerify}
	}

	if err := d.DialAndSend(m); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to send magic link").
			WithMetadata(map[string]any{"to": msg.To})
	}
	return nil
}

// LogMailer writes links to the logger instead of sending them. Meant for development.
type LogMailer struct {
	Logger Logger
}

func (m LogMailer) SendMagicLink(_ context.Context, msg MagicLinkMessage) error {
	normalizeLogger(m.Logger).Info("magic link for %s (valid %s): %s", msg.To, msg.ExpiresIn, msg.Link)
	return nil
}

func magicLinkText(msg MagicLinkMessage) string {
	return fmt.Sprintf("Use the link below to sign in. It is valid for %s.\n\n%s\n", msg.ExpiresIn, msg.Link)
}

func magicLinkHTML(msg MagicLinkMessage) string {
	return fmt.Sprintf(
		`<p>Use the link below to sign in. It is valid for %s.</p><p><a href="%s">Sign in</a></p>`,
		msg.ExpiresIn,
		msg.Link,
	)
}
