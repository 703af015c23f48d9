// Package mail delivers account lifecycle email over SMTP.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"authgrid.org/internal/obs"
)

// Config carries the SMTP endpoint and sender identity.
type Config struct {
	Host    string
	Port    int
	User    string
	Pass    string
	Sender  string
	BaseURL string
}

// Mailer sends verification and password-reset mail. A fresh SMTP
// connection is dialed per message; delivery volume here is a handful of
// messages per account lifetime, not a queue.
type Mailer struct {
	cfg Config
	log *slog.Logger
}

// New constructs a Mailer. Host and Sender are required.
func New(cfg Config) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail: smtp host is required")
	}
	if cfg.Sender == "" {
		return nil, fmt.Errorf("mail: sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Mailer{cfg: cfg, log: obs.Component("mail")}, nil
}

// SendVerification mails the address-confirmation link for a new account.
func (m *Mailer) SendVerification(ctx context.Context, to, name, verifyToken string) error {
	link := m.link("/auth/verify-email", "token", verifyToken)
	text := fmt.Sprintf(
		"Hello %s,\n\nPlease confirm your email address by opening the link below:\n\n%s\n\nIf you did not create this account, ignore this message.\n",
		displayName(name), link)
	html := fmt.Sprintf(
		"<p>Hello %s,</p><p>Please confirm your email address:</p><p><a href=%q>Verify email</a></p><p>If you did not create this account, ignore this message.</p>",
		displayName(name), link)
	return m.send(ctx, to, "Confirm your email address", text, html)
}

// SendPasswordReset mails a one-time reset link.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, name, resetToken string) error {
	link := m.link("/auth/reset-password", "token", resetToken)
	text := fmt.Sprintf(
		"Hello %s,\n\nA password reset was requested for your account. Open the link below to choose a new password:\n\n%s\n\nThe link expires shortly. If you did not request this, ignore this message.\n",
		displayName(name), link)
	html := fmt.Sprintf(
		"<p>Hello %s,</p><p>A password reset was requested for your account.</p><p><a href=%q>Reset password</a></p><p>The link expires shortly. If you did not request this, ignore this message.</p>",
		displayName(name), link)
	return m.send(ctx, to, "Reset your password", text, html)
}

func (m *Mailer) send(ctx context.Context, to, subject, text, html string) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.cfg.Sender); err != nil {
		return fmt.Errorf("mail: sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("mail: recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, text)
	msg.AddAlternativeString(gomail.TypeTextHTML, html)

	opts := []gomail.Option{
		gomail.WithPort(m.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if m.cfg.User != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.User),
			gomail.WithPassword(m.cfg.Pass),
		)
	}
	client, err := gomail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("mail: smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send to %s: %w", to, err)
	}
	m.log.Debug("mail sent", "to", to, "subject", subject)
	return nil
}

func (m *Mailer) link(path, param, value string) string {
	return m.cfg.BaseURL + path + "?" + param + "=" + url.QueryEscape(value)
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "there"
	}
	return name
}
