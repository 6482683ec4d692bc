package email

import (
	"context"
	"fmt"
	"html"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/medilink-api/pkg/logger"
)

// Service delivers transactional mail.
type Service interface {
	SendPasswordReset(ctx context.Context, to, name, resetURL string) error
}

type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	DialTimeout time.Duration
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpService struct {
	dialer  dialer
	from    string
	timeout time.Duration
}

// NewSMTPService sends through an SMTP relay. With no host configured it
// falls back to a service that only logs the message.
func NewSMTPService(cfg Config, log *logger.Logger) Service {
	if cfg.Host == "" {
		return &logService{logger: log}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &smtpService{dialer: d, from: cfg.From, timeout: cfg.DialTimeout}
}

func (s *smtpService) SendPasswordReset(ctx context.Context, to, name, resetURL string) error {
	m := buildResetMessage(s.from, to, name, resetURL)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// gomail has no context support; the send is abandoned, not aborted.
	errCh := make(chan error, 1)
	go func() { errCh <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error sending email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("error sending email: %w", ctx.Err())
	}
}

func buildResetMessage(from, to, name, resetURL string) *gomail.Message {
	text, htmlBody := resetBodies(name, resetURL)
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "Password Reset Request")
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", htmlBody)
	return m
}

// resetBodies renders the plain and HTML bodies. Name and link are user
// supplied and escaped in the HTML part.
func resetBodies(name, resetURL string) (string, string) {
	text := fmt.Sprintf(
		"Hello %s,\n\nYou requested a password reset. Open the link below within one hour to choose a new password:\n\n%s\n\nIf you did not request this, you can ignore this email.\n",
		name, resetURL,
	)
	htmlBody := fmt.Sprintf(
		`<p>Hello %s,</p><p>You requested a password reset. The link below is valid for one hour.</p><p><a href="%s">Reset your password</a></p><p>If you did not request this, you can ignore this email.</p>`,
		html.EscapeString(name), html.EscapeString(resetURL),
	)
	return text, htmlBody
}

type logService struct {
	logger *logger.Logger
}

func (s *logService) SendPasswordReset(ctx context.Context, to, name, resetURL string) error {
	s.logger.WithContext(ctx).Info("SMTP not configured, password reset mail not sent", "to", to)
	s.logger.Debug("Password reset link", "url", resetURL)
	return nil
}
