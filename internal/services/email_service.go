package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"time"

	pkglogger "github.com/BradenHooton/medauth/pkg/logger"
)

// EmailService is the outbound mail collaborator. It only reports success or failure.
type EmailService interface {
	SendVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) error
	SendPasswordResetLink(ctx context.Context, email, token string, expiresAt time.Time) error
}

// OutboundEmail is a rendered message handed to a MailTransport
type OutboundEmail struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// MailTransport delivers a rendered message
type MailTransport interface {
	Send(ctx context.Context, msg OutboundEmail) error
}

// TemplatedEmailService renders the account emails and hands them to a transport
type TemplatedEmailService struct {
	transport    MailTransport
	resetURLBase string
	logger       *slog.Logger
}

func NewTemplatedEmailService(transport MailTransport, resetURLBase string, logger *slog.Logger) *TemplatedEmailService {
	return &TemplatedEmailService{
		transport:    transport,
		resetURLBase: resetURLBase,
		logger:       logger,
	}
}

func (s *TemplatedEmailService) SendVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	msg := renderVerificationEmail(email, code, time.Until(expiresAt))
	return s.deliver(ctx, "verification", msg)
}

func (s *TemplatedEmailService) SendPasswordResetLink(ctx context.Context, email, token string, expiresAt time.Time) error {
	link, err := resetLink(s.resetURLBase, token)
	if err != nil {
		return err
	}
	msg := renderPasswordResetEmail(email, link, time.Until(expiresAt))
	return s.deliver(ctx, "password_reset", msg)
}

// resetLink adds the token to base, keeping any query it already carries
func resetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid reset URL base: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *TemplatedEmailService) deliver(ctx context.Context, kind string, msg OutboundEmail) error {
	if err := s.transport.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send email",
			slog.String("kind", kind),
			pkglogger.EmailAttr(msg.To),
			slog.Any("error", err))
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}

	s.logger.Info("email sent", slog.String("kind", kind), pkglogger.EmailAttr(msg.To))
	return nil
}

// humanMinutes renders a remaining lifetime as whole minutes, at least one
func humanMinutes(d time.Duration) string {
	m := int(d.Round(time.Minute) / time.Minute)
	if m < 1 {
		m = 1
	}
	if m%60 == 0 {
		h := m / 60
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

func renderVerificationEmail(to, code string, ttl time.Duration) OutboundEmail {
	expires := humanMinutes(ttl)
	code = html.EscapeString(code)

	htmlBody := fmt.Sprintf(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background-color: #4F46E5; color: white; padding: 20px; text-align: center;">
    <h1>Email Verification</h1>
  </div>
  <div style="padding: 20px; background-color: #f9f9f9;">
    <p>Thank you for registering with the Doctor Appointment System.</p>
    <p>Your verification code is:</p>
    <div style="background-color: #4F46E5; color: white; padding: 15px; text-align: center; font-size: 24px; font-weight: bold;">%s</div>
    <p>This code will expire in %s.</p>
    <p>If you didn't request this verification, please ignore this email.</p>
  </div>
</div>
`, code, expires)

	textBody := fmt.Sprintf(`Email Verification

Thank you for registering with the Doctor Appointment System.

Your verification code is: %s

This code will expire in %s.
If you didn't request this verification, please ignore this email.
`, code, expires)

	return OutboundEmail{
		To:       to,
		Subject:  "Email Verification - Doctor Appointment System",
		HTMLBody: htmlBody,
		TextBody: textBody,
	}
}

func renderPasswordResetEmail(to, link string, ttl time.Duration) OutboundEmail {
	expires := humanMinutes(ttl)
	escaped := html.EscapeString(link)

	htmlBody := fmt.Sprintf(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background-color: #DC2626; color: white; padding: 20px; text-align: center;">
    <h1>Password Reset</h1>
  </div>
  <div style="padding: 20px; background-color: #f9f9f9;">
    <p>You requested a password reset for your account.</p>
    <p><a href="%s" style="background-color: #DC2626; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px;">Reset Password</a></p>
    <p>Or copy this link into your browser:<br><code>%s</code></p>
    <p>This link will expire in %s.</p>
    <p>If you didn't request this reset, please ignore this email.</p>
  </div>
</div>
`, escaped, escaped, expires)

	textBody := fmt.Sprintf(`Password Reset

You requested a password reset for your account. Open this link to choose a new password:

%s

This link will expire in %s.
If you didn't request this reset, please ignore this email.
`, link, expires)

	return OutboundEmail{
		To:       to,
		Subject:  "Password Reset - Doctor Appointment System",
		HTMLBody: htmlBody,
		TextBody: textBody,
	}
}
