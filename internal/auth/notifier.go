package auth

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/elskow/shop-auth/internal/config"
)

// Notifier delivers account emails. Every call is a post-commit side effect:
// the orchestrator logs failures and never rolls back state over them.
type Notifier interface {
	SendAccountConfirmation(name, lastName, email, code string, expiresAt time.Time) error
	SendPasswordResetCode(name, lastName, email, code string, expiresAt time.Time) error
	SendEmailChangeRevert(name, lastName, oldEmail, code string, expiresAt time.Time) error
	SendAccountBlocked(userID uint, name, lastName, email string) error
}

type SMTPNotifier struct {
	config *config.SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPNotifier(config *config.SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{
		config: config,
		dialer: gomail.NewDialer(config.Host, config.Port, config.User, config.Password),
	}
}

func (n *SMTPNotifier) send(to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", n.config.FromAddress, n.config.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)
	return n.dialer.DialAndSend(m)
}

func (n *SMTPNotifier) SendAccountConfirmation(name, lastName, email, code string, expiresAt time.Time) error {
	body := fmt.Sprintf(
		"<p>Hi %s %s,</p><p>Your confirmation code is <b>%s</b>.</p><p>It expires at %s.</p>",
		name, lastName, code, expiresAt.Format(time.RFC1123),
	)
	return n.send(email, "Confirm your account", body)
}

func (n *SMTPNotifier) SendPasswordResetCode(name, lastName, email, code string, expiresAt time.Time) error {
	body := fmt.Sprintf(
		"<p>Hi %s %s,</p><p>Your password reset code is <b>%s</b>.</p><p>It expires at %s.</p>",
		name, lastName, code, expiresAt.Format(time.RFC1123),
	)
	return n.send(email, "Reset your password", body)
}

func (n *SMTPNotifier) SendEmailChangeRevert(name, lastName, oldEmail, code string, expiresAt time.Time) error {
	body := fmt.Sprintf(
		"<p>Hi %s %s,</p><p>The email on your account was changed. If this was not you, "+
			"use code <b>%s</b> before %s to revert it.</p>",
		name, lastName, code, expiresAt.Format(time.RFC1123),
	)
	return n.send(oldEmail, "Your account email was changed", body)
}

func (n *SMTPNotifier) SendAccountBlocked(userID uint, name, lastName, email string) error {
	body := fmt.Sprintf(
		"<p>Account %d (%s %s, %s) has been blocked and all its sessions were closed.</p>",
		userID, name, lastName, email,
	)
	return n.send(n.config.AdminEmail, "Account blocked", body)
}

// LogNotifier is the development fallback: it logs instead of sending, so
// codes remain visible without an SMTP server.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendAccountConfirmation(name, lastName, email, code string, expiresAt time.Time) error {
	n.log.Info("confirmation code issued",
		zap.String("email", email),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt))
	return nil
}

func (n *LogNotifier) SendPasswordResetCode(name, lastName, email, code string, expiresAt time.Time) error {
	n.log.Info("password reset code issued",
		zap.String("email", email),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt))
	return nil
}

func (n *LogNotifier) SendEmailChangeRevert(name, lastName, oldEmail, code string, expiresAt time.Time) error {
	n.log.Info("email change revert code issued",
		zap.String("email", oldEmail),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt))
	return nil
}

func (n *LogNotifier) SendAccountBlocked(userID uint, name, lastName, email string) error {
	n.log.Info("account blocked notification",
		zap.Uint("user_id", userID),
		zap.String("email", email))
	return nil
}
