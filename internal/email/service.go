// Package email sends transactional mail through Resend or plain SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
)

// ErrNotConfigured is returned when no transport has been set up.
var ErrNotConfigured = errors.New("email not configured")

// Message is one outbound HTML email.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures the transport. APIKey wins over SMTP.
type Config struct {
	APIKey   string
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	from    string
	appName string
	sender  Sender
}

// NewService picks Resend when an API key is set, SMTP when a host is set, and nothing otherwise.
func NewService(config Config) *Service {
	var sender Sender
	switch {
	case config.APIKey != "":
		sender = NewResendSender(config.APIKey)
	case config.Host != "":
		sender = NewSMTPSender(config.Host, config.Port, config.Username, config.Password)
	}
	return NewServiceWithSender(config, sender)
}

// NewServiceWithSender wires an explicit transport.
func NewServiceWithSender(config Config, sender Sender) *Service {
	appName := config.FromName
	if appName == "" {
		appName = "Inkwell"
	}
	from := config.From
	if from != "" && config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", config.FromName, config.From)
	}
	return &Service{from: from, appName: appName, sender: sender}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s != nil && s.sender != nil && s.from != ""
}

// PasswordResetData holds data for the reset email template
type PasswordResetData struct {
	AppName  string
	ResetURL string
}

// SendPasswordResetEmail sends a password reset email
func (s *Service) SendPasswordResetEmail(ctx context.Context, to, resetURL string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	html, err := renderTemplate(passwordResetTemplate, PasswordResetData{
		AppName:  s.appName,
		ResetURL: resetURL,
	})
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	return s.sender.Send(ctx, Message{
		From:    s.from,
		To:      []string{to},
		Subject: "Reset your password",
		HTML:    html,
	})
}

var passwordResetTemplate = template.Must(template.New("password-reset").Parse(passwordResetEmailTemplate))

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const passwordResetEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #202124; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #1a73e8; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .link { word-break: break-all; color: #1a73e8; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #5f6368; }
    </style>
</head>
<body>
    <h2>Reset your password</h2>
    <p>Click the button below to choose a new {{.AppName}} password:</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ResetURL}}</p>
    <p>This link expires in 1 hour.</p>
    <div class="footer">
        <p>If you didn't request a password reset, you can ignore this email.</p>
    </div>
</body>
</html>`
