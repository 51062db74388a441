// Package notify sends account workflow emails.
package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/pkg/config"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var ErrNotConfigured = errors.New("missing SMTP configuration")

// Notifier delivers the registration workflow messages. Callers treat every
// error as non-fatal.
type Notifier interface {
	RegistrationReceived(ctx context.Context, user *model.User) error
	AccountApproved(ctx context.Context, user *model.User, temporaryPassword string) error
	AccountRejected(ctx context.Context, user *model.User, reason string) error
}

// SendFunc has the signature of smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer is the SMTP notifier
type Mailer struct {
	cfg      config.MailConfig
	loginURL string
	send     SendFunc
}

// NewMailer creates a mailer. The login link in approval mails is built from
// the first allowed host.
func NewMailer(cfg config.MailConfig, allowedHosts []string) *Mailer {
	return &Mailer{
		cfg:      cfg,
		loginURL: loginURL(allowedHosts),
		send:     smtp.SendMail,
	}
}

// WithSendFunc replaces the SMTP transport
func (m *Mailer) WithSendFunc(send SendFunc) *Mailer {
	m.send = send
	return m
}

func loginURL(hosts []string) string {
	host := "localhost:8000"
	if len(hosts) > 0 && hosts[0] != "" && hosts[0] != "*" {
		host = strings.TrimPrefix(hosts[0], ".")
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/") + "/login"
	}
	return "http://" + host + "/login"
}

type mailData struct {
	Name              string
	Email             string
	PhoneNumber       string
	Registered        string
	TemporaryPassword string
	Reason            string
	LoginURL          string
}

// RegistrationReceived tells the administrator contact about a new registration
func (m *Mailer) RegistrationReceived(ctx context.Context, user *model.User) error {
	return m.deliver(m.cfg.AdminContact, "New user registration pending approval", "registration.html", mailData{
		Name:        user.DisplayName(),
		Email:       user.Email,
		PhoneNumber: user.PhoneNumber,
		Registered:  user.RegistrationDate.Format("2006-01-02 15:04"),
	})
}

// AccountApproved sends the temporary password to the approved user
func (m *Mailer) AccountApproved(ctx context.Context, user *model.User, temporaryPassword string) error {
	return m.deliver(user.Email, "Your account has been approved", "approved.html", mailData{
		Name:              user.DisplayName(),
		Email:             user.Email,
		TemporaryPassword: temporaryPassword,
		LoginURL:          m.loginURL,
	})
}

// AccountRejected tells the user the registration was declined
func (m *Mailer) AccountRejected(ctx context.Context, user *model.User, reason string) error {
	return m.deliver(user.Email, "Your registration was not approved", "rejected.html", mailData{
		Name:   user.DisplayName(),
		Email:  user.Email,
		Reason: reason,
	})
}

func (m *Mailer) deliver(to, subject, tmpl string, data mailData) error {
	if !m.cfg.Enabled() {
		return ErrNotConfigured
	}
	if to == "" {
		return errors.New("no recipient address")
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl, err)
	}

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=\"utf-8\"\r\n"+
			"\r\n%s\r\n",
		m.cfg.From, to, subject, body.String(),
	))

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(m.cfg.Host+":"+m.cfg.Port, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
