// Package mailer delivers transactional mail over SMTP. The auth flows
// treat delivery as fire-and-forget: a failed send is logged by the caller
// and never rolls back the state change that preceded it.
package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// Email represents an outgoing message.
type Email struct {
	To       []string
	Subject  string
	Body     string
	HTMLBody string
}

// Sender abstracts mail delivery so tests can substitute a recorder.
type Sender interface {
	Send(email Email) error
}

// Config holds SMTP settings, populated from the application config.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends mail through an SMTP relay using gomail.
type Mailer struct {
	cfg    Config
	dialer *gomail.Dialer
}

// New constructs a Mailer from SMTP configuration.
func New(cfg Config) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mailer: SMTP host is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("mailer: SMTP port is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mailer: from address is required")
	}
	return &Mailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

// Send delivers a single email.
func (m *Mailer) Send(email Email) error {
	if len(email.To) == 0 {
		return fmt.Errorf("mailer: no recipients specified")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", email.To...)
	msg.SetHeader("Subject", email.Subject)
	if email.HTMLBody != "" {
		msg.SetBody("text/html", email.HTMLBody)
		if email.Body != "" {
			msg.AddAlternative("text/plain", email.Body)
		}
	} else {
		msg.SetBody("text/plain", email.Body)
	}

	return m.dialer.DialAndSend(msg)
}

var _ Sender = (*Mailer)(nil)
