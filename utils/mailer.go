package utils

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// SMTPSettings identifies the mailbox a message is sent from.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// OutgoingMail is a plain-text reply or notification.
type OutgoingMail struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string
}

// Mailer sends mail; SMTPMailer is the production implementation.
type Mailer interface {
	Send(settings SMTPSettings, mail OutgoingMail) error
}

type SMTPMailer struct{}

func (SMTPMailer) Send(settings SMTPSettings, mail OutgoingMail) error {
	if settings.Host == "" {
		return fmt.Errorf("smtp host is not configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", settings.From)
	m.SetHeader("To", mail.To)
	m.SetHeader("Subject", mail.Subject)
	if mail.InReplyTo != "" {
		m.SetHeader("In-Reply-To", mail.InReplyTo)
		m.SetHeader("References", mail.InReplyTo)
	}
	m.SetBody("text/plain", mail.Body)

	d := gomail.NewDialer(settings.Host, settings.Port, settings.Username, settings.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
