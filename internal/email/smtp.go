// Package email envía correo transaccional via SMTP. Cada tenant puede
// traer su propia configuración; sin Host configurado se usa la compartida
// del servicio.
package email

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/multipass/internal/observability/logger"
	"github.com/dropDatabas3/multipass/internal/store/core"
	"github.com/dropDatabas3/multipass/internal/util"
)

// Sender envía un email. Implementaciones: SMTPSender y fakes en tests.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// SMTPSender implementa Sender sobre SMTP con go-mail.
type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

// NewSMTPSender crea un sender con TLS en modo auto.
func NewSMTPSender(host string, port int, from, user, pass string) *SMTPSender {
	return &SMTPSender{Host: host, Port: port, From: from, User: user, Pass: pass, TLSMode: "auto"}
}

// ForTenant retorna un sender con la config SMTP del tenant si la trae, o el
// shared sender del servicio.
func ForTenant(shared *SMTPSender, t *core.Tenant) *SMTPSender {
	if t == nil || t.Email == nil || t.Email.Host == "" {
		return shared
	}
	from := t.Email.SenderAddr
	if t.Email.SenderName != "" {
		from = fmt.Sprintf("%s <%s>", t.Email.SenderName, t.Email.SenderAddr)
	}
	return NewSMTPSender(t.Email.Host, t.Email.Port, from, t.Email.Username, t.Email.Password)
}

// Send envía un email multipart (texto plano + HTML).
func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	log := logger.Named("email").With(
		logger.String("host", s.Host),
		logger.String("to", util.MaskEmail(to)),
	)

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: s.InsecureSkipVerify, // solo dev
	}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.InsecureSkipVerify}
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si el server lo ofrece
	}

	if err := d.DialAndSend(m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Debug("email sent")
	return nil
}
