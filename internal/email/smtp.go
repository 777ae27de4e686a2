// Package email envía notificaciones transaccionales por SMTP (go-mail).
//
// Hoy el único mensaje es el aviso de "nuevo método de inicio de sesión"
// que se manda cuando un email existente queda vinculado a otro provider.
package email

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	mail "github.com/go-mail/mail"
)

// Sender envía un mensaje multipart (texto + html).
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// SMTPConfig es la configuración del servidor SMTP.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLSMode  string // "auto" | "starttls" | "ssl" | "none"
}

// SMTPSender implementa Sender usando go-mail.
type SMTPSender struct {
	cfg                SMTPConfig
	InsecureSkipVerify bool

	dial func(*mail.Dialer, *mail.Message) error
}

// NewSMTPSender crea un SMTPSender. TLSMode vacío equivale a "auto".
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	cfg.TLSMode = strings.ToLower(strings.TrimSpace(cfg.TLSMode))
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{
		cfg:  cfg,
		dial: func(d *mail.Dialer, m *mail.Message) error { return d.DialAndSend(m) },
	}
}

func (s *SMTPSender) dialer() *mail.Dialer {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.InsecureSkipVerify, // solo dev
	}
	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	default:
		// "auto": STARTTLS si el server lo ofrece
	}
	return d
}

func (s *SMTPSender) message(to, subject, htmlBody, textBody string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	// multipart/alternative: texto primero, html como alternativa
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
	return m
}

// Send envía el mensaje y loguea el resultado.
func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	log := logger.L().With(
		logger.Component("email.smtp"),
		logger.String("host", s.cfg.Host),
		logger.Int("port", s.cfg.Port),
		logger.Email(to),
	)
	log.Debug("sending email", logger.String("tls_mode", s.cfg.TLSMode))

	if err := s.dial(s.dialer(), s.message(to, subject, htmlBody, textBody)); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Info("email sent")
	return nil
}
